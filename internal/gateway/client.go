package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/recargas-app/recargas-backend/pkg/config"
	pkgerrors "github.com/recargas-app/recargas-backend/pkg/errors"
	"github.com/recargas-app/recargas-backend/pkg/logger"
)

const (
	operationDeposit  = 0
	operationWithdraw = 1

	sessionCookieName = "session"
	directoryPageSize = 100
)

var (
	errCredentialsRequired = errors.New("gateway username and password are required")
	errLoggerRequired      = errors.New("gateway logger is required")

	// ErrAccountNotFound is returned when the beneficiary alias is not in the
	// agent's user directory.
	ErrAccountNotFound = pkgerrors.New(pkgerrors.CodeNotFound, "gateway account not found")

	// ErrPlayerExists is returned when creating a player whose username is taken.
	ErrPlayerExists = pkgerrors.New(pkgerrors.CodeConflict, "gateway player already exists")
)

// Client talks to the agent back-office API. The API authenticates with a
// session cookie obtained from the login endpoint; the client re-logs in
// transparently when the session expires.
type Client struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string
	logger     *logger.Logger

	mu      sync.Mutex
	session string
	agentID int64
}

// DepositResult reports the applied operation and the agent balance after it.
type DepositResult struct {
	BalanceCents int64
}

// NewClient initializes the gateway wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.GatewayConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	username := strings.TrimSpace(cfg.Username)
	password := strings.TrimSpace(cfg.Password)
	if username == "" || password == "" {
		return nil, errCredentialsRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		username:   username,
		password:   password,
		logger:     logg,
	}

	logg.Info(ctx, "gateway client initialized")
	return c, nil
}

type apiEnvelope struct {
	Status       int             `json:"status"`
	ErrorMessage *string         `json:"error_message"`
	Result       json.RawMessage `json:"result"`
}

func (e apiEnvelope) failed() bool {
	return e.ErrorMessage != nil && *e.ErrorMessage != ""
}

// ResolveAccount maps a beneficiary alias to the gateway user id. The
// directory is scoped to users under the configured agent.
func (c *Client) ResolveAccount(ctx context.Context, alias string) (int64, error) {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "beneficiary alias is required")
	}

	agentID, err := c.ensureAgentID(ctx)
	if err != nil {
		return 0, err
	}

	for page := 0; ; page++ {
		query := url.Values{}
		query.Set("count", fmt.Sprint(directoryPageSize))
		query.Set("page", fmt.Sprint(page))
		query.Set("user_id", fmt.Sprint(agentID))
		query.Set("is_banned", "false")
		query.Set("is_direct_structure", "false")

		envelope, err := c.do(ctx, http.MethodGet, "/api/agent_admin/user/?"+query.Encode(), nil, "list users")
		if err != nil {
			return 0, err
		}

		var result struct {
			Users []struct {
				ID       int64  `json:"id"`
				Username string `json:"username"`
			} `json:"users"`
		}
		if err := json.Unmarshal(envelope.Result, &result); err != nil {
			return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decoding user directory")
		}

		for _, user := range result.Users {
			if user.Username == alias {
				return user.ID, nil
			}
		}
		if len(result.Users) < directoryPageSize {
			return 0, ErrAccountNotFound
		}
	}
}

// Deposit credits the beneficiary account and returns the agent balance
// observed after the operation.
func (c *Client) Deposit(ctx context.Context, alias string, amountCents int64) (*DepositResult, error) {
	return c.payment(ctx, alias, amountCents, operationDeposit, "deposit")
}

// Withdraw debits the beneficiary account and returns the agent balance
// observed after the operation.
func (c *Client) Withdraw(ctx context.Context, alias string, amountCents int64) (*DepositResult, error) {
	return c.payment(ctx, alias, amountCents, operationWithdraw, "withdraw")
}

func (c *Client) payment(ctx context.Context, alias string, amountCents int64, operation int, op string) (*DepositResult, error) {
	if amountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	userID, err := c.ResolveAccount(ctx, alias)
	if err != nil {
		return nil, err
	}

	c.log(ctx, "request", op, map[string]any{
		"alias":        alias,
		"user_id":      userID,
		"amount_cents": amountCents,
	})

	body := map[string]any{
		"operation": operation,
		"amount":    centsToMajorUnits(amountCents),
	}
	path := fmt.Sprintf("/api/agent_admin/user/%d/payment/", userID)

	// The payment endpoint is not idempotent: one call here is at most one
	// POST. Retrying is the settlement engine's job, which counts every
	// attempt it makes.
	envelope, err := c.doOnce(ctx, http.MethodPost, path, body, op, false)
	if err != nil {
		return nil, err
	}
	if envelope.failed() {
		c.log(ctx, "error", op, map[string]any{"error": *envelope.ErrorMessage})
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("gateway %s rejected: %s", op, *envelope.ErrorMessage))
	}

	balance, err := c.Balance(ctx)
	if err != nil {
		// The operation already succeeded; a failed balance read must not
		// mask it.
		c.log(ctx, "error", op, map[string]any{"error": err.Error()})
		balance = 0
	}

	c.log(ctx, "response", op, map[string]any{
		"alias":         alias,
		"balance_cents": balance,
	})
	return &DepositResult{BalanceCents: balance}, nil
}

// Balance returns the agent's current balance.
func (c *Client) Balance(ctx context.Context) (int64, error) {
	envelope, err := c.do(ctx, http.MethodGet, "/api/user/balance", nil, "balance")
	if err != nil {
		return 0, err
	}

	var result struct {
		Balance float64 `json:"balance"`
	}
	if err := json.Unmarshal(envelope.Result, &result); err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decoding balance")
	}
	return majorUnitsToCents(result.Balance), nil
}

// CreatePlayer registers a new player account under the agent.
func (c *Client) CreatePlayer(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "player username and password are required")
	}

	c.log(ctx, "request", "create_player", map[string]any{"username": username})

	body := map[string]any{
		"email":      "a",
		"first_name": "a",
		"last_name":  "a",
		"password":   password,
		"role":       0,
		"username":   username,
	}

	envelope, err := c.doOnce(ctx, http.MethodPost, "/api/agent_admin/user/", body, "create player", false)
	if err != nil {
		return err
	}
	if envelope.failed() {
		if strings.Contains(*envelope.ErrorMessage, "already exist") {
			return ErrPlayerExists
		}
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("gateway create player rejected: %s", *envelope.ErrorMessage))
	}

	c.log(ctx, "response", "create_player", map[string]any{"username": username})
	return nil
}

// Ping verifies the gateway session can be established.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ensureAgentID(ctx)
	return err
}

func (c *Client) ensureAgentID(ctx context.Context) (int64, error) {
	c.mu.Lock()
	cached := c.agentID
	c.mu.Unlock()
	if cached != 0 {
		return cached, nil
	}

	envelope, err := c.do(ctx, http.MethodGet, "/api/user/check", nil, "check session")
	if err != nil {
		return 0, err
	}

	var result struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(envelope.Result, &result); err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decoding session check")
	}

	c.mu.Lock()
	c.agentID = result.ID
	c.mu.Unlock()
	return result.ID, nil
}

func (c *Client) login(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding login request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/user/login", bytes.NewReader(body))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building login request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "gateway login failed")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "gateway rejected credentials")
		}
		return "", pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("gateway login failed with status %d", resp.StatusCode))
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == sessionCookieName && cookie.Value != "" {
			return cookie.Value, nil
		}
	}
	return "", pkgerrors.New(pkgerrors.CodeDependency, "gateway login returned no session cookie")
}

func (c *Client) ensureSession(ctx context.Context) (string, error) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session != "" {
		return session, nil
	}
	return c.refreshSession(ctx)
}

func (c *Client) refreshSession(ctx context.Context) (string, error) {
	session, err := c.login(ctx)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
	return session, nil
}

// do performs a session-authenticated read, retrying transient upstream
// failures. Mutating calls go through doOnce directly so a timed-out request
// that actually applied is never re-sent.
func (c *Client) do(ctx context.Context, method, path string, body any, op string) (*apiEnvelope, error) {
	var envelope *apiEnvelope

	backoff := retry.WithMaxRetries(2, retry.NewExponential(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		result, reqErr := c.doOnce(ctx, method, path, body, op, false)
		if reqErr != nil {
			if pkgerrors.IsRetryable(reqErr) {
				return retry.RetryableError(reqErr)
			}
			return reqErr
		}
		envelope = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return envelope, nil
}

func (c *Client) doOnce(ctx context.Context, method, path string, body any, op string, retried bool) (*apiEnvelope, error) {
	session, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("encoding %s request", op))
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("building %s request", op))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: session})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("gateway %s failed", op))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("reading %s response", op))
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		if retried {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, fmt.Sprintf("gateway %s unauthorized", op))
		}
		if _, err := c.refreshSession(ctx); err != nil {
			return nil, err
		}
		return c.doOnce(ctx, method, path, body, op, true)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := fmt.Sprintf("gateway %s failed with status %d", op, resp.StatusCode)
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, msg)
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return nil, pkgerrors.New(pkgerrors.CodeValidation, msg)
		default:
			return nil, pkgerrors.New(pkgerrors.CodeDependency, msg)
		}
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("decoding %s response", op))
	}
	return &envelope, nil
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = v
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("gateway %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("gateway %s", phase))
	}
}

func centsToMajorUnits(cents int64) float64 {
	value, _ := decimal.NewFromInt(cents).Div(decimal.NewFromInt(100)).Float64()
	return value
}

func majorUnitsToCents(amount float64) int64 {
	return decimal.NewFromFloat(amount).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
