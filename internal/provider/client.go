package provider

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
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/recargas-app/recargas-backend/pkg/config"
	"github.com/recargas-app/recargas-backend/pkg/enums"
	pkgerrors "github.com/recargas-app/recargas-backend/pkg/errors"
	"github.com/recargas-app/recargas-backend/pkg/logger"
)

const (
	readRetries   = 2
	readRetryBase = 500 * time.Millisecond
)

var (
	errAccessTokenRequired = errors.New("mercadopago access token is required")
	errLoggerRequired      = errors.New("mercadopago logger is required")

	// ErrPaymentNotFound is returned when the provider has no payment for the lookup.
	ErrPaymentNotFound = pkgerrors.New(pkgerrors.CodeNotFound, "provider payment not found")
)

// Client talks to the MercadoPago REST API with centralized auth, logging,
// and error mapping.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
	currency    string
	descriptor  string
	logger      *logger.Logger
}

// PreferenceParams describes the checkout preference to create.
type PreferenceParams struct {
	ExternalReference string
	Title             string
	AmountCents       int64
	Currency          string
	PayerEmail        string
	NotificationURL   string
	SuccessURL        string
	FailureURL        string
	PendingURL        string
}

// Preference is the created checkout preference.
type Preference struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

// Payment is the authoritative payment state fetched from the provider.
type Payment struct {
	ID                int64
	Status            enums.PaymentStatus
	StatusDetail      string
	ExternalReference string
	AmountCents       int64
	CurrencyID        string
	DateCreated       time.Time
}

// NewClient initializes the MercadoPago wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.ProviderConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	accessToken := strings.TrimSpace(cfg.AccessToken)
	if accessToken == "" {
		return nil, errAccessTokenRequired
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	c := &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     baseURL,
		accessToken: accessToken,
		currency:    cfg.Currency,
		descriptor:  cfg.Descriptor,
		logger:      logg,
	}

	logg.Info(ctx, "mercadopago client initialized")
	return c, nil
}

type preferenceItem struct {
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type preferencePayer struct {
	Email string `json:"email,omitempty"`
}

type preferenceBackURLs struct {
	Success string `json:"success,omitempty"`
	Failure string `json:"failure,omitempty"`
	Pending string `json:"pending,omitempty"`
}

type preferenceRequest struct {
	Items               []preferenceItem    `json:"items"`
	Payer               *preferencePayer    `json:"payer,omitempty"`
	ExternalReference   string              `json:"external_reference"`
	NotificationURL     string              `json:"notification_url,omitempty"`
	BackURLs            *preferenceBackURLs `json:"back_urls,omitempty"`
	AutoReturn          string              `json:"auto_return,omitempty"`
	BinaryMode          bool                `json:"binary_mode"`
	StatementDescriptor string              `json:"statement_descriptor,omitempty"`
}

// CreatePreference creates a checkout preference carrying the external reference.
func (c *Client) CreatePreference(ctx context.Context, params PreferenceParams) (*Preference, error) {
	if params.ExternalReference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external reference is required")
	}
	if params.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	currency := params.Currency
	if currency == "" {
		currency = c.currency
	}

	body := preferenceRequest{
		Items: []preferenceItem{{
			Title:      params.Title,
			Quantity:   1,
			UnitPrice:  centsToMajorUnits(params.AmountCents),
			CurrencyID: currency,
		}},
		ExternalReference:   params.ExternalReference,
		NotificationURL:     params.NotificationURL,
		BinaryMode:          true,
		StatementDescriptor: c.descriptor,
	}
	if params.PayerEmail != "" {
		body.Payer = &preferencePayer{Email: params.PayerEmail}
	}
	if params.SuccessURL != "" || params.FailureURL != "" || params.PendingURL != "" {
		body.BackURLs = &preferenceBackURLs{
			Success: params.SuccessURL,
			Failure: params.FailureURL,
			Pending: params.PendingURL,
		}
		if params.SuccessURL != "" {
			body.AutoReturn = "approved"
		}
	}

	c.log(ctx, "request", "create_preference", map[string]any{
		"external_reference": params.ExternalReference,
		"amount_cents":       params.AmountCents,
		"currency":           currency,
	})

	var pref Preference
	if err := c.do(ctx, http.MethodPost, "/checkout/preferences", body, &pref, "create preference"); err != nil {
		return nil, err
	}

	c.log(ctx, "response", "create_preference", map[string]any{
		"preference_id": pref.ID,
	})
	return &pref, nil
}

// GetPayment fetches the authoritative payment state by provider payment id.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}

	c.log(ctx, "request", "get_payment", map[string]any{"payment_id": paymentID})

	var raw paymentResponse
	path := "/v1/payments/" + url.PathEscape(paymentID)
	if err := c.doRead(ctx, path, &raw, "get payment"); err != nil {
		return nil, err
	}

	payment := raw.toPayment()
	c.log(ctx, "response", "get_payment", map[string]any{
		"payment_id": payment.ID,
		"status":     payment.Status.String(),
	})
	return payment, nil
}

// SearchByExternalReference returns the newest payment carrying the external
// reference, or ErrPaymentNotFound when the provider knows none.
func (c *Client) SearchByExternalReference(ctx context.Context, externalRef string) (*Payment, error) {
	if strings.TrimSpace(externalRef) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external reference is required")
	}

	c.log(ctx, "request", "search_payments", map[string]any{"external_reference": externalRef})

	var raw struct {
		Results []paymentResponse `json:"results"`
	}
	path := "/v1/payments/search?external_reference=" + url.QueryEscape(externalRef)
	if err := c.doRead(ctx, path, &raw, "search payments"); err != nil {
		return nil, err
	}
	if len(raw.Results) == 0 {
		return nil, ErrPaymentNotFound
	}

	newest := raw.Results[0]
	for _, candidate := range raw.Results[1:] {
		if candidate.DateCreated.After(newest.DateCreated) {
			newest = candidate
		}
	}

	payment := newest.toPayment()
	c.log(ctx, "response", "search_payments", map[string]any{
		"payment_id": payment.ID,
		"status":     payment.Status.String(),
		"results":    len(raw.Results),
	})
	return payment, nil
}

type paymentResponse struct {
	ID                int64     `json:"id"`
	Status            string    `json:"status"`
	StatusDetail      string    `json:"status_detail"`
	ExternalReference string    `json:"external_reference"`
	TransactionAmount float64   `json:"transaction_amount"`
	CurrencyID        string    `json:"currency_id"`
	DateCreated       time.Time `json:"date_created"`
}

func (p paymentResponse) toPayment() *Payment {
	return &Payment{
		ID:                p.ID,
		Status:            mapProviderStatus(p.Status),
		StatusDetail:      p.StatusDetail,
		ExternalReference: p.ExternalReference,
		AmountCents:       majorUnitsToCents(p.TransactionAmount),
		CurrencyID:        p.CurrencyID,
		DateCreated:       p.DateCreated,
	}
}

// mapProviderStatus folds MercadoPago payment statuses into the internal enum.
func mapProviderStatus(raw string) enums.PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approved":
		return enums.PaymentStatusApproved
	case "rejected", "cancelled", "refunded", "charged_back":
		return enums.PaymentStatusRejected
	case "pending", "in_process", "in_mediation", "authorized":
		return enums.PaymentStatusPending
	default:
		return enums.PaymentStatusUnknown
	}
}

// doRead runs an idempotent GET with bounded exponential backoff. Mutating
// calls (preference creation) never retry.
func (c *Client) doRead(ctx context.Context, path string, dest any, op string) error {
	backoff := retry.WithMaxRetries(readRetries, retry.NewExponential(readRetryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.do(ctx, http.MethodGet, path, nil, dest, op)
		if err != nil && pkgerrors.IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (c *Client) do(ctx context.Context, method, path string, body, dest any, op string) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("encoding %s request", op))
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("building %s request", op))
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log(ctx, "error", op, map[string]any{"error": err.Error()})
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("mercadopago %s failed", op))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("reading %s response", op))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log(ctx, "error", op, map[string]any{
			"status": resp.StatusCode,
			"error":  truncate(string(payload), 512),
		})
		return c.mapProviderError(resp.StatusCode, op)
	}

	if dest != nil {
		if err := json.Unmarshal(payload, dest); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("decoding %s response", op))
		}
	}
	return nil
}

func (c *Client) mapProviderError(status int, op string) error {
	msg := fmt.Sprintf("mercadopago %s failed", op)
	switch status {
	case http.StatusNotFound:
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrPaymentNotFound, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return pkgerrors.New(pkgerrors.CodeUnauthorized, msg)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return pkgerrors.New(pkgerrors.CodeValidation, msg)
	default:
		return pkgerrors.New(pkgerrors.CodeDependency, msg)
	}
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
		c.logger.Error(ctx, fmt.Sprintf("mercadopago %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("mercadopago %s", phase))
	}
}

func centsToMajorUnits(cents int64) float64 {
	value, _ := decimal.NewFromInt(cents).Div(decimal.NewFromInt(100)).Float64()
	return value
}

func majorUnitsToCents(amount float64) int64 {
	return decimal.NewFromFloat(amount).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
