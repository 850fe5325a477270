package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/recargas-app/recargas-backend/internal/provider"
	"github.com/recargas-app/recargas-backend/pkg/config"
	"github.com/recargas-app/recargas-backend/pkg/db/models"
	"github.com/recargas-app/recargas-backend/pkg/enums"
	pkgerrors "github.com/recargas-app/recargas-backend/pkg/errors"
	"github.com/recargas-app/recargas-backend/pkg/logger"
	"github.com/recargas-app/recargas-backend/pkg/metrics"
)

// Trigger names the entry point that started a reconciliation.
type Trigger string

const (
	TriggerWebhook Trigger = "webhook"
	TriggerPoll    Trigger = "poll"
)

// ErrRecordNotFound is returned when no payment record matches the lookup.
var ErrRecordNotFound = pkgerrors.New(pkgerrors.CodeNotFound, "payment record not found")

type ServiceParams struct {
	Repo      Repository
	Provider  ProviderClient
	Gateway   GatewayClient
	Locks     Locker
	Metrics   *metrics.ReconcileMetrics
	Logger    *logger.Logger
	Config    config.ReconcileConfig
	NotifyURL string
}

// Service owns the payment record lifecycle: creation, provider
// verification, and exactly-once settlement into the gateway.
type Service struct {
	repo      Repository
	provider  ProviderClient
	gateway   GatewayClient
	locks     Locker
	metrics   *metrics.ReconcileMetrics
	logg      *logger.Logger
	cfg       config.ReconcileConfig
	notifyURL string
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "repository required")
	}
	if params.Provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "provider client required")
	}
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "gateway client required")
	}
	if params.Locks == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "locker required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	cfg := params.Config
	if cfg.MaxDepositAttempts <= 0 {
		cfg.MaxDepositAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	return &Service{
		repo:      params.Repo,
		provider:  params.Provider,
		gateway:   params.Gateway,
		locks:     params.Locks,
		metrics:   params.Metrics,
		logg:      params.Logger,
		cfg:       cfg,
		notifyURL: params.NotifyURL,
	}, nil
}

// CreatePaymentParams describes a new top-up request.
type CreatePaymentParams struct {
	Beneficiary string
	AmountCents int64
	Currency    enums.Currency
	PayerEmail  string
}

// CreatedPayment pairs the stored record with the provider checkout link.
type CreatedPayment struct {
	Record     *models.PaymentRecord
	Preference *provider.Preference
}

// CreatePayment opens a provider checkout preference and stores the pending
// record it references. The record is persisted only after the provider call
// succeeds so a provider failure leaves nothing behind for the sweep to chase.
func (s *Service) CreatePayment(ctx context.Context, params CreatePaymentParams) (*CreatedPayment, error) {
	if params.Beneficiary == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "beneficiary is required")
	}
	if params.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	currency := params.Currency
	if currency == "" {
		currency = enums.CurrencyARS
	}
	if !currency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported currency")
	}

	record := &models.PaymentRecord{
		ID:          uuid.New(),
		Beneficiary: params.Beneficiary,
		AmountCents: params.AmountCents,
		Currency:    currency,
		Status:      enums.PaymentStatusPending,
		Settlement:  enums.SettlementStateNotAttempted,
	}
	if params.PayerEmail != "" {
		email := params.PayerEmail
		record.PayerEmail = &email
	}

	ctx = s.logg.WithPaymentID(ctx, record.ID.String())

	pref, err := s.provider.CreatePreference(ctx, provider.PreferenceParams{
		ExternalReference: record.ID.String(),
		Title:             fmt.Sprintf("Recarga saldo - %s", params.Beneficiary),
		AmountCents:       params.AmountCents,
		Currency:          currency.String(),
		PayerEmail:        params.PayerEmail,
		NotificationURL:   s.notifyURL,
	})
	if err != nil {
		return nil, err
	}

	prefID := pref.ID
	record.ProviderPreference = &prefID
	if _, err := s.repo.Create(ctx, record); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persisting payment record")
	}

	s.logg.Info(ctx, "payment record created")
	return &CreatedPayment{Record: record, Preference: pref}, nil
}

// GetRecord returns the stored payment record without reconciling it.
func (s *Service) GetRecord(ctx context.Context, id uuid.UUID) (*models.PaymentRecord, error) {
	record, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading payment record")
	}
	return record, nil
}

// Reconcile verifies the payment against the provider and, when the payment
// is approved, settles it into the gateway account exactly once.
func (s *Service) Reconcile(ctx context.Context, id uuid.UUID, trigger Trigger) (*models.PaymentRecord, error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveDuration(string(trigger), time.Since(start))
	}()

	ctx = s.logg.WithPaymentID(ctx, id.String())

	record, err := s.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}

	// Settled records never hit the provider or the gateway again.
	if record.Settlement == enums.SettlementStateSettled {
		return record, nil
	}

	release, acquired, err := s.locks.Acquire(ctx, id.String())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "acquiring reconcile lock")
	}
	if !acquired {
		s.logg.Info(ctx, "reconcile already in progress, returning stored state")
		return record, nil
	}
	defer func() {
		if err := release(ctx); err != nil {
			s.logg.Error(ctx, "releasing reconcile lock", err)
		}
	}()

	// Re-read under the lock: a concurrent run may have settled meanwhile.
	record, err = s.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Settlement == enums.SettlementStateSettled {
		return record, nil
	}

	record, err = s.verify(ctx, record)
	if err != nil {
		return nil, err
	}

	if record.Status == enums.PaymentStatusApproved {
		record, err = s.settle(ctx, record, trigger)
		if err != nil {
			return nil, err
		}
	}

	s.metrics.IncOutcome(record.Status.String(), record.Settlement.String())
	return record, nil
}

// ReconcileByProviderPayment resolves the record behind a provider payment id
// and reconciles it. Used by the webhook task consumer, where only the
// provider's id is known.
func (s *Service) ReconcileByProviderPayment(ctx context.Context, providerPaymentID string, trigger Trigger) (*models.PaymentRecord, error) {
	ctx = s.logg.WithProviderPaymentID(ctx, providerPaymentID)

	if record, err := s.repo.FindByProviderPaymentID(ctx, providerPaymentID); err == nil {
		return s.Reconcile(ctx, record.ID, trigger)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up provider payment")
	}

	payment, err := s.provider.GetPayment(ctx, providerPaymentID)
	if err != nil {
		return nil, err
	}

	id, err := uuid.Parse(payment.ExternalReference)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider payment carries no usable external reference")
	}
	return s.Reconcile(ctx, id, trigger)
}

// verify pulls the authoritative state from the provider and persists it.
func (s *Service) verify(ctx context.Context, record *models.PaymentRecord) (*models.PaymentRecord, error) {
	var (
		payment *provider.Payment
		err     error
	)
	if record.ProviderPaymentID != nil {
		payment, err = s.provider.GetPayment(ctx, *record.ProviderPaymentID)
	} else {
		payment, err = s.provider.SearchByExternalReference(ctx, record.ID.String())
	}
	if err != nil {
		if errors.Is(err, provider.ErrPaymentNotFound) {
			// No payment yet: the record stays pending.
			return record, nil
		}
		return nil, err
	}

	if payment.ExternalReference != "" && payment.ExternalReference != record.ID.String() {
		s.logg.Warn(s.logg.WithExternalRef(ctx, payment.ExternalReference), "provider payment references a different record")
		return record, nil
	}

	status := payment.Status
	if payment.AmountCents != record.AmountCents {
		// Never credit an amount the provider does not confirm.
		ctx := s.logg.WithFields(ctx, map[string]any{
			"expected_cents": record.AmountCents,
			"provider_cents": payment.AmountCents,
		})
		s.logg.Warn(ctx, "provider amount mismatch, holding record as unknown")
		status = enums.PaymentStatusUnknown
	}

	providerID := fmt.Sprint(payment.ID)
	record.Status = status
	record.ProviderPaymentID = &providerID

	if err := s.repo.UpdateVerification(ctx, record); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persisting verification")
	}
	return record, nil
}

// settle credits the gateway with bounded retries. A settlement that already
// exhausted its attempts is only retried on an explicit poll.
func (s *Service) settle(ctx context.Context, record *models.PaymentRecord, trigger Trigger) (*models.PaymentRecord, error) {
	if record.Settlement == enums.SettlementStateFailed && trigger != TriggerPoll {
		return record, nil
	}

	remaining := s.cfg.MaxDepositAttempts - record.Attempts
	if record.Settlement == enums.SettlementStateFailed {
		// Explicit poll grants one fresh attempt past the cap.
		remaining = 1
	}
	if remaining <= 0 {
		if record.Settlement != enums.SettlementStateFailed {
			if err := s.repo.MarkSettlementFailed(ctx, record.ID); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marking settlement failed")
			}
			record.Settlement = enums.SettlementStateFailed
		}
		return record, nil
	}

	var balanceCents int64
	backoff := retry.WithMaxRetries(uint64(remaining-1), retry.NewExponential(s.cfg.RetryBaseDelay))
	depositErr := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts, err := s.repo.IncrementAttempts(ctx, record.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "counting deposit attempt")
		}
		record.Attempts = attempts

		result, err := s.gateway.Deposit(ctx, record.Beneficiary, record.AmountCents)
		if err != nil {
			s.metrics.IncDepositAttempt("failure")
			s.logg.Error(s.logg.WithField(ctx, "attempt", attempts), "gateway deposit failed", err)
			if pkgerrors.IsRetryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}

		s.metrics.IncDepositAttempt("success")
		balanceCents = result.BalanceCents
		return nil
	})

	if depositErr != nil {
		if err := s.repo.MarkSettlementFailed(ctx, record.ID); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marking settlement failed")
		}
		record.Settlement = enums.SettlementStateFailed
		s.logg.Error(ctx, "settlement exhausted deposit attempts", depositErr)
		return record, nil
	}

	claimed, err := s.repo.MarkSettled(ctx, record.ID, balanceCents)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marking settled")
	}
	if !claimed {
		// A concurrent run won the claim; its balance is the one on record.
		s.logg.Warn(ctx, "settlement already claimed by a concurrent run")
		return s.GetRecord(ctx, record.ID)
	}

	record.Settlement = enums.SettlementStateSettled
	record.GatewayBalanceCents = &balanceCents
	s.logg.Info(ctx, "payment settled")
	return record, nil
}

// StatusViewOf projects a record into its API shape.
func StatusViewOf(record *models.PaymentRecord) StatusView {
	return StatusView{
		PaymentID:         record.ID,
		Status:            record.Status,
		Settlement:        record.Settlement,
		AmountCents:       record.AmountCents,
		Currency:          record.Currency,
		Beneficiary:       record.Beneficiary,
		Attempts:          record.Attempts,
		ProviderPaymentID: record.ProviderPaymentID,
	}
}
