package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/recargas-app/recargas-backend/internal/gateway"
	"github.com/recargas-app/recargas-backend/internal/provider"
	"github.com/recargas-app/recargas-backend/pkg/db/models"
	"github.com/recargas-app/recargas-backend/pkg/enums"
)

// Repository persists payment records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, record *models.PaymentRecord) (*models.PaymentRecord, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentRecord, error)
	FindByProviderPaymentID(ctx context.Context, providerPaymentID string) (*models.PaymentRecord, error)
	UpdateVerification(ctx context.Context, record *models.PaymentRecord) error
	IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error)
	ListUnsettled(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentRecord, error)
	MarkSettled(ctx context.Context, id uuid.UUID, balanceCents int64) (bool, error)
	MarkSettlementFailed(ctx context.Context, id uuid.UUID) error
}

// ProviderClient verifies payment state against the payment provider.
type ProviderClient interface {
	CreatePreference(ctx context.Context, params provider.PreferenceParams) (*provider.Preference, error)
	GetPayment(ctx context.Context, paymentID string) (*provider.Payment, error)
	SearchByExternalReference(ctx context.Context, externalRef string) (*provider.Payment, error)
}

// GatewayClient credits beneficiary accounts.
type GatewayClient interface {
	Deposit(ctx context.Context, alias string, amountCents int64) (*gateway.DepositResult, error)
}

// Locker serializes reconciliation per external reference.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(ctx context.Context) error, acquired bool, err error)
}

// TaskPublisher enqueues asynchronous reconcile tasks.
type TaskPublisher interface {
	PublishTask(ctx context.Context, task Task) error
}

// StatusView is the externally visible state of a payment record.
type StatusView struct {
	PaymentID         uuid.UUID             `json:"payment_id"`
	Status            enums.PaymentStatus   `json:"status"`
	Settlement        enums.SettlementState `json:"settlement"`
	AmountCents       int64                 `json:"amount_cents"`
	Currency          enums.Currency        `json:"currency"`
	Beneficiary       string                `json:"beneficiary"`
	Attempts          int                   `json:"attempts"`
	ProviderPaymentID *string               `json:"provider_payment_id,omitempty"`
}
