package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/recargas-app/recargas-backend/pkg/enums"
)

// PaymentRecord tracks a provider payment and its settlement into the
// beneficiary's gateway account. ID doubles as the external reference sent
// to the payment provider.
type PaymentRecord struct {
	ID                  uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProviderPaymentID   *string               `gorm:"column:provider_payment_id"`
	ProviderPreference  *string               `gorm:"column:provider_preference_id"`
	Beneficiary         string                `gorm:"column:beneficiary;not null"`
	AmountCents         int64                 `gorm:"column:amount_cents;not null"`
	Currency            enums.Currency        `gorm:"column:currency;not null;default:'ARS'"`
	PayerEmail          *string               `gorm:"column:payer_email"`
	Status              enums.PaymentStatus   `gorm:"column:status;not null;default:'pending'"`
	Settlement          enums.SettlementState `gorm:"column:settlement;not null;default:'not_attempted'"`
	Attempts            int                   `gorm:"column:attempts;not null;default:0"`
	GatewayBalanceCents *int64                `gorm:"column:gateway_balance_cents"`
	SettledAt           *time.Time            `gorm:"column:settled_at"`
	CreatedAt           time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

// ExternalReference is the identifier shared with the payment provider.
func (p PaymentRecord) ExternalReference() string {
	return p.ID.String()
}
