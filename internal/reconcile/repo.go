package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/recargas-app/recargas-backend/pkg/db/models"
	"github.com/recargas-app/recargas-backend/pkg/enums"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds a payment record repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, record *models.PaymentRecord) (*models.PaymentRecord, error) {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, err
	}
	return record, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentRecord, error) {
	var record models.PaymentRecord
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) FindByProviderPaymentID(ctx context.Context, providerPaymentID string) (*models.PaymentRecord, error) {
	var record models.PaymentRecord
	err := r.db.WithContext(ctx).
		Where("provider_payment_id = ?", providerPaymentID).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// UpdateVerification persists the provider-verified fields only. Settlement
// transitions go through MarkSettled/MarkSettlementFailed so the compare-and-
// swap guarantees stay in one place.
func (r *repository) UpdateVerification(ctx context.Context, record *models.PaymentRecord) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentRecord{}).
		Where("id = ?", record.ID).
		Updates(map[string]any{
			"status":                 record.Status,
			"provider_payment_id":    record.ProviderPaymentID,
			"provider_preference_id": record.ProviderPreference,
			"updated_at":             time.Now().UTC(),
		}).Error
}

func (r *repository) IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	err := r.db.WithContext(ctx).
		Model(&models.PaymentRecord{}).
		Where("id = ?", id).
		UpdateColumn("attempts", gorm.Expr("attempts + 1")).Error
	if err != nil {
		return 0, err
	}

	var record models.PaymentRecord
	if err := r.db.WithContext(ctx).Select("attempts").Where("id = ?", id).First(&record).Error; err != nil {
		return 0, err
	}
	return record.Attempts, nil
}

// MarkSettled flips settlement to settled exactly once. The WHERE clause is
// the authoritative guard against double-crediting: a second caller sees zero
// rows affected.
func (r *repository) MarkSettled(ctx context.Context, id uuid.UUID, balanceCents int64) (bool, error) {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&models.PaymentRecord{}).
		Where("id = ? AND settlement <> ?", id, enums.SettlementStateSettled).
		Updates(map[string]any{
			"settlement":            enums.SettlementStateSettled,
			"gateway_balance_cents": balanceCents,
			"settled_at":            now,
			"updated_at":            now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ListUnsettled returns records still waiting on a provider decision or an
// unstarted settlement, oldest first. Failed records are excluded: those are
// retried only through an explicit poll.
func (r *repository) ListUnsettled(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentRecord, error) {
	var records []models.PaymentRecord
	err := r.db.WithContext(ctx).
		Where("settlement = ?", enums.SettlementStateNotAttempted).
		Where("status <> ?", enums.PaymentStatusRejected).
		Where("updated_at < ?", cutoff).
		Order("updated_at asc").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repository) MarkSettlementFailed(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentRecord{}).
		Where("id = ? AND settlement <> ?", id, enums.SettlementStateSettled).
		Updates(map[string]any{
			"settlement": enums.SettlementStateFailed,
			"updated_at": time.Now().UTC(),
		}).Error
}
