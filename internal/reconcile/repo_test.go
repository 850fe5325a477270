package reconcile

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/recargas-app/recargas-backend/pkg/db/models"
	"github.com/recargas-app/recargas-backend/pkg/enums"
)

func setupReconcileTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	// A second pool connection would open a separate in-memory database, so
	// pin the pool to one connection.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	schema := `
CREATE TABLE IF NOT EXISTS payment_records (
  id TEXT PRIMARY KEY,
  provider_payment_id TEXT,
  provider_preference_id TEXT,
  beneficiary TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'ARS',
  payer_email TEXT,
  status TEXT NOT NULL DEFAULT 'pending',
  settlement TEXT NOT NULL DEFAULT 'not_attempted',
  attempts INTEGER NOT NULL DEFAULT 0,
  gateway_balance_cents INTEGER,
  settled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(schema).Error)
	return db
}

func newRecord(beneficiary string, amountCents int64) *models.PaymentRecord {
	return &models.PaymentRecord{
		ID:          uuid.New(),
		Beneficiary: beneficiary,
		AmountCents: amountCents,
		Currency:    enums.CurrencyARS,
		Status:      enums.PaymentStatusPending,
		Settlement:  enums.SettlementStateNotAttempted,
	}
}

func TestCreateAndFindByID(t *testing.T) {
	db := setupReconcileTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	record := newRecord("juan", 150000)
	_, err := repo.Create(ctx, record)
	require.NoError(t, err)

	found, err := repo.FindByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, found.ID)
	assert.Equal(t, "juan", found.Beneficiary)
	assert.Equal(t, enums.PaymentStatusPending, found.Status)
	assert.Equal(t, enums.SettlementStateNotAttempted, found.Settlement)
}

func TestFindByProviderPaymentID(t *testing.T) {
	db := setupReconcileTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	record := newRecord("juan", 1000)
	providerID := "424242"
	record.ProviderPaymentID = &providerID
	_, err := repo.Create(ctx, record)
	require.NoError(t, err)

	found, err := repo.FindByProviderPaymentID(ctx, "424242")
	require.NoError(t, err)
	assert.Equal(t, record.ID, found.ID)

	_, err = repo.FindByProviderPaymentID(ctx, "nope")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestUpdateVerificationPersistsProviderFields(t *testing.T) {
	db := setupReconcileTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	record := newRecord("juan", 1000)
	_, err := repo.Create(ctx, record)
	require.NoError(t, err)

	providerID := "777"
	record.Status = enums.PaymentStatusApproved
	record.ProviderPaymentID = &providerID
	require.NoError(t, repo.UpdateVerification(ctx, record))

	found, err := repo.FindByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusApproved, found.Status)
	require.NotNil(t, found.ProviderPaymentID)
	assert.Equal(t, "777", *found.ProviderPaymentID)
}

func TestIncrementAttempts(t *testing.T) {
	db := setupReconcileTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	record := newRecord("juan", 1000)
	_, err := repo.Create(ctx, record)
	require.NoError(t, err)

	for want := 1; want <= 3; want++ {
		got, err := repo.IncrementAttempts(ctx, record.ID)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestMarkSettledClaimsExactlyOnce(t *testing.T) {
	db := setupReconcileTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	record := newRecord("juan", 1000)
	_, err := repo.Create(ctx, record)
	require.NoError(t, err)

	claimed, err := repo.MarkSettled(ctx, record.ID, 500000)
	require.NoError(t, err)
	assert.True(t, claimed, "first claim must win")

	claimed, err = repo.MarkSettled(ctx, record.ID, 999999)
	require.NoError(t, err)
	assert.False(t, claimed, "second claim must lose")

	found, err := repo.FindByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SettlementStateSettled, found.Settlement)
	require.NotNil(t, found.GatewayBalanceCents)
	assert.Equal(t, int64(500000), *found.GatewayBalanceCents, "losing claim must not overwrite the balance")
	assert.NotNil(t, found.SettledAt)
}

func TestMarkSettlementFailedNeverDowngradesSettled(t *testing.T) {
	db := setupReconcileTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	record := newRecord("juan", 1000)
	_, err := repo.Create(ctx, record)
	require.NoError(t, err)

	_, err = repo.MarkSettled(ctx, record.ID, 100)
	require.NoError(t, err)

	require.NoError(t, repo.MarkSettlementFailed(ctx, record.ID))

	found, err := repo.FindByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SettlementStateSettled, found.Settlement)
}

func TestMarkSettlementFailed(t *testing.T) {
	db := setupReconcileTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	record := newRecord("juan", 1000)
	_, err := repo.Create(ctx, record)
	require.NoError(t, err)

	require.NoError(t, repo.MarkSettlementFailed(ctx, record.ID))

	found, err := repo.FindByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SettlementStateFailed, found.Settlement)
}
