package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/recargas-app/recargas-backend/pkg/migrate"
)

func TestPaymentRecordsMigrationContainsConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_payment_records.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no payment records migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS payment_records",
		"CHECK (amount_cents > 0)",
		"CHECK (attempts >= 0)",
		"settlement settlement_state NOT NULL DEFAULT 'not_attempted'",
		"idx_payment_records_provider_payment_id",
		"DROP TABLE IF EXISTS payment_records",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationsDirValidates(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("migrations dir failed validation: %v", err)
	}
}
