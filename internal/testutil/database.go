// Package testutil provides a migrated SQLite store and catalog fixtures for tests
// that exercise the batch pipeline end to end.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Veraticus/factorflow/internal/model"
	"github.com/Veraticus/factorflow/internal/storage"
)

// TestDB is a migrated on-disk test database, removed when the test ends.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
}

// TestDBOptions seeds a test database.
type TestDBOptions struct {
	Factors []model.ReferenceFactor
	Records []model.UsageRecord
}

// SetupTestDB creates a migrated database in the test's temp dir and seeds it.
//
// Example:
//
//	db := testutil.SetupTestDB(t, testutil.TestDBOptions{
//		Factors: testutil.NewCatalog().WithElectricity().Build(),
//		Records: testutil.Records("acc1", 3, testutil.ElectricityUsage),
//	})
func SetupTestDB(t *testing.T, opts TestDBOptions) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "factorflow.db"))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	if len(opts.Factors) > 0 {
		if err := store.SaveFactors(ctx, opts.Factors); err != nil {
			t.Fatalf("failed to seed factors: %v", err)
		}
	}
	if len(opts.Records) > 0 {
		if err := store.SaveRecords(ctx, opts.Records); err != nil {
			t.Fatalf("failed to seed records: %v", err)
		}
	}

	return &TestDB{Storage: store, t: t}
}

// MustResult returns the stored result for entryID or fails the test.
func (db *TestDB) MustResult(entryID string) *model.CalculationResult {
	db.t.Helper()
	result, err := db.Storage.GetResult(context.Background(), entryID)
	if err != nil {
		db.t.Fatalf("no result for %s: %v", entryID, err)
	}
	return result
}

// MustStatus returns the match status of entryID or fails the test.
func (db *TestDB) MustStatus(entryID string) model.MatchStatus {
	db.t.Helper()
	rec, err := db.Storage.GetRecord(context.Background(), entryID)
	if err != nil {
		db.t.Fatalf("no record %s: %v", entryID, err)
	}
	return rec.MatchStatus
}
