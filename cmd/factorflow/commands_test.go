package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Veraticus/factorflow/internal/model"
	"github.com/Veraticus/factorflow/internal/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFactors = `[
  {"id": "f-elec", "categoryPath": ["Electricity", "Grid"], "unit": "kWh", "scope": 2,
   "source": "GHG Protocol", "year": 2024, "conversionValue": 0.233}
]`

const testRecords = `[
  {"id": "rec-1", "accountId": "acc1", "categoryPath": ["electricity"], "unit": "KWH",
   "scope": 2, "quantity": 1000, "date": "2024-01-15T00:00:00Z"},
  {"id": "rec-2", "accountId": "acc1", "categoryPath": ["Unknown Fuel"], "unit": "L",
   "scope": 1, "quantity": 10, "date": "2024-01-16T00:00:00Z"}
]`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// resetFlags restores every flag to its default so commands do not see values
// from earlier executions in the same process.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadBatchAndMatch(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "factorflow.db")
	t.Setenv("FACTORFLOW_BATCH_CHUNK_DELAY", "0s")
	t.Setenv("FACTORFLOW_EMBEDDING_ENABLED", "false")
	t.Setenv("FACTORFLOW_ESTIMATOR_BASE_URL", "")
	t.Setenv("ESTIMATOR_BASE_URL", "")

	out, err := execute(t, "load", "--db", dbPath,
		"--factors", writeFile(t, dir, "factors.json", testFactors),
		"--records", writeFile(t, dir, "records.json", testRecords))
	require.NoError(t, err)
	assert.Contains(t, out, "Loaded 1 factors")
	assert.Contains(t, out, "Loaded 2 records")

	out, err = execute(t, "match", "--db", dbPath, "Electricity", "--unit", "kWh", "--scope", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "f-elec")

	out, err = execute(t, "batch", "--db", dbPath, "--account", "acc1", "--no-progress")
	require.ErrorIs(t, err, errRecordsFailed)
	assert.Contains(t, out, "Processed: 2")
	assert.Contains(t, out, "rec-2")
	assert.Contains(t, out, "1 record(s) remain unmatched for acc1")

	store, err := storage.NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	result, err := store.GetResult(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.InDelta(t, 233.0, result.TotalValue, 1e-9)

	rec, err := store.GetRecord(context.Background(), "rec-2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnmatched, rec.MatchStatus)
}

func TestLoad_RequiresInput(t *testing.T) {
	_, err := execute(t, "load", "--db", filepath.Join(t.TempDir(), "ff.db"))
	assert.Error(t, err)
}

func TestMigrateStatus(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ff.db")

	out, err := execute(t, "migrate", "--db", dbPath, "--status")
	require.NoError(t, err)
	assert.Contains(t, out, "schema version 0")

	out, err = execute(t, "migrate", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "schema version 3")
}

func TestBatch_InvalidSelector(t *testing.T) {
	_, err := execute(t, "batch", "--db", filepath.Join(t.TempDir(), "ff.db"), "--account", "acc1", "--selector", "all")
	assert.Error(t, err)
}
