package storage

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hedge-snapshots/internal/config"
	"github.com/hedge-snapshots/internal/models"
	"github.com/hedge-snapshots/internal/types"
)

func testClickHouse(t *testing.T) *ClickHouseDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db, err := NewClickHouseDB(&config.ClickHouseConfig{
		Host:     "localhost",
		Port:     "9000",
		Database: "hedge_snapshots",
		User:     "default",
		Password: "clickhouse_dev_password",
	})
	if err != nil {
		t.Skipf("Skipping test - ClickHouse not available: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, RunClickHouseMigrations(testContext(t), db, "../../migrations/clickhouse", nil))
	return db
}

func TestNewClickHouseDB(t *testing.T) {
	db := testClickHouse(t)
	if err := db.Ping(testContext(t)); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestHistoryRepository_Export(t *testing.T) {
	db := testClickHouse(t)
	repo := NewHistoryRepository(db)
	ctx := testContext(t)
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	snap := &models.AccountSnapshot{
		ID:           uuid.New(),
		AccountID:    "it-account",
		CompanyID:    "it-company",
		AccountType:  types.AccountLive,
		SnapshotTime: at,
		CashflowNPV:  1000,
		Margin:       math.NaN(),
	}
	if err := repo.ExportAccountSnapshots(ctx, []*models.AccountSnapshot{snap}); err != nil {
		t.Fatalf("ExportAccountSnapshots() error = %v", err)
	}
	if err := repo.ExportAccountSnapshots(ctx, nil); err != nil {
		t.Errorf("ExportAccountSnapshots(nil) error = %v", err)
	}

	company := &models.CompanySnapshot{ID: uuid.New(), CompanyID: "it-company", SnapshotTime: at}
	if err := repo.ExportCompanySnapshot(ctx, company); err != nil {
		t.Fatalf("ExportCompanySnapshot() error = %v", err)
	}
}

func TestSplitSQLStatements(t *testing.T) {
	content := `-- history tables
CREATE TABLE IF NOT EXISTS a (
    id UUID -- key
) ENGINE = MergeTree ORDER BY id;

-- second
CREATE TABLE IF NOT EXISTS b (x String) ENGINE = Log;
SELECT 1`

	stmts := splitSQLStatements(content)
	require.Len(t, stmts, 3)
	assert.True(t, strings.HasPrefix(stmts[0], "CREATE TABLE IF NOT EXISTS a ("))
	assert.True(t, strings.HasSuffix(stmts[0], "ORDER BY id"))
	assert.Equal(t, "CREATE TABLE IF NOT EXISTS b (x String) ENGINE = Log", stmts[1])
	assert.Equal(t, "SELECT 1", stmts[2])

	assert.Empty(t, splitSQLStatements("-- nothing\n\n"))
}

func TestLoadMigrationFiles_SortedWithChecksums(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "002_b.sql"), []byte("SELECT 2;"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_a.sql"), []byte("SELECT 1;"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "old.sql"), 0o700))

	files, err := loadMigrationFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "001_a.sql", files[0].Name)
	assert.Equal(t, "002_b.sql", files[1].Name)
	assert.Len(t, files[0].Checksum, 64)
	assert.NotEqual(t, files[0].Checksum, files[1].Checksum)

	_, err = loadMigrationFiles(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestPendingMigrations(t *testing.T) {
	files := []migrationFile{
		{Name: "001_a.sql", Checksum: "aa"},
		{Name: "002_b.sql", Checksum: "bb"},
		{Name: "003_c.sql", Checksum: "cc"},
	}
	applied := map[string]string{"001_a.sql": "aa", "002_b.sql": "edited"}

	pending, changed := pendingMigrations(files, applied)
	require.Len(t, pending, 1)
	assert.Equal(t, "003_c.sql", pending[0].Name)
	assert.Equal(t, []string{"002_b.sql"}, changed)

	pending, changed = pendingMigrations(files, nil)
	assert.Len(t, pending, 3)
	assert.Empty(t, changed)
}

func TestClickHouseOptions(t *testing.T) {
	opts := clickhouseOptions(&config.ClickHouseConfig{Host: "ch", Port: "9000", Database: "hist", User: "u", Password: "p"})
	assert.Equal(t, []string{"ch:9000"}, opts.Addr)
	assert.Equal(t, "hist", opts.Auth.Database)
	assert.Equal(t, 1, opts.Settings["insert_deduplicate"])
}

func TestClickHouseMigrations_Apply(t *testing.T) {
	db := testClickHouse(t)
	ctx := testContext(t)

	// testClickHouse already migrated; this run finds everything in the ledger
	require.NoError(t, RunClickHouseMigrations(ctx, db, "../../migrations/clickhouse", nil))

	applied, err := appliedMigrations(ctx, db)
	require.NoError(t, err)
	assert.Contains(t, applied, "001_snapshot_history.sql")
}
