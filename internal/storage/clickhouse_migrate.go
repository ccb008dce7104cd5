package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hedge-snapshots/internal/logging"
)

const clickhouseLedgerDDL = `CREATE TABLE IF NOT EXISTS schema_migrations_history (
	name       String,
	checksum   String,
	applied_at DateTime64(3, 'UTC')
) ENGINE = ReplacingMergeTree(applied_at) ORDER BY name`

// migrationFile is one .sql file of the ClickHouse migrations directory
type migrationFile struct {
	Name     string
	Checksum string
	SQL      string
}

// loadMigrationFiles reads the .sql files of dir in name order
func loadMigrationFiles(dir string) ([]migrationFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []migrationFile
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sql" {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, e.Name())) // #nosec G304 - dir is operator supplied
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", e.Name(), err)
		}
		sum := sha256.Sum256(content)
		files = append(files, migrationFile{Name: e.Name(), Checksum: hex.EncodeToString(sum[:]), SQL: string(content)})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// pendingMigrations drops the files already in applied. A file applied under another
// checksum is reported in changed and not re-run.
func pendingMigrations(files []migrationFile, applied map[string]string) (pending []migrationFile, changed []string) {
	for _, f := range files {
		sum, ok := applied[f.Name]
		switch {
		case !ok:
			pending = append(pending, f)
		case sum != f.Checksum:
			changed = append(changed, f.Name)
		}
	}
	return pending, changed
}

func appliedMigrations(ctx context.Context, db *ClickHouseDB) (map[string]string, error) {
	rows, err := db.Conn().Query(ctx, `SELECT name, argMax(checksum, applied_at) FROM schema_migrations_history GROUP BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration ledger: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var name, sum string
		if err := rows.Scan(&name, &sum); err != nil {
			return nil, fmt.Errorf("failed to scan migration ledger: %w", err)
		}
		applied[name] = sum
	}
	return applied, rows.Err()
}

// RunClickHouseMigrations applies the history schema files of migrationsPath that the
// ledger table has not recorded yet, in name order.
func RunClickHouseMigrations(ctx context.Context, db *ClickHouseDB, migrationsPath string, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	files, err := loadMigrationFiles(migrationsPath)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		logger.Warn("No ClickHouse migration files found")
		return nil
	}

	if err := db.Exec(ctx, clickhouseLedgerDDL); err != nil {
		return fmt.Errorf("failed to create migration ledger: %w", err)
	}
	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return err
	}

	pending, changed := pendingMigrations(files, applied)
	for _, name := range changed {
		logger.WithField("file", name).Warn("Applied ClickHouse migration changed on disk, not re-running")
	}
	if len(pending) == 0 {
		logger.WithField("applied", len(applied)).Info("ClickHouse history schema is up to date")
		return nil
	}

	for _, f := range pending {
		for i, stmt := range splitSQLStatements(f.SQL) {
			if err := db.Exec(ctx, stmt); err != nil {
				logger.WithFields(map[string]interface{}{
					"file":      f.Name,
					"statement": truncate(stmt, 80),
				}).WithError(err).Error("ClickHouse migration statement failed")
				return fmt.Errorf("failed to execute statement %d in %s: %w", i+1, f.Name, err)
			}
		}
		err := db.Exec(ctx, `INSERT INTO schema_migrations_history (name, checksum, applied_at) VALUES (?, ?, ?)`,
			f.Name, f.Checksum, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to record migration %s: %w", f.Name, err)
		}
		logger.WithField("file", f.Name).Info("Applied ClickHouse migration")
	}

	return nil
}

// splitSQLStatements splits a file on statement-ending semicolons. Comment-only lines
// are dropped; ClickHouse rejects a trailing semicolon, so it is stripped.
func splitSQLStatements(content string) []string {
	var (
		statements []string
		current    strings.Builder
	)
	flush := func() {
		stmt := strings.TrimSuffix(strings.TrimSpace(current.String()), ";")
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}
	flush()

	return statements
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
