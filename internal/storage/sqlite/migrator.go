package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sort"

	ltmcerrors "ltmc/internal/errors"
)

type migration struct {
	Version  int
	Filename string
	SQL      string
	Checksum string
}

// migrate applies every embedded migration not yet recorded in
// schema_migrations, in version order, inside one transaction per
// migration. It refuses to start if a previously-applied migration's
// checksum no longer matches what's embedded in the binary — the
// "never run on a schema it does not recognize" rule from spec.md §4.2.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			filename   TEXT NOT NULL,
			checksum   TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return ltmcerrors.Schema("creating schema_migrations: %v", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return ltmcerrors.Schema("loading embedded migrations: %v", err)
	}

	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return ltmcerrors.Schema("reading applied migrations: %v", err)
	}

	for _, m := range migrations {
		if existing, ok := applied[m.Version]; ok {
			if existing != m.Checksum {
				return ltmcerrors.Schema(
					"migration %d (%s) checksum mismatch: database was migrated with a different version of this file",
					m.Version, m.Filename)
			}
			continue
		}

		if err := applyMigration(ctx, db, m); err != nil {
			return ltmcerrors.Schema("applying migration %d (%s): %v", m.Version, m.Filename, err)
		}
	}

	return verifySchema(ctx, db)
}

func loadMigrations() ([]migration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, err
	}

	var out []migration
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := migrationsFS.ReadFile("migrations/" + e.Name())
		if err != nil {
			return nil, err
		}
		var version int
		if _, err := fmt.Sscanf(e.Name(), "%04d_", &version); err != nil {
			return nil, fmt.Errorf("migration filename %q does not start with a version prefix", e.Name())
		}
		sum := sha256.Sum256(data)
		out = append(out, migration{
			Version:  version,
			Filename: e.Name(),
			SQL:      string(data),
			Checksum: hex.EncodeToString(sum[:]),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func appliedMigrations(ctx context.Context, db *sql.DB) (map[int]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT version, checksum FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int]string)
	for rows.Next() {
		var version int
		var checksum string
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, err
		}
		out[version] = checksum
	}
	return out, rows.Err()
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, filename, checksum) VALUES (?, ?, ?)`,
		m.Version, m.Filename, m.Checksum); err != nil {
		return err
	}
	return tx.Commit()
}

// verifySchema checks that every column spec.md requires is present,
// refusing to serve rather than running against a schema it does not
// recognize.
func verifySchema(ctx context.Context, db *sql.DB) error {
	for table, columns := range requiredColumns {
		present, err := tableColumns(ctx, db, table)
		if err != nil {
			return fmt.Errorf("inspecting table %s: %w", table, err)
		}
		for _, col := range columns {
			if !present[col] {
				return fmt.Errorf("table %s is missing required column %s", table, col)
			}
		}
	}
	return nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
