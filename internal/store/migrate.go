// Migration runner implementing the contract of spec §4.I: dense version
// sequence, checksum-guarded restarts, one transaction per migration, and
// reverse-order rollback. Grounded on the original daemon's
// database/migrations/runner.rs semantics, reimplemented against
// database/sql rather than a bespoke async driver.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// Migration is one schema change. Up/Down hold full SQL scripts (multiple
// statements, semicolon-separated).
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

func (m Migration) checksum() string {
	sum := sha256.Sum256([]byte(m.Up))
	return hex.EncodeToString(sum[:])
}

// ErrChecksumMismatch is returned when an applied migration's recorded
// checksum disagrees with the migration's current canonical checksum.
type ErrChecksumMismatch struct {
	Version int
}

func (e *ErrChecksumMismatch) Error() string {
	return fmt.Sprintf("checksum mismatch for migration version %d", e.Version)
}

// ErrExecutionFailed wraps a failure inside a migration's transaction.
type ErrExecutionFailed struct {
	Version int
	Err     error
}

func (e *ErrExecutionFailed) Error() string {
	return fmt.Sprintf("migration %d failed: %v", e.Version, e.Err)
}

func (e *ErrExecutionFailed) Unwrap() error { return e.Err }

// ErrRollbackNotSupported is returned when rolling back a migration that has
// no recorded down-SQL.
type ErrRollbackNotSupported struct {
	Version int
}

func (e *ErrRollbackNotSupported) Error() string {
	return fmt.Sprintf("migration %d has no rollback SQL", e.Version)
}

const bootstrapSQL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version            INTEGER PRIMARY KEY,
	name                TEXT NOT NULL,
	checksum            TEXT NOT NULL,
	execution_time_ms   INTEGER NOT NULL,
	rollback_sql        TEXT,
	applied_at          TEXT NOT NULL
);`

type appliedRow struct {
	checksum   string
	rollback   string
}

// ensureMigrationsTable bootstraps schema_migrations if absent.
func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, bootstrapSQL)
	return err
}

func getApplied(ctx context.Context, db *sql.DB) (map[int]appliedRow, error) {
	rows, err := db.QueryContext(ctx, `SELECT version, checksum, COALESCE(rollback_sql, '') FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int]appliedRow)
	for rows.Next() {
		var v int
		var r appliedRow
		if err := rows.Scan(&v, &r.checksum, &r.rollback); err != nil {
			return nil, err
		}
		out[v] = r
	}
	return out, rows.Err()
}

// MigrateTo applies migrations up to targetVersion (0 means "latest
// available"). It refuses to run if any already-applied migration's
// recorded checksum no longer matches its canonical checksum.
func MigrateTo(ctx context.Context, db *sql.DB, targetVersion int) (applied int, err error) {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return 0, fmt.Errorf("bootstrap schema_migrations: %w", err)
	}

	existing, err := getApplied(ctx, db)
	if err != nil {
		return 0, err
	}

	for _, m := range migrations {
		if row, ok := existing[m.Version]; ok {
			if row.checksum != m.checksum() {
				return 0, &ErrChecksumMismatch{Version: m.Version}
			}
		}
	}

	target := targetVersion
	if target <= 0 {
		for _, m := range migrations {
			if m.Version > target {
				target = m.Version
			}
		}
	}

	for _, m := range migrations {
		if m.Version <= 0 || m.Version > target {
			continue
		}
		if _, ok := existing[m.Version]; ok {
			continue
		}
		if err := applyOne(ctx, db, m); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

func applyOne(ctx context.Context, db *sql.DB, m Migration) error {
	start := time.Now()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return &ErrExecutionFailed{Version: m.Version, Err: err}
	}
	defer tx.Rollback()

	for _, stmt := range splitStatements(m.Up) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return &ErrExecutionFailed{Version: m.Version, Err: err}
		}
	}

	elapsedMS := time.Since(start).Milliseconds()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO schema_migrations(version, name, checksum, execution_time_ms, rollback_sql, applied_at)
		VALUES(?, ?, ?, ?, ?, ?)`,
		m.Version, m.Name, m.checksum(), elapsedMS, m.Down, time.Now().Format(time.RFC3339))
	if err != nil {
		return &ErrExecutionFailed{Version: m.Version, Err: err}
	}

	return tx.Commit()
}

// RollbackTo rolls back applied migrations down to (but not including)
// targetVersion, in reverse order.
func RollbackTo(ctx context.Context, db *sql.DB, targetVersion int) (rolledBack int, err error) {
	applied, err := getApplied(ctx, db)
	if err != nil {
		return 0, err
	}

	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		if m.Version <= targetVersion {
			continue
		}
		row, ok := applied[m.Version]
		if !ok {
			continue
		}
		if row.rollback == "" {
			return rolledBack, &ErrRollbackNotSupported{Version: m.Version}
		}
		if err := rollbackOne(ctx, db, m.Version, row.rollback); err != nil {
			return rolledBack, err
		}
		rolledBack++
	}
	return rolledBack, nil
}

func rollbackOne(ctx context.Context, db *sql.DB, version int, downSQL string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return &ErrExecutionFailed{Version: version, Err: err}
	}
	defer tx.Rollback()

	for _, stmt := range splitStatements(downSQL) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return &ErrExecutionFailed{Version: version, Err: err}
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = ?`, version); err != nil {
		return &ErrExecutionFailed{Version: version, Err: err}
	}
	return tx.Commit()
}

// splitStatements splits a SQL script on semicolons, honoring string
// literals and balanced parentheses so a semicolon inside a string or a
// nested expression does not cut a statement in half.
func splitStatements(script string) []string {
	var stmts []string
	var cur []byte
	depth := 0
	var quote byte

	for i := 0; i < len(script); i++ {
		c := script[i]
		if quote != 0 {
			cur = append(cur, c)
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
			cur = append(cur, c)
		case '(':
			depth++
			cur = append(cur, c)
		case ')':
			depth--
			cur = append(cur, c)
		case ';':
			if depth == 0 {
				if s := trimSpace(string(cur)); s != "" {
					stmts = append(stmts, s)
				}
				cur = cur[:0]
				continue
			}
			cur = append(cur, c)
		default:
			cur = append(cur, c)
		}
	}
	if s := trimSpace(string(cur)); s != "" {
		stmts = append(stmts, s)
	}
	return stmts
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
