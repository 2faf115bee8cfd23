// Package store implements the persistent workspace store of spec §4.I: a
// SQLite-class relational schema for symbols and edges, a transactional
// migration runner, and a typed DAO. Grounded on the pack's
// modernc.org/sqlite usage (_examples/Aureuma-si store.go) for the
// cgo-free driver and connection setup.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/standardbeagle/probelsp/internal/logging"
	"github.com/standardbeagle/probelsp/internal/types"
)

var logger = logging.For("store")

// Store wraps one workspace's SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the SQLite file at path and runs
// migrations to the latest schema version.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite-class store: one logical writer, §5.
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	applied, err := MigrateTo(ctx, db, 0)
	if err != nil {
		db.Close()
		return nil, err
	}
	if applied > 0 {
		logger.Info("store %s applied %d migration(s)", path, applied)
	}
	logger.Debug("store %s opened", path)

	return &Store{db: db, path: path}, nil
}

// OpenMemory opens a process-local in-memory store, used by the router's
// force_memory_only mode and by tests.
func OpenMemory(ctx context.Context) (*Store, error) {
	return Open(ctx, "file::memory:?cache=shared")
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		logger.Warn("store %s close failed: %v", s.path, err)
		return err
	}
	logger.Debug("store %s closed", s.path)
	return nil
}

// Path returns the on-disk path this store was opened with.
func (s *Store) Path() string { return s.path }

// DefaultPathForRoot returns <workspace_root>/.probe/cache.db.
func DefaultPathForRoot(root string) string {
	return filepath.Join(root, ".probe", "cache.db")
}

func metadataJSON(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func parseMetadata(raw sql.NullString) map[string]any {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return nil
	}
	return m
}

// StoreSymbols writes all symbols in a single transaction (§5: atomic within
// one call). Existing rows with the same symbol_uid are overwritten, never
// merged, per the Data Model's "created or overwritten" lifecycle.
func (s *Store) StoreSymbols(ctx context.Context, symbols []types.Symbol) error {
	if len(symbols) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO symbol_state(symbol_uid, file_path, language, name, fqn, kind, signature,
			visibility, def_start_line, def_start_char, def_end_line, def_end_char,
			is_definition, documentation, metadata)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(symbol_uid) DO UPDATE SET
			file_path=excluded.file_path, language=excluded.language, name=excluded.name,
			fqn=excluded.fqn, kind=excluded.kind, signature=excluded.signature,
			visibility=excluded.visibility, def_start_line=excluded.def_start_line,
			def_start_char=excluded.def_start_char, def_end_line=excluded.def_end_line,
			def_end_char=excluded.def_end_char, is_definition=excluded.is_definition,
			documentation=excluded.documentation, metadata=excluded.metadata`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sym := range symbols {
		meta, err := metadataJSON(sym.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", sym.UID, err)
		}
		if _, err := stmt.ExecContext(ctx, sym.UID, sym.FilePath, sym.Language, sym.Name,
			nullableString(sym.FQN), sym.Kind, nullableString(sym.Signature),
			nullableString(sym.Visibility), sym.Def.StartLine, sym.Def.StartChar,
			sym.Def.EndLine, sym.Def.EndChar, boolToInt(sym.IsDefinition),
			nullableString(sym.Documentation), meta); err != nil {
			return fmt.Errorf("store symbol %s: %w", sym.UID, err)
		}
	}
	return tx.Commit()
}

// StoreEdges writes all edges in a single transaction. Edges are
// append-and-replace within a batch: a batch containing the same logical
// tuple twice keeps only the last occurrence.
func (s *Store) StoreEdges(ctx context.Context, edges []types.Edge) error {
	if len(edges) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	del, err := tx.PrepareContext(ctx, `
		DELETE FROM edge WHERE relation=? AND source_symbol_uid=? AND target_symbol_uid=?
			AND IFNULL(start_line,-1)=? AND IFNULL(start_char,-1)=?`)
	if err != nil {
		return err
	}
	defer del.Close()

	ins, err := tx.PrepareContext(ctx, `
		INSERT INTO edge(relation, source_symbol_uid, target_symbol_uid, start_line, start_char,
			confidence, language, metadata) VALUES(?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer ins.Close()

	for _, e := range edges {
		// -1 stands for the NULL that nullableInt stores for a zero coordinate.
		startLine, startChar := -1, -1
		if e.StartLine != 0 {
			startLine = e.StartLine
		}
		if e.StartChar != 0 {
			startChar = e.StartChar
		}
		if _, err := del.ExecContext(ctx, e.Relation, e.Source, e.Target, startLine, startChar); err != nil {
			return fmt.Errorf("replace edge %s->%s: %w", e.Source, e.Target, err)
		}
		meta, err := metadataJSON(e.Metadata)
		if err != nil {
			return err
		}
		if _, err := ins.ExecContext(ctx, e.Relation, e.Source, e.Target,
			nullableInt(e.StartLine), nullableInt(e.StartChar), e.Confidence, e.Language, meta); err != nil {
			return fmt.Errorf("insert edge %s->%s: %w", e.Source, e.Target, err)
		}
	}
	return tx.Commit()
}

// GetAllSymbols returns every symbol_state row.
func (s *Store) GetAllSymbols(ctx context.Context) ([]types.Symbol, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol_uid, file_path, language, name, fqn, kind, signature, visibility,
			def_start_line, def_start_char, def_end_line, def_end_char, is_definition,
			documentation, metadata FROM symbol_state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Symbol
	for rows.Next() {
		var sym types.Symbol
		var fqn, sig, vis, doc, meta sql.NullString
		var isDef int
		if err := rows.Scan(&sym.UID, &sym.FilePath, &sym.Language, &sym.Name, &fqn, &sym.Kind,
			&sig, &vis, &sym.Def.StartLine, &sym.Def.StartChar, &sym.Def.EndLine, &sym.Def.EndChar,
			&isDef, &doc, &meta); err != nil {
			return nil, err
		}
		sym.FQN, sym.Signature, sym.Visibility, sym.Documentation = fqn.String, sig.String, vis.String, doc.String
		sym.IsDefinition = isDef != 0
		sym.Metadata = parseMetadata(meta)
		out = append(out, sym)
	}
	return out, rows.Err()
}

// GetAllEdges returns every edge row.
func (s *Store) GetAllEdges(ctx context.Context) ([]types.Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT relation, source_symbol_uid, target_symbol_uid, start_line, start_char,
			confidence, language, metadata FROM edge`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Edge
	for rows.Next() {
		var e types.Edge
		var startLine, startChar sql.NullInt64
		var lang, meta sql.NullString
		if err := rows.Scan(&e.Relation, &e.Source, &e.Target, &startLine, &startChar,
			&e.Confidence, &lang, &meta); err != nil {
			return nil, err
		}
		e.StartLine, e.StartChar = int(startLine.Int64), int(startChar.Int64)
		e.Language = lang.String
		e.Metadata = parseMetadata(meta)
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetCallHierarchyForSymbol returns the incoming (called_by) and outgoing
// (calls) edges anchored on uid.
func (s *Store) GetCallHierarchyForSymbol(ctx context.Context, uid string) (incoming, outgoing []types.Edge, err error) {
	incoming, err = s.edgesWhere(ctx, "source_symbol_uid=? AND relation=?", uid, types.RelCalledBy)
	if err != nil {
		return nil, nil, err
	}
	outgoing, err = s.edgesWhere(ctx, "source_symbol_uid=? AND relation=?", uid, types.RelCalls)
	if err != nil {
		return nil, nil, err
	}
	return incoming, outgoing, nil
}

func (s *Store) edgesWhere(ctx context.Context, where string, args ...any) ([]types.Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT relation, source_symbol_uid, target_symbol_uid, start_line, start_char,
			confidence, language, metadata FROM edge WHERE `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Edge
	for rows.Next() {
		var e types.Edge
		var startLine, startChar sql.NullInt64
		var lang, meta sql.NullString
		if err := rows.Scan(&e.Relation, &e.Source, &e.Target, &startLine, &startChar,
			&e.Confidence, &lang, &meta); err != nil {
			return nil, err
		}
		e.StartLine, e.StartChar = int(startLine.Int64), int(startChar.Int64)
		e.Language = lang.String
		e.Metadata = parseMetadata(meta)
		out = append(out, e)
	}
	return out, rows.Err()
}

// CreateWorkspace inserts a workspace row scoped to projectID.
func (s *Store) CreateWorkspace(ctx context.Context, workspaceID, name, projectID, branch string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace(workspace_id, project_id, name, path, current_branch, created_at)
		VALUES(?,?,?,?,?,?)`, workspaceID, projectID, name, name, nullableString(branch), time.Now().Format(time.RFC3339))
	return err
}

// EnsureProject inserts a project row if one doesn't already exist for rootPath.
func (s *Store) EnsureProject(ctx context.Context, projectID, rootPath, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project(project_id, root_path, name, created_at) VALUES(?,?,?,?)
		ON CONFLICT(root_path) DO NOTHING`, projectID, rootPath, name, time.Now().Format(time.RFC3339))
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

