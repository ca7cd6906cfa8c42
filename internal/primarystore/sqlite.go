package primarystore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/contextcore/internal/contexts"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore is a Store backed by an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database under dataDir and applies
// pending migrations. Pass ":memory:" for an in-memory database (tests).
func OpenSQLite(dataDir string) (*SQLiteStore, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "contextcore.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contexts.ErrStoreUnavailable, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", contexts.ErrStoreUnavailable, err)
	}

	// Single connection avoids "database is locked" under concurrent writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var applied int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&applied); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if applied > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

const contextColumns = "id, workspace_id, tier, type, content, metadata, created_at, updated_at, last_accessed"

// Insert persists a new context, assigning a fresh id.
func (s *SQLiteStore) Insert(ctx context.Context, c *contexts.Context) (*contexts.Context, error) {
	stored := c.Clone()
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	meta, err := json.Marshal(stored.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO contexts (`+contextColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.ID, stored.WorkspaceID, string(stored.Tier), string(stored.Type),
		stored.Content, string(meta),
		stored.CreatedAt.UnixNano(), stored.UpdatedAt.UnixNano(), stored.LastAccessed.UnixNano())
	if err != nil {
		return nil, wrapStoreErr("inserting context", err)
	}
	return stored, nil
}

// Get returns the context by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*contexts.Context, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+contextColumns+` FROM contexts WHERE id = ?`, id)
	c, err := scanContext(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", contexts.ErrNotFound, id)
	}
	if err != nil {
		return nil, wrapStoreErr("getting context", err)
	}
	return c, nil
}

// GetBatch returns the contexts that resolve; unknown ids are skipped.
func (s *SQLiteStore) GetBatch(ctx context.Context, ids []string) ([]*contexts.Context, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contextColumns+` FROM contexts WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, wrapStoreErr("batch getting contexts", err)
	}
	defer rows.Close()

	byID := make(map[string]*contexts.Context, len(ids))
	for rows.Next() {
		c, err := scanContext(rows)
		if err != nil {
			return nil, wrapStoreErr("scanning context", err)
		}
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr("iterating contexts", err)
	}

	// Preserve request order.
	out := make([]*contexts.Context, 0, len(byID))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// Update replaces the stored record.
func (s *SQLiteStore) Update(ctx context.Context, c *contexts.Context) error {
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE contexts SET workspace_id = ?, tier = ?, type = ?, content = ?, metadata = ?,
		 updated_at = ?, last_accessed = ? WHERE id = ?`,
		c.WorkspaceID, string(c.Tier), string(c.Type), c.Content, string(meta),
		c.UpdatedAt.UnixNano(), c.LastAccessed.UnixNano(), c.ID)
	if err != nil {
		return wrapStoreErr("updating context", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapStoreErr("updating context", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", contexts.ErrNotFound, c.ID)
	}
	return nil
}

// TouchUsage increments the usage counter inside the metadata JSON and
// stamps last_accessed. json_set keeps it a single statement.
func (s *SQLiteStore) TouchUsage(ctx context.Context, id string, accessedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE contexts SET
		   metadata = json_set(metadata, '$.usage_count', COALESCE(json_extract(metadata, '$.usage_count'), 0) + 1),
		   last_accessed = ?
		 WHERE id = ?`,
		accessedAt.UnixNano(), id)
	if err != nil {
		return wrapStoreErr("touching usage", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapStoreErr("touching usage", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", contexts.ErrNotFound, id)
	}
	return nil
}

// Delete removes the record and its versions.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM contexts WHERE id = ?`, id)
	if err != nil {
		return wrapStoreErr("deleting context", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapStoreErr("deleting context", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", contexts.ErrNotFound, id)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM context_versions WHERE context_id = ?`, id); err != nil {
		return wrapStoreErr("deleting context versions", err)
	}
	return nil
}

// Find returns matching contexts ordered by id.
func (s *SQLiteStore) Find(ctx context.Context, q Query) ([]*contexts.Context, error) {
	var (
		conds []string
		args  []any
	)
	if q.WorkspaceID != "" {
		conds = append(conds, "workspace_id = ?")
		args = append(args, q.WorkspaceID)
	}
	if q.Tier != "" {
		conds = append(conds, "tier = ?")
		args = append(args, string(q.Tier))
	}
	if q.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(q.Type))
	}

	query := `SELECT ` + contextColumns + ` FROM contexts`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
		if q.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, q.Offset)
		}
	} else if q.Offset > 0 {
		// SQLite requires LIMIT before OFFSET; -1 means unlimited.
		query += " LIMIT -1 OFFSET ?"
		args = append(args, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStoreErr("finding contexts", err)
	}
	defer rows.Close()

	var out []*contexts.Context
	for rows.Next() {
		c, err := scanContext(rows)
		if err != nil {
			return nil, wrapStoreErr("scanning context", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Count returns the number of contexts in a workspace.
func (s *SQLiteStore) Count(ctx context.Context, workspaceID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contexts WHERE workspace_id = ?`, workspaceID).Scan(&n)
	if err != nil {
		return 0, wrapStoreErr("counting contexts", err)
	}
	return n, nil
}

// ListIDs returns every context id in a workspace, sorted.
func (s *SQLiteStore) ListIDs(ctx context.Context, workspaceID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM contexts WHERE workspace_id = ? ORDER BY id`, workspaceID)
	if err != nil {
		return nil, wrapStoreErr("listing ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapStoreErr("scanning id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PutVersion appends a version snapshot.
func (s *SQLiteStore) PutVersion(ctx context.Context, v *contexts.ContextVersion) error {
	meta, err := json.Marshal(v.Metadata)
	if err != nil {
		return fmt.Errorf("encoding version metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO context_versions (context_id, version, content, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		v.ContextID, v.Version, v.Content, string(meta), v.CreatedAt.UnixNano())
	if err != nil {
		return wrapStoreErr("inserting version", err)
	}
	return nil
}

// GetVersions returns snapshots newest first.
func (s *SQLiteStore) GetVersions(ctx context.Context, contextID string, limit int) ([]*contexts.ContextVersion, error) {
	query := `SELECT context_id, version, content, metadata, created_at
	          FROM context_versions WHERE context_id = ? ORDER BY version DESC`
	args := []any{contextID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStoreErr("getting versions", err)
	}
	defer rows.Close()

	var out []*contexts.ContextVersion
	for rows.Next() {
		var (
			v       contexts.ContextVersion
			meta    string
			created int64
		)
		if err := rows.Scan(&v.ContextID, &v.Version, &v.Content, &meta, &created); err != nil {
			return nil, wrapStoreErr("scanning version", err)
		}
		if err := json.Unmarshal([]byte(meta), &v.Metadata); err != nil {
			return nil, fmt.Errorf("decoding version metadata: %w", err)
		}
		v.CreatedAt = time.Unix(0, created)
		out = append(out, &v)
	}
	return out, rows.Err()
}

// LatestVersion returns the highest stored version number, 0 when none exist.
func (s *SQLiteStore) LatestVersion(ctx context.Context, contextID string) (int, error) {
	var latest sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM context_versions WHERE context_id = ?`, contextID).Scan(&latest)
	if err != nil {
		return 0, wrapStoreErr("getting latest version", err)
	}
	if !latest.Valid {
		return 0, nil
	}
	return int(latest.Int64), nil
}

// PruneVersions drops the oldest snapshots beyond keep.
func (s *SQLiteStore) PruneVersions(ctx context.Context, contextID string, keep int) error {
	if keep <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM context_versions WHERE context_id = ? AND version <= (
		   SELECT MAX(version) - ? FROM context_versions WHERE context_id = ?
		 )`,
		contextID, keep, contextID)
	if err != nil {
		return wrapStoreErr("pruning versions", err)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanContext(row scanner) (*contexts.Context, error) {
	var (
		c                         contexts.Context
		tier, typ, meta           string
		created, updated, accInt  int64
	)
	if err := row.Scan(&c.ID, &c.WorkspaceID, &tier, &typ, &c.Content, &meta,
		&created, &updated, &accInt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	c.Tier = contexts.Tier(tier)
	c.Type = contexts.Type(typ)
	c.CreatedAt = time.Unix(0, created)
	c.UpdatedAt = time.Unix(0, updated)
	c.LastAccessed = time.Unix(0, accInt)
	return &c, nil
}

func wrapStoreErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, contexts.ErrStoreUnavailable, err)
}
