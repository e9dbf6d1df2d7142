package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a single-file durable Store. It is meant for local
// development and single-process deployments where a full Postgres
// instance would be overkill, while still surviving process restarts
// unlike MemStore.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens (creating if needed) a SQLite-backed store at path.
// Use ":memory:" for an ephemeral database that still speaks the same
// schema as a file-backed one, useful for tests that want SQL semantics
// without MemStore's map-based approximation.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite connection: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS flow_memory_items (
			id TEXT PRIMARY KEY,
			flow_id TEXT NOT NULL,
			flow_type TEXT NOT NULL,
			flow_version INTEGER NOT NULL,
			memory_type TEXT NOT NULL,
			content BLOB NOT NULL,
			metadata TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			last_accessed_at TIMESTAMP NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_fmi_flow_id ON flow_memory_items(flow_id)",
		"CREATE INDEX IF NOT EXISTS idx_fmi_flow_type ON flow_memory_items(flow_id, memory_type)",
		"CREATE INDEX IF NOT EXISTS idx_fmi_created ON flow_memory_items(created_at)",
	}
	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) guardClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("memory: sqlite store is closed")
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, item FlowMemoryItem) error {
	if err := s.guardClosed(); err != nil {
		return err
	}
	metaJSON, err := encodeMetadata(item.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := `
		INSERT INTO flow_memory_items
			(id, flow_id, flow_type, flow_version, memory_type, content, metadata, created_at, last_accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			metadata = excluded.metadata,
			last_accessed_at = excluded.last_accessed_at
	`
	_, err = s.db.ExecContext(ctx, query,
		item.ID, item.FlowID, item.FlowType, item.FlowVersion, string(item.MemoryType),
		item.Content, metaJSON,
		item.CreatedAt.Format(time.RFC3339Nano), item.LastAccessedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save flow memory item: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Query(ctx context.Context, q Query) ([]FlowMemoryItem, error) {
	if err := s.guardClosed(); err != nil {
		return nil, err
	}
	where, args := buildWhere(q)
	order := "ASC"
	if q.Descending {
		order = "DESC"
	}
	query := fmt.Sprintf(`
		SELECT id, flow_id, flow_type, flow_version, memory_type, content, metadata, created_at, last_accessed_at
		FROM flow_memory_items
		%s
		ORDER BY created_at %s
	`, where, order)
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query flow memory items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []FlowMemoryItem
	for rows.Next() {
		item, err := scanFlowMemoryItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, q Query) (int, error) {
	if err := s.guardClosed(); err != nil {
		return 0, err
	}
	where, args := buildWhere(q)
	res, err := s.db.ExecContext(ctx, "DELETE FROM flow_memory_items "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete flow memory items: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// Close closes the underlying database connection. Safe to call more than
// once.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func buildWhere(q Query) (string, []any) {
	var clauses []string
	var args []any

	if len(q.IDs) > 0 {
		placeholders := strings.Repeat("?,", len(q.IDs))
		placeholders = strings.TrimSuffix(placeholders, ",")
		clauses = append(clauses, "id IN ("+placeholders+")")
		for _, id := range q.IDs {
			args = append(args, id)
		}
	}
	if q.FlowID != "" {
		clauses = append(clauses, "flow_id = ?")
		args = append(args, q.FlowID)
	}
	if q.MemoryType != "" {
		clauses = append(clauses, "memory_type = ?")
		args = append(args, string(q.MemoryType))
	}
	if !q.Before.IsZero() {
		clauses = append(clauses, "created_at < ?")
		args = append(args, q.Before.Format(time.RFC3339Nano))
	}
	if !q.After.IsZero() {
		clauses = append(clauses, "created_at > ?")
		args = append(args, q.After.Format(time.RFC3339Nano))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlowMemoryItem(row rowScanner) (FlowMemoryItem, error) {
	var (
		item        FlowMemoryItem
		memType     string
		metaJSON    string
		createdStr  string
		accessedStr string
	)
	if err := row.Scan(
		&item.ID, &item.FlowID, &item.FlowType, &item.FlowVersion, &memType,
		&item.Content, &metaJSON, &createdStr, &accessedStr,
	); err != nil {
		return FlowMemoryItem{}, fmt.Errorf("scan flow memory item: %w", err)
	}
	item.MemoryType = MemoryType(memType)

	meta, err := decodeMetadata(metaJSON)
	if err != nil {
		return FlowMemoryItem{}, fmt.Errorf("unmarshal metadata: %w", err)
	}
	item.Metadata = meta

	item.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr)
	if err != nil {
		return FlowMemoryItem{}, fmt.Errorf("parse created_at: %w", err)
	}
	item.LastAccessedAt, err = time.Parse(time.RFC3339Nano, accessedStr)
	if err != nil {
		return FlowMemoryItem{}, fmt.Errorf("parse last_accessed_at: %w", err)
	}
	return item, nil
}
