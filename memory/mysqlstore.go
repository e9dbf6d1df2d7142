package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB-backed Store, for deployments that already
// run a MySQL cluster for the rest of their infrastructure and would
// rather not stand up Postgres just for flow memory. It speaks the same
// FlowMemoryItem/Query contract as SQLiteStore and PostgresStore. Like
// SQLiteStore it stores timestamps as RFC3339Nano text rather than native
// DATETIME columns; PostgresStore uses native TIMESTAMPTZ columns instead.
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore opens a connection pool against dsn (the go-sql-driver/mysql
// DSN format: "user:pass@tcp(host:3306)/dbname?parseTime=true") and creates
// the flow_memory_items table if it doesn't already exist.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS flow_memory_items (
			id VARCHAR(255) PRIMARY KEY,
			flow_id VARCHAR(255) NOT NULL,
			flow_type VARCHAR(255) NOT NULL,
			flow_version INT NOT NULL,
			memory_type VARCHAR(64) NOT NULL,
			content LONGBLOB NOT NULL,
			metadata TEXT NOT NULL,
			created_at VARCHAR(64) NOT NULL,
			last_accessed_at VARCHAR(64) NOT NULL,
			INDEX idx_fmi_flow_id (flow_id),
			INDEX idx_fmi_flow_type (flow_id, memory_type),
			INDEX idx_fmi_created (created_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *MySQLStore) guardClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("memory: mysql store is closed")
	}
	return nil
}

func (s *MySQLStore) Save(ctx context.Context, item FlowMemoryItem) error {
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
		ON DUPLICATE KEY UPDATE
			content = VALUES(content),
			metadata = VALUES(metadata),
			last_accessed_at = VALUES(last_accessed_at)
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

func (s *MySQLStore) Query(ctx context.Context, q Query) ([]FlowMemoryItem, error) {
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

func (s *MySQLStore) Delete(ctx context.Context, q Query) (int, error) {
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

// Close closes the underlying connection pool. Safe to call more than once.
func (s *MySQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
