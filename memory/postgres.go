package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// PostgresStore is a Postgres-backed Store. Items saved through
// SaveWithEmbedding carry a pgvector embedding that SearchVector ranks by
// cosine distance. The type satisfies VectorRetriever, but its Search
// method always returns an error, so a connector using it as the retriever
// fails SearchFlowData.
type PostgresStore struct {
	db  *sql.DB
	dim int
}

// NewPostgresStore opens a connection pool against dsn and ensures the
// flow_memory_items table (plus its pgvector column) exists. dim is the
// embedding dimensionality used by the vector column; pass 0 to disable
// the embedding column and VectorRetriever support entirely.
func NewPostgresStore(dsn string, dim int) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	s := &PostgresStore{db: db, dim: dim}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate postgres schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return err
	}

	embeddingCol := ""
	if s.dim > 0 {
		embeddingCol = fmt.Sprintf(", embedding vector(%d)", s.dim)
	}
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS flow_memory_items (
			id TEXT PRIMARY KEY,
			flow_id TEXT NOT NULL,
			flow_type TEXT NOT NULL,
			flow_version INTEGER NOT NULL,
			memory_type TEXT NOT NULL,
			content BYTEA NOT NULL,
			metadata JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			last_accessed_at TIMESTAMPTZ NOT NULL%s
		)
	`, embeddingCol)
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	for _, idx := range []string{
		"CREATE INDEX IF NOT EXISTS idx_fmi_flow_id ON flow_memory_items(flow_id)",
		"CREATE INDEX IF NOT EXISTS idx_fmi_flow_type ON flow_memory_items(flow_id, memory_type)",
	} {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, item FlowMemoryItem) error {
	return s.saveWithEmbedding(ctx, item, nil)
}

// SaveWithEmbedding saves item alongside a vector embedding of its content,
// making it eligible for Search once pgvector has indexed it.
func (s *PostgresStore) SaveWithEmbedding(ctx context.Context, item FlowMemoryItem, embedding []float32) error {
	return s.saveWithEmbedding(ctx, item, embedding)
}

func (s *PostgresStore) saveWithEmbedding(ctx context.Context, item FlowMemoryItem, embedding []float32) error {
	metaJSON, err := encodeMetadata(item.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	if embedding == nil || s.dim == 0 {
		query := `
			INSERT INTO flow_memory_items
				(id, flow_id, flow_type, flow_version, memory_type, content, metadata, created_at, last_accessed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				content = EXCLUDED.content,
				metadata = EXCLUDED.metadata,
				last_accessed_at = EXCLUDED.last_accessed_at
		`
		_, err := s.db.ExecContext(ctx, query,
			item.ID, item.FlowID, item.FlowType, item.FlowVersion, string(item.MemoryType),
			item.Content, metaJSON, item.CreatedAt, item.LastAccessedAt,
		)
		if err != nil {
			return fmt.Errorf("save flow memory item: %w", err)
		}
		return nil
	}

	vector := pgvector.NewVector(embedding)
	query := `
		INSERT INTO flow_memory_items
			(id, flow_id, flow_type, flow_version, memory_type, content, metadata, created_at, last_accessed_at, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			last_accessed_at = EXCLUDED.last_accessed_at,
			embedding = EXCLUDED.embedding
	`
	_, err = s.db.ExecContext(ctx, query,
		item.ID, item.FlowID, item.FlowType, item.FlowVersion, string(item.MemoryType),
		item.Content, metaJSON, item.CreatedAt, item.LastAccessedAt, vector,
	)
	if err != nil {
		return fmt.Errorf("save flow memory item with embedding: %w", err)
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, q Query) ([]FlowMemoryItem, error) {
	where, args := postgresWhere(q)
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
		item, err := scanPostgresItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, q Query) (int, error) {
	where, args := postgresWhere(q)
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

// Search satisfies VectorRetriever but performs no lookup: it always
// returns an error, because PostgresStore does not embed query text.
// Vector search is available through SearchVector, which takes an
// embedding computed by the caller.
func (s *PostgresStore) Search(ctx context.Context, _ string, filter Query, topK int) ([]FlowMemoryItem, error) {
	return nil, fmt.Errorf("memory: Search requires SearchVector; plain-text embedding is not performed by this store")
}

// SearchVector is the concrete entry point SearchFlowData uses once a
// caller-supplied embedder has turned a query string into a vector: it
// orders stored items by cosine distance to queryVector and returns the
// topK nearest.
func (s *PostgresStore) SearchVector(ctx context.Context, queryVector []float32, filter Query, topK int) ([]FlowMemoryItem, error) {
	if s.dim == 0 {
		return nil, fmt.Errorf("memory: postgres store was opened without an embedding dimension")
	}
	if topK <= 0 {
		topK = 10
	}

	where, args := postgresWhere(filter)
	vector := pgvector.NewVector(queryVector)
	args = append(args, vector)
	vectorArg := fmt.Sprintf("$%d", len(args))

	if where == "" {
		where = "WHERE embedding IS NOT NULL"
	} else {
		where += " AND embedding IS NOT NULL"
	}

	query := fmt.Sprintf(`
		SELECT id, flow_id, flow_type, flow_version, memory_type, content, metadata, created_at, last_accessed_at
		FROM flow_memory_items
		%s
		ORDER BY embedding <=> %s
		LIMIT %d
	`, where, vectorArg, topK)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search flow memory items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []FlowMemoryItem
	for rows.Next() {
		item, err := scanPostgresItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func postgresWhere(q Query) (string, []any) {
	var clauses []string
	var args []any
	idx := 1

	if len(q.IDs) > 0 {
		placeholders := make([]string, len(q.IDs))
		for i, id := range q.IDs {
			placeholders[i] = fmt.Sprintf("$%d", idx)
			args = append(args, id)
			idx++
		}
		clauses = append(clauses, "id IN ("+strings.Join(placeholders, ", ")+")")
	}
	if q.FlowID != "" {
		clauses = append(clauses, fmt.Sprintf("flow_id = $%d", idx))
		args = append(args, q.FlowID)
		idx++
	}
	if q.MemoryType != "" {
		clauses = append(clauses, fmt.Sprintf("memory_type = $%d", idx))
		args = append(args, string(q.MemoryType))
		idx++
	}
	if !q.Before.IsZero() {
		clauses = append(clauses, fmt.Sprintf("created_at < $%d", idx))
		args = append(args, q.Before)
		idx++
	}
	if !q.After.IsZero() {
		clauses = append(clauses, fmt.Sprintf("created_at > $%d", idx))
		args = append(args, q.After)
		idx++
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func scanPostgresItem(rows *sql.Rows) (FlowMemoryItem, error) {
	var (
		item     FlowMemoryItem
		memType  string
		metaJSON string
	)
	if err := rows.Scan(
		&item.ID, &item.FlowID, &item.FlowType, &item.FlowVersion, &memType,
		&item.Content, &metaJSON, &item.CreatedAt, &item.LastAccessedAt,
	); err != nil {
		return FlowMemoryItem{}, fmt.Errorf("scan flow memory item: %w", err)
	}
	item.MemoryType = MemoryType(memType)

	meta, err := decodeMetadata(metaJSON)
	if err != nil {
		return FlowMemoryItem{}, fmt.Errorf("unmarshal metadata: %w", err)
	}
	item.Metadata = meta
	return item, nil
}
