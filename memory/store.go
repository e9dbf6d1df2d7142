// Package memory implements the persistence boundary between a running
// flow and durable storage: state snapshots, method results, errors, and
// config records, plus pagination and (where a vector retriever is
// configured) semantic search over stored bodies.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// MemoryType classifies a stored FlowMemoryItem.
type MemoryType string

const (
	MemoryTypeState        MemoryType = "STATE"
	MemoryTypeExecution    MemoryType = "EXECUTION"
	MemoryTypeMethodResult MemoryType = "METHOD_RESULT"
	MemoryTypeError        MemoryType = "ERROR"
	MemoryTypeConfig       MemoryType = "CONFIG"
)

// MemoryItem is the base persisted record.
type MemoryItem struct {
	ID             string
	Content        []byte
	Metadata       map[string]string
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// FlowMemoryItem adds the flow-scoped fields every memory write carries.
type FlowMemoryItem struct {
	MemoryItem
	FlowID      string
	FlowType    string
	FlowVersion int
	MemoryType  MemoryType
}

// Query filters Store reads, writes, and deletes. Before/After are applied
// against CreatedAt for pagination; a zero value means "no bound".
type Query struct {
	FlowID     string
	MemoryType MemoryType // empty means "any type"
	IDs        []string   // non-empty restricts to these item IDs
	Before     time.Time
	After      time.Time
	Limit      int
	Descending bool
}

// ErrUnsupportedQuery is returned by SearchFlowData when the connector has
// no vector retriever configured.
var ErrUnsupportedQuery = errors.New("memory: semantic search requires a vector retriever")

// Store is the storage abstraction every backend (MemStore, SQLiteStore,
// PostgresStore, MySQLStore) implements.
type Store interface {
	Save(ctx context.Context, item FlowMemoryItem) error
	Query(ctx context.Context, q Query) ([]FlowMemoryItem, error)
	Delete(ctx context.Context, q Query) (int, error)
}

// VectorRetriever performs semantic search over stored bodies. PostgresStore
// is the only type in this module with a Search method, and that method
// always returns an error (its vector search is PostgresStore.SearchVector).
// A connector with no retriever fails SearchFlowData with
// ErrUnsupportedQuery.
type VectorRetriever interface {
	Search(ctx context.Context, query string, filter Query, topK int) ([]FlowMemoryItem, error)
}

// encodeMetadata and decodeMetadata give the SQL-backed stores a single
// place to turn the Metadata map into a column value; a nil map encodes as
// "{}" rather than "null" so decodeMetadata never has to special-case it.
func encodeMetadata(m map[string]string) (string, error) {
	if m == nil {
		m = map[string]string{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeMetadata(s string) (map[string]string, error) {
	if s == "" {
		return map[string]string{}, nil
	}
	m := map[string]string{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}
