package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jbeck018/crewflow-go/event"
	"github.com/jbeck018/crewflow-go/flow"
)

// ConnectorConfig tunes how a MemoryConnector persists and caches flow
// lifecycle data.
type ConnectorConfig struct {
	// MaxStateSnapshotsPerFlow caps how many STATE items a single flow
	// keeps; the oldest is evicted (FIFO) once the cap is exceeded.
	MaxStateSnapshotsPerFlow int
	// PersistStateOnEveryChange, when true, subscribes to state_changed
	// and coalesces writes via StatePersistenceDebounce.
	PersistStateOnEveryChange bool
	StatePersistenceDebounce  time.Duration
	// InMemoryCacheTTL bounds how long GetLatestFlowState trusts its
	// cache before re-querying the store.
	InMemoryCacheTTL time.Duration
}

func (c ConnectorConfig) withDefaults() ConnectorConfig {
	if c.MaxStateSnapshotsPerFlow <= 0 {
		c.MaxStateSnapshotsPerFlow = 20
	}
	if c.StatePersistenceDebounce <= 0 {
		c.StatePersistenceDebounce = 500 * time.Millisecond
	}
	if c.InMemoryCacheTTL <= 0 {
		c.InMemoryCacheTTL = 2 * time.Second
	}
	return c
}

type cachedState struct {
	item     FlowMemoryItem
	cachedAt time.Time
}

type debounceEntry struct {
	timer       *time.Timer
	flowType    string
	flowVersion int
	state       any
}

// MemoryConnector bridges flow lifecycle events to a Store: it subscribes
// itself to the event bus and turns flow_started/state_changed/
// method_execution_finished/method_execution_failed/flow_finished events
// into typed writes, and offers paginated reads plus (when a
// VectorRetriever is configured) semantic search.
type MemoryConnector struct {
	store     Store
	retriever VectorRetriever
	cfg       ConnectorConfig
	now       func() time.Time

	mu        sync.Mutex
	latest    map[string]cachedState
	debounce  map[string]*debounceEntry
	flowTypes map[string]string // flowID -> flow type, learned from flow_started
}

// NewMemoryConnector wires store as the persistence backend. retriever may
// be nil; SearchFlowData then always fails with ErrUnsupportedQuery.
func NewMemoryConnector(store Store, retriever VectorRetriever, cfg ConnectorConfig) *MemoryConnector {
	return &MemoryConnector{
		store:     store,
		retriever: retriever,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		latest:    make(map[string]cachedState),
		debounce:  make(map[string]*debounceEntry),
		flowTypes: make(map[string]string),
	}
}

// ConnectToFlow subscribes the connector to bus and writes an initial
// CONFIG record for flowType/flowVersion. Call once per flow definition,
// not per execution — individual executions are distinguished by the
// FlowID carried on each event.Event.
func (c *MemoryConnector) ConnectToFlow(ctx context.Context, bus *event.Bus, flowType string, flowVersion int, config map[string]string) error {
	bus.Subscribe(c)
	return c.PersistFlowConfig(ctx, flowType, flowVersion, config)
}

// Emit implements event.Emitter. It is the write-side entry point the bus
// calls for every published event.
func (c *MemoryConnector) Emit(e event.Event) {
	ctx := context.Background()
	switch e.Kind {
	case event.KindFlowStarted:
		c.mu.Lock()
		c.flowTypes[e.FlowID] = e.FlowName
		c.mu.Unlock()
		_ = c.persistFlowState(ctx, e.FlowID, e.FlowName, "started", nil)

	case event.KindStateChanged:
		state := e.Meta["state"]
		if c.cfg.PersistStateOnEveryChange {
			c.scheduleDebouncedWrite(e.FlowID, e.FlowName, state)
		} else {
			_ = c.persistFlowState(ctx, e.FlowID, e.FlowName, "updated", state)
		}

	case event.KindMethodFinished:
		_ = c.PersistMethodResult(ctx, e.FlowID, e.FlowName, e.MethodName, nil, nil)

	case event.KindMethodFailed:
		var errText string
		if v, ok := e.Meta["error"]; ok {
			errText = fmt.Sprintf("%v", v)
		}
		_ = c.PersistFlowError(ctx, e.FlowID, e.FlowName, e.MethodName, errText)

	case event.KindFlowFinished:
		c.flushDebounced(ctx, e.FlowID)
		_ = c.persistFlowState(ctx, e.FlowID, e.FlowName, "finished", nil)

	case event.KindFlowFailed:
		var errText string
		if v, ok := e.Meta["error"]; ok {
			errText = fmt.Sprintf("%v", v)
		}
		_ = c.PersistFlowError(ctx, e.FlowID, e.FlowName, "", errText)
	}
}

// EmitBatch and Flush satisfy event.Emitter; the connector has no batching
// or buffering of its own to flush, so Flush is a no-op.
func (c *MemoryConnector) EmitBatch(ctx context.Context, events []event.Event) error {
	for _, e := range events {
		c.Emit(e)
	}
	return nil
}

func (c *MemoryConnector) Flush(_ context.Context) error { return nil }

func (c *MemoryConnector) scheduleDebouncedWrite(flowID, flowType string, state any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.debounce[flowID]
	if !ok {
		entry = &debounceEntry{flowType: flowType}
		c.debounce[flowID] = entry
	}
	entry.state = state
	if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.timer = time.AfterFunc(c.cfg.StatePersistenceDebounce, func() {
		c.mu.Lock()
		pending, ok := c.debounce[flowID]
		if !ok {
			c.mu.Unlock()
			return
		}
		delete(c.debounce, flowID)
		c.mu.Unlock()
		_ = c.persistFlowState(context.Background(), flowID, pending.flowType, "updated", pending.state)
	})
}

func (c *MemoryConnector) flushDebounced(ctx context.Context, flowID string) {
	c.mu.Lock()
	entry, ok := c.debounce[flowID]
	if ok {
		entry.timer.Stop()
		delete(c.debounce, flowID)
	}
	c.mu.Unlock()
	if ok {
		_ = c.persistFlowState(ctx, flowID, entry.flowType, "updated", entry.state)
	}
}

// persistFlowState writes a STATE item for flowID, canonicalizing state
// through canonicalizeBody, and trims the flow's STATE history down to
// MaxStateSnapshotsPerFlow (FIFO: oldest dropped first).
func (c *MemoryConnector) persistFlowState(ctx context.Context, flowID, flowType, status string, state any) error {
	body, err := canonicalizeBody(state)
	if err != nil {
		return fmt.Errorf("canonicalize flow state: %w", err)
	}
	now := c.now()
	item := FlowMemoryItem{
		MemoryItem: MemoryItem{
			ID:             uuid.NewString(),
			Content:        body,
			Metadata:       map[string]string{"status": status},
			CreatedAt:      now,
			LastAccessedAt: now,
		},
		FlowID:     flowID,
		FlowType:   flowType,
		MemoryType: MemoryTypeState,
	}
	if err := c.store.Save(ctx, item); err != nil {
		return err
	}

	c.mu.Lock()
	c.latest[flowID] = cachedState{item: item, cachedAt: now}
	c.mu.Unlock()

	return c.trimStateHistory(ctx, flowID)
}

func (c *MemoryConnector) trimStateHistory(ctx context.Context, flowID string) error {
	items, err := c.store.Query(ctx, Query{FlowID: flowID, MemoryType: MemoryTypeState, Descending: true})
	if err != nil {
		return err
	}
	if len(items) <= c.cfg.MaxStateSnapshotsPerFlow {
		return nil
	}
	staleIDs := make([]string, 0, len(items)-c.cfg.MaxStateSnapshotsPerFlow)
	for _, stale := range items[c.cfg.MaxStateSnapshotsPerFlow:] {
		staleIDs = append(staleIDs, stale.ID)
	}
	_, err = c.store.Delete(ctx, Query{IDs: staleIDs})
	return err
}

// PersistMethodResult writes a METHOD_RESULT item.
func (c *MemoryConnector) PersistMethodResult(ctx context.Context, flowID, flowType, methodName string, value any, err error) error {
	body, marshalErr := canonicalizeBody(value)
	if marshalErr != nil {
		return fmt.Errorf("canonicalize method result: %w", marshalErr)
	}
	meta := map[string]string{"methodName": methodName}
	if err != nil {
		meta["error"] = err.Error()
	}
	now := c.now()
	return c.store.Save(ctx, FlowMemoryItem{
		MemoryItem: MemoryItem{
			ID:             uuid.NewString(),
			Content:        body,
			Metadata:       meta,
			CreatedAt:      now,
			LastAccessedAt: now,
		},
		FlowID:     flowID,
		FlowType:   flowType,
		MemoryType: MemoryTypeMethodResult,
	})
}

// PersistFlowError writes an ERROR item.
func (c *MemoryConnector) PersistFlowError(ctx context.Context, flowID, flowType, methodName, message string) error {
	now := c.now()
	return c.store.Save(ctx, FlowMemoryItem{
		MemoryItem: MemoryItem{
			ID:             uuid.NewString(),
			Content:        []byte(message),
			Metadata:       map[string]string{"methodName": methodName},
			CreatedAt:      now,
			LastAccessedAt: now,
		},
		FlowID:     flowID,
		FlowType:   flowType,
		MemoryType: MemoryTypeError,
	})
}

// PersistFlowConfig writes a CONFIG item, typically once per flow
// definition via ConnectToFlow.
func (c *MemoryConnector) PersistFlowConfig(ctx context.Context, flowType string, flowVersion int, config map[string]string) error {
	body, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshal flow config: %w", err)
	}
	now := c.now()
	return c.store.Save(ctx, FlowMemoryItem{
		MemoryItem: MemoryItem{
			ID:             uuid.NewString(),
			Content:        body,
			CreatedAt:      now,
			LastAccessedAt: now,
		},
		FlowID:      "",
		FlowType:    flowType,
		FlowVersion: flowVersion,
		MemoryType:  MemoryTypeConfig,
	})
}

// GetLatestFlowState returns the most recent STATE item for flowID,
// serving from the in-memory cache when it is still within
// InMemoryCacheTTL, otherwise querying the store directly.
func (c *MemoryConnector) GetLatestFlowState(ctx context.Context, flowID string) (FlowMemoryItem, bool, error) {
	c.mu.Lock()
	cached, ok := c.latest[flowID]
	c.mu.Unlock()
	if ok && c.now().Sub(cached.cachedAt) < c.cfg.InMemoryCacheTTL {
		return cached.item, true, nil
	}

	items, err := c.store.Query(ctx, Query{FlowID: flowID, MemoryType: MemoryTypeState, Descending: true, Limit: 1})
	if err != nil {
		return FlowMemoryItem{}, false, err
	}
	if len(items) == 0 {
		return FlowMemoryItem{}, false, nil
	}

	c.mu.Lock()
	c.latest[flowID] = cachedState{item: items[0], cachedAt: c.now()}
	c.mu.Unlock()
	return items[0], true, nil
}

// GetFlowStateHistory, GetMethodResults, and GetFlowErrors page through a
// flow's history newest-first; pass q.Limit to bound page size and
// q.Before/q.After to page further back.
func (c *MemoryConnector) GetFlowStateHistory(ctx context.Context, q Query) ([]FlowMemoryItem, error) {
	q.MemoryType = MemoryTypeState
	q.Descending = true
	return c.store.Query(ctx, q)
}

func (c *MemoryConnector) GetMethodResults(ctx context.Context, q Query) ([]FlowMemoryItem, error) {
	q.MemoryType = MemoryTypeMethodResult
	q.Descending = true
	return c.store.Query(ctx, q)
}

func (c *MemoryConnector) GetFlowErrors(ctx context.Context, q Query) ([]FlowMemoryItem, error) {
	q.MemoryType = MemoryTypeError
	q.Descending = true
	return c.store.Query(ctx, q)
}

// SearchFlowData performs semantic search over stored bodies. It fails
// with ErrUnsupportedQuery unless a VectorRetriever was supplied to
// NewMemoryConnector.
func (c *MemoryConnector) SearchFlowData(ctx context.Context, query string, filter Query, topK int) ([]FlowMemoryItem, error) {
	if c.retriever == nil {
		return nil, ErrUnsupportedQuery
	}
	return c.retriever.Search(ctx, query, filter, topK)
}

// ClearFlowData bulk-removes items matching q and clears any in-memory
// cache entries for flowID.
func (c *MemoryConnector) ClearFlowData(ctx context.Context, flowID string, q Query) (int, error) {
	q.FlowID = flowID
	removed, err := c.store.Delete(ctx, q)
	if err != nil {
		return removed, err
	}

	c.mu.Lock()
	delete(c.latest, flowID)
	if entry, ok := c.debounce[flowID]; ok {
		entry.timer.Stop()
		delete(c.debounce, flowID)
	}
	c.mu.Unlock()
	return removed, nil
}

// canonicalizeBody marshals an arbitrary value to JSON for storage. It
// shares flow.SanitizedJSON's pre-pass with flow.Canonicalize: func- and
// chan-typed fields are dropped rather than left for json.Marshal to error
// on, and reference cycles are broken instead of recursing forever. A nil
// value (no state captured yet, e.g. on flow_started) encodes as a null
// body rather than failing.
func canonicalizeBody(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return flow.SanitizedJSON(v)
}
