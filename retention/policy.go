// Package retention implements bounded-memory building blocks: pluggable
// retention policies that decide which stored items survive a sweep, and a
// content-addressed deduplicated blob store with a Bloom-filter fast path
// for negative lookups. The memory package does not import it; nothing in
// this module applies these policies or the dedup store to the connector's
// items.
package retention

import (
	"sort"
	"time"
)

// Item is the minimal shape a retention policy needs to evaluate. Callers
// adapt their own record types into this view, so retention depends on no
// other package's types.
type Item struct {
	ID             string
	CreatedAt      time.Time
	LastAccessedAt time.Time
	UpdatedAt      time.Time
	Relevance      float64
	Metadata       map[string]string
}

// Policy decides whether a single item should be kept, and sweeps a full
// set at once (count-based policies need the whole set to rank items;
// ShouldRetain alone can't express "keep the newest 100").
type Policy interface {
	ShouldRetain(item Item) bool
	Apply(items []Item) (retained []Item, removedCount int)
}

// defaultApply is shared by policies whose Apply is just "filter by
// ShouldRetain" (time/relevance/metadata/composite). CountPolicy overrides
// Apply because it needs cross-item ranking; inside a CompositePolicy a
// CountPolicy has no effect, since only its ShouldRetain (always true) is
// consulted.
func defaultApply(p Policy, items []Item) ([]Item, int) {
	retained := make([]Item, 0, len(items))
	for _, it := range items {
		if p.ShouldRetain(it) {
			retained = append(retained, it)
		}
	}
	return retained, len(items) - len(retained)
}

// AgeField selects which timestamp a TimePolicy measures against.
type AgeField int

const (
	AgeByCreatedAt AgeField = iota
	AgeByLastAccessedAt
	AgeByUpdatedAt
)

// TimePolicy removes items older than MaxAge measured against Field.
type TimePolicy struct {
	MaxAge time.Duration
	Field  AgeField
	Now    func() time.Time
}

func (p TimePolicy) timestamp(it Item) time.Time {
	switch p.Field {
	case AgeByLastAccessedAt:
		return it.LastAccessedAt
	case AgeByUpdatedAt:
		return it.UpdatedAt
	default:
		return it.CreatedAt
	}
}

func (p TimePolicy) ShouldRetain(it Item) bool {
	now := p.Now
	if now == nil {
		now = time.Now
	}
	return now().Sub(p.timestamp(it)) <= p.MaxAge
}

func (p TimePolicy) Apply(items []Item) ([]Item, int) { return defaultApply(p, items) }

// CountOrder selects the ranking CountPolicy sorts by before truncating.
type CountOrder int

const (
	OrderOldestFirst CountOrder = iota
	OrderLeastAccessedFirst
)

// CountPolicy keeps at most MaxItems, discarding the rest per Order.
type CountPolicy struct {
	MaxItems int
	Order    CountOrder
}

func (p CountPolicy) ShouldRetain(Item) bool { return true } // only meaningful via Apply

func (p CountPolicy) Apply(items []Item) ([]Item, int) {
	if len(items) <= p.MaxItems {
		return append([]Item(nil), items...), 0
	}
	sorted := append([]Item(nil), items...)
	sort.Slice(sorted, func(i, j int) bool {
		switch p.Order {
		case OrderLeastAccessedFirst:
			return sorted[i].LastAccessedAt.Before(sorted[j].LastAccessedAt)
		default:
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
	})
	removed := len(sorted) - p.MaxItems
	return sorted[removed:], removed
}

// RelevancePolicy removes items whose relevance score falls below
// Threshold.
type RelevancePolicy struct {
	Threshold float64
}

func (p RelevancePolicy) ShouldRetain(it Item) bool { return it.Relevance >= p.Threshold }

func (p RelevancePolicy) Apply(items []Item) ([]Item, int) { return defaultApply(p, items) }

// MetadataPolicy retains items whose metadata matches every criterion in
// Criteria, or none of them if Invert is set.
type MetadataPolicy struct {
	Criteria map[string]string
	Invert   bool
}

func (p MetadataPolicy) ShouldRetain(it Item) bool {
	matches := true
	for k, v := range p.Criteria {
		if it.Metadata[k] != v {
			matches = false
			break
		}
	}
	if p.Invert {
		return !matches
	}
	return matches
}

func (p MetadataPolicy) Apply(items []Item) ([]Item, int) { return defaultApply(p, items) }

// CombineMode selects how CompositePolicy combines its children.
type CombineMode int

const (
	CombineAnd CombineMode = iota
	CombineOr
)

// CompositePolicy ANDs or ORs a set of child policies' ShouldRetain
// decisions, then re-derives Apply from the combined decision so nested
// composites compose correctly.
type CompositePolicy struct {
	Mode     CombineMode
	Policies []Policy
}

func (p CompositePolicy) ShouldRetain(it Item) bool {
	if len(p.Policies) == 0 {
		return true
	}
	switch p.Mode {
	case CombineOr:
		for _, child := range p.Policies {
			if child.ShouldRetain(it) {
				return true
			}
		}
		return false
	default:
		for _, child := range p.Policies {
			if !child.ShouldRetain(it) {
				return false
			}
		}
		return true
	}
}

func (p CompositePolicy) Apply(items []Item) ([]Item, int) { return defaultApply(p, items) }
