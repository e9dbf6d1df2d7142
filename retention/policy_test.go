package retention

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestTimePolicy_RemovesOlderThanMaxAge(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := TimePolicy{MaxAge: time.Hour, Field: AgeByCreatedAt, Now: fixedNow(now)}

	items := []Item{
		{ID: "fresh", CreatedAt: now.Add(-10 * time.Minute)},
		{ID: "stale", CreatedAt: now.Add(-2 * time.Hour)},
	}

	retained, removed := p.Apply(items)
	require.Equal(t, 1, removed)
	require.Len(t, retained, 1)
	require.Equal(t, "fresh", retained[0].ID)
}

func TestCountPolicy_KeepsNewestByDefault(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	items := []Item{
		{ID: "oldest", CreatedAt: base},
		{ID: "middle", CreatedAt: base.Add(time.Hour)},
		{ID: "newest", CreatedAt: base.Add(2 * time.Hour)},
	}

	p := CountPolicy{MaxItems: 2, Order: OrderOldestFirst}
	retained, removed := p.Apply(items)
	require.Equal(t, 1, removed)
	require.Len(t, retained, 2)
	ids := []string{retained[0].ID, retained[1].ID}
	require.ElementsMatch(t, []string{"middle", "newest"}, ids)
}

func TestRelevancePolicy_FiltersBelowThreshold(t *testing.T) {
	p := RelevancePolicy{Threshold: 0.5}
	items := []Item{{ID: "a", Relevance: 0.9}, {ID: "b", Relevance: 0.1}}
	retained, removed := p.Apply(items)
	require.Equal(t, 1, removed)
	require.Equal(t, "a", retained[0].ID)
}

func TestMetadataPolicy_MatchesAllCriteria(t *testing.T) {
	p := MetadataPolicy{Criteria: map[string]string{"kind": "summary"}}
	items := []Item{
		{ID: "a", Metadata: map[string]string{"kind": "summary"}},
		{ID: "b", Metadata: map[string]string{"kind": "detail"}},
	}
	retained, removed := p.Apply(items)
	require.Equal(t, 1, removed)
	require.Equal(t, "a", retained[0].ID)
}

func TestMetadataPolicy_Invert(t *testing.T) {
	p := MetadataPolicy{Criteria: map[string]string{"kind": "summary"}, Invert: true}
	items := []Item{
		{ID: "a", Metadata: map[string]string{"kind": "summary"}},
		{ID: "b", Metadata: map[string]string{"kind": "detail"}},
	}
	retained, removed := p.Apply(items)
	require.Equal(t, 1, removed)
	require.Equal(t, "b", retained[0].ID)
}

func TestCompositePolicy_AND(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	composite := CompositePolicy{
		Mode: CombineAnd,
		Policies: []Policy{
			TimePolicy{MaxAge: time.Hour, Now: fixedNow(now)},
			RelevancePolicy{Threshold: 0.5},
		},
	}

	items := []Item{
		{ID: "both-pass", CreatedAt: now.Add(-time.Minute), Relevance: 0.9},
		{ID: "fails-relevance", CreatedAt: now.Add(-time.Minute), Relevance: 0.1},
		{ID: "fails-age", CreatedAt: now.Add(-2 * time.Hour), Relevance: 0.9},
	}

	retained, removed := composite.Apply(items)
	require.Equal(t, 2, removed)
	require.Len(t, retained, 1)
	require.Equal(t, "both-pass", retained[0].ID)
}

func TestCompositePolicy_OR(t *testing.T) {
	composite := CompositePolicy{
		Mode: CombineOr,
		Policies: []Policy{
			RelevancePolicy{Threshold: 0.9},
			MetadataPolicy{Criteria: map[string]string{"pinned": "true"}},
		},
	}

	items := []Item{
		{ID: "relevant", Relevance: 0.95, Metadata: map[string]string{}},
		{ID: "pinned", Relevance: 0.1, Metadata: map[string]string{"pinned": "true"}},
		{ID: "neither", Relevance: 0.1, Metadata: map[string]string{}},
	}

	retained, removed := composite.Apply(items)
	require.Equal(t, 1, removed)
	ids := []string{retained[0].ID, retained[1].ID}
	require.ElementsMatch(t, []string{"relevant", "pinned"}, ids)
}
