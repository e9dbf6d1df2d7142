package scheduler

import (
	"testing"
)

// These tests live in package scheduler (not scheduler_test) because they
// need to set the unexported memStatsFn hook to simulate heap pressure
// without actually allocating hundreds of megabytes in a test run.

func TestEffectiveMaxConcurrent_BelowThreshold(t *testing.T) {
	s := New(Config{
		MaxConcurrent:    8,
		MemoryThrottling: true,
		MemoryLimitMB:    100,
		memStatsFn:       func() uint64 { return 50 * 1024 * 1024 }, // 50% utilization
	}, nil, nil)

	if got := s.effectiveMaxConcurrent(); got != 8 {
		t.Fatalf("expected no reduction below the 80%% threshold, got %d", got)
	}
}

func TestEffectiveMaxConcurrent_AboveThresholdReducesLinearly(t *testing.T) {
	s := New(Config{
		MaxConcurrent:    10,
		MemoryThrottling: true,
		MemoryLimitMB:    100,
		memStatsFn:       func() uint64 { return 90 * 1024 * 1024 }, // 90% utilization
	}, nil, nil)

	got := s.effectiveMaxConcurrent()
	if got >= 10 || got < 1 {
		t.Fatalf("expected a reduction between 1 and 9 at 90%% utilization, got %d", got)
	}
}

func TestEffectiveMaxConcurrent_FloorsAtOne(t *testing.T) {
	s := New(Config{
		MaxConcurrent:    4,
		MemoryThrottling: true,
		MemoryLimitMB:    100,
		memStatsFn:       func() uint64 { return 200 * 1024 * 1024 }, // over limit entirely
	}, nil, nil)

	if got := s.effectiveMaxConcurrent(); got != 1 {
		t.Fatalf("expected the floor of 1 once utilization exceeds 100%%, got %d", got)
	}
}

func TestEffectiveMaxConcurrent_DisabledIgnoresHeapUsage(t *testing.T) {
	s := New(Config{
		MaxConcurrent: 4,
		memStatsFn:    func() uint64 { return 1 << 40 }, // absurdly high, should be ignored
	}, nil, nil)

	if got := s.effectiveMaxConcurrent(); got != 4 {
		t.Fatalf("expected memStatsFn to be ignored when MemoryThrottling is off, got %d", got)
	}
}

func TestEffectiveMaxConcurrent_DefaultsWhenUnset(t *testing.T) {
	s := New(Config{}, nil, nil)
	if got := s.effectiveMaxConcurrent(); got < 1 {
		t.Fatalf("expected at least 1 default worker, got %d", got)
	}
}

// TestEffectiveMaxConcurrent_ContinuousAtThreshold guards against the
// reduction formula jumping discontinuously right at the 80% boundary: a
// hair below 80% must return base, and a hair above must return base minus
// at most 1, not a large fraction of base.
func TestEffectiveMaxConcurrent_ContinuousAtThreshold(t *testing.T) {
	const base = 20

	just := New(Config{
		MaxConcurrent:    base,
		MemoryThrottling: true,
		MemoryLimitMB:    1000,
		memStatsFn:       func() uint64 { return uint64(800.01 * 1024 * 1024) }, // 80.001%
	}, nil, nil)

	got := just.effectiveMaxConcurrent()
	if got != base && got != base-1 {
		t.Fatalf("expected concurrency to stay near base just above the 80%% threshold, got %d (base %d)", got, base)
	}
}

// TestEffectiveMaxConcurrent_LinearBetweenThresholdAndLimit checks the
// reduction at the threshold's midpoint (90% utilization, halfway between
// 80% and 100%) lands halfway between base and the floor of 1.
func TestEffectiveMaxConcurrent_LinearBetweenThresholdAndLimit(t *testing.T) {
	const base = 21

	s := New(Config{
		MaxConcurrent:    base,
		MemoryThrottling: true,
		MemoryLimitMB:    100,
		memStatsFn:       func() uint64 { return 90 * 1024 * 1024 },
	}, nil, nil)

	want := base - int(float64(base-1)*0.5)
	if got := s.effectiveMaxConcurrent(); got != want {
		t.Fatalf("expected %d at the 90%% midpoint, got %d", want, got)
	}
}
