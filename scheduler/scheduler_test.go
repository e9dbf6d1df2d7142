package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jbeck018/crewflow-go/scheduler"
)

func noopRunnable(result any) scheduler.Runnable {
	return func(context.Context, map[string]any) (any, error) { return result, nil }
}

// TestScheduler_RetriesUpToCount exercises S4: a flow failing on its first
// two attempts and succeeding on the third, under retryCount=2, must be
// invoked exactly three times and end successful.
func TestScheduler_RetriesUpToCount(t *testing.T) {
	var calls int32
	run := func(context.Context, map[string]any) (any, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, errors.New("transient boom")
		}
		return "ok", nil
	}

	sched := scheduler.New(scheduler.Config{
		Retry: scheduler.RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			IsTransient: func(error) bool { return true },
		},
	}, nil, nil)
	require.NoError(t, sched.RegisterFlow("F", run, scheduler.RegisterOptions{}))

	result, err := sched.Execute(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, result.Successful)
	require.Equal(t, "ok", result.Results["F"])
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

// TestScheduler_RetryBoundRespectsInvariant4 checks that a permanently
// failing flow is invoked no more than retryCount+1 times.
func TestScheduler_RetryBoundRespectsInvariant4(t *testing.T) {
	var calls int32
	run := func(context.Context, map[string]any) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("permanent boom")
	}

	sched := scheduler.New(scheduler.Config{
		Retry: scheduler.RetryPolicy{
			MaxAttempts: 4,
			BaseDelay:   time.Millisecond,
			IsTransient: func(error) bool { return true },
		},
	}, nil, nil)
	require.NoError(t, sched.RegisterFlow("F", run, scheduler.RegisterOptions{}))

	result, err := sched.Execute(context.Background(), nil)
	require.Error(t, err)
	require.False(t, result.Successful)
	require.Contains(t, result.Failed, "F")
	require.EqualValues(t, 4, atomic.LoadInt32(&calls))
}

// TestScheduler_FailFastCascade exercises S5: A -> B, A -> C, B -> D, B
// fails with no retries under failFast. D must never start.
func TestScheduler_FailFastCascade(t *testing.T) {
	var dStarted int32

	sched := scheduler.New(scheduler.Config{FailFast: true}, nil, nil)
	require.NoError(t, sched.RegisterFlow("A", noopRunnable("a"), scheduler.RegisterOptions{}))
	require.NoError(t, sched.RegisterFlow("B", func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("boom")
	}, scheduler.RegisterOptions{DependsOn: []string{"A"}}))
	require.NoError(t, sched.RegisterFlow("C", noopRunnable("c"), scheduler.RegisterOptions{DependsOn: []string{"A"}}))
	require.NoError(t, sched.RegisterFlow("D", func(context.Context, map[string]any) (any, error) {
		atomic.AddInt32(&dStarted, 1)
		return "d", nil
	}, scheduler.RegisterOptions{DependsOn: []string{"B"}}))

	result, err := sched.Execute(context.Background(), nil)
	require.Error(t, err)
	require.False(t, result.Successful)
	require.Contains(t, result.Completed, "A")
	require.Contains(t, result.Failed, "B")
	require.Contains(t, result.Failed, "D", "D cascades to failed since its only dependency B failed under failFast")
	require.Zero(t, atomic.LoadInt32(&dStarted), "D must never be started once its dependency failed under failFast")
}

// TestScheduler_FailFastCancelsActivelyRunningSibling exercises the case
// where the sibling being cancelled hasn't failed yet — it's still running
// when B fails. Once cancelled its context is Done, Run observes
// ctx.Err() == context.Canceled, and that must surface as StatusCancelled
// with a CancellationError, not fall through the generic error path into
// StatusFailed the way a plain context.Canceled would.
func TestScheduler_FailFastCancelsActivelyRunningSibling(t *testing.T) {
	cStarted := make(chan struct{})

	sched := scheduler.New(scheduler.Config{FailFast: true}, nil, nil)
	require.NoError(t, sched.RegisterFlow("A", noopRunnable("a"), scheduler.RegisterOptions{}))
	require.NoError(t, sched.RegisterFlow("B", func(context.Context, map[string]any) (any, error) {
		<-cStarted // make sure C is actually running before B fails
		return nil, errors.New("boom")
	}, scheduler.RegisterOptions{DependsOn: []string{"A"}}))
	require.NoError(t, sched.RegisterFlow("C", func(ctx context.Context, _ map[string]any) (any, error) {
		close(cStarted)
		<-ctx.Done()
		return nil, ctx.Err()
	}, scheduler.RegisterOptions{DependsOn: []string{"A"}}))

	result, err := sched.Execute(context.Background(), nil)
	require.Error(t, err)
	require.False(t, result.Successful)
	require.Contains(t, result.Failed, "B")
	require.Contains(t, result.Cancelled, "C", "C was actively running and must be reported cancelled, not failed")
	require.NotContains(t, result.Failed, "C")

	var cancelErr *scheduler.CancellationError
	require.ErrorAs(t, result.Errors["C"], &cancelErr)
	require.Equal(t, "C", cancelErr.FlowID)
}

// TestScheduler_CycleRejectedAtRegistration exercises S6: registering B
// depending on A after A already depends on B must fail with
// FlowValidationError at registration time, before any Execute call.
func TestScheduler_CycleRejectedAtRegistration(t *testing.T) {
	sched := scheduler.New(scheduler.Config{}, nil, nil)
	require.NoError(t, sched.RegisterFlow("A", noopRunnable(nil), scheduler.RegisterOptions{DependsOn: []string{"B"}}))

	err := sched.RegisterFlow("B", noopRunnable(nil), scheduler.RegisterOptions{DependsOn: []string{"A"}})
	require.Error(t, err)

	var verr *scheduler.FlowValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "CYCLE", verr.Code)
}

// TestScheduler_DeadlockDetectedWhenDependencyPermanentlyFails covers
// Invariant/step 7: a pending node whose only dependency failed, with
// failFast off, can never become ready and the run must surface a
// DeadlockError rather than hang.
func TestScheduler_DeadlockDetectedWhenDependencyPermanentlyFails(t *testing.T) {
	sched := scheduler.New(scheduler.Config{}, nil, nil)
	require.NoError(t, sched.RegisterFlow("A", func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("boom")
	}, scheduler.RegisterOptions{}))
	require.NoError(t, sched.RegisterFlow("B", noopRunnable("b"), scheduler.RegisterOptions{DependsOn: []string{"A"}}))

	result, err := sched.Execute(context.Background(), nil)
	require.Error(t, err)
	require.False(t, result.Successful)

	var derr *scheduler.DeadlockError
	require.ErrorAs(t, err, &derr)
	require.Contains(t, derr.Pending, "B")
}

// TestScheduler_ConcurrencyCapNeverExceeded covers Invariant 2.
func TestScheduler_ConcurrencyCapNeverExceeded(t *testing.T) {
	var running, maxObserved int32
	mkRun := func(id string) scheduler.Runnable {
		return func(context.Context, map[string]any) (any, error) {
			n := atomic.AddInt32(&running, 1)
			for {
				cur := atomic.LoadInt32(&maxObserved)
				if n <= cur || atomic.CompareAndSwapInt32(&maxObserved, cur, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return id, nil
		}
	}

	sched := scheduler.New(scheduler.Config{MaxConcurrent: 2}, nil, nil)
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("flow-%d", i)
		require.NoError(t, sched.RegisterFlow(id, mkRun(id), scheduler.RegisterOptions{}))
	}

	result, err := sched.Execute(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, result.Successful)
	require.LessOrEqual(t, int(atomic.LoadInt32(&maxObserved)), 2)
}

// TestScheduler_CriticalPathIdentifiesLongestChain exercises the
// forward/backward CPM pass: A feeds both B and C, B feeds D. The A-B-D
// chain takes strictly longer than A-C, so only A, B, D should be on the
// critical path.
func TestScheduler_CriticalPathIdentifiesLongestChain(t *testing.T) {
	sleepRun := func(d time.Duration, result any) scheduler.Runnable {
		return func(context.Context, map[string]any) (any, error) {
			time.Sleep(d)
			return result, nil
		}
	}

	sched := scheduler.New(scheduler.Config{MaxConcurrent: 4}, nil, nil)
	require.NoError(t, sched.RegisterFlow("A", sleepRun(20*time.Millisecond, "a"), scheduler.RegisterOptions{}))
	require.NoError(t, sched.RegisterFlow("B", sleepRun(5*time.Millisecond, "b"), scheduler.RegisterOptions{DependsOn: []string{"A"}}))
	require.NoError(t, sched.RegisterFlow("C", sleepRun(5*time.Millisecond, "c"), scheduler.RegisterOptions{DependsOn: []string{"A"}}))
	require.NoError(t, sched.RegisterFlow("D", sleepRun(5*time.Millisecond, "d"), scheduler.RegisterOptions{DependsOn: []string{"B"}}))

	result, err := sched.Execute(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, result.Successful)
	require.Contains(t, result.CriticalPath, "A")
	require.Contains(t, result.CriticalPath, "B")
	require.Contains(t, result.CriticalPath, "D")
	require.NotContains(t, result.CriticalPath, "C")
}

// TestScheduler_CheckpointRestorePreservesCompletedAndFailed exercises
// Invariant 6: a node that was running at checkpoint time resumes pending,
// while completed/failed nodes keep their recorded result/error.
func TestScheduler_CheckpointRestorePreservesCompletedAndFailed(t *testing.T) {
	sched := scheduler.New(scheduler.Config{}, nil, nil)
	require.NoError(t, sched.RegisterFlow("A", noopRunnable("a-result"), scheduler.RegisterOptions{}))
	require.NoError(t, sched.RegisterFlow("B", noopRunnable("b-result"), scheduler.RegisterOptions{}))
	require.NoError(t, sched.RegisterFlow("C", noopRunnable("c-result"), scheduler.RegisterOptions{}))

	cp := scheduler.Checkpoint{
		RunID:  "run-1",
		StepID: 3,
		Nodes: []scheduler.NodeSnapshot{
			{ID: "A", Status: scheduler.StatusSuccessful, Result: "a-result"},
			{ID: "B", Status: scheduler.StatusFailed, ErrMsg: "boom"},
			{ID: "C", Status: scheduler.StatusRunning},
		},
	}
	require.NoError(t, sched.RestoreFromCheckpoint(cp))

	snapA, ok := sched.NodeSnapshotOf("A")
	require.True(t, ok)
	require.Equal(t, scheduler.StatusSuccessful, snapA.Status)
	require.Equal(t, "a-result", snapA.Result)

	snapB, ok := sched.NodeSnapshotOf("B")
	require.True(t, ok)
	require.Equal(t, scheduler.StatusFailed, snapB.Status)
	require.Equal(t, "boom", snapB.ErrMsg)

	snapC, ok := sched.NodeSnapshotOf("C")
	require.True(t, ok)
	require.Equal(t, scheduler.StatusPending, snapC.Status, "a node running at checkpoint time resumes as pending")
}

// TestScheduler_EdgeConditionSkipsSuccessor covers the skip branch of step
// 6: a false edge condition marks the successor skipped, not failed, and
// never runs it.
func TestScheduler_EdgeConditionSkipsSuccessor(t *testing.T) {
	var bStarted int32
	sched := scheduler.New(scheduler.Config{}, nil, nil)
	require.NoError(t, sched.RegisterFlow("A", noopRunnable(map[string]any{"ok": false}), scheduler.RegisterOptions{}))
	require.NoError(t, sched.RegisterFlow("B", func(context.Context, map[string]any) (any, error) {
		atomic.AddInt32(&bStarted, 1)
		return "b", nil
	}, scheduler.RegisterOptions{}))
	require.NoError(t, sched.AddDependency("A", "B", func(res any) bool {
		m, _ := res.(map[string]any)
		ok, _ := m["ok"].(bool)
		return ok
	}, nil))

	result, err := sched.Execute(context.Background(), nil)
	require.NoError(t, err)
	require.Contains(t, result.Skipped, "B")
	require.Zero(t, atomic.LoadInt32(&bStarted))
}
