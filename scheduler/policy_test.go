package scheduler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jbeck018/crewflow-go/scheduler"
)

func TestRetryPolicy_Validate(t *testing.T) {
	require.NoError(t, scheduler.RetryPolicy{MaxAttempts: 1}.Validate())
	require.NoError(t, scheduler.RetryPolicy{}.Validate())
	require.Error(t, scheduler.RetryPolicy{MaxAttempts: -1}.Validate())
	require.Error(t, scheduler.RetryPolicy{
		MaxAttempts: 1, BaseDelay: time.Second, MaxDelay: 100 * time.Millisecond,
	}.Validate())
}

func TestDefaultIsTransient(t *testing.T) {
	require.False(t, scheduler.DefaultIsTransient(nil))
	require.True(t, scheduler.DefaultIsTransient(context.DeadlineExceeded))
	require.False(t, scheduler.DefaultIsTransient(errors.New("boom")))

	wrapped := &scheduler.TimeoutError{Scope: "flow", FlowID: "f1", Limit: "1s"}
	require.True(t, scheduler.DefaultIsTransient(wrapped))
}
