package replication

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/gitlab-org/pull-replication/internal/git"
	"gitlab.com/gitlab-org/pull-replication/internal/testhelper"
)

func TestStatus(t *testing.T) {
	require.Equal(t, "not-attempted", StatusNotAttempted.String())
	require.Equal(t, "succeeded", StatusSucceeded.String())
	require.Equal(t, "failed", StatusFailed.String())
	require.Equal(t, "unknown", Status(42).String())

	require.Equal(t, StatusSucceeded, StatusNotAttempted.merge(StatusSucceeded))
	require.Equal(t, StatusFailed, StatusSucceeded.merge(StatusFailed))
	require.Equal(t, StatusFailed, StatusFailed.merge(StatusSucceeded))
	require.Equal(t, StatusSucceeded, StatusSucceeded.merge(StatusNotAttempted))
}

func TestStatusOf(t *testing.T) {
	for _, tc := range []struct {
		outcome  git.RefUpdateOutcome
		err      error
		expected Status
	}{
		{outcome: git.RefUpdateCreated, expected: StatusSucceeded},
		{outcome: git.RefUpdateFastForward, expected: StatusSucceeded},
		{outcome: git.RefUpdateForced, expected: StatusSucceeded},
		{outcome: git.RefUpdateNoChange, expected: StatusSucceeded},
		{outcome: git.RefUpdateRejectedMissingObject, expected: StatusFailed},
		{outcome: git.RefUpdateLockFailure, expected: StatusFailed},
		{outcome: git.RefUpdateRejected, expected: StatusFailed},
		{outcome: git.RefUpdateCreated, err: context.Canceled, expected: StatusFailed},
	} {
		require.Equal(t, tc.expected, statusOf(tc.outcome, tc.err), "%s %v", tc.outcome, tc.err)
	}
}

func TestReplicationState_empty(t *testing.T) {
	state := NewReplicationState(0)

	select {
	case <-state.Done():
	default:
		t.Fatal("state without refs should be done")
	}
	require.Equal(t, StatusNotAttempted, state.Status())
	require.NotEmpty(t, state.ID())
}

func TestReplicationState_Complete(t *testing.T) {
	ctx, cancel := testhelper.Context()
	defer cancel()

	state := NewReplicationState(3)
	require.Equal(t, 3, state.Scheduled())

	state.Complete(RefResult{Ref: "refs/heads/a", Outcome: git.RefUpdateCreated, Status: StatusSucceeded})
	state.Complete(RefResult{Ref: "refs/heads/b", Outcome: git.RefUpdateLockFailure, Status: StatusFailed})
	require.Equal(t, 2, state.Completed())

	select {
	case <-state.Done():
		t.Fatal("state done before all refs completed")
	default:
	}

	state.Complete(RefResult{Ref: "refs/heads/c", Outcome: git.RefUpdateNoChange, Status: StatusSucceeded})
	require.NoError(t, state.Wait(ctx))
	require.Equal(t, StatusFailed, state.Status())

	// Late completions are ignored.
	state.Complete(RefResult{Ref: "refs/heads/d", Status: StatusSucceeded})
	require.Equal(t, 3, state.Completed())
	require.Len(t, state.Results(), 3)
}

func TestReplicationState_Wait_canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state := NewReplicationState(1)
	require.Equal(t, context.Canceled, state.Wait(ctx))

	// Completing after the waiter left is safe.
	state.Complete(RefResult{Status: StatusSucceeded})
	require.NoError(t, state.Wait(context.Background()))
}

func TestReplicationState_concurrentCompletions(t *testing.T) {
	ctx, cancel := testhelper.Context()
	defer cancel()

	const refs = 100
	state := NewReplicationState(refs)

	var wg sync.WaitGroup
	for i := 0; i < refs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state.Complete(RefResult{Status: StatusSucceeded})
		}()
	}

	require.NoError(t, state.Wait(ctx))
	wg.Wait()

	require.Equal(t, refs, state.Completed())
	require.Equal(t, StatusSucceeded, state.Status())
}

func TestReplicationState_uniqueIDs(t *testing.T) {
	require.NotEqual(t, NewReplicationState(1).ID(), NewReplicationState(1).ID())
}
