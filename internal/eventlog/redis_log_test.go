package eventlog

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/sisu/pkg/api"
)

// newTestRedisStore connects to the Redis named by SISU_REDIS_ADDR, or skips.
func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()

	addr := os.Getenv("SISU_REDIS_ADDR")
	if addr == "" {
		t.Skip("SISU_REDIS_ADDR not set; skipping Redis store tests")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return NewRedisStore(client, "sisu:test:")
}

func TestRedisStore_WorkflowAndActivity(t *testing.T) {
	ctx := context.Background()
	store := newTestRedisStore(t)
	wfID := uuid.NewString()

	require.NoError(t, store.CreateWorkflow(ctx, wfID, "order", mustEncode(t, "in")))
	require.ErrorIs(t, store.CreateWorkflow(ctx, wfID, "order", nil), api.ErrWorkflowExists)

	// The create claim carries the whole aggregate: type and input are
	// readable as soon as the workflow exists.
	wf, err := store.GetWorkflow(ctx, wfID)
	require.NoError(t, err)
	require.Equal(t, wfID, wf.ID)
	require.Equal(t, "order", wf.TypeName)
	in, err := Decode(wf.Input)
	require.NoError(t, err)
	require.Equal(t, "in", in)

	started, err := store.HasWorkflowStarted(ctx, wfID)
	require.NoError(t, err)
	require.False(t, started)

	_, err = store.WorkflowStarted(ctx, wfID, "order", nil)
	require.NoError(t, err)
	_, err = store.WorkflowStarted(ctx, wfID, "order", nil)
	require.ErrorIs(t, err, api.ErrConflict)

	_, err = store.ActivityStarted(ctx, wfID, "charge", 1, mustEncode(t, 100), nil)
	require.NoError(t, err)
	seq, err := store.ActivityCompleted(ctx, wfID, "charge", 1, mustEncode(t, 200))
	require.NoError(t, err)

	rec, err := store.GetActivity(ctx, wfID, "charge")
	require.NoError(t, err)
	require.True(t, rec.Completed())
	require.Equal(t, seq, rec.CompletedSeq)

	out, err := Decode(rec.Output)
	require.NoError(t, err)
	require.Equal(t, 200, out)

	events, err := store.ListEvents(ctx, wfID)
	require.NoError(t, err)
	require.Len(t, events, 4)
	for i := 1; i < len(events); i++ {
		require.Greater(t, events[i].SequenceNumber, events[i-1].SequenceNumber)
	}
}

func TestRedisStore_SignalsAndNotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestRedisStore(t)
	wfID := uuid.NewString()

	require.NoError(t, store.CreateWorkflow(ctx, wfID, "order", nil))

	_, err := store.GetSignal(ctx, wfID, "approve")
	require.True(t, errors.Is(err, ErrNotFound))

	seq, err := store.SignalReceived(ctx, wfID, "approve", mustEncode(t, "yes"))
	require.NoError(t, err)
	_, err = store.SignalReceived(ctx, wfID, "approve", nil)
	require.ErrorIs(t, err, api.ErrConflict)

	rec, err := store.GetSignal(ctx, wfID, "approve")
	require.NoError(t, err)
	require.True(t, rec.Received())
	require.Equal(t, seq, rec.ReceivedSeq)

	signals, err := store.ListSignalsSince(ctx, wfID, 0)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	require.Equal(t, "approve", signals[0].SubjectName)
}
