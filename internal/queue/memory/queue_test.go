package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unishark/portalwatch/internal/watch"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, watch.QueueItem{JobID: "job-1", Trigger: watch.TriggerBackground}))

	item, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "job-1", item.JobID)
}

func TestQueueManualLaneDrainsFirst(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, watch.QueueItem{JobID: "bg-1", Trigger: watch.TriggerBackground}))
	require.NoError(t, q.Enqueue(ctx, watch.QueueItem{JobID: "bg-2", Trigger: watch.TriggerBackground}))
	require.NoError(t, q.Enqueue(ctx, watch.QueueItem{JobID: "manual-1", Trigger: watch.TriggerManual}))

	item, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "manual-1", item.JobID, "manual lane jumps ahead of queued background work")

	item, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "bg-1", item.JobID)
}

func TestQueueDequeueRespectsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueEnqueueRespectsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, watch.QueueItem{JobID: "fills-lane", Trigger: watch.TriggerManual}))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	err := q.Enqueue(canceled, watch.QueueItem{JobID: "blocked", Trigger: watch.TriggerManual})
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
}
