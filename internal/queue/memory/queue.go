// Package memory provides a queue implementation for local development.
package memory

import (
	"context"
	"fmt"

	"github.com/unishark/portalwatch/internal/watch"
)

// Queue is a bounded in-memory queue with two lanes. The manual lane is
// always drained before the background lane.
type Queue struct {
	manual     chan watch.QueueItem
	background chan watch.QueueItem
}

// NewQueue constructs a queue with the provided per-lane capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		manual:     make(chan watch.QueueItem, capacity),
		background: make(chan watch.QueueItem, capacity),
	}
}

// Enqueue pushes an item onto its lane or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, item watch.QueueItem) error {
	lane := q.background
	if watch.LaneFor(item.Trigger) == watch.LaneManual {
		lane = q.manual
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case lane <- item:
		return nil
	}
}

// Dequeue pops the next item, preferring the manual lane when both lanes
// have work. The preference is best effort once both selects are blocking.
func (q *Queue) Dequeue(ctx context.Context) (watch.QueueItem, error) {
	select {
	case item := <-q.manual:
		return item, nil
	default:
	}

	select {
	case <-ctx.Done():
		return watch.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item := <-q.manual:
		return item, nil
	case item := <-q.background:
		return item, nil
	}
}
