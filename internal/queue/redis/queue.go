// Package redis provides the shared work queue backed by Redis lists.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unishark/portalwatch/internal/watch"
)

const (
	manualKey     = "portalwatch:queue:manual"
	backgroundKey = "portalwatch:queue:background"
)

// Queue stores queue items as JSON in two Redis lists, one per lane.
// BRPOP's key ordering gives the manual lane strict priority.
type Queue struct {
	client *redis.Client
}

// NewQueue creates a Redis-backed queue.
func NewQueue(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// Enqueue pushes the item onto its lane's list.
func (q *Queue) Enqueue(ctx context.Context, item watch.QueueItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	key := backgroundKey
	if watch.LaneFor(item.Trigger) == watch.LaneManual {
		key = manualKey
	}
	if err := q.client.LPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("lpush queue item: %w", err)
	}
	return nil
}

// Dequeue blocks until an item is available on either lane. The manual
// list is checked first on every wakeup.
func (q *Queue) Dequeue(ctx context.Context) (watch.QueueItem, error) {
	for {
		res, err := q.client.BRPop(ctx, time.Second, manualKey, backgroundKey).Result()
		if err == redis.Nil {
			if ctx.Err() != nil {
				return watch.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
			}
			continue
		}
		if err != nil {
			return watch.QueueItem{}, fmt.Errorf("brpop queue: %w", err)
		}
		// res is [key, value]
		var item watch.QueueItem
		if err := json.Unmarshal([]byte(res[1]), &item); err != nil {
			return watch.QueueItem{}, fmt.Errorf("unmarshal queue item: %w", err)
		}
		return item, nil
	}
}
