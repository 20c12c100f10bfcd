// Package redis provides Redis-backed stores shared across instances.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unishark/portalwatch/internal/watch"
)

// DedupStore keeps dedup records as keys whose TTL equals the suppression
// window, so expiry does the pruning.
type DedupStore struct {
	client *redis.Client
}

// NewDedupStore creates a Redis-backed DedupStore.
func NewDedupStore(client *redis.Client) *DedupStore {
	return &DedupStore{client: client}
}

func dedupKey(tenantID, typ, hash string) string {
	return fmt.Sprintf("portalwatch:dedup:%s:%s:%s", tenantID, typ, hash)
}

// Seen reports whether the key is still live.
func (s *DedupStore) Seen(ctx context.Context, tenantID, typ, hash string, _ time.Duration) (bool, error) {
	n, err := s.client.Exists(ctx, dedupKey(tenantID, typ, hash)).Result()
	if err != nil {
		return false, fmt.Errorf("check dedup key: %w", err)
	}
	return n > 0, nil
}

// Record writes the key with the window as its TTL.
func (s *DedupStore) Record(ctx context.Context, rec watch.DedupRecord, window time.Duration) error {
	key := dedupKey(rec.TenantID, rec.Type, rec.Hash)
	if err := s.client.Set(ctx, key, rec.SentAt.Format(time.RFC3339), window).Err(); err != nil {
		return fmt.Errorf("set dedup key: %w", err)
	}
	return nil
}
