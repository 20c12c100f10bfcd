// Package dedup suppresses repeat notifications inside a trailing window.
package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/unishark/portalwatch/internal/watch"
)

// ContentHash produces a stable hash of arbitrary notification content.
// Map keys are sorted during canonicalization so the hash is independent
// of field order.
func ContentHash(h watch.Hasher, content any) (string, error) {
	canon, err := canonicalize(content)
	if err != nil {
		return "", fmt.Errorf("canonicalize content: %w", err)
	}
	data, err := json.Marshal(canon)
	if err != nil {
		return "", fmt.Errorf("marshal content: %w", err)
	}
	sum, err := h.Hash(data)
	if err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return sum, nil
}

// canonicalize round-trips content through JSON into a form with
// deterministic ordering. encoding/json already sorts map keys on output;
// the round trip normalizes structs, numbers and nested collections.
func canonicalize(content any) (any, error) {
	data, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	return sortValue(generic), nil
}

func sortValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(t))
		for _, k := range keys {
			out[k] = sortValue(t[k])
		}
		return out
	case []any:
		for i := range t {
			t[i] = sortValue(t[i])
		}
		return t
	default:
		return v
	}
}

// Deduplicator decides whether a notification may be sent.
type Deduplicator struct {
	store  watch.DedupStore
	hasher watch.Hasher
	clock  watch.Clock
	window time.Duration
	logger *zap.Logger
}

// New creates a Deduplicator with the given suppression window.
func New(store watch.DedupStore, hasher watch.Hasher, clock watch.Clock, window time.Duration, logger *zap.Logger) *Deduplicator {
	return &Deduplicator{store: store, hasher: hasher, clock: clock, window: window, logger: logger}
}

// ShouldSend reports whether a notification with this content may go out.
// A permitted send records itself immediately so concurrent attempts with
// the same key are closed out. Store failures fail open: a dropped real
// alert is worse than an occasional duplicate.
func (d *Deduplicator) ShouldSend(ctx context.Context, tenantID, notifType string, content any) bool {
	hash, err := ContentHash(d.hasher, content)
	if err != nil {
		d.logger.Warn("dedup hash failed, permitting send",
			zap.String("tenant_id", tenantID),
			zap.String("type", notifType),
			zap.Error(err))
		return true
	}

	seen, err := d.store.Seen(ctx, tenantID, notifType, hash, d.window)
	if err != nil {
		d.logger.Warn("dedup lookup failed, permitting send",
			zap.String("tenant_id", tenantID),
			zap.String("type", notifType),
			zap.Error(err))
		return true
	}
	if seen {
		d.logger.Debug("notification suppressed by dedup window",
			zap.String("tenant_id", tenantID),
			zap.String("type", notifType))
		return false
	}

	rec := watch.DedupRecord{
		TenantID: tenantID,
		Type:     notifType,
		Hash:     hash,
		SentAt:   d.clock.Now(),
	}
	if err := d.store.Record(ctx, rec, d.window); err != nil {
		d.logger.Warn("dedup record failed, permitting send",
			zap.String("tenant_id", tenantID),
			zap.String("type", notifType),
			zap.Error(err))
	}
	return true
}
