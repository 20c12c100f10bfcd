package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unishark/portalwatch/internal/hash/sha256"
	"github.com/unishark/portalwatch/internal/watch"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeDedupStore struct {
	records  map[string]time.Time
	seenErr  error
	writeErr error
}

func newFakeDedupStore() *fakeDedupStore {
	return &fakeDedupStore{records: map[string]time.Time{}}
}

func (s *fakeDedupStore) key(tenantID, typ, hash string) string {
	return tenantID + "|" + typ + "|" + hash
}

func (s *fakeDedupStore) Seen(_ context.Context, tenantID, typ, hash string, window time.Duration) (bool, error) {
	if s.seenErr != nil {
		return false, s.seenErr
	}
	sent, ok := s.records[s.key(tenantID, typ, hash)]
	if !ok {
		return false, nil
	}
	return time.Since(sent) <= window, nil
}

func (s *fakeDedupStore) Record(_ context.Context, rec watch.DedupRecord, _ time.Duration) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.records[s.key(rec.TenantID, rec.Type, rec.Hash)] = rec.SentAt
	return nil
}

func newDeduplicator(store watch.DedupStore) *Deduplicator {
	clock := fakeClock{now: time.Now().UTC()}
	return New(store, sha256.New(), clock, 5*time.Minute, zap.NewNop())
}

func TestShouldSendRecordsAndSuppresses(t *testing.T) {
	store := newFakeDedupStore()
	d := newDeduplicator(store)
	ctx := context.Background()

	content := map[string]any{"message": "login failed", "category": "credential_error"}

	require.True(t, d.ShouldSend(ctx, "t1", "error", content))
	require.False(t, d.ShouldSend(ctx, "t1", "error", content), "second send inside window must be suppressed")
}

func TestShouldSendDistinctKeys(t *testing.T) {
	store := newFakeDedupStore()
	d := newDeduplicator(store)
	ctx := context.Background()

	content := map[string]any{"message": "login failed"}

	require.True(t, d.ShouldSend(ctx, "t1", "error", content))
	require.True(t, d.ShouldSend(ctx, "t2", "error", content), "different tenant is a different key")
	require.True(t, d.ShouldSend(ctx, "t1", "suspension", content), "different type is a different key")
	require.True(t, d.ShouldSend(ctx, "t1", "error", map[string]any{"message": "other"}))
}

func TestShouldSendFailsOpenOnStoreError(t *testing.T) {
	store := newFakeDedupStore()
	store.seenErr = errors.New("store down")
	d := newDeduplicator(store)

	require.True(t, d.ShouldSend(context.Background(), "t1", "error", "content"))
}

func TestShouldSendFailsOpenOnRecordError(t *testing.T) {
	store := newFakeDedupStore()
	store.writeErr = errors.New("store down")
	d := newDeduplicator(store)

	require.True(t, d.ShouldSend(context.Background(), "t1", "error", "content"))
}

func TestContentHashIndependentOfFieldOrder(t *testing.T) {
	hasher := sha256.New()

	type payload struct {
		Zebra string `json:"zebra"`
		Alpha string `json:"alpha"`
	}

	h1, err := ContentHash(hasher, payload{Zebra: "z", Alpha: "a"})
	require.NoError(t, err)
	h2, err := ContentHash(hasher, map[string]any{"alpha": "a", "zebra": "z"})
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestContentHashStable(t *testing.T) {
	hasher := sha256.New()
	content := watch.Assignment{Course: "CS101", Name: "HW2"}

	h1, err := ContentHash(hasher, content)
	require.NoError(t, err)
	h2, err := ContentHash(hasher, content)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}
