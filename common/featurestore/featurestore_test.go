package featurestore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartpulse/cartpulse-stack/common/models"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewFromClient(client, "features"), mr
}

func testRecord(tenant, entity string) *models.FeatureRecord {
	return &models.FeatureRecord{
		TenantID: tenant,
		EntityID: entity,
		Features: map[string]float64{
			"cart_adds_7d":          4,
			"cart_abandonment_rate": 0.5,
		},
		ComputedAt: time.Now().UTC(),
		TTLSeconds: 3600,
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	record := testRecord("acme", "visitor-1")
	require.NoError(t, store.Put(ctx, record))

	got, err := store.Get(ctx, "acme", "visitor-1")
	require.NoError(t, err)
	assert.Equal(t, record.Features, got.Features)
	assert.Equal(t, "acme", got.TenantID)
	assert.Equal(t, "visitor-1", got.EntityID)
}

func TestGetMissing(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "acme", "never-seen")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutOverwritesWholesale(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first := testRecord("acme", "visitor-1")
	first.Features["orders_90d"] = 2
	require.NoError(t, store.Put(ctx, first))

	// A later cycle writes a vector without orders_90d; the old value
	// must not survive the overwrite.
	second := testRecord("acme", "visitor-1")
	require.NoError(t, store.Put(ctx, second))

	got, err := store.Get(ctx, "acme", "visitor-1")
	require.NoError(t, err)
	assert.NotContains(t, got.Features, "orders_90d")
	assert.Len(t, got.Features, 2)
}

func TestVectorExpires(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	record := testRecord("acme", "visitor-1")
	record.TTLSeconds = 60
	require.NoError(t, store.Put(ctx, record))

	mr.FastForward(61 * time.Second)

	_, err := store.Get(ctx, "acme", "visitor-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutResetsTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	record := testRecord("acme", "visitor-1")
	record.TTLSeconds = 60
	require.NoError(t, store.Put(ctx, record))

	mr.FastForward(50 * time.Second)
	require.NoError(t, store.Put(ctx, record))
	mr.FastForward(50 * time.Second)

	// Still alive: the second write restarted the clock.
	_, err := store.Get(ctx, "acme", "visitor-1")
	require.NoError(t, err)

	ttl, err := store.TTL(ctx, "acme", "visitor-1")
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestPutRejectsMissingTTL(t *testing.T) {
	store, _ := newTestStore(t)

	record := testRecord("acme", "visitor-1")
	record.TTLSeconds = 0
	err := store.Put(context.Background(), record)
	assert.Error(t, err)
}

func TestTenantsAreIsolated(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, testRecord("acme", "visitor-1")))

	_, err := store.Get(ctx, "globex", "visitor-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
