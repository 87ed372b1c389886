package services

import (
	"context"
	"testing"
	"time"

	"github.com/Lllllllleong/archivedownloadflow/internal/models"
	"github.com/Lllllllleong/archivedownloadflow/internal/outbox"
	"github.com/Lllllllleong/archivedownloadflow/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sweeperFixture struct {
	registry *registry.MemoryStore
	outbox   *outbox.MemoryStore
	sweeper  *Sweeper
	clock    time.Time
}

func newSweeperFixture(t *testing.T) *sweeperFixture {
	t.Helper()
	f := &sweeperFixture{
		registry: registry.NewMemoryStore(registry.PolicyReject),
		outbox:   outbox.NewMemoryStore(),
		clock:    testTime,
	}
	f.sweeper = NewSweeperWith(f.registry, f.outbox, SweeperConfig{
		CacheTimeout: 7 * 24 * time.Hour,
	})
	f.sweeper.now = func() time.Time { return f.clock }
	return f
}

func (f *sweeperFixture) addStaged(t *testing.T, objectID string, ttl time.Duration) {
	t.Helper()
	ctx := context.Background()
	created, err := f.registry.UpsertRegistered(ctx, objectID, registry.Registration{DedupKey: "d-" + objectID}, f.clock)
	require.NoError(t, err)
	require.True(t, created)
	changed, err := f.registry.MarkStaged(ctx, objectID, "abc123", 42, ttl, f.clock)
	require.NoError(t, err)
	require.True(t, changed)
	f.outbox.Put(objectID, 42)
}

func TestSweepRemovesOverdueObjects(t *testing.T) {
	f := newSweeperFixture(t)
	f.addStaged(t, "overdue", time.Hour)
	f.addStaged(t, "fresh", 30*24*time.Hour)

	f.clock = f.clock.Add(2 * time.Hour)

	removed, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	ids, err := f.outbox.ListObjectIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, ids)

	rec, err := f.registry.Lookup(context.Background(), "overdue")
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, rec.Status, "record is retained with soft status")
}

func TestSweepRemovesStaleObjects(t *testing.T) {
	f := newSweeperFixture(t)
	// Long TTL, but no access for longer than the cache timeout.
	f.addStaged(t, "stale", 30*24*time.Hour)

	f.clock = f.clock.Add(8 * 24 * time.Hour)

	removed, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	rec, err := f.registry.Lookup(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, rec.Status)
}

func TestSweepKeepsRecentlyAccessedObjects(t *testing.T) {
	f := newSweeperFixture(t)
	f.addStaged(t, "busy", 30*24*time.Hour)

	f.clock = f.clock.Add(6 * 24 * time.Hour)
	require.NoError(t, f.registry.TouchAccessAttempt(context.Background(), "busy", f.clock))

	f.clock = f.clock.Add(6 * 24 * time.Hour)

	removed, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)

	rec, err := f.registry.Lookup(context.Background(), "busy")
	require.NoError(t, err)
	assert.Equal(t, models.StatusStaged, rec.Status)
}

func TestSweepDeletesBytesOfAlreadyExpiredRecords(t *testing.T) {
	f := newSweeperFixture(t)
	f.addStaged(t, "obj-1", time.Hour)
	_, err := f.registry.MarkExpired(context.Background(), "obj-1", f.clock.Add(time.Minute))
	require.NoError(t, err)

	removed, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestSweepLeavesUnknownAndUnconfirmedObjects(t *testing.T) {
	f := newSweeperFixture(t)

	// Bytes with no registry record at all.
	f.outbox.Put("orphan", 1)

	// Bytes present but staging never confirmed.
	created, err := f.registry.UpsertRegistered(context.Background(), "pending", registry.Registration{DedupKey: "d"}, f.clock)
	require.NoError(t, err)
	require.True(t, created)
	f.outbox.Put("pending", 1)

	f.clock = f.clock.Add(30 * 24 * time.Hour)

	removed, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)

	ids, err := f.outbox.ListObjectIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"orphan", "pending"}, ids)
}
