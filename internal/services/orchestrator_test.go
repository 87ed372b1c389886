package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Lllllllleong/archivedownloadflow/internal/models"
	"github.com/Lllllllleong/archivedownloadflow/internal/outbox"
	"github.com/Lllllllleong/archivedownloadflow/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrchestrator(reg registry.Store, store outbox.Store, pub *capturePublisher) *Orchestrator {
	o := NewOrchestratorWith(reg, store, pub, nil, OrchestratorConfig{
		StagingTTL: time.Hour,
		Policy:     registry.PolicyReject,
	})
	o.now = func() time.Time { return testTime }
	return o
}

func fileToRegister(dedupKey string) models.FileToRegister {
	return models.FileToRegister{
		FileID:          "obj-1",
		DedupKey:        dedupKey,
		DecryptedSHA256: "abc123",
		DecryptedSize:   42,
		CreationDate:    "2025-05-30",
	}
}

func TestRegisterFileEmitsOncePerNewRecord(t *testing.T) {
	reg := registry.NewMemoryStore(registry.PolicyReject)
	pub := &capturePublisher{}
	o := newOrchestrator(reg, outbox.NewMemoryStore(), pub)

	// At-least-once delivery: the same event arrives three times.
	for i := 0; i < 3; i++ {
		require.NoError(t, o.RegisterFile(context.Background(), fileToRegister("d1"), "evt-1"))
	}

	registered, _, _ := pub.counts()
	assert.Equal(t, 1, registered)

	rec, err := reg.Lookup(context.Background(), "obj-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRegistered, rec.Status)
	assert.Equal(t, "evt-1", rec.SourceEventID)
}

func TestRegisterFileRejectsMissingID(t *testing.T) {
	o := newOrchestrator(registry.NewMemoryStore(registry.PolicyReject), outbox.NewMemoryStore(), &capturePublisher{})
	err := o.RegisterFile(context.Background(), models.FileToRegister{DedupKey: "d1"}, "evt-1")
	assert.Error(t, err)
}

func TestRegisterFileSurvivesPublishFailure(t *testing.T) {
	reg := registry.NewMemoryStore(registry.PolicyReject)
	pub := &capturePublisher{failWith: errors.New("broker down")}
	o := newOrchestrator(reg, outbox.NewMemoryStore(), pub)

	// The registry mutation is the source of truth; a lost notification is
	// reported but the handler succeeds.
	require.NoError(t, o.RegisterFile(context.Background(), fileToRegister("d1"), "evt-1"))

	rec, err := reg.Lookup(context.Background(), "obj-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRegistered, rec.Status)
}

func TestRegisterFileConflict(t *testing.T) {
	reg := registry.NewMemoryStore(registry.PolicyReject)
	pub := &capturePublisher{}
	o := newOrchestrator(reg, outbox.NewMemoryStore(), pub)

	require.NoError(t, o.RegisterFile(context.Background(), fileToRegister("d1"), "evt-1"))
	require.NoError(t, o.ConfirmStaged(context.Background(), models.StagingConfirmed{
		FileID: "obj-1", Checksum: "abc123", Size: 42,
	}))

	err := o.RegisterFile(context.Background(), fileToRegister("d2"), "evt-2")
	assert.ErrorIs(t, err, registry.ErrConflict)

	registered, _, _ := pub.counts()
	assert.Equal(t, 1, registered)
}

func TestConfirmStaged(t *testing.T) {
	reg := registry.NewMemoryStore(registry.PolicyReject)
	pub := &capturePublisher{}
	o := newOrchestrator(reg, outbox.NewMemoryStore(), pub)

	// Confirming an unregistered object is an invalid transition.
	err := o.ConfirmStaged(context.Background(), models.StagingConfirmed{FileID: "obj-1"})
	assert.ErrorIs(t, err, registry.ErrNotFound)

	require.NoError(t, o.RegisterFile(context.Background(), fileToRegister("d1"), "evt-1"))

	confirmation := models.StagingConfirmed{FileID: "obj-1", Checksum: "abc123", Size: 42}
	require.NoError(t, o.ConfirmStaged(context.Background(), confirmation))

	// Duplicate confirmation is a no-op.
	require.NoError(t, o.ConfirmStaged(context.Background(), confirmation))

	// Conflicting staging data is refused.
	err = o.ConfirmStaged(context.Background(), models.StagingConfirmed{FileID: "obj-1", Checksum: "zzz", Size: 7})
	assert.ErrorIs(t, err, registry.ErrInvalidState)

	rec, err := reg.Lookup(context.Background(), "obj-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusStaged, rec.Status)
	assert.Equal(t, testTime.Add(time.Hour), rec.ExpiresAt)
}

func TestDeleteFile(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemoryStore(registry.PolicyReject)
	store := outbox.NewMemoryStore()
	pub := &capturePublisher{}
	secrets := &fakeSecretDeleter{}

	o := NewOrchestratorWith(reg, store, pub, secrets, OrchestratorConfig{
		StagingTTL: time.Hour,
		Policy:     registry.PolicyReject,
	})
	o.now = func() time.Time { return testTime }

	require.NoError(t, o.RegisterFile(ctx, fileToRegister("d1"), "evt-1"))
	require.NoError(t, o.ConfirmStaged(ctx, models.StagingConfirmed{FileID: "obj-1", Checksum: "abc123", Size: 42}))
	store.Put("obj-1", 42)

	require.NoError(t, o.DeleteFile(ctx, "obj-1"))

	// Bytes and secret are gone; the record is retired, not removed.
	_, exists, err := store.Stat(ctx, "obj-1")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, []string{"obj-1"}, secrets.secrets)

	rec, err := reg.Lookup(ctx, "obj-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeleted, rec.Status)
	assert.Equal(t, testTime, rec.DeletedAt)
	assert.Equal(t, 1, pub.deletedCount())

	// At-least-once delivery: a redelivered request changes nothing and
	// does not announce a second deletion.
	require.NoError(t, o.DeleteFile(ctx, "obj-1"))
	assert.Equal(t, 1, pub.deletedCount())
}

func TestDeleteFileUnknownObject(t *testing.T) {
	o := newOrchestrator(registry.NewMemoryStore(registry.PolicyReject), outbox.NewMemoryStore(), &capturePublisher{})

	require.NoError(t, o.DeleteFile(context.Background(), "never-seen"))

	err := o.DeleteFile(context.Background(), "")
	assert.Error(t, err)
}

func TestDeleteFileKeyServiceFailure(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemoryStore(registry.PolicyReject)
	store := outbox.NewMemoryStore()
	pub := &capturePublisher{}
	secrets := &fakeSecretDeleter{err: errors.New("vault sealed")}

	o := NewOrchestratorWith(reg, store, pub, secrets, OrchestratorConfig{
		StagingTTL: time.Hour,
		Policy:     registry.PolicyReject,
	})
	o.now = func() time.Time { return testTime }

	require.NoError(t, o.RegisterFile(ctx, fileToRegister("d1"), "evt-1"))
	require.NoError(t, o.ConfirmStaged(ctx, models.StagingConfirmed{FileID: "obj-1", Checksum: "abc123", Size: 42}))
	store.Put("obj-1", 42)

	// The key service must be cleared before anything else is touched; the
	// event redelivers and the whole flow retries.
	require.Error(t, o.DeleteFile(ctx, "obj-1"))

	_, exists, err := store.Stat(ctx, "obj-1")
	require.NoError(t, err)
	assert.True(t, exists)

	rec, err := reg.Lookup(ctx, "obj-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusStaged, rec.Status)
	assert.Zero(t, pub.deletedCount())
}

// TestTypicalJourney walks one object through the whole lifecycle:
// registration, premature access, staging, download, expiry.
func TestTypicalJourney(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemoryStore(registry.PolicyReject)
	store := outbox.NewMemoryStore()
	pub := &capturePublisher{}

	clock := testTime
	o := NewOrchestratorWith(reg, store, pub, nil, OrchestratorConfig{StagingTTL: time.Hour, Policy: registry.PolicyReject})
	o.now = func() time.Time { return clock }
	r := NewResolverWith(reg, store, pub, nil, nil, ResolverConfig{
		RetryAccessAfter:         120 * time.Second,
		PresignedURLExpiresAfter: 30 * time.Second,
	})
	r.now = func() time.Time { return clock }

	// Register O1; the announcement goes out exactly once.
	require.NoError(t, o.RegisterFile(ctx, fileToRegister("d1"), "evt-1"))
	registered, _, _ := pub.counts()
	require.Equal(t, 1, registered)

	// Access before staging: retry instruction plus demand signal.
	res, err := r.ResolveAccess(ctx, "obj-1", "")
	require.NoError(t, err)
	assert.False(t, res.Ready)
	assert.Equal(t, 120*time.Second, res.RetryAfter)

	// The staging pipeline lands the bytes and confirms.
	store.Put("obj-1", 42)
	require.NoError(t, o.ConfirmStaged(ctx, models.StagingConfirmed{FileID: "obj-1", Checksum: "abc123", Size: 42}))

	res, err = r.ResolveAccess(ctx, "obj-1", "")
	require.NoError(t, err)
	assert.True(t, res.Ready)
	assert.NotEmpty(t, res.DownloadURL)

	_, unstaged, served := pub.counts()
	assert.Equal(t, 1, unstaged)
	assert.Equal(t, 1, served)

	// Past the TTL the same object is back to a retry instruction.
	clock = clock.Add(2 * time.Hour)
	res, err = r.ResolveAccess(ctx, "obj-1", "")
	require.NoError(t, err)
	assert.False(t, res.Ready)
	assert.Equal(t, 120*time.Second, res.RetryAfter)
}
