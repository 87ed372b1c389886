package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Lllllllleong/archivedownloadflow/internal/gcp"
	"github.com/Lllllllleong/archivedownloadflow/internal/models"
	"github.com/Lllllllleong/archivedownloadflow/internal/outbox"
	"github.com/Lllllllleong/archivedownloadflow/internal/registry"
	"golang.org/x/sync/errgroup"
)

type SweeperConfig struct {
	ProjectID      string
	CollectionName string
	OutboxBucket   string
	// CacheTimeout unstages objects that have not been accessed for this
	// long, even before their expiry passes.
	CacheTimeout time.Duration
	Policy       registry.ReregistrationPolicy
}

// Sweeper reconciles the outbox bucket with the registry: overdue staged
// records are marked expired and the physical bytes of expired or stale
// objects are removed. Records themselves are never deleted; the soft
// expired status is retained for audit and idempotency.
type Sweeper struct {
	registry registry.Store
	outbox   outbox.Store
	config   SweeperConfig
	now      func() time.Time
}

func NewSweeper(ctx context.Context) (*Sweeper, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	bucketName := gcp.GetEnv("OUTBOX_BUCKET", "")
	if bucketName == "" {
		return nil, fmt.Errorf("OUTBOX_BUCKET environment variable must be set")
	}
	cacheTimeoutDays, err := gcp.PositiveIntEnv("CACHE_TIMEOUT_DAYS", 7)
	if err != nil {
		return nil, err
	}
	policy, err := registry.ParsePolicy(gcp.GetEnv("REREGISTRATION_POLICY", string(registry.PolicyReject)))
	if err != nil {
		return nil, err
	}

	config := SweeperConfig{
		ProjectID:      projectID,
		CollectionName: gcp.GetEnv("FIRESTORE_COLLECTION", defaultCollectionName),
		OutboxBucket:   bucketName,
		CacheTimeout:   time.Duration(cacheTimeoutDays) * 24 * time.Hour,
		Policy:         policy,
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	storageClient, err := gcp.NewStorageClient(ctx)
	if err != nil {
		return nil, err
	}
	bucketStore, err := outbox.NewBucketStore(storageClient, config.OutboxBucket)
	if err != nil {
		return nil, err
	}

	s := NewSweeperWith(
		registry.NewFirestoreStore(firestoreClient, config.CollectionName, config.Policy),
		bucketStore,
		config,
	)
	slog.Info("Outbox sweeper initialized.", "bucket", config.OutboxBucket, "cacheTimeout", config.CacheTimeout.String())
	return s, nil
}

func NewSweeperWith(reg registry.Store, store outbox.Store, config SweeperConfig) *Sweeper {
	return &Sweeper{
		registry: reg,
		outbox:   store,
		config:   config,
		now:      time.Now,
	}
}

// Sweep walks the outbox bucket once and removes every object that has
// outlived its welcome. Returns the number of objects removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	objectIDs, err := s.outbox.ListObjectIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list outbox objects: %w", err)
	}
	slog.Info("Starting outbox sweep.", "objects", len(objectIDs))

	var removed atomic.Int64
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(10)

	for _, objectID := range objectIDs {
		eg.Go(func() error {
			gone, err := s.sweepObject(gctx, objectID)
			if err != nil {
				return fmt.Errorf("object %s: %w", objectID, err)
			}
			if gone {
				removed.Add(1)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return int(removed.Load()), err
	}

	slog.Info("Outbox sweep complete.", "removed", removed.Load())
	return int(removed.Load()), nil
}

func (s *Sweeper) sweepObject(ctx context.Context, objectID string) (bool, error) {
	logCtx := slog.With("objectId", objectID)
	now := s.now()

	rec, err := s.registry.Lookup(ctx, objectID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			// Bytes without a record: nothing this service staged. Left in
			// place for the operator, loudly.
			logCtx.Warn("Outbox object has no registry record, skipping.")
			return false, nil
		}
		return false, err
	}

	switch rec.Status {
	case models.StatusExpired, models.StatusDeleted:
		// Record already retired, the bytes just have not been removed yet.
	case models.StatusStaged:
		overdue := !now.Before(rec.ExpiresAt)
		stale := now.Sub(s.lastUse(rec)) >= s.config.CacheTimeout
		if !overdue && !stale {
			return false, nil
		}
		if _, err := s.registry.MarkExpired(ctx, objectID, now); err != nil {
			return false, fmt.Errorf("failed to expire record: %w", err)
		}
		logCtx.Info("Expired staged object.", "overdue", overdue, "stale", stale)
	default:
		// Registered records have no servable bytes to clean up; if the
		// bucket holds some anyway the staging pipeline has not confirmed
		// them yet, so leave them alone.
		return false, nil
	}

	if err := s.outbox.Delete(ctx, objectID); err != nil {
		return false, fmt.Errorf("failed to delete object bytes: %w", err)
	}
	logCtx.Info("Removed object bytes from outbox.")
	return true, nil
}

// lastUse is the most recent sign of life on a record, for the cache
// timeout check.
func (s *Sweeper) lastUse(rec *models.StagingRecord) time.Time {
	last := rec.StagedAt
	if rec.LastAccessAttemptAt.After(last) {
		last = rec.LastAccessAttemptAt
	}
	return last
}
