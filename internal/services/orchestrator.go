package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/archivedownloadflow/internal/ekss"
	"github.com/Lllllllleong/archivedownloadflow/internal/events"
	"github.com/Lllllllleong/archivedownloadflow/internal/gcp"
	"github.com/Lllllllleong/archivedownloadflow/internal/models"
	"github.com/Lllllllleong/archivedownloadflow/internal/outbox"
	"github.com/Lllllllleong/archivedownloadflow/internal/registry"
)

type OrchestratorConfig struct {
	ProjectID      string
	CollectionName string
	OutboxBucket   string
	StagingTTL     time.Duration
	Policy         registry.ReregistrationPolicy
}

// SecretDeleter drops the decryption secret of a deleted object from the
// key service. Implemented by the ekss client.
type SecretDeleter interface {
	DeleteSecret(ctx context.Context, secretID string) error
}

// Orchestrator applies inbound file events to the registry: registrations
// from upstream metadata services, staging confirmations from the staging
// pipeline, and deletion requests. It owns every status transition; the
// access resolver never advances staging state.
type Orchestrator struct {
	registry  registry.Store
	outbox    outbox.Store
	publisher events.Publisher
	secrets   SecretDeleter
	config    OrchestratorConfig
	now       func() time.Time
}

// NewOrchestrator wires the orchestrator from the environment, creating the
// Firestore registry, the outbox bucket store, the broker publisher, and the
// optional key-service client used for deletion requests.
func NewOrchestrator(ctx context.Context) (*Orchestrator, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	bucketName := gcp.GetEnv("OUTBOX_BUCKET", "")
	if bucketName == "" {
		return nil, fmt.Errorf("OUTBOX_BUCKET environment variable must be set")
	}
	ttlSeconds, err := gcp.PositiveIntEnv("STAGING_TTL_SECONDS", 24*3600)
	if err != nil {
		return nil, err
	}
	policy, err := registry.ParsePolicy(gcp.GetEnv("REREGISTRATION_POLICY", string(registry.PolicyReject)))
	if err != nil {
		return nil, err
	}

	config := OrchestratorConfig{
		ProjectID:      projectID,
		CollectionName: gcp.GetEnv("FIRESTORE_COLLECTION", defaultCollectionName),
		OutboxBucket:   bucketName,
		StagingTTL:     time.Duration(ttlSeconds) * time.Second,
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
	publisher, err := events.NewCloudEventsPublisher(eventsConfigFromEnv())
	if err != nil {
		return nil, fmt.Errorf("failed to create event publisher: %w", err)
	}

	var secrets SecretDeleter
	if baseURL := gcp.GetEnv("EKSS_BASE_URL", ""); baseURL != "" {
		timeoutSeconds, err := gcp.PositiveIntEnv("EKSS_TIMEOUT_SECONDS", 60)
		if err != nil {
			return nil, err
		}
		client, err := ekss.NewClient(baseURL, time.Duration(timeoutSeconds)*time.Second)
		if err != nil {
			return nil, err
		}
		secrets = client
	}

	o := NewOrchestratorWith(
		registry.NewFirestoreStore(firestoreClient, config.CollectionName, config.Policy),
		bucketStore,
		publisher,
		secrets,
		config,
	)
	slog.Info("Orchestrator initialized.", "collection", config.CollectionName, "policy", config.Policy)
	return o, nil
}

// NewOrchestratorWith builds an orchestrator from explicit dependencies.
// secrets may be nil when no key service is configured.
func NewOrchestratorWith(reg registry.Store, store outbox.Store, publisher events.Publisher, secrets SecretDeleter, config OrchestratorConfig) *Orchestrator {
	return &Orchestrator{
		registry:  reg,
		outbox:    store,
		publisher: publisher,
		secrets:   secrets,
		config:    config,
		now:       time.Now,
	}
}

// RegisterFile handles a file-to-register event. Duplicate deliveries (same
// dedup key) are no-ops; the file-registered event is emitted exactly once
// per new record lineage.
func (o *Orchestrator) RegisterFile(ctx context.Context, file models.FileToRegister, sourceEventID string) error {
	logCtx := slog.With("objectId", file.FileID, "dedupKey", file.DedupKey)

	if file.FileID == "" {
		return fmt.Errorf("file registration is missing its file id")
	}

	created, err := o.registry.UpsertRegistered(ctx, file.FileID, registry.Registration{
		DedupKey:      file.DedupKey,
		SourceEventID: sourceEventID,
		Checksum:      file.DecryptedSHA256,
		Size:          file.DecryptedSize,
		CreationDate:  file.CreationDate,
	}, o.now())
	if err != nil {
		if errors.Is(err, registry.ErrConflict) {
			logCtx.Error("Registration conflicts with a still-valid staged object.", "error", err)
			return err
		}
		logCtx.Error("Failed to upsert staging record", "error", err)
		return err
	}

	if !created {
		logCtx.Info("Duplicate registration, nothing to do.")
		return nil
	}

	logCtx.Info("Registered new staging record.")
	if err := o.publisher.FileRegistered(ctx, file.FileID); err != nil {
		// The record is the source of truth; a lost notification is
		// reported, not rolled back.
		logCtx.Error("Failed to publish file-registered event after retries.", "error", err)
	}
	return nil
}

// ConfirmStaged handles the staging pipeline's confirmation that an object's
// bytes landed in the outbox. Re-confirmation with identical data is a
// no-op; any other invalid transition is surfaced and logged, never applied.
func (o *Orchestrator) ConfirmStaged(ctx context.Context, confirmation models.StagingConfirmed) error {
	logCtx := slog.With("objectId", confirmation.FileID)

	changed, err := o.registry.MarkStaged(
		ctx,
		confirmation.FileID,
		confirmation.Checksum,
		confirmation.Size,
		o.config.StagingTTL,
		o.now(),
	)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrNotFound):
			logCtx.Error("Staging confirmed for an unregistered object.", "error", err)
		case errors.Is(err, registry.ErrInvalidState):
			logCtx.Error("Staging confirmation rejected by record state.", "error", err)
		default:
			logCtx.Error("Failed to mark object staged", "error", err)
		}
		return err
	}

	if !changed {
		logCtx.Info("Duplicate staging confirmation, nothing to do.")
		return nil
	}
	logCtx.Info("Object staged in outbox.", "ttl", o.config.StagingTTL.String())
	return nil
}

// DeleteFile handles an upstream deletion request: drop the file secret from
// the key service, remove any staged bytes from the outbox, and retire the
// record. The record is kept with the terminal status rather than removed,
// so a redelivered request is a no-op. The file-deleted confirmation is
// emitted once per retirement.
func (o *Orchestrator) DeleteFile(ctx context.Context, objectID string) error {
	logCtx := slog.With("objectId", objectID)

	if objectID == "" {
		return fmt.Errorf("deletion request is missing its file id")
	}

	if _, err := o.registry.Lookup(ctx, objectID); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			// Never registered, or a replay from before this service kept
			// deletion records. Either way there is nothing to remove.
			logCtx.Info("Deletion requested for unknown object, nothing to do.")
			return nil
		}
		return fmt.Errorf("lookup before deletion of %s failed: %w", objectID, err)
	}

	if o.secrets != nil {
		if err := o.secrets.DeleteSecret(ctx, objectID); err != nil {
			logCtx.Error("Failed to delete file secret from key service", "error", err)
			return err
		}
	}

	if err := o.outbox.Delete(ctx, objectID); err != nil {
		logCtx.Error("Failed to delete object bytes from outbox", "error", err)
		return err
	}

	changed, err := o.registry.MarkDeleted(ctx, objectID, o.now())
	if err != nil {
		logCtx.Error("Failed to retire staging record", "error", err)
		return err
	}
	if !changed {
		logCtx.Info("Duplicate deletion request, nothing to do.")
		return nil
	}

	logCtx.Info("Object deleted on upstream request.")
	if err := o.publisher.FileDeleted(ctx, objectID); err != nil {
		logCtx.Error("Failed to publish file-deleted event after retries.", "error", err)
	}
	return nil
}
