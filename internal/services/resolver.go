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

var (
	// ErrObjectNotFound maps to the client-visible "no such object".
	ErrObjectNotFound = errors.New("no such object")
	// ErrUpstreamUnavailable is a retryable backend failure, distinct from
	// the normal not-ready outcome.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrEnvelopeNotFound means the key service has no secret for the object.
	ErrEnvelopeNotFound = errors.New("envelope not found")
	// ErrEnvelopeUnavailable means the key service could not be consulted.
	ErrEnvelopeUnavailable = errors.New("key service unavailable")
)

// EnvelopeFetcher obtains per-requester decryption material. Implemented by
// the ekss client.
type EnvelopeFetcher interface {
	GetEnvelope(ctx context.Context, secretID, receiverPublicKey string) ([]byte, error)
}

// StagingTrigger requests staging of an object from the archival pipeline,
// in addition to the unstaged-download event. Triggers must be idempotent
// and coalescing on the pipeline side.
type StagingTrigger interface {
	RequestStaging(ctx context.Context, objectID string) error
}

type ResolverConfig struct {
	ProjectID                string
	CollectionName           string
	OutboxBucket             string
	RetryAccessAfter         time.Duration
	PresignedURLExpiresAfter time.Duration
	Policy                   registry.ReregistrationPolicy
}

// Resolution is the outcome of an access request. Ready carries a presigned
// URL (and optionally an envelope); otherwise RetryAfter instructs the
// client to poll again. Not-ready is a normal outcome, never an error.
type Resolution struct {
	Ready       bool
	DownloadURL string
	Envelope    []byte
	Size        int64
	Checksum    string
	RetryAfter  time.Duration
}

// Resolver is the request-time decision function: given an object id and a
// requester credential it returns either immediate access or a retry hint.
// It only ever writes access bookkeeping and the self-healing correction;
// staging transitions belong to the orchestrator.
type Resolver struct {
	registry  registry.Store
	outbox    outbox.Store
	publisher events.Publisher
	envelopes EnvelopeFetcher
	staging   StagingTrigger
	config    ResolverConfig
	now       func() time.Time
}

// NewResolver wires the resolver from the environment: Firestore registry,
// outbox bucket, broker publisher, optional key-service client, and an
// optional staging workflow trigger.
func NewResolver(ctx context.Context) (*Resolver, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	bucketName := gcp.GetEnv("OUTBOX_BUCKET", "")
	if bucketName == "" {
		return nil, fmt.Errorf("OUTBOX_BUCKET environment variable must be set")
	}
	retryAfter, err := gcp.PositiveIntEnv("RETRY_ACCESS_AFTER", 120)
	if err != nil {
		return nil, err
	}
	urlTTL, err := gcp.PositiveIntEnv("PRESIGNED_URL_EXPIRES_AFTER", 0)
	if err != nil {
		return nil, fmt.Errorf("PRESIGNED_URL_EXPIRES_AFTER is required: %w", err)
	}
	policy, err := registry.ParsePolicy(gcp.GetEnv("REREGISTRATION_POLICY", string(registry.PolicyReject)))
	if err != nil {
		return nil, err
	}

	config := ResolverConfig{
		ProjectID:                projectID,
		CollectionName:           gcp.GetEnv("FIRESTORE_COLLECTION", defaultCollectionName),
		OutboxBucket:             bucketName,
		RetryAccessAfter:         time.Duration(retryAfter) * time.Second,
		PresignedURLExpiresAfter: time.Duration(urlTTL) * time.Second,
		Policy:                   policy,
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

	var envelopes EnvelopeFetcher
	if baseURL := gcp.GetEnv("EKSS_BASE_URL", ""); baseURL != "" {
		timeoutSeconds, err := gcp.PositiveIntEnv("EKSS_TIMEOUT_SECONDS", 60)
		if err != nil {
			return nil, err
		}
		client, err := ekss.NewClient(baseURL, time.Duration(timeoutSeconds)*time.Second)
		if err != nil {
			return nil, err
		}
		envelopes = client
	}

	staging, err := newWorkflowTriggerFromEnv(ctx, config.ProjectID, config.OutboxBucket)
	if err != nil {
		return nil, err
	}

	r := NewResolverWith(
		registry.NewFirestoreStore(firestoreClient, config.CollectionName, config.Policy),
		bucketStore,
		publisher,
		envelopes,
		staging,
		config,
	)
	slog.Info("Access resolver initialized.",
		"bucket", config.OutboxBucket,
		"retryAccessAfter", config.RetryAccessAfter.String(),
		"presignedUrlExpiresAfter", config.PresignedURLExpiresAfter.String(),
	)
	return r, nil
}

// NewResolverWith builds a resolver from explicit dependencies. envelopes
// and staging may be nil to disable envelope fetching and direct staging
// triggers.
func NewResolverWith(reg registry.Store, store outbox.Store, publisher events.Publisher, envelopes EnvelopeFetcher, staging StagingTrigger, config ResolverConfig) *Resolver {
	return &Resolver{
		registry:  reg,
		outbox:    store,
		publisher: publisher,
		envelopes: envelopes,
		staging:   staging,
		config:    config,
		now:       time.Now,
	}
}

// ResolveAccess decides staged-vs-unstaged for one access request. Each call
// is independent: re-resolving an unstaged object repeats the not-ready
// outcome, re-resolving a staged one issues a fresh URL.
func (r *Resolver) ResolveAccess(ctx context.Context, objectID, receiverPublicKey string) (*Resolution, error) {
	logCtx := slog.With("objectId", objectID)
	now := r.now()

	rec, err := r.registry.Lookup(ctx, objectID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, fmt.Errorf("object %s: %w", objectID, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("registry lookup for %s failed: %w: %v", objectID, ErrUpstreamUnavailable, err)
	}

	// A deleted object is gone from the client's point of view; the record
	// only survives to absorb duplicate event deliveries.
	if rec.Status == models.StatusDeleted {
		return nil, fmt.Errorf("object %s: %w", objectID, ErrObjectNotFound)
	}

	// Lazy expiry: a passed expires_at makes the object ineligible even if
	// the bytes are still physically present.
	if rec.Status == models.StatusStaged && !now.Before(rec.ExpiresAt) {
		if _, err := r.registry.MarkExpired(ctx, objectID, now); err != nil {
			logCtx.Warn("Failed to lazily expire overdue record.", "error", err)
		} else {
			logCtx.Info("Staged object passed its expiry, treating as unstaged.", "expiresAt", rec.ExpiresAt)
		}
		return r.notReady(ctx, logCtx, objectID, now)
	}

	if !rec.StagedAndValid(now) {
		return r.notReady(ctx, logCtx, objectID, now)
	}

	// The record claims staged bytes; verify against the bucket, which is
	// the authority on physical presence.
	size, exists, err := r.outbox.Stat(ctx, objectID)
	if err != nil {
		return nil, fmt.Errorf("outbox presence check for %s failed: %w: %v", objectID, ErrUpstreamUnavailable, err)
	}
	if !exists {
		logCtx.Warn("Registry says staged but outbox has no bytes, self-healing.", "stagedAt", rec.StagedAt)
		healed, err := r.registry.HealUnstaged(ctx, objectID, rec.StagedAt, now)
		if err != nil {
			logCtx.Error("Failed to heal inconsistent record", "error", err)
		} else if healed {
			logCtx.Info("Record corrected back to registered.")
		}
		return r.notReady(ctx, logCtx, objectID, now)
	}

	url, err := r.outbox.SignedURL(objectID, now.Add(r.config.PresignedURLExpiresAfter))
	if err != nil {
		return nil, fmt.Errorf("presigned URL for %s failed: %w: %v", objectID, ErrUpstreamUnavailable, err)
	}

	// Envelope fetch happens strictly after the state decision so a key
	// service timeout cannot leave the registry half-mutated.
	var envelope []byte
	if receiverPublicKey != "" && r.envelopes != nil {
		envelope, err = r.envelopes.GetEnvelope(ctx, objectID, receiverPublicKey)
		if err != nil {
			if errors.Is(err, ekss.ErrSecretNotFound) {
				return nil, fmt.Errorf("object %s: %w", objectID, ErrEnvelopeNotFound)
			}
			return nil, fmt.Errorf("envelope for %s: %w: %v", objectID, ErrEnvelopeUnavailable, err)
		}
	}

	if err := r.registry.TouchAccessAttempt(ctx, objectID, now); err != nil {
		logCtx.Warn("Failed to record access attempt.", "error", err)
	}
	if err := r.publisher.DownloadServed(ctx, objectID, now); err != nil {
		logCtx.Error("Failed to publish download-served event after retries.", "error", err)
	}

	logCtx.Info("Serving staged object.", "size", size)
	return &Resolution{
		Ready:       true,
		DownloadURL: url,
		Envelope:    envelope,
		Size:        size,
		Checksum:    rec.Checksum,
	}, nil
}

// notReady emits the demand signal and returns the retry instruction. The
// repetition on every unstaged attempt is deliberate: the event signals
// demand, not a state change.
func (r *Resolver) notReady(ctx context.Context, logCtx *slog.Logger, objectID string, now time.Time) (*Resolution, error) {
	if err := r.publisher.UnstagedDownloadRequested(ctx, objectID, now); err != nil {
		logCtx.Error("Failed to publish unstaged-download event after retries.", "error", err)
	}
	if r.staging != nil {
		if err := r.staging.RequestStaging(ctx, objectID); err != nil {
			logCtx.Error("Failed to trigger staging workflow.", "error", err)
		}
	}
	if err := r.registry.TouchAccessAttempt(ctx, objectID, now); err != nil {
		logCtx.Warn("Failed to record access attempt.", "error", err)
	}
	logCtx.Info("Object not staged yet, instructing retry.", "retryAfter", r.config.RetryAccessAfter.String())
	return &Resolution{Ready: false, RetryAfter: r.config.RetryAccessAfter}, nil
}
