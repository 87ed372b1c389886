// Package registry implements the outbox registry: the durable,
// per-object-id staging state machine backing access resolution. All
// read-modify-write operations are atomic per object id; operations on
// different object ids proceed independently.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/Lllllllleong/archivedownloadflow/internal/models"
)

var (
	// ErrNotFound means no staging record exists for the object id.
	ErrNotFound = errors.New("staging record not found")
	// ErrConflict means a registration collided with a still-valid staged
	// record under a different dedup lineage (reject policy).
	ErrConflict = errors.New("conflicting registration for staged object")
	// ErrInvalidState means the record exists but cannot accept the
	// requested mutation (e.g. staging data for an expired record).
	ErrInvalidState = errors.New("record state does not permit operation")
	// ErrInvalidTransition means the requested status change would skip or
	// reverse a lifecycle step.
	ErrInvalidTransition = errors.New("invalid staging status transition")
)

// ReregistrationPolicy decides what happens when a file-to-register event
// arrives for an object that is already staged and still within its
// validity window.
type ReregistrationPolicy string

const (
	// PolicyReject refuses the re-registration with ErrConflict.
	PolicyReject ReregistrationPolicy = "reject"
	// PolicyReset replaces the record with a fresh Registered lineage.
	PolicyReset ReregistrationPolicy = "reset"
)

// ParsePolicy validates a configured policy string.
func ParsePolicy(s string) (ReregistrationPolicy, error) {
	switch ReregistrationPolicy(s) {
	case PolicyReject, PolicyReset:
		return ReregistrationPolicy(s), nil
	}
	return "", errors.New("reregistration policy must be 'reject' or 'reset'")
}

// Registration carries the inbound metadata applied on upsert.
type Registration struct {
	DedupKey      string
	SourceEventID string
	Checksum      string
	Size          int64
	CreationDate  string
}

// Store is the outbox registry contract. Every mutation takes the current
// time as an explicit input so expiry decisions stay testable. All methods
// block on I/O and must be called without holding in-process locks.
type Store interface {
	// UpsertRegistered creates a Registered record if absent. A duplicate
	// delivery (same dedup key) is a no-op. Returns whether a new record
	// lineage was created.
	UpsertRegistered(ctx context.Context, objectID string, reg Registration, now time.Time) (created bool, err error)

	// MarkStaged transitions Registered -> Staged and sets the expiry to
	// now+ttl. Re-confirming identical staging data is a no-op (changed is
	// false). Returns ErrNotFound for unknown objects and ErrInvalidState
	// for expired records or conflicting staging data.
	MarkStaged(ctx context.Context, objectID, checksum string, size int64, ttl time.Duration, now time.Time) (changed bool, err error)

	// Lookup returns the current record, or ErrNotFound. The result is a
	// point-in-time snapshot and advisory with respect to physical bytes.
	Lookup(ctx context.Context, objectID string) (*models.StagingRecord, error)

	// TouchAccessAttempt records an access attempt without changing status.
	// Best effort: callers must not fail their request on its error.
	TouchAccessAttempt(ctx context.Context, objectID string, now time.Time) error

	// MarkExpired transitions Staged -> Expired. Idempotent on already
	// expired records. Returns ErrInvalidTransition for Registered records
	// (expiry may not skip the staged state).
	MarkExpired(ctx context.Context, objectID string, now time.Time) (changed bool, err error)

	// MarkDeleted retires a record on an upstream deletion request. Valid
	// from every state and idempotent; the record is retained with the
	// terminal status, never removed. Returns ErrNotFound for unknown
	// objects.
	MarkDeleted(ctx context.Context, objectID string, now time.Time) (changed bool, err error)

	// HealUnstaged corrects a record that claims Staged while the bucket
	// disagrees, moving it back to Registered. Guarded by the observed
	// stagedAt so it never clobbers a concurrent re-staging. Returns
	// whether the correction was applied.
	HealUnstaged(ctx context.Context, objectID string, stagedAt time.Time, now time.Time) (healed bool, err error)
}
