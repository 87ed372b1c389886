// Package outbox wraps the short-lived object-storage bucket holding staged,
// directly downloadable copies of archival objects. The bucket is the
// authority on physical presence; the registry only records intent.
package outbox

import (
	"context"
	"time"
)

// Store is the narrow bucket surface the service needs: presence/metadata
// checks, presigned download URLs, and the cleanup operations used by the
// sweeper.
type Store interface {
	// Stat reports whether the object is physically present, and its size
	// when it is. A false result with a nil error is a definitive absence;
	// an error means the bucket could not be consulted.
	Stat(ctx context.Context, objectID string) (size int64, exists bool, err error)

	// SignedURL issues a time-limited download URL for the object. Issuing
	// a URL has no side effects; reissuing is always safe.
	SignedURL(objectID string, expires time.Time) (string, error)

	// Delete removes the object. Deleting an absent object is a no-op.
	Delete(ctx context.Context, objectID string) error

	// ListObjectIDs returns the ids of all objects currently in the bucket.
	ListObjectIDs(ctx context.Context) ([]string, error)
}
