package models

import "time"

// StagingStatus tracks where an object is in its outbox lifecycle.
// Transitions only ever move forward: REGISTERED -> STAGED -> EXPIRED.
type StagingStatus string

const (
	StatusRegistered StagingStatus = "REGISTERED"
	StatusStaged     StagingStatus = "STAGED"
	StatusExpired    StagingStatus = "EXPIRED"
	// StatusDeleted is terminal: the object was removed on upstream request.
	// The record is retained so duplicate deliveries stay no-ops.
	StatusDeleted StagingStatus = "DELETED"
)

// StagingRecord is the registry entry for one archival object. It is the
// single source of truth for staging intent; the outbox bucket remains the
// authority on whether bytes are physically present.
type StagingRecord struct {
	ObjectID            string        `firestore:"objectId,omitempty"`
	Status              StagingStatus `firestore:"status,omitempty"`
	DedupKey            string        `firestore:"dedupKey,omitempty"`
	SourceEventID       string        `firestore:"sourceEventId,omitempty"`
	Checksum            string        `firestore:"checksum,omitempty"`
	Size                int64         `firestore:"size,omitempty"`
	CreationDate        string        `firestore:"creationDate,omitempty"`
	RegisteredAt        time.Time     `firestore:"registeredAt,omitempty"`
	StagedAt            time.Time     `firestore:"stagedAt,omitempty"`
	ExpiresAt           time.Time     `firestore:"expiresAt,omitempty"`
	DeletedAt           time.Time     `firestore:"deletedAt,omitempty"`
	LastAccessAttemptAt time.Time     `firestore:"lastAccessAttemptAt,omitempty"`
}

// StagedAndValid reports whether the record claims servable bytes at the
// given instant. A passed expiry makes the object ineligible even if the
// bytes are still physically present.
func (r *StagingRecord) StagedAndValid(now time.Time) bool {
	return r.Status == StatusStaged && now.Before(r.ExpiresAt)
}
