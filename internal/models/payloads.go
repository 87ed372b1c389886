package models

import "time"

// These structs define the JSON payloads carried by the CloudEvents this
// service consumes and publishes, plus the HTTP access responses.

// FileToRegister is the inbound payload announcing a new archival file that
// shall be made available for download.
type FileToRegister struct {
	FileID          string `json:"file_id"`
	DedupKey        string `json:"dedup_key"`
	DecryptedSHA256 string `json:"decrypted_sha256"`
	DecryptedSize   int64  `json:"decrypted_size"`
	CreationDate    string `json:"creation_date"`
}

// StagingConfirmed is the inbound payload from the staging pipeline
// confirming that an object's bytes have landed in the outbox bucket.
type StagingConfirmed struct {
	FileID   string `json:"file_id"`
	Checksum string `json:"checksum"`
	Size     int64  `json:"size"`
}

// FileDeletionRequested is the inbound payload asking for an object and its
// decryption secret to be removed.
type FileDeletionRequested struct {
	FileID string `json:"file_id"`
}

// FileRegistered is published exactly once per newly created registry record.
type FileRegistered struct {
	ObjectID string `json:"object_id"`
}

// UnstagedDownloadRequested is published on every access attempt against an
// object that is not yet in the outbox. It signals demand, not a state
// change, so repeated emission is intentional.
type UnstagedDownloadRequested struct {
	ObjectID    string    `json:"object_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// DownloadServed is published once per successful presigned-URL issuance.
type DownloadServed struct {
	ObjectID string    `json:"object_id"`
	ServedAt time.Time `json:"served_at"`
}

// FileDeleted is published once per completed deletion, confirming to the
// requesting service that the object is gone.
type FileDeleted struct {
	ObjectID string `json:"object_id"`
}

// AccessResponse is the client-facing success payload.
type AccessResponse struct {
	DownloadURL string `json:"download_url"`
	Envelope    string `json:"envelope,omitempty"` // base64 encoded
	Size        int64  `json:"size,omitempty"`
	Checksum    string `json:"checksum,omitempty"`
}

// NotReadyResponse instructs the client to poll again later. This is a
// normal outcome, not an error.
type NotReadyResponse struct {
	RetryAfterSeconds int `json:"retry_after_seconds"`
}
