// Package events adapts the service to its message broker. Inbound and
// outbound traffic both use the CloudEvents envelope; outbound events are
// posted to a broker ingress endpoint and carry the object id as their
// subject so the broker can partition (and downstream consumers deduplicate)
// by object.
package events

import (
	"context"
	"fmt"
	"time"
)

// Config names the event types this service publishes and consumes. Types
// are configurable because different deployments route them to different
// topics.
type Config struct {
	// IngressURL is the broker endpoint outbound events are POSTed to.
	IngressURL string
	// Source is the CloudEvents source attribute for outbound events.
	Source string

	FileToRegisterType        string
	StagingConfirmedType      string
	FileDeletionRequestedType string

	FileRegisteredType   string
	UnstagedDownloadType string
	DownloadServedType   string
	FileDeletedType      string
}

// Defaults for the configurable event types.
const (
	DefaultFileToRegisterType        = "file_to_register"
	DefaultStagingConfirmedType      = "staging_confirmed"
	DefaultFileDeletionRequestedType = "file_deletion_requested"
	DefaultFileRegisteredType        = "file_registered"
	DefaultUnstagedDownloadType      = "unstaged_download_requested"
	DefaultDownloadServedType        = "download_served"
	DefaultFileDeletedType           = "file_deleted"
	DefaultSource                    = "archivedownloadflow"
)

func (c *Config) validate() error {
	if c.IngressURL == "" {
		return fmt.Errorf("broker ingress URL must be provided")
	}
	return nil
}

// Publisher is the outbound half of the adapter. Delivery is at-least-once;
// all three events are keyed by object id so downstream consumers can
// deduplicate by subject and type.
type Publisher interface {
	// FileRegistered announces a newly created registry record. Emitted
	// exactly once per new record, never on idempotent upsert no-ops.
	FileRegistered(ctx context.Context, objectID string) error

	// UnstagedDownloadRequested signals demand for an object that is not in
	// the outbox. Emitted once per unstaged access attempt, deliberately
	// repeatable.
	UnstagedDownloadRequested(ctx context.Context, objectID string, requestedAt time.Time) error

	// DownloadServed reports a successful presigned-URL issuance.
	DownloadServed(ctx context.Context, objectID string, servedAt time.Time) error

	// FileDeleted confirms a completed upstream deletion request. Emitted
	// once per record retirement, never on duplicate deletion deliveries.
	FileDeleted(ctx context.Context, objectID string) error
}
