package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/Lllllllleong/archivedownloadflow/internal/models"
	"github.com/google/uuid"
)

// CloudEventsPublisher posts outbound events to the broker ingress over
// HTTP. Sends are retried with bounded exponential backoff; once retries are
// exhausted the error is returned to the caller, who logs it and moves on.
// Registry state is the source of truth and is never rolled back over a
// failed notification.
type CloudEventsPublisher struct {
	client cloudevents.Client
	config Config

	// Retry knobs, overridable in tests.
	maxAttempts    int
	initialBackoff time.Duration
}

func NewCloudEventsPublisher(config Config) (*CloudEventsPublisher, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	client, err := cloudevents.NewClientHTTP()
	if err != nil {
		return nil, fmt.Errorf("failed to create cloudevents client: %w", err)
	}
	return &CloudEventsPublisher{
		client:         client,
		config:         config,
		maxAttempts:    4,
		initialBackoff: time.Second,
	}, nil
}

func (p *CloudEventsPublisher) FileRegistered(ctx context.Context, objectID string) error {
	return p.publish(ctx, p.config.FileRegisteredType, objectID, models.FileRegistered{ObjectID: objectID})
}

func (p *CloudEventsPublisher) UnstagedDownloadRequested(ctx context.Context, objectID string, requestedAt time.Time) error {
	return p.publish(ctx, p.config.UnstagedDownloadType, objectID, models.UnstagedDownloadRequested{
		ObjectID:    objectID,
		RequestedAt: requestedAt,
	})
}

func (p *CloudEventsPublisher) DownloadServed(ctx context.Context, objectID string, servedAt time.Time) error {
	return p.publish(ctx, p.config.DownloadServedType, objectID, models.DownloadServed{
		ObjectID: objectID,
		ServedAt: servedAt,
	})
}

func (p *CloudEventsPublisher) FileDeleted(ctx context.Context, objectID string) error {
	return p.publish(ctx, p.config.FileDeletedType, objectID, models.FileDeleted{ObjectID: objectID})
}

func (p *CloudEventsPublisher) publish(ctx context.Context, eventType, objectID string, payload any) error {
	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetSource(p.config.Source)
	event.SetType(eventType)
	event.SetSubject(objectID)
	if err := event.SetData(cloudevents.ApplicationJSON, payload); err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", eventType, err)
	}

	sendCtx := cloudevents.ContextWithTarget(ctx, p.config.IngressURL)

	backoff := p.initialBackoff
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		result := p.client.Send(sendCtx, event)
		if cloudevents.IsACK(result) {
			return nil
		}
		lastErr = result
		slog.Warn(
			"Event publish failed, will retry.",
			"eventType", eventType,
			"objectId", objectID,
			"attempt", attempt,
			"maxAttempts", p.maxAttempts,
			"backoff", backoff.String(),
			"error", result,
		)
		if attempt == p.maxAttempts {
			break
		}
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return fmt.Errorf("publish of %s for %s cancelled: %w", eventType, objectID, ctx.Err())
		}
	}
	return fmt.Errorf("publish of %s for %s failed after %d attempts: %w", eventType, objectID, p.maxAttempts, lastErr)
}
