package events

import (
	"encoding/json"
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/Lllllllleong/archivedownloadflow/internal/models"
)

// Inbound decoding. The broker delivers at-least-once, so handlers downstream
// of these decoders must stay idempotent; the dedup key carried by the
// file-to-register payload is what makes that possible.

func DecodeFileToRegister(e cloudevents.Event) (models.FileToRegister, error) {
	var payload models.FileToRegister
	if err := json.Unmarshal(e.Data(), &payload); err != nil {
		return payload, fmt.Errorf("failed to unmarshal %s payload: %w", e.Type(), err)
	}
	if payload.FileID == "" {
		return payload, fmt.Errorf("%s event %s is missing file_id", e.Type(), e.ID())
	}
	if payload.DedupKey == "" {
		// Fall back to the event id: it is stable across broker redeliveries
		// of the same event.
		payload.DedupKey = e.ID()
	}
	return payload, nil
}

func DecodeFileDeletionRequested(e cloudevents.Event) (models.FileDeletionRequested, error) {
	var payload models.FileDeletionRequested
	if err := json.Unmarshal(e.Data(), &payload); err != nil {
		return payload, fmt.Errorf("failed to unmarshal %s payload: %w", e.Type(), err)
	}
	if payload.FileID == "" {
		return payload, fmt.Errorf("%s event %s is missing file_id", e.Type(), e.ID())
	}
	return payload, nil
}

func DecodeStagingConfirmed(e cloudevents.Event) (models.StagingConfirmed, error) {
	var payload models.StagingConfirmed
	if err := json.Unmarshal(e.Data(), &payload); err != nil {
		return payload, fmt.Errorf("failed to unmarshal %s payload: %w", e.Type(), err)
	}
	if payload.FileID == "" {
		return payload, fmt.Errorf("%s event %s is missing file_id", e.Type(), e.ID())
	}
	return payload, nil
}
