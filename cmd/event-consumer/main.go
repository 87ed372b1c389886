package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/Lllllllleong/archivedownloadflow/internal/events"
	"github.com/Lllllllleong/archivedownloadflow/internal/gcp"
	"github.com/Lllllllleong/archivedownloadflow/internal/services"
)

var (
	orchestratorInstance *services.Orchestrator
	once                 sync.Once
	initErr              error

	// Resolved alongside the orchestrator so env injected after process
	// start is seen consistently with the rest of the configuration.
	fileToRegisterType        string
	stagingConfirmedType      string
	fileDeletionRequestedType string
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Register the CloudEvent function. The framework routes every inbound
	// file event here; dispatch happens on the event type.
	functions.CloudEvent("HandleFileEvent", handleFileEvent)
}

// main is required by the Go Functions Framework.
func main() {}

// handleFileEvent is the Cloud Function entry point for inbound broker
// events. Delivery is at-least-once, so all handlers below are idempotent:
// duplicate registrations collapse on the dedup key, duplicate staging
// confirmations and deletion requests are transition no-ops.
func handleFileEvent(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		fileToRegisterType = gcp.GetEnv("FILE_TO_REGISTER_TYPE", events.DefaultFileToRegisterType)
		stagingConfirmedType = gcp.GetEnv("STAGING_CONFIRMED_TYPE", events.DefaultStagingConfirmedType)
		fileDeletionRequestedType = gcp.GetEnv("FILE_DELETION_REQUESTED_TYPE", events.DefaultFileDeletionRequestedType)
		orchestratorInstance, initErr = services.NewOrchestrator(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	switch e.Type() {
	case fileToRegisterType:
		file, err := events.DecodeFileToRegister(e)
		if err != nil {
			slog.Error("Failed to decode file-to-register event", "error", err, "eventId", e.ID())
			return err
		}
		return orchestratorInstance.RegisterFile(ctx, file, e.ID())
	case stagingConfirmedType:
		confirmation, err := events.DecodeStagingConfirmed(e)
		if err != nil {
			slog.Error("Failed to decode staging-confirmed event", "error", err, "eventId", e.ID())
			return err
		}
		return orchestratorInstance.ConfirmStaged(ctx, confirmation)
	case fileDeletionRequestedType:
		request, err := events.DecodeFileDeletionRequested(e)
		if err != nil {
			slog.Error("Failed to decode file-deletion event", "error", err, "eventId", e.ID())
			return err
		}
		return orchestratorInstance.DeleteFile(ctx, request.FileID)
	default:
		slog.Error("Received event of unexpected type", "type", e.Type(), "eventId", e.ID())
		return fmt.Errorf("unexpected event type: %s", e.Type())
	}
}
