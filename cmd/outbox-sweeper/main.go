package main

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/Lllllllleong/archivedownloadflow/internal/services"
)

var (
	sweeperInstance *services.Sweeper
	once            sync.Once
	initErr         error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("SweepOutbox", sweepOutbox)
}

func main() {}

// sweepOutbox runs one reconciliation pass over the outbox bucket. It is
// triggered on a schedule (Cloud Scheduler via the broker); the payload of
// the triggering event is irrelevant.
func sweepOutbox(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		sweeperInstance, initErr = services.NewSweeper(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	removed, err := sweeperInstance.Sweep(ctx)
	if err != nil {
		slog.Error("Outbox sweep failed", "removed", removed, "error", err, "eventId", e.ID())
		return err
	}
	return nil
}
