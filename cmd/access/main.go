package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/archivedownloadflow/internal/models"
	"github.com/Lllllllleong/archivedownloadflow/internal/services"
)

var (
	resolverInstance *services.Resolver
	once             sync.Once
	initErr          error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleObjectAccess", handleObjectAccess)
}

func main() {}

// handleObjectAccess serves GET /objects/{id}. A staged object answers 200
// with a presigned URL (plus an envelope when the caller sends its public
// key); an unstaged one answers 202 with a retry hint. Clients poll on 202.
func handleObjectAccess(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		resolverInstance, initErr = services.NewResolver(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: resolver initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	objectID := objectIDFromPath(r.URL.Path)
	if objectID == "" {
		http.Error(w, "Bad Request: missing object id", http.StatusBadRequest)
		return
	}

	resolution, err := resolverInstance.ResolveAccess(r.Context(), objectID, r.Header.Get("Public-Key"))
	if err != nil {
		writeResolutionError(w, objectID, err)
		return
	}

	if !resolution.Ready {
		retryAfter := int(resolution.RetryAfter.Seconds())
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeJSON(w, http.StatusAccepted, models.NotReadyResponse{RetryAfterSeconds: retryAfter})
		return
	}

	writeJSON(w, http.StatusOK, models.AccessResponse{
		DownloadURL: resolution.DownloadURL,
		Envelope:    base64.StdEncoding.EncodeToString(resolution.Envelope),
		Size:        resolution.Size,
		Checksum:    resolution.Checksum,
	})
}

// objectIDFromPath accepts both "/objects/{id}" and a bare "/{id}".
func objectIDFromPath(path string) string {
	trimmed := strings.Trim(path, "/")
	trimmed = strings.TrimPrefix(trimmed, "objects/")
	if trimmed == "" || strings.Contains(trimmed, "/") {
		return ""
	}
	return trimmed
}

func writeResolutionError(w http.ResponseWriter, objectID string, err error) {
	switch {
	case errors.Is(err, services.ErrObjectNotFound):
		http.Error(w, "Not Found: no such object", http.StatusNotFound)
	case errors.Is(err, services.ErrEnvelopeNotFound):
		http.Error(w, "Not Found: no envelope for object", http.StatusNotFound)
	case errors.Is(err, services.ErrUpstreamUnavailable), errors.Is(err, services.ErrEnvelopeUnavailable):
		slog.Error("Upstream failure during access resolution", "objectId", objectID, "error", err)
		http.Error(w, "Service Unavailable: please retry", http.StatusServiceUnavailable)
	default:
		slog.Error("Access resolution failed", "objectId", objectID, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
