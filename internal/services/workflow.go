package services

import (
	"context"
	"encoding/json"
	"fmt"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/Lllllllleong/archivedownloadflow/internal/gcp"
)

// workflowTrigger asks the archival staging pipeline to copy an object into
// the outbox by creating a Workflows execution. It complements the
// unstaged-download event for deployments where the pipeline is a workflow
// rather than an event consumer; the workflow itself coalesces duplicate
// requests for the same object.
type workflowTrigger struct {
	client       *executions.Client
	parent       string
	outboxBucket string
}

// newWorkflowTriggerFromEnv returns nil when no STAGING_WORKFLOW_ID is
// configured, which disables direct triggering.
func newWorkflowTriggerFromEnv(ctx context.Context, projectID, outboxBucket string) (StagingTrigger, error) {
	workflowID := gcp.GetEnv("STAGING_WORKFLOW_ID", "")
	if workflowID == "" {
		return nil, nil
	}
	location := gcp.GetEnv("STAGING_WORKFLOW_LOCATION", "us-central1")

	client, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}
	return &workflowTrigger{
		client:       client,
		parent:       fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID),
		outboxBucket: outboxBucket,
	}, nil
}

func (t *workflowTrigger) RequestStaging(ctx context.Context, objectID string) error {
	payload := map[string]interface{}{
		"objectId":     objectID,
		"outboxBucket": t.outboxBucket,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal staging payload: %w", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: t.parent,
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}
	if _, err := t.client.CreateExecution(ctx, req); err != nil {
		return fmt.Errorf("failed to create staging execution for %s: %w", objectID, err)
	}
	return nil
}
