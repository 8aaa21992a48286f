// Package repository persists workflow and agent-result records. The
// orchestrator is the single writer for any given workflow; stores only need
// to be safe under concurrent access from distinct workflows.
package repository

import (
	"context"

	"seasonplan/backend/internal/types"
	"seasonplan/backend/pkg/models"
)

// WorkflowStore is the persistence collaborator for the orchestrator. It is
// treated as durable and strongly consistent per workflow id.
type WorkflowStore interface {
	// CreateWorkflow persists a freshly created workflow record.
	CreateWorkflow(ctx context.Context, workflow *models.Workflow) error

	// GetWorkflow retrieves a workflow with its agent results in execution
	// order. Fails with a NotFound taxonomy error for an unknown id.
	GetWorkflow(ctx context.Context, id types.ID) (*models.Workflow, error)

	// UpdateWorkflow persists the workflow's mutable fields: status, current
	// agent index and failure detail.
	UpdateWorkflow(ctx context.Context, workflow *models.Workflow) error

	// AppendAgentResult persists one agent's terminal result. A result is
	// appended exactly once per (workflow, agent).
	AppendAgentResult(ctx context.Context, result models.AgentResult) error
}
