package repository

import (
	"context"
	"sync"
	"time"

	"seasonplan/backend/internal/types"
	"seasonplan/backend/pkg/models"
)

// MemoryWorkflowStore is an in-memory WorkflowStore. It is the default store
// when no database is configured, and the store unit tests run against.
type MemoryWorkflowStore struct {
	mu        sync.RWMutex
	workflows map[types.ID]*models.Workflow
}

// NewMemoryWorkflowStore creates an empty MemoryWorkflowStore.
func NewMemoryWorkflowStore() *MemoryWorkflowStore {
	return &MemoryWorkflowStore{workflows: make(map[types.ID]*models.Workflow)}
}

// CreateWorkflow persists a new workflow record.
func (s *MemoryWorkflowStore) CreateWorkflow(ctx context.Context, workflow *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workflows[workflow.ID]; exists {
		return types.NewErrorf(types.ValidationFailed, "workflow %s already exists", workflow.ID)
	}
	s.workflows[workflow.ID] = workflow.Clone()
	return nil
}

// GetWorkflow retrieves a workflow by id.
func (s *MemoryWorkflowStore) GetWorkflow(ctx context.Context, id types.ID) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, types.NewErrorf(types.NotFound, "unknown workflow %s", id)
	}
	return w.Clone(), nil
}

// UpdateWorkflow persists the workflow's mutable fields.
func (s *MemoryWorkflowStore) UpdateWorkflow(ctx context.Context, workflow *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.workflows[workflow.ID]
	if !ok {
		return types.NewErrorf(types.NotFound, "unknown workflow %s", workflow.ID)
	}
	stored.Status = workflow.Status
	stored.CurrentAgent = workflow.CurrentAgent
	stored.FailureDetail = workflow.FailureDetail
	stored.UpdatedAt = time.Now().UTC()
	return nil
}

// AppendAgentResult appends one agent's terminal result.
func (s *MemoryWorkflowStore) AppendAgentResult(ctx context.Context, result models.AgentResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.workflows[result.WorkflowID]
	if !ok {
		return types.NewErrorf(types.NotFound, "unknown workflow %s", result.WorkflowID)
	}
	for _, r := range stored.Results {
		if r.AgentName == result.AgentName {
			return types.NewErrorf(types.ValidationFailed, "result for %s/%s already recorded",
				result.WorkflowID, result.AgentName)
		}
	}
	result.Artifact = models.CloneArtifact(result.Artifact)
	stored.Results = append(stored.Results, result)
	stored.UpdatedAt = time.Now().UTC()
	return nil
}

var _ WorkflowStore = (*MemoryWorkflowStore)(nil)
