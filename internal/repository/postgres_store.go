package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"seasonplan/backend/internal/types"
	"seasonplan/backend/pkg/models"
)

// PostgresWorkflowStore is a PostgreSQL implementation of the WorkflowStore
// interface. Parameters and artifacts are stored as JSONB; artifacts read
// back through this store are generic JSON values, serialized identically on
// every read.
type PostgresWorkflowStore struct {
	db *pgxpool.Pool
}

// NewPostgresWorkflowStore creates a new PostgresWorkflowStore.
func NewPostgresWorkflowStore(db *pgxpool.Pool) *PostgresWorkflowStore {
	return &PostgresWorkflowStore{db: db}
}

// Migrate creates the workflow tables if they do not exist.
func (s *PostgresWorkflowStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS workflows (
			id UUID PRIMARY KEY,
			params JSONB NOT NULL,
			status TEXT NOT NULL,
			current_agent INT NOT NULL DEFAULT 0,
			failure_detail TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS agent_results (
			ordinal BIGSERIAL,
			workflow_id UUID NOT NULL REFERENCES workflows(id),
			agent_name TEXT NOT NULL,
			outcome TEXT NOT NULL,
			artifact JSONB,
			error_detail TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (workflow_id, agent_name)
		);`)
	if err != nil {
		return fmt.Errorf("failed to run workflow migrations: %w", err)
	}
	return nil
}

// CreateWorkflow persists a new workflow record.
func (s *PostgresWorkflowStore) CreateWorkflow(ctx context.Context, workflow *models.Workflow) error {
	params, err := json.Marshal(workflow.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO workflows (id, params, status, current_agent, failure_detail, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		workflow.ID.String(), params, workflow.Status.String(), workflow.CurrentAgent,
		workflow.FailureDetail, workflow.CreatedAt, workflow.UpdatedAt)
	return err
}

// GetWorkflow retrieves a workflow and its results by id.
func (s *PostgresWorkflowStore) GetWorkflow(ctx context.Context, id types.ID) (*models.Workflow, error) {
	var (
		w      models.Workflow
		idStr  string
		status string
		params []byte
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, params, status, current_agent, failure_detail, created_at, updated_at
		 FROM workflows WHERE id = $1`, id.String()).
		Scan(&idStr, &params, &status, &w.CurrentAgent, &w.FailureDetail, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewErrorf(types.NotFound, "unknown workflow %s", id)
	}
	if err != nil {
		return nil, err
	}
	w.ID = types.ID(idStr)
	w.Status = models.WorkflowStatus(status)
	if err := json.Unmarshal(params, &w.Params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal params for workflow %s: %w", id, err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT workflow_id, agent_name, outcome, artifact, error_detail, started_at, ended_at
		 FROM agent_results WHERE workflow_id = $1 ORDER BY ordinal`, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r        models.AgentResult
			wfID     string
			outcome  string
			artifact []byte
		)
		if err := rows.Scan(&wfID, &r.AgentName, &outcome, &artifact, &r.ErrorDetail, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, err
		}
		r.WorkflowID = types.ID(wfID)
		r.Outcome = models.Outcome(outcome)
		if len(artifact) > 0 {
			var payload any
			if err := json.Unmarshal(artifact, &payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal artifact %s/%s: %w", wfID, r.AgentName, err)
			}
			r.Artifact = payload
		}
		w.Results = append(w.Results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &w, nil
}

// UpdateWorkflow persists the workflow's mutable fields.
func (s *PostgresWorkflowStore) UpdateWorkflow(ctx context.Context, workflow *models.Workflow) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE workflows SET status = $1, current_agent = $2, failure_detail = $3, updated_at = now()
		 WHERE id = $4`,
		workflow.Status.String(), workflow.CurrentAgent, workflow.FailureDetail, workflow.ID.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return types.NewErrorf(types.NotFound, "unknown workflow %s", workflow.ID)
	}
	return nil
}

// AppendAgentResult persists one agent's terminal result.
func (s *PostgresWorkflowStore) AppendAgentResult(ctx context.Context, result models.AgentResult) error {
	var artifact []byte
	if result.Artifact != nil {
		data, err := json.Marshal(result.Artifact)
		if err != nil {
			return fmt.Errorf("failed to marshal artifact %s: %w", result.Summary(), err)
		}
		artifact = data
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO agent_results (workflow_id, agent_name, outcome, artifact, error_detail, started_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		result.WorkflowID.String(), result.AgentName, string(result.Outcome), artifact,
		result.ErrorDetail, result.StartedAt, result.EndedAt)
	return err
}

var _ WorkflowStore = (*PostgresWorkflowStore)(nil)
