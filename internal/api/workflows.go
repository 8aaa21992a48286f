package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"seasonplan/backend/internal/ingest"
	"seasonplan/backend/internal/types"
	"seasonplan/backend/pkg/models"
)

// CreateWorkflowResponse is the body returned for a created workflow.
type CreateWorkflowResponse struct {
	ID     types.ID                `json:"id"`
	Status models.WorkflowStatus   `json:"status"`
	Params models.SeasonParameters `json:"params"`
}

// CreateWorkflow handles POST /workflows. The request body carries the season
// parameters; on success the workflow is created and scheduled, and its
// identifier is returned immediately.
func (s *Server) CreateWorkflow(c echo.Context) error {
	var params models.SeasonParameters
	if err := c.Bind(&params); err != nil {
		return problem(c, types.WrapError(types.ValidationFailed, "invalid request body", err))
	}

	workflow, err := s.Orch.CreateWorkflow(c.Request().Context(), params)
	if err != nil {
		return problem(c, err)
	}

	c.Response().Header().Set("Location", fmt.Sprintf("/api/v1/workflows/%s", workflow.ID))
	return c.JSON(http.StatusCreated, CreateWorkflowResponse{
		ID:     workflow.ID,
		Status: workflow.Status,
		Params: workflow.Params,
	})
}

// workflowID parses the :id path parameter, mapping malformed identifiers to
// a validation failure.
func workflowID(c echo.Context) (types.ID, error) {
	id, err := types.ParseID(c.Param("id"))
	if err != nil {
		return "", types.WrapError(types.ValidationFailed, "invalid workflow id", err)
	}
	return id, nil
}

// GetWorkflowStatus handles GET /workflows/:id.
func (s *Server) GetWorkflowStatus(c echo.Context) error {
	id, err := workflowID(c)
	if err != nil {
		return problem(c, err)
	}

	status, err := s.Orch.GetStatus(c.Request().Context(), id)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

// GetArtifact handles GET /workflows/:id/artifacts/:agent.
func (s *Server) GetArtifact(c echo.Context) error {
	id, err := workflowID(c)
	if err != nil {
		return problem(c, err)
	}

	artifact, err := s.Orch.GetArtifact(c.Request().Context(), id, c.Param("agent"))
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, artifact)
}

// StreamWorkflowEvents handles GET /workflows/:id/events as a Server-Sent
// Events stream. The optional from query parameter (or, on reconnect, the
// Last-Event-ID header the browser sends) selects the last sequence number
// already seen; everything after it is replayed before live events. The
// stream ends when the workflow reaches a terminal state.
func (s *Server) StreamWorkflowEvents(c echo.Context) error {
	id, err := workflowID(c)
	if err != nil {
		return problem(c, err)
	}

	from, err := resumePoint(c)
	if err != nil {
		return problem(c, err)
	}

	ctx := c.Request().Context()
	ch, cancel, err := s.Hub.Subscribe(ctx, id, from)
	if err != nil {
		return problem(c, err)
	}
	defer cancel()

	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set(echo.HeaderCacheControl, "no-cache")
	h.Set(echo.HeaderConnection, "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()

	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return nil
			}
			data, err := json.Marshal(event)
			if err != nil {
				s.Logger.Error("failed to marshal event", "workflow_id", id, "error", err)
				continue
			}
			fmt.Fprintf(c.Response(), "id: %d\nevent: %s\ndata: %s\n\n", event.Sequence, event.Type, data)
			c.Response().Flush()
		case <-ctx.Done():
			return nil
		}
	}
}

// resumePoint derives the last-seen sequence from the from query parameter,
// falling back to the Last-Event-ID header. Zero means replay from the start.
func resumePoint(c echo.Context) (int64, error) {
	raw := c.QueryParam("from")
	if raw == "" {
		raw = c.Request().Header.Get("Last-Event-ID")
	}
	if raw == "" {
		return 0, nil
	}
	from, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || from < 0 {
		return 0, types.NewErrorf(types.ValidationFailed, "invalid resume sequence %q", raw)
	}
	return from, nil
}

// UploadResponse is the body returned for an accepted upload.
type UploadResponse struct {
	Schema string `json:"schema"`
	Rows   int    `json:"rows"`
}

// UploadErrorResponse reports every defect found in a rejected upload.
type UploadErrorResponse struct {
	Schema string                   `json:"schema"`
	Errors []ingest.ValidationError `json:"errors"`
}

// ValidateUpload handles POST /uploads/:schema. The raw CSV is the request
// body. A clean file is answered with the accepted row count; a defective one
// with 422 and the complete error list.
func (s *Server) ValidateUpload(c echo.Context) error {
	schemaName := c.Param("schema")
	schema, ok := ingest.LookupSchema(schemaName)
	if !ok {
		return problem(c, types.NewErrorf(types.NotFound, "unknown schema %q", schemaName))
	}

	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return problem(c, types.WrapError(types.ValidationFailed, "failed to read upload body", err))
	}

	rows, verrs := s.Validator.Validate(data, schema)
	if len(verrs) > 0 {
		return c.JSON(http.StatusUnprocessableEntity, UploadErrorResponse{
			Schema: schemaName,
			Errors: verrs,
		})
	}
	return c.JSON(http.StatusOK, UploadResponse{Schema: schemaName, Rows: len(rows)})
}
