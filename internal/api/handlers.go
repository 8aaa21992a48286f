// Package api contains the HTTP handlers for the season planning service.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"seasonplan/backend/internal/events"
	"seasonplan/backend/internal/ingest"
	"seasonplan/backend/internal/orchestrator"
	"seasonplan/backend/internal/types"
)

// Server holds the dependencies for the API server.
type Server struct {
	Orch      *orchestrator.Orchestrator
	Hub       *events.Hub
	Validator *ingest.Validator
	Logger    *slog.Logger
}

// NewServer creates a new Server.
func NewServer(orch *orchestrator.Orchestrator, hub *events.Hub, validator *ingest.Validator, logger *slog.Logger) *Server {
	return &Server{Orch: orch, Hub: hub, Validator: validator, Logger: logger}
}

// RegisterRoutes mounts all handlers on the given group.
func (s *Server) RegisterRoutes(g *echo.Group) {
	g.POST("/workflows", s.CreateWorkflow)
	g.GET("/workflows/:id", s.GetWorkflowStatus)
	g.GET("/workflows/:id/events", s.StreamWorkflowEvents)
	g.GET("/workflows/:id/artifacts/:agent", s.GetArtifact)
	g.POST("/uploads/:schema", s.ValidateUpload)
}

// HealthStatus represents the health check response.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// HandleHealth returns basic health status (always returns 200 OK).
func (s *Server) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Service:   "seasonplan",
		Version:   "1.0.0",
	})
}

// ProblemDetails represents an RFC 7807 Problem Details response.
type ProblemDetails struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// problem writes an RFC 7807 response for a taxonomy error.
func problem(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	title := "Internal Server Error"
	switch types.CodeOf(err) {
	case types.ValidationFailed:
		status, title = http.StatusBadRequest, "Validation Failed"
	case types.NotFound:
		status, title = http.StatusNotFound, "Not Found"
	case types.NotReady:
		status, title = http.StatusConflict, "Not Ready"
	case types.NotApplicable:
		// A permanent absence is a not-found at the transport boundary.
		status, title = http.StatusNotFound, "Not Applicable"
	case types.AgentFailed, types.AgentTimeout:
		status, title = http.StatusInternalServerError, "Agent Failed"
	}

	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	return c.JSON(status, ProblemDetails{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: err.Error(),
	})
}
