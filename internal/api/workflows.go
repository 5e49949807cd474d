// Package api contains the HTTP handlers for the workflow engine
package api

import (
	"io"
	"net/http"

	"admissions-workflow/backend/internal/auth"
	"admissions-workflow/backend/internal/history"
	"admissions-workflow/backend/internal/logging"
	"admissions-workflow/backend/internal/repository"
	"admissions-workflow/backend/internal/services"
	"admissions-workflow/backend/internal/templates"
	"admissions-workflow/backend/pkg/models"

	"github.com/labstack/echo/v4"
)

// Server holds the dependencies for the API server.
type Server struct {
	Repo      repository.WorkflowRepository
	Workflows *services.WorkflowService
	Engine    *services.TransitionEngine
	History   history.Reader
	Logger    *logging.Logger
}

// NewServer creates a new Server.
func NewServer(repo repository.WorkflowRepository, workflows *services.WorkflowService, engine *services.TransitionEngine, hist history.Reader, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Server{Repo: repo, Workflows: workflows, Engine: engine, History: hist, Logger: logger.Named("api")}
}

// ListWorkflowsParams are the query parameters of ListWorkflows.
type ListWorkflowsParams struct {
	ApplicationType *string `form:"application_type"`
	Active          *bool   `form:"active"`
	Name            *string `form:"name"`
	Limit           *int    `form:"limit"`
	Offset          *int    `form:"offset"`
}

// DuplicateWorkflowRequest is the body of DuplicateWorkflow.
type DuplicateWorkflowRequest struct {
	Name string `json:"name"`
}

// ListWorkflows returns the workflows matching the query filters
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	var params ListWorkflowsParams
	for name, dest := range map[string]any{
		"application_type": &params.ApplicationType,
		"active":           &params.Active,
		"name":             &params.Name,
		"limit":            &params.Limit,
		"offset":           &params.Offset,
	} {
		if err := queryParam(c, name, dest); err != nil {
			return err
		}
	}

	filter := models.WorkflowFilter{Active: params.Active}
	if params.ApplicationType != nil {
		filter.ApplicationType = models.ApplicationType(*params.ApplicationType)
		if !filter.ApplicationType.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown application_type "+*params.ApplicationType)
		}
	}
	if params.Name != nil {
		filter.Name = *params.Name
	}
	if params.Limit != nil {
		if *params.Limit < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must not be negative")
		}
		filter.Limit = *params.Limit
	}
	if params.Offset != nil {
		if *params.Offset < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "offset must not be negative")
		}
		filter.Offset = *params.Offset
	}

	workflows, err := s.Repo.GetAllWorkflows(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, workflows)
}

// GetWorkflowsByType returns every workflow of one application type
// (GET /api/v1/workflows/types/{type})
func (s *Server) GetWorkflowsByType(c echo.Context) error {
	appType, err := pathParam(c, "type")
	if err != nil {
		return err
	}
	workflows, err := s.Repo.GetWorkflowsByType(c.Request().Context(), models.ApplicationType(appType))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, workflows)
}

// CreateWorkflow creates a workflow with its stages and transitions
// (POST /api/v1/workflows)
func (s *Server) CreateWorkflow(c echo.Context) error {
	var spec models.WorkflowSpec
	if err := c.Bind(&spec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if spec.CreatedBy == "" {
		spec.CreatedBy = auth.PrincipalFrom(c.Request().Context()).Name()
	}

	g, err := s.Repo.CreateWorkflow(c.Request().Context(), spec)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, g)
}

// GetWorkflow returns one hydrated workflow graph
// (GET /api/v1/workflows/{id})
func (s *Server) GetWorkflow(c echo.Context) error {
	id, err := pathParam(c, "id")
	if err != nil {
		return err
	}
	g, err := s.Repo.GetWorkflowByID(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, g)
}

// UpdateWorkflow applies a spec as a diff against the stored graph
// (PUT /api/v1/workflows/{id})
func (s *Server) UpdateWorkflow(c echo.Context) error {
	id, err := pathParam(c, "id")
	if err != nil {
		return err
	}
	var spec models.WorkflowSpec
	if err := c.Bind(&spec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	g, err := s.Repo.UpdateWorkflow(c.Request().Context(), id, spec)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, g)
}

// DeleteWorkflow removes a workflow with its stages and transitions
// (DELETE /api/v1/workflows/{id})
func (s *Server) DeleteWorkflow(c echo.Context) error {
	id, err := pathParam(c, "id")
	if err != nil {
		return err
	}
	if err := s.Repo.DeleteWorkflow(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// DuplicateWorkflow copies a workflow under new ids
// (POST /api/v1/workflows/{id}/duplicate)
func (s *Server) DuplicateWorkflow(c echo.Context) error {
	id, err := pathParam(c, "id")
	if err != nil {
		return err
	}
	var req DuplicateWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	g, err := s.Repo.DuplicateWorkflow(c.Request().Context(), id, req.Name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, g)
}

// ValidateWorkflow runs the structural checks
// (GET /api/v1/workflows/{id}/validation)
func (s *Server) ValidateWorkflow(c echo.Context) error {
	id, err := pathParam(c, "id")
	if err != nil {
		return err
	}
	res, err := s.Workflows.ValidateWorkflow(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// ActivateWorkflow validates and activates a workflow
// (POST /api/v1/workflows/{id}/activate)
func (s *Server) ActivateWorkflow(c echo.Context) error {
	id, err := pathParam(c, "id")
	if err != nil {
		return err
	}
	g, err := s.Workflows.ActivateWorkflow(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, g)
}

// DeactivateWorkflow clears the active flag
// (POST /api/v1/workflows/{id}/deactivate)
func (s *Server) DeactivateWorkflow(c echo.Context) error {
	id, err := pathParam(c, "id")
	if err != nil {
		return err
	}
	g, err := s.Workflows.DeactivateWorkflow(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, g)
}

// ExportWorkflow renders a workflow as a YAML template
// (GET /api/v1/workflows/{id}/export)
func (s *Server) ExportWorkflow(c echo.Context) error {
	id, err := pathParam(c, "id")
	if err != nil {
		return err
	}
	g, err := s.Repo.GetWorkflowByID(c.Request().Context(), id)
	if err != nil {
		return err
	}
	data, err := templates.Marshal(templates.FromGraph(g))
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, "application/yaml", data)
}

// ImportWorkflow creates a workflow from a YAML template body
// (POST /api/v1/workflows/import)
func (s *Server) ImportWorkflow(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	tpl, err := templates.Unmarshal(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	spec, err := tpl.Spec()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	spec.CreatedBy = auth.PrincipalFrom(c.Request().Context()).Name()

	g, err := s.Repo.CreateWorkflow(c.Request().Context(), spec)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, g)
}
