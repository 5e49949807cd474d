package api

import (
	"net/http"

	"admissions-workflow/backend/internal/auth"
	"admissions-workflow/backend/pkg/models"

	"github.com/labstack/echo/v4"
)

// EvaluateRequest carries the application snapshot to evaluate against.
type EvaluateRequest struct {
	Data models.ApplicationData `json:"data"`
}

// AutomaticTransitionRequest is the body of ExecuteAutomaticTransition.
type AutomaticTransitionRequest struct {
	CurrentStageID string                 `json:"current_stage_id"`
	Data           models.ApplicationData `json:"data"`
}

// ManualTransitionRequest is the body of TransitionApplication.
type ManualTransitionRequest struct {
	CurrentStageID string                 `json:"current_stage_id"`
	TransitionID   string                 `json:"transition_id"`
	Data           models.ApplicationData `json:"data"`
}

// GetStageTransitions lists the transitions leaving a stage
// (GET /api/v1/stages/{id}/transitions)
func (s *Server) GetStageTransitions(c echo.Context) error {
	id, err := pathParam(c, "id")
	if err != nil {
		return err
	}
	ts, err := s.Engine.GetTransitionsForStage(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ts)
}

// GetValidStageTransitions lists the transitions leaving a stage whose
// conditions hold for the posted data
// (POST /api/v1/stages/{id}/transitions/valid)
func (s *Server) GetValidStageTransitions(c echo.Context) error {
	id, err := pathParam(c, "id")
	if err != nil {
		return err
	}
	var req EvaluateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	ts, err := s.Engine.GetValidTransitionsForStage(c.Request().Context(), id, req.Data)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ts)
}

// ExecuteAutomaticTransition takes the first qualifying automatic
// transition. It answers 204 when none applies.
// (POST /api/v1/applications/{id}/transitions/automatic)
func (s *Server) ExecuteAutomaticTransition(c echo.Context) error {
	appID, err := pathParam(c, "id")
	if err != nil {
		return err
	}
	var req AutomaticTransitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.CurrentStageID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "current_stage_id is required")
	}

	res, err := s.Engine.ExecuteAutomaticTransition(c.Request().Context(), appID, req.CurrentStageID, req.Data)
	if err != nil {
		return err
	}
	if res == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, res)
}

// TransitionApplication performs a manual transition after checking the
// caller holds the transition's required permissions
// (POST /api/v1/applications/{id}/transitions)
func (s *Server) TransitionApplication(c echo.Context) error {
	appID, err := pathParam(c, "id")
	if err != nil {
		return err
	}
	var req ManualTransitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.CurrentStageID == "" || req.TransitionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "current_stage_id and transition_id are required")
	}

	ctx := c.Request().Context()
	t, err := s.Repo.GetTransition(ctx, req.TransitionID)
	if err != nil {
		return err
	}
	principal := auth.PrincipalFrom(ctx)
	if missing := principal.Missing(t.RequiredPermissions); len(missing) > 0 {
		s.Logger.Info("transition refused", "transition", t.ID, "principal", principal.Name(), "missing", missing)
		return forbidden(missing)
	}

	res, err := s.Engine.TransitionApplication(ctx, appID, req.CurrentStageID, req.TransitionID, req.Data, principal.Name())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// GetApplicationHistory returns an application's recorded stage changes
// (GET /api/v1/applications/{id}/history)
func (s *Server) GetApplicationHistory(c echo.Context) error {
	appID, err := pathParam(c, "id")
	if err != nil {
		return err
	}
	if s.History == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "history is not available")
	}
	records, err := s.History.History(c.Request().Context(), appID)
	if err != nil {
		return err
	}
	if records == nil {
		records = []*models.TransitionRecord{}
	}
	return c.JSON(http.StatusOK, records)
}
