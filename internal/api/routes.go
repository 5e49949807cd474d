package api

import (
	"fmt"
	"net/http"
	"strings"

	"admissions-workflow/backend/internal/auth"

	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"
)

// RegisterHandlers mounts the REST API on g, which is expected to be the
// authenticated /api/v1 group.
func RegisterHandlers(g *echo.Group, s *Server, h *Handler) {
	read := requirePermissions(auth.ScopeWorkflowRead)
	write := requirePermissions(auth.ScopeWorkflowWrite)

	g.GET("/health", h.HandleHealth)

	g.GET("/workflows", s.ListWorkflows, read)
	g.GET("/workflows/types/:type", s.GetWorkflowsByType, read)
	g.POST("/workflows", s.CreateWorkflow, write)
	g.POST("/workflows/import", s.ImportWorkflow, write)
	g.GET("/workflows/:id", s.GetWorkflow, read)
	g.PUT("/workflows/:id", s.UpdateWorkflow, write)
	g.DELETE("/workflows/:id", s.DeleteWorkflow, write)
	g.POST("/workflows/:id/duplicate", s.DuplicateWorkflow, write)
	g.GET("/workflows/:id/validation", s.ValidateWorkflow, read)
	g.GET("/workflows/:id/export", s.ExportWorkflow, read)
	g.POST("/workflows/:id/activate", s.ActivateWorkflow, write)
	g.POST("/workflows/:id/deactivate", s.DeactivateWorkflow, write)

	g.GET("/stages/:id/transitions", s.GetStageTransitions, read)
	g.POST("/stages/:id/transitions/valid", s.GetValidStageTransitions, read)

	// Manual transitions check the transition's own required permissions.
	g.POST("/applications/:id/transitions/automatic", s.ExecuteAutomaticTransition, read)
	g.POST("/applications/:id/transitions", s.TransitionApplication, read)
	g.GET("/applications/:id/history", s.GetApplicationHistory, read)
}

// requirePermissions rejects callers lacking any of perms with 403.
func requirePermissions(perms ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if p := auth.PrincipalFrom(c.Request().Context()); !p.Has(perms...) {
				return forbidden(p.Missing(perms))
			}
			return next(c)
		}
	}
}

func forbidden(missing []string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusForbidden, "missing permissions: "+strings.Join(missing, ", "))
}

// pathParam binds a required simple-style path parameter.
func pathParam(c echo.Context, name string) (string, error) {
	var value string
	err := runtime.BindStyledParameterWithOptions("simple", name, c.Param(name), &value,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter %s: %s", name, err))
	}
	return value, nil
}

// queryParam binds an optional form-style query parameter into dest.
func queryParam(c echo.Context, name string, dest any) error {
	if err := runtime.BindQueryParameter("form", true, false, name, c.QueryParams(), dest); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter %s: %s", name, err))
	}
	return nil
}
