package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"admissions-workflow/backend/internal/logging"
	"admissions-workflow/backend/pkg/models"

	"github.com/labstack/echo/v4"
)

// Version is reported by the health endpoint.
var Version = "dev"

// Pinger checks a dependency for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the health endpoint.
type Handler struct {
	store Pinger
}

// NewHandler creates a new Handler with required dependencies
func NewHandler(store Pinger) *Handler {
	return &Handler{store: store}
}

// HandleHealth reports service health. It answers 503 when the store is
// unreachable.
// (GET /health)
func (h *Handler) HandleHealth(c echo.Context) error {
	status := models.HealthStatus{
		Status:    "ok",
		Service:   "admissions-workflow",
		Version:   Version,
		Timestamp: time.Now().UTC(),
		Checks:    map[string]string{},
	}
	code := http.StatusOK
	if h.store != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			status.Status = "degraded"
			status.Checks["store"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			status.Checks["store"] = "ok"
		}
	}
	return c.JSON(code, status)
}

// problemFor maps an error to an RFC 7807 Problem Details body.
func problemFor(err error) models.ProblemDetails {
	p := models.ProblemDetails{Type: "about:blank", Detail: err.Error()}

	var he *echo.HTTPError
	var failed *models.ValidationFailedError
	switch {
	case errors.As(err, &he):
		p.Status = he.Code
		p.Detail = fmt.Sprint(he.Message)
	case errors.Is(err, models.ErrNotFound):
		p.Status = http.StatusNotFound
	case errors.Is(err, models.ErrInvalidTransition):
		p.Status = http.StatusConflict
	case errors.Is(err, models.ErrConditionNotMet):
		p.Status = http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrInvalidSpec):
		p.Status = http.StatusBadRequest
	case errors.As(err, &failed):
		p.Status = http.StatusUnprocessableEntity
		p.Issues = failed.Result.Errors
	case errors.Is(err, models.ErrPersistence):
		p.Status = http.StatusInternalServerError
		p.Detail = "the operation failed and was rolled back"
	default:
		p.Status = http.StatusInternalServerError
		p.Detail = "internal error"
	}
	p.Title = http.StatusText(p.Status)
	return p
}

// ErrorHandler renders every handler error as application/problem+json.
func ErrorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		problem := problemFor(err)
		problem.Instance = c.Request().URL.Path
		if problem.Status >= http.StatusInternalServerError {
			logger.Error("request failed", "method", c.Request().Method, "path", problem.Instance, "error", err)
		}

		c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(problem.Status)
		} else {
			err = c.JSON(problem.Status, problem)
		}
		if err != nil {
			logger.Error("failed to write error response", "error", err)
		}
	}
}
