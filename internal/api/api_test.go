package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"admissions-workflow/backend/internal/auth"
	"admissions-workflow/backend/internal/history"
	"admissions-workflow/backend/internal/logging"
	"admissions-workflow/backend/internal/repository"
	"admissions-workflow/backend/internal/services"
	"admissions-workflow/backend/pkg/models"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var officer = &auth.Principal{
	Subject:     "officer-1",
	Email:       "officer@college.edu",
	Permissions: []string{auth.ScopeWorkflowRead, auth.ScopeWorkflowWrite, "applications.advance"},
}

func newTestServer(t *testing.T, principal *auth.Principal) *echo.Echo {
	t.Helper()
	store := repository.NewMemoryStore()
	logger := logging.NewNop()
	repo := repository.NewGraphRepository(store, logger)
	recorder := history.NewStoreRecorder(store)
	engine := services.NewTransitionEngine(repo, recorder, logger, nil)
	workflows := services.NewWorkflowService(repo, logger, nil)

	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(logger)
	g := e.Group("/api/v1")
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if principal != nil {
				c.SetRequest(c.Request().WithContext(auth.WithPrincipal(c.Request().Context(), principal)))
			}
			return next(c)
		}
	})
	RegisterHandlers(g, NewServer(repo, workflows, engine, recorder, logger), NewHandler(store))
	return e
}

func do(t *testing.T, e *echo.Echo, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func admissionsSpec() models.WorkflowSpec {
	return models.WorkflowSpec{
		Name:            "Undergraduate 2027",
		ApplicationType: models.ApplicationTypeUndergraduate,
		Stages: []models.StageSpec{
			{Ref: "submitted", Name: "Submitted", Sequence: 1},
			{Ref: "review", Name: "Review", Sequence: 2},
			{Ref: "decision", Name: "Decision", Sequence: 3},
		},
		Transitions: []models.TransitionSpec{
			{
				Source: "submitted", Target: "review", Name: "Start review",
				Conditions: []models.Condition{
					{Field: "documents_verified", Operator: models.OpEquals, Value: models.BoolValue(true)},
				},
				RequiredPermissions: []string{"applications.advance"},
			},
			{
				Source: "review", Target: "decision", Name: "Auto decide", IsAutomatic: true, Priority: 1,
				Conditions: []models.Condition{
					{Field: "$.scores.gpa", Operator: models.OpGreaterThanOrEquals, Value: models.NumberValue(3.5)},
				},
			},
		},
	}
}

func createWorkflow(t *testing.T, e *echo.Echo, spec models.WorkflowSpec) *models.WorkflowGraph {
	t.Helper()
	rec := do(t, e, http.MethodPost, "/api/v1/workflows", spec)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	g := decode[models.WorkflowGraph](t, rec)
	return &g
}

func TestWorkflowCRUD(t *testing.T) {
	e := newTestServer(t, officer)

	g := createWorkflow(t, e, admissionsSpec())
	assert.Equal(t, "officer@college.edu", g.CreatedBy)
	require.Len(t, g.Stages, 3)
	require.Len(t, g.Transitions, 2)

	rec := do(t, e, http.MethodGet, "/api/v1/workflows/"+g.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[models.WorkflowGraph](t, rec)
	assert.Equal(t, g.ID, got.ID)
	assert.Equal(t, models.NumberValue(3.5), got.Transitions[1].Conditions[0].Value)

	spec := models.SpecFromGraph(g)
	spec.Stages = spec.Stages[:2]
	rec = do(t, e, http.MethodPut, "/api/v1/workflows/"+g.ID, spec)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[models.WorkflowGraph](t, rec)
	assert.Len(t, updated.Stages, 2)
	assert.Len(t, updated.Transitions, 1)

	rec = do(t, e, http.MethodPost, "/api/v1/workflows/"+g.ID+"/duplicate", DuplicateWorkflowRequest{Name: "Copy"})
	require.Equal(t, http.StatusCreated, rec.Code)
	dup := decode[models.WorkflowGraph](t, rec)
	assert.Equal(t, "Copy", dup.Name)
	assert.NotEqual(t, g.ID, dup.ID)

	rec = do(t, e, http.MethodGet, "/api/v1/workflows/types/undergraduate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.WorkflowGraph](t, rec), 2)

	rec = do(t, e, http.MethodDelete, "/api/v1/workflows/"+g.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, e, http.MethodGet, "/api/v1/workflows/"+g.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get(echo.HeaderContentType))
	problem := decode[models.ProblemDetails](t, rec)
	assert.Equal(t, http.StatusNotFound, problem.Status)
	assert.Equal(t, "/api/v1/workflows/"+g.ID, problem.Instance)
}

func TestListWorkflows_Filters(t *testing.T) {
	e := newTestServer(t, officer)
	createWorkflow(t, e, admissionsSpec())
	grad := admissionsSpec()
	grad.Name = "Graduate 2027"
	grad.ApplicationType = models.ApplicationTypeGraduate
	createWorkflow(t, e, grad)

	rec := do(t, e, http.MethodGet, "/api/v1/workflows?application_type=graduate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]models.WorkflowGraph](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "Graduate 2027", list[0].Name)

	rec = do(t, e, http.MethodGet, "/api/v1/workflows?limit=1&offset=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.WorkflowGraph](t, rec), 1)

	rec = do(t, e, http.MethodGet, "/api/v1/workflows?active=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]models.WorkflowGraph](t, rec))

	for _, bad := range []string{"limit=abc", "active=maybe", "application_type=doctoral", "offset=-1"} {
		rec = do(t, e, http.MethodGet, "/api/v1/workflows?"+bad, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestCreateWorkflow_InvalidSpec(t *testing.T) {
	e := newTestServer(t, officer)
	spec := admissionsSpec()
	spec.Transitions[0].Target = "nowhere"

	rec := do(t, e, http.MethodPost, "/api/v1/workflows", spec)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	problem := decode[models.ProblemDetails](t, rec)
	assert.Contains(t, problem.Detail, "nowhere")
}

func TestValidationAndActivation(t *testing.T) {
	e := newTestServer(t, officer)
	spec := admissionsSpec()
	spec.Transitions = nil
	broken := createWorkflow(t, e, spec)

	rec := do(t, e, http.MethodGet, "/api/v1/workflows/"+broken.ID+"/validation", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[models.ValidationResult](t, rec)
	assert.False(t, res.IsValid)
	assert.Equal(t, models.CodeMissingTransitions, res.Errors[0].Code)

	rec = do(t, e, http.MethodPost, "/api/v1/workflows/"+broken.ID+"/activate", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	problem := decode[models.ProblemDetails](t, rec)
	require.NotEmpty(t, problem.Issues)
	assert.Equal(t, models.CodeMissingTransitions, problem.Issues[0].Code)

	// is_active on create goes through the same check
	active := true
	spec.IsActive = &active
	spec.Name = "Broken but active"
	rec = do(t, e, http.MethodPost, "/api/v1/workflows", spec)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	good :=createWorkflow(t, e, admissionsSpec())
	rec = do(t, e, http.MethodPost, "/api/v1/workflows/"+good.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[models.WorkflowGraph](t, rec).IsActive)

	rec = do(t, e, http.MethodPost, "/api/v1/workflows/"+good.ID+"/deactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[models.WorkflowGraph](t, rec).IsActive)
}

func TestTransitions(t *testing.T) {
	e := newTestServer(t, officer)
	g := createWorkflow(t, e, admissionsSpec())
	submitted, review, decision := g.Stages[0].ID, g.Stages[1].ID, g.Stages[2].ID
	manual := g.Transitions[0].ID

	rec := do(t, e, http.MethodGet, "/api/v1/stages/"+submitted+"/transitions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.Transition](t, rec), 1)

	rec = do(t, e, http.MethodPost, "/api/v1/stages/"+submitted+"/transitions/valid",
		EvaluateRequest{Data: models.ApplicationData{"documents_verified": false}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]models.Transition](t, rec))

	// wrong stage
	rec = do(t, e, http.MethodPost, "/api/v1/applications/app-1/transitions", ManualTransitionRequest{
		CurrentStageID: review, TransitionID: manual, Data: models.ApplicationData{"documents_verified": true},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// unmet condition
	rec = do(t, e, http.MethodPost, "/api/v1/applications/app-1/transitions", ManualTransitionRequest{
		CurrentStageID: submitted, TransitionID: manual, Data: models.ApplicationData{},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, e, http.MethodPost, "/api/v1/applications/app-1/transitions", ManualTransitionRequest{
		CurrentStageID: submitted, TransitionID: manual, Data: models.ApplicationData{"documents_verified": true},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, review, decode[models.TransitionResult](t, rec).NewStageID)

	// automatic: nested gpa too low, then high enough
	rec = do(t, e, http.MethodPost, "/api/v1/applications/app-1/transitions/automatic", AutomaticTransitionRequest{
		CurrentStageID: review, Data: models.ApplicationData{"scores": map[string]any{"gpa": 3.1}},
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, e, http.MethodPost, "/api/v1/applications/app-1/transitions/automatic", AutomaticTransitionRequest{
		CurrentStageID: review, Data: models.ApplicationData{"scores": map[string]any{"gpa": 3.8}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, decision, decode[models.TransitionResult](t, rec).NewStageID)

	rec = do(t, e, http.MethodGet, "/api/v1/applications/app-1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	records := decode[[]models.TransitionRecord](t, rec)
	require.Len(t, records, 2)
	assert.Equal(t, "officer@college.edu", records[0].Actor)
	assert.False(t, records[0].Automatic)
	assert.True(t, records[1].Automatic)

	rec = do(t, e, http.MethodGet, "/api/v1/applications/unknown/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestPermissions(t *testing.T) {
	reader := &auth.Principal{Subject: "viewer", Permissions: []string{auth.ScopeWorkflowRead}}
	e := newTestServer(t, reader)

	rec := do(t, e, http.MethodPost, "/api/v1/workflows", admissionsSpec())
	assert.Equal(t, http.StatusForbidden, rec.Code)
	problem := decode[models.ProblemDetails](t, rec)
	assert.Contains(t, problem.Detail, auth.ScopeWorkflowWrite)

	rec = do(t, e, http.MethodGet, "/api/v1/workflows", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	anonymous := newTestServer(t, nil)
	rec = do(t, anonymous, http.MethodGet, "/api/v1/workflows", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestManualTransition_RequiresTransitionPermissions(t *testing.T) {
	clerk := &auth.Principal{Subject: "clerk", Permissions: []string{auth.ScopeWorkflowRead, auth.ScopeWorkflowWrite}}
	e := newTestServer(t, clerk)
	g := createWorkflow(t, e, admissionsSpec())

	rec := do(t, e, http.MethodPost, "/api/v1/applications/app-1/transitions", ManualTransitionRequest{
		CurrentStageID: g.Stages[0].ID, TransitionID: g.Transitions[0].ID,
		Data: models.ApplicationData{"documents_verified": true},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, decode[models.ProblemDetails](t, rec).Detail, "applications.advance")

	rec = do(t, e, http.MethodGet, "/api/v1/applications/app-1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]models.TransitionRecord](t, rec))
}

func TestExportImport(t *testing.T) {
	e := newTestServer(t, officer)
	g := createWorkflow(t, e, admissionsSpec())

	rec := do(t, e, http.MethodGet, "/api/v1/workflows/"+g.ID+"/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get(echo.HeaderContentType))
	body := rec.Body.String()
	assert.Contains(t, body, "name: Undergraduate 2027")
	assert.Contains(t, body, "key: review")

	renamed := strings.Replace(body, "name: Undergraduate 2027", "name: Undergraduate 2028", 1)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/workflows/import", strings.NewReader(renamed))
	req.Header.Set(echo.HeaderContentType, "application/yaml")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	imported := decode[models.WorkflowGraph](t, rec)
	assert.Equal(t, "Undergraduate 2028", imported.Name)
	assert.Len(t, imported.Stages, 3)
	assert.Len(t, imported.Transitions, 2)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/workflows/import", strings.NewReader("name: nope"))
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	e := newTestServer(t, nil)
	rec := do(t, e, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[models.HealthStatus](t, rec)
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "ok", status.Checks["store"])
}
