package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Harsh-BH/appjob/internal/dispatcher"
	"github.com/Harsh-BH/appjob/internal/domain"
	"github.com/Harsh-BH/appjob/internal/engine"
	"github.com/Harsh-BH/appjob/internal/jobs"
	"github.com/Harsh-BH/appjob/internal/mock"
	repomock "github.com/Harsh-BH/appjob/internal/repository/mock"
	"github.com/Harsh-BH/appjob/internal/usecase"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupTestRouter(t *testing.T, checks map[string]HealthCheck, opts ...usecase.ServiceOption) (*gin.Engine, *dispatcher.Dispatcher) {
	t.Helper()
	logger := zap.NewNop()

	d := dispatcher.New(logger)
	if err := d.RegisterEngine("pool", engine.NewPool("pool", 2, 8, logger)); err != nil {
		t.Fatalf("register pool: %v", err)
	}
	if err := d.RegisterEngine("scheduler", engine.NewScheduler("scheduler", logger)); err != nil {
		t.Fatalf("register scheduler: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	})

	svc := usecase.NewJobService(d, jobs.DefaultCatalog(), &mock.Listener{}, logger, opts...)
	return NewRouter(svc, checks, logger, 0), d
}

func do(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type jobResponse struct {
	ID     int64  `json:"id"`
	Engine string `json:"engine"`
	State  string `json:"state"`
	Result any    `json:"result"`
	Error  string `json:"error"`
}

func decodeJob(t *testing.T, w *httptest.ResponseRecorder) jobResponse {
	t.Helper()
	var resp jobResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v (%s)", err, w.Body.String())
	}
	return resp
}

func TestStartHandler_Foreground(t *testing.T) {
	router, _ := setupTestRouter(t, nil)

	w := do(router, http.MethodPost, "/api/v1/jobs", map[string]any{
		"kind":       "primes",
		"params":     map[string]any{"limit": 30},
		"foreground": true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeJob(t, w)
	if resp.State != "COMPLETED" {
		t.Errorf("expected COMPLETED, got %s", resp.State)
	}
	if resp.ID <= 0 {
		t.Errorf("expected a job id, got %d", resp.ID)
	}
}

func TestStartHandler_Background(t *testing.T) {
	router, _ := setupTestRouter(t, nil)

	w := do(router, http.MethodPost, "/api/v1/jobs", map[string]any{"kind": "countdown"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeJob(t, w)
	if resp.Engine != "scheduler" {
		t.Errorf("expected scheduler, got %s", resp.Engine)
	}

	w = do(router, http.MethodGet, "/api/v1/jobs/"+strconv.FormatInt(resp.ID, 10), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

func TestStartHandler_BadRequests(t *testing.T) {
	router, _ := setupTestRouter(t, nil)

	tests := []struct {
		name string
		body any
	}{
		{"missing kind", map[string]any{}},
		{"unknown kind", map[string]any{"kind": "nope"}},
		{"bad params", map[string]any{"kind": "primes", "params": map[string]any{"limit": 1}}},
		{"unknown engine", map[string]any{"kind": "primes", "engine": "gpu"}},
		{"locking disabled", map[string]any{"kind": "primes", "resource": "db"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := do(router, http.MethodPost, "/api/v1/jobs", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestStartHandler_InvalidJSON(t *testing.T) {
	router, _ := setupTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewBufferString("not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestStartHandler_DuplicateRequest(t *testing.T) {
	store := &repomock.IdempotencyStore{}
	router, _ := setupTestRouter(t, nil, usecase.WithIdempotency(store))

	body := map[string]any{"kind": "primes", "params": map[string]any{"limit": 10}, "foreground": true}
	req := func() *httptest.ResponseRecorder {
		var buf bytes.Buffer
		_ = json.NewEncoder(&buf).Encode(body)
		r := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", &buf)
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("Idempotency-Key", "req-1")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)
		return w
	}

	if w := req(); w.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w.Code)
	}
	if w := req(); w.Code != http.StatusConflict {
		t.Errorf("second request: expected 409, got %d", w.Code)
	}
}

func TestGetByIDHandler_Errors(t *testing.T) {
	router, _ := setupTestRouter(t, nil)

	if w := do(router, http.MethodGet, "/api/v1/jobs/not-a-number", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
	if w := do(router, http.MethodGet, "/api/v1/jobs/999", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestActions_OnTerminalJob(t *testing.T) {
	router, _ := setupTestRouter(t, nil)

	w := do(router, http.MethodPost, "/api/v1/jobs", map[string]any{
		"kind": "primes", "params": map[string]any{"limit": 10}, "foreground": true,
	})
	id := strconv.FormatInt(decodeJob(t, w).ID, 10)

	if w := do(router, http.MethodPost, "/api/v1/jobs/"+id+"/cancel", nil); w.Code != http.StatusConflict {
		t.Errorf("cancel terminal: expected 409, got %d", w.Code)
	}
	if w := do(router, http.MethodPost, "/api/v1/jobs/"+id+"/suspend", nil); w.Code != http.StatusConflict {
		t.Errorf("suspend terminal: expected 409, got %d", w.Code)
	}
	if w := do(router, http.MethodDelete, "/api/v1/jobs/"+id, nil); w.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", w.Code)
	}
	if w := do(router, http.MethodGet, "/api/v1/jobs/"+id, nil); w.Code != http.StatusNotFound {
		t.Errorf("get deleted: expected 404, got %d", w.Code)
	}
}

func TestActions_SuspendResumeCancel(t *testing.T) {
	router, d := setupTestRouter(t, nil)

	w := do(router, http.MethodPost, "/api/v1/jobs", map[string]any{
		"kind":   "countdown",
		"params": map[string]any{"steps": 100, "period": "1h"},
	})
	resp := decodeJob(t, w)
	id := strconv.FormatInt(resp.ID, 10)

	// Unstarted scheduler jobs cannot be suspended.
	if w := do(router, http.MethodPost, "/api/v1/jobs/"+id+"/suspend", nil); w.Code != http.StatusConflict {
		t.Errorf("suspend unstarted: expected 409, got %d", w.Code)
	}

	if w := do(router, http.MethodPost, "/api/v1/jobs/"+id+"/cancel", nil); w.Code != http.StatusNoContent {
		t.Fatalf("cancel: expected 204, got %d", w.Code)
	}
	state, err := d.GetJobState(domain.JobID(resp.ID))
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state != domain.StateCanceled {
		t.Errorf("expected CANCELED, got %s", state)
	}
}

func TestListAndCatalog(t *testing.T) {
	router, _ := setupTestRouter(t, nil)
	do(router, http.MethodPost, "/api/v1/jobs", map[string]any{"kind": "countdown"})

	w := do(router, http.MethodGet, "/api/v1/jobs", nil)
	var list struct {
		Jobs []jobResponse `json:"jobs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("parse list: %v", err)
	}
	if len(list.Jobs) != 1 {
		t.Errorf("expected 1 job, got %d", len(list.Jobs))
	}

	w = do(router, http.MethodGet, "/api/v1/engines", nil)
	var engines struct {
		Engines []string `json:"engines"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &engines)
	if len(engines.Engines) != 2 || engines.Engines[0] != "pool" {
		t.Errorf("unexpected engines: %v", engines.Engines)
	}

	w = do(router, http.MethodGet, "/api/v1/kinds", nil)
	var kinds struct {
		Kinds []string `json:"kinds"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &kinds)
	if len(kinds.Kinds) != 2 {
		t.Errorf("unexpected kinds: %v", kinds.Kinds)
	}
}

func TestHistoryHandler(t *testing.T) {
	router, _ := setupTestRouter(t, nil)
	if w := do(router, http.MethodGet, "/api/v1/jobs/1/history", nil); w.Code != http.StatusNotImplemented {
		t.Errorf("expected 501 without history store, got %d", w.Code)
	}

	repo := &repomock.TransitionRepository{}
	_ = repo.Record(context.Background(), domain.Transition{JobID: 7, State: domain.StateRunning})
	router, _ = setupTestRouter(t, nil, usecase.WithHistory(repo))

	w := do(router, http.MethodGet, "/api/v1/jobs/7/history", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Transitions []domain.Transition `json:"transitions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse history: %v", err)
	}
	if len(resp.Transitions) != 1 || resp.Transitions[0].State != domain.StateRunning {
		t.Errorf("unexpected history: %+v", resp.Transitions)
	}
}

func TestHealthHandler(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	router, _ := setupTestRouter(t, map[string]HealthCheck{"redis": ok})
	if w := do(router, http.MethodGet, "/api/v1/health", nil); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	router, _ = setupTestRouter(t, map[string]HealthCheck{"redis": ok, "postgres": down})
	w := do(router, http.MethodGet, "/api/v1/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != "degraded" {
		t.Errorf("expected degraded, got %v", resp["status"])
	}
}
