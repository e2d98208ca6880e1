package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"questtab/internal/store"
	"questtab/internal/tracker"
)

func newTestServer(t *testing.T, authToken string) *Server {
	t.Helper()
	s, err := store.Open(context.Background(), t.TempDir(), 90)
	if err != nil {
		t.Fatalf("store.Open() err = %v, want nil", err)
	}
	t.Cleanup(func() { s.DB.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tr := tracker.New(s, logger, time.UTC)

	srv, err := NewServer("127.0.0.1:0", authToken, s, tr, nil, logger, time.UTC)
	if err != nil {
		t.Fatalf("NewServer() err = %v, want nil", err)
	}
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestAccountsEndpoint_CRUD(t *testing.T) {
	srv := newTestServer(t, "")

	rec := doJSON(t, srv, http.MethodPost, "/v1/accounts", map[string]string{
		"nickname": "main", "username": "captain", "password": "secret", "goals": "push-valk",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created accountResponse
	decodeBody(t, rec, &created)
	if created.ID == "" || created.Nickname != "main" {
		t.Fatalf("created = %+v", created)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("secret")) {
		t.Fatal("password leaked into response")
	}
	if len(created.GoalTags) != 1 || created.GoalTags[0] != "push-valk" {
		t.Fatalf("goal_tags = %v, want [push-valk]", created.GoalTags)
	}

	// Duplicate nickname conflicts.
	rec = doJSON(t, srv, http.MethodPost, "/v1/accounts", map[string]string{
		"nickname": "main", "username": "other",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/v1/accounts/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPut, "/v1/accounts/"+created.ID, map[string]string{
		"nickname": "main", "username": "captain", "goals": "push-valk, farm-mats",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body.String())
	}
	var updated accountResponse
	decodeBody(t, rec, &updated)
	if len(updated.GoalTags) != 2 {
		t.Fatalf("goal_tags = %v, want two tags", updated.GoalTags)
	}

	rec = doJSON(t, srv, http.MethodDelete, "/v1/accounts/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodGet, "/v1/accounts/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestTasksEndpoint_Validation(t *testing.T) {
	srv := newTestServer(t, "")

	// Malformed schedule rules are rejected at definition time.
	rec := doJSON(t, srv, http.MethodPost, "/v1/tasks", map[string]any{
		"name":          "broken",
		"tracking_mode": "boolean",
		"schedule_rule": map[string]any{
			"type":   "simple_weekly_reset",
			"config": map[string]int{"day": 9, "hour": 4},
		},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid rule status = %d, want 400", rec.Code)
	}

	// Unknown rule kinds are accepted; they evaluate as never active.
	rec = doJSON(t, srv, http.MethodPost, "/v1/tasks", map[string]any{
		"name":          "mystery",
		"tracking_mode": "boolean",
		"schedule_rule": map[string]any{"type": "lunar_phase", "config": map[string]any{}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("unknown rule status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Referencing a pool that does not exist is rejected.
	rec = doJSON(t, srv, http.MethodPost, "/v1/tasks", map[string]any{
		"name":              "spender",
		"tracking_mode":     "boolean",
		"schedule_rule":     map[string]any{"type": "daily"},
		"consumes_resource": "stamina",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown pool status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/v1/tasks", map[string]any{
		"name":          "nonsense mode",
		"tracking_mode": "telepathy",
		"schedule_rule": map[string]any{"type": "daily"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad mode status = %d, want 400", rec.Code)
	}
}

func TestStatusUpdateEndpoint_EndToEnd(t *testing.T) {
	srv := newTestServer(t, "")

	rec := doJSON(t, srv, http.MethodPost, "/v1/pools", map[string]any{
		"name": "stamina", "max_value": 240, "reset_rule": "daily",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create pool status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodPost, "/v1/accounts", map[string]string{
		"nickname": "main", "username": "captain",
	})
	var account accountResponse
	decodeBody(t, rec, &account)

	rec = doJSON(t, srv, http.MethodPost, "/v1/tasks", map[string]any{
		"name":              "daily stage",
		"tracking_mode":     "counter",
		"schedule_rule":     map[string]any{"type": "daily"},
		"tracking_config":   map[string]any{"goal": 2},
		"consumes_resource": "stamina",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create task status = %d, body %s", rec.Code, rec.Body.String())
	}
	var task taskResponse
	decodeBody(t, rec, &task)

	rec = doJSON(t, srv, http.MethodPost, "/v1/status/update", map[string]any{
		"account_id": account.ID,
		"task_id":    task.ID,
		"progress":   map[string]int{"current": 2},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body.String())
	}
	var update statusUpdateResponse
	decodeBody(t, rec, &update)
	if update.Status != "completed" || update.ResourceDelta != 2 {
		t.Fatalf("update = %+v, want completed with delta 2", update)
	}
	if update.Pool == nil || update.Pool.CurrentValue != 238 {
		t.Fatalf("pool = %+v, want balance 238", update.Pool)
	}

	// The dashboard reflects the committed state.
	rec = doJSON(t, srv, http.MethodGet, "/v1/dashboard", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("dashboard status = %d", rec.Code)
	}
	var boards []tracker.AccountBoard
	decodeBody(t, rec, &boards)
	if len(boards) != 1 || len(boards[0].Tasks) != 1 {
		t.Fatalf("boards = %+v", boards)
	}
	if boards[0].Tasks[0].Status != "completed" {
		t.Fatalf("board task status = %s, want completed", boards[0].Tasks[0].Status)
	}

	// History shows the cycle.
	rec = doJSON(t, srv, http.MethodGet, "/v1/accounts/"+account.ID+"/tasks/"+task.ID+"/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d", rec.Code)
	}
	var history []statusHistoryEntry
	decodeBody(t, rec, &history)
	if len(history) != 1 || history[0].Status != "completed" {
		t.Fatalf("history = %+v", history)
	}
}

func TestStatusUpdateEndpoint_ErrorMapping(t *testing.T) {
	srv := newTestServer(t, "")

	rec := doJSON(t, srv, http.MethodPost, "/v1/accounts", map[string]string{
		"nickname": "main", "username": "captain", "goals": "casual",
	})
	var account accountResponse
	decodeBody(t, rec, &account)

	rec = doJSON(t, srv, http.MethodPost, "/v1/tasks", map[string]any{
		"name":                 "valk stage",
		"tracking_mode":        "boolean",
		"schedule_rule":        map[string]any{"type": "daily"},
		"activation_condition": map[string]string{"type": "goal_dependency", "contains": "push-valk"},
	})
	var task taskResponse
	decodeBody(t, rec, &task)

	// Gated-off task conflicts.
	rec = doJSON(t, srv, http.MethodPost, "/v1/status/update", map[string]any{
		"account_id": account.ID,
		"task_id":    task.ID,
		"progress":   map[string]bool{"completed": true},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("inactive status = %d, want 409", rec.Code)
	}

	// Unknown task is 404.
	rec = doJSON(t, srv, http.MethodPost, "/v1/status/update", map[string]any{
		"account_id": account.ID,
		"task_id":    "ghost",
		"progress":   map[string]bool{"completed": true},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown task status = %d, want 404", rec.Code)
	}

	// Missing progress is 400.
	rec = doJSON(t, srv, http.MethodPost, "/v1/status/update", map[string]any{
		"account_id": account.ID,
		"task_id":    task.ID,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing progress status = %d, want 400", rec.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	srv := newTestServer(t, "sekret")

	req := httptest.NewRequest(http.MethodGet, "/v1/accounts", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/accounts", nil)
	req.Header.Set("Authorization", "Bearer sekret")
	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer status = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/accounts?token=sekret", nil)
	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("query token status = %d, want 200", rec.Code)
	}

	// The static index stays open.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("index status = %d, want 200", rec.Code)
	}
}
