package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"questtab/internal/engine"
	"questtab/internal/store"
	"questtab/internal/tracker"

	"github.com/go-chi/chi/v5"
)

type statusUpdateRequest struct {
	AccountID string          `json:"account_id"`
	TaskID    string          `json:"task_id"`
	Progress  json.RawMessage `json:"progress"`
}

type statusUpdateResponse struct {
	AccountID     string            `json:"account_id"`
	TaskID        string            `json:"task_id"`
	PeriodKey     string            `json:"period_key"`
	Status        engine.Status     `json:"status"`
	Progress      json.RawMessage   `json:"progress"`
	ResourceDelta int               `json:"resource_delta"`
	Pool          *tracker.PoolView `json:"pool,omitempty"`
}

type statusHistoryEntry struct {
	PeriodKey string          `json:"period_key"`
	Status    engine.Status   `json:"status"`
	Progress  json.RawMessage `json:"progress"`
	UpdatedAt string          `json:"updated_at"`
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if payload, ok := s.cache.Get(r.Context()); ok {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(payload)
		return
	}

	boards, err := s.tracker.Dashboard(r.Context(), time.Now())
	if err != nil {
		s.logger.Error("dashboard", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to assemble dashboard")
		return
	}
	payload, err := json.Marshal(boards)
	if err != nil {
		s.logger.Error("encode dashboard", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to encode dashboard")
		return
	}
	s.cache.Set(r.Context(), payload)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

func (s *Server) handleStatusUpdate(w http.ResponseWriter, r *http.Request) {
	var req statusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if req.AccountID == "" || req.TaskID == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "account_id and task_id are required")
		return
	}
	if len(req.Progress) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_input", "progress is required")
		return
	}

	outcome, err := s.tracker.ApplyUpdate(r.Context(), req.AccountID, req.TaskID, req.Progress, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, store.ErrTaskNotFound):
			writeError(w, http.StatusNotFound, "not_found", "task not found")
		case errors.Is(err, store.ErrAccountNotFound):
			writeError(w, http.StatusNotFound, "not_found", "account not found")
		case errors.Is(err, tracker.ErrTaskInactive):
			writeError(w, http.StatusConflict, "task_inactive", "task is not in an active cycle")
		case errors.Is(err, tracker.ErrInvalidProgress):
			writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		default:
			s.logger.Error("apply status update",
				"account_id", req.AccountID, "task_id", req.TaskID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to apply update")
		}
		return
	}

	s.cache.Invalidate(r.Context())

	res := statusUpdateResponse{
		AccountID:     outcome.Key.AccountID,
		TaskID:        outcome.Key.TaskID,
		PeriodKey:     outcome.Key.PeriodKey,
		Status:        outcome.Status,
		Progress:      outcome.Progress,
		ResourceDelta: outcome.ResourceDelta,
	}
	if outcome.Pool != nil {
		res.Pool = &tracker.PoolView{
			Resource:        outcome.Pool.Key.Resource,
			CurrentValue:    outcome.Pool.CurrentValue,
			MaxValue:        outcome.Pool.MaxValue,
			ResetRule:       string(outcome.Pool.Reset),
			LastResetPeriod: outcome.Pool.LastResetPeriod,
		}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStatusHistory(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	taskID := chi.URLParam(r, "taskID")
	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)

	records, err := s.tracker.History(r.Context(), accountID, taskID, limit, offset)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrAccountNotFound):
			writeError(w, http.StatusNotFound, "not_found", "account not found")
		case errors.Is(err, store.ErrTaskNotFound):
			writeError(w, http.StatusNotFound, "not_found", "task not found")
		default:
			s.logger.Error("status history",
				"account_id", accountID, "task_id", taskID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to list history")
		}
		return
	}

	res := make([]statusHistoryEntry, 0, len(records))
	for _, rec := range records {
		res = append(res, statusHistoryEntry{
			PeriodKey: rec.Key.PeriodKey,
			Status:    rec.Status,
			Progress:  rec.Progress,
			UpdatedAt: rec.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, res)
}
