package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"questtab/internal/engine"
	"questtab/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type taskRequest struct {
	Name                string          `json:"name"`
	Category            string          `json:"category"`
	ScheduleRule        json.RawMessage `json:"schedule_rule"`
	TrackingMode        string          `json:"tracking_mode"`
	TrackingConfig      json.RawMessage `json:"tracking_config"`
	ActivationCondition json.RawMessage `json:"activation_condition"`
	ConsumesResource    string          `json:"consumes_resource"`
}

type taskResponse struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	Category            string          `json:"category,omitempty"`
	ScheduleRule        json.RawMessage `json:"schedule_rule"`
	TrackingMode        string          `json:"tracking_mode"`
	TrackingConfig      json.RawMessage `json:"tracking_config"`
	ActivationCondition json.RawMessage `json:"activation_condition,omitempty"`
	ConsumesResource    string          `json:"consumes_resource,omitempty"`
	CreatedAt           string          `json:"created_at"`
	UpdatedAt           string          `json:"updated_at"`
}

// buildTask validates the request payloads and assembles a definition.
// Malformed rule or config JSON is rejected here, at definition time,
// never at evaluation time.
func (s *Server) buildTask(r *http.Request, req *taskRequest) (*engine.TaskDefinition, string) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, "name is required"
	}
	mode := engine.TrackingMode(strings.TrimSpace(req.TrackingMode))
	switch mode {
	case engine.TrackBoolean, engine.TrackCounter, engine.TrackRounds:
	default:
		return nil, "tracking_mode must be boolean, counter or round_based_counter"
	}
	if len(req.ScheduleRule) == 0 {
		return nil, "schedule_rule is required"
	}
	rule, err := engine.DecodeScheduleRule(req.ScheduleRule)
	if err != nil {
		return nil, err.Error()
	}

	trackingRaw := req.TrackingConfig
	if len(trackingRaw) == 0 {
		trackingRaw = json.RawMessage(`{}`)
	}
	tracking, err := engine.DecodeTrackingConfig(trackingRaw, mode)
	if err != nil {
		return nil, err.Error()
	}

	var activation *engine.ActivationCondition
	if len(req.ActivationCondition) > 0 && string(req.ActivationCondition) != "null" {
		activation, err = engine.DecodeActivationCondition(req.ActivationCondition)
		if err != nil {
			return nil, err.Error()
		}
	}

	consumes := strings.TrimSpace(req.ConsumesResource)
	if consumes != "" {
		if _, err := s.store.GetPoolTemplate(r.Context(), consumes); err != nil {
			if errors.Is(err, store.ErrPoolTemplateNotFound) {
				return nil, "consumes_resource references an unknown pool"
			}
			return nil, "failed to check resource pool"
		}
	}

	task := &engine.TaskDefinition{
		Name:             req.Name,
		Category:         strings.TrimSpace(req.Category),
		Schedule:         rule,
		TrackingMode:     mode,
		Tracking:         tracking,
		Activation:       activation,
		ConsumesResource: consumes,
		ScheduleRaw:      req.ScheduleRule,
		TrackingRaw:      trackingRaw,
	}
	if activation != nil {
		task.ActivationRaw = req.ActivationCondition
	}
	return task, ""
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	task, problem := s.buildTask(r, &req)
	if problem != "" {
		writeError(w, http.StatusBadRequest, "invalid_input", problem)
		return
	}
	task.ID = uuid.NewString()

	if err := s.store.InsertTask(r.Context(), task); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, http.StatusConflict, "duplicate", "task name already in use")
			return
		}
		s.logger.Error("insert task", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to insert task")
		return
	}
	s.cache.Invalidate(r.Context())
	writeJSON(w, http.StatusCreated, taskToResponse(task))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTasks(r.Context())
	if err != nil {
		s.logger.Error("list tasks", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list tasks")
		return
	}
	res := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		res = append(res, taskToResponse(t))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	task, err := s.store.GetTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
		} else {
			s.logger.Error("get task", "task_id", taskID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load task")
		}
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(task))
}

// handleUpdateTask is a full redefinition: task templates are immutable
// except through explicit replacement, so PUT revalidates everything.
func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	existing, err := s.store.GetTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
		} else {
			s.logger.Error("get task for update", "task_id", taskID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load task")
		}
		return
	}

	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	task, problem := s.buildTask(r, &req)
	if problem != "" {
		writeError(w, http.StatusBadRequest, "invalid_input", problem)
		return
	}
	task.ID = existing.ID
	task.CreatedAt = existing.CreatedAt

	if err := s.store.UpdateTask(r.Context(), task); err != nil {
		switch {
		case errors.Is(err, store.ErrTaskNotFound):
			writeError(w, http.StatusNotFound, "not_found", "task not found")
		case errors.Is(err, store.ErrDuplicate):
			writeError(w, http.StatusConflict, "duplicate", "task name already in use")
		default:
			s.logger.Error("update task", "task_id", taskID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to update task")
		}
		return
	}
	s.cache.Invalidate(r.Context())
	writeJSON(w, http.StatusOK, taskToResponse(task))
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if err := s.store.DeleteTask(r.Context(), taskID); err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
		} else {
			s.logger.Error("delete task", "task_id", taskID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete task")
		}
		return
	}
	s.cache.Invalidate(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func taskToResponse(task *engine.TaskDefinition) taskResponse {
	return taskResponse{
		ID:                  task.ID,
		Name:                task.Name,
		Category:            task.Category,
		ScheduleRule:        task.ScheduleRaw,
		TrackingMode:        string(task.TrackingMode),
		TrackingConfig:      task.TrackingRaw,
		ActivationCondition: task.ActivationRaw,
		ConsumesResource:    task.ConsumesResource,
		CreatedAt:           task.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:           task.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
