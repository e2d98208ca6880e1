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
)

type poolTemplateRequest struct {
	Name      string `json:"name"`
	MaxValue  int    `json:"max_value"`
	ResetRule string `json:"reset_rule"`
}

type poolTemplateResponse struct {
	Name      string `json:"name"`
	MaxValue  int    `json:"max_value"`
	ResetRule string `json:"reset_rule"`
	CreatedAt string `json:"created_at"`
}

func (s *Server) handleCreatePoolTemplate(w http.ResponseWriter, r *http.Request) {
	var req poolTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "name is required")
		return
	}
	if req.MaxValue < 1 {
		writeError(w, http.StatusBadRequest, "invalid_input", "max_value must be at least 1")
		return
	}
	rule := engine.ResetRule(req.ResetRule)
	if rule != engine.ResetDaily && rule != engine.ResetWeekly {
		writeError(w, http.StatusBadRequest, "invalid_input", "reset_rule must be daily or weekly")
		return
	}

	tpl := &engine.PoolTemplate{Name: req.Name, MaxValue: req.MaxValue, Reset: rule}
	if err := s.store.InsertPoolTemplate(r.Context(), tpl); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, http.StatusConflict, "duplicate", "pool name already in use")
			return
		}
		s.logger.Error("insert pool template", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to insert pool template")
		return
	}
	writeJSON(w, http.StatusCreated, poolTemplateToResponse(tpl))
}

func (s *Server) handleListPoolTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.store.ListPoolTemplates(r.Context())
	if err != nil {
		s.logger.Error("list pool templates", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list pool templates")
		return
	}
	res := make([]poolTemplateResponse, 0, len(templates))
	for _, tpl := range templates {
		res = append(res, poolTemplateToResponse(tpl))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAccountPools(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	if _, err := s.store.GetAccount(r.Context(), accountID); err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "account not found")
		} else {
			s.logger.Error("get account for pools", "account_id", accountID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load account")
		}
		return
	}
	pools, err := s.tracker.AccountPools(r.Context(), accountID, time.Now())
	if err != nil {
		s.logger.Error("account pools", "account_id", accountID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load pools")
		return
	}
	writeJSON(w, http.StatusOK, pools)
}

func poolTemplateToResponse(tpl *engine.PoolTemplate) poolTemplateResponse {
	return poolTemplateResponse{
		Name:      tpl.Name,
		MaxValue:  tpl.MaxValue,
		ResetRule: string(tpl.Reset),
		CreatedAt: tpl.CreatedAt.UTC().Format(time.RFC3339),
	}
}
