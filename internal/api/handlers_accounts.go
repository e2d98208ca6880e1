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

type accountRequest struct {
	Nickname string `json:"nickname"`
	Username string `json:"username"`
	Password string `json:"password"`
	Goals    string `json:"goals"`
}

// Password is write-only; responses never echo it.
type accountResponse struct {
	ID        string   `json:"id"`
	Nickname  string   `json:"nickname"`
	Username  string   `json:"username"`
	Goals     string   `json:"goals"`
	GoalTags  []string `json:"goal_tags"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.Nickname = strings.TrimSpace(req.Nickname)
	req.Username = strings.TrimSpace(req.Username)
	if req.Nickname == "" || req.Username == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "nickname and username are required")
		return
	}

	account := &engine.Account{
		ID:       uuid.NewString(),
		Nickname: req.Nickname,
		Username: req.Username,
		Password: req.Password,
		Goals:    req.Goals,
	}
	if err := s.store.InsertAccount(r.Context(), account); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, http.StatusConflict, "duplicate", "nickname already in use")
			return
		}
		s.logger.Error("insert account", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to insert account")
		return
	}
	s.cache.Invalidate(r.Context())
	writeJSON(w, http.StatusCreated, accountToResponse(account))
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.ListAccounts(r.Context())
	if err != nil {
		s.logger.Error("list accounts", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list accounts")
		return
	}
	res := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		res = append(res, accountToResponse(a))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	account, err := s.store.GetAccount(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "account not found")
		} else {
			s.logger.Error("get account", "account_id", accountID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load account")
		}
		return
	}
	writeJSON(w, http.StatusOK, accountToResponse(account))
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	account, err := s.store.GetAccount(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "account not found")
		} else {
			s.logger.Error("get account for update", "account_id", accountID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load account")
		}
		return
	}

	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.Nickname = strings.TrimSpace(req.Nickname)
	req.Username = strings.TrimSpace(req.Username)
	if req.Nickname == "" || req.Username == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "nickname and username are required")
		return
	}

	account.Nickname = req.Nickname
	account.Username = req.Username
	account.Password = req.Password
	account.Goals = req.Goals

	if err := s.store.UpdateAccount(r.Context(), account); err != nil {
		switch {
		case errors.Is(err, store.ErrAccountNotFound):
			writeError(w, http.StatusNotFound, "not_found", "account not found")
		case errors.Is(err, store.ErrDuplicate):
			writeError(w, http.StatusConflict, "duplicate", "nickname already in use")
		default:
			s.logger.Error("update account", "account_id", accountID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to update account")
		}
		return
	}
	// Goal tags gate activation and overrides, so the board may change.
	s.cache.Invalidate(r.Context())
	writeJSON(w, http.StatusOK, accountToResponse(account))
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	if err := s.store.DeleteAccount(r.Context(), accountID); err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "account not found")
		} else {
			s.logger.Error("delete account", "account_id", accountID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete account")
		}
		return
	}
	s.cache.Invalidate(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func accountToResponse(account *engine.Account) accountResponse {
	tags := account.GoalTags()
	if tags == nil {
		tags = []string{}
	}
	return accountResponse{
		ID:        account.ID,
		Nickname:  account.Nickname,
		Username:  account.Username,
		Goals:     account.Goals,
		GoalTags:  tags,
		CreatedAt: account.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: account.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
