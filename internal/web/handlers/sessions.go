package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/camflow/internal/database"
	"github.com/kozaktomas/camflow/internal/logger"
	"github.com/kozaktomas/camflow/internal/sessionlog"
	"go.uber.org/zap"
)

// SessionsHandler handles the delivered session history
type SessionsHandler struct {
	log *sessionlog.Log
}

// NewSessionsHandler creates a new sessions handler
func NewSessionsHandler(log *sessionlog.Log) *SessionsHandler {
	return &SessionsHandler{log: log}
}

// List returns all sessions, newest first
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.log.List(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("listing sessions failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	respondJSON(w, http.StatusOK, sessions)
}

// Get returns one session
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.log.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		logger.FromContext(r.Context()).Error("reading session failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to read session")
		return
	}
	respondJSON(w, http.StatusOK, s)
}

// Delete removes one session
func (h *SessionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.log.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		logger.FromContext(r.Context()).Error("deleting session failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteAll clears the history
func (h *SessionsHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.log.DeleteAll(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("clearing sessions failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to delete sessions")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"deleted": n})
}
