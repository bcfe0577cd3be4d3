package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/vurakit/lexveil/internal/history"
)

const defaultHistoryLimit = 50

// HistoryResponse is the JSON response for GET /v1/history
type HistoryResponse struct {
	Records []history.Record `json:"records"`
}

func (s *Server) requireHistory(w http.ResponseWriter) bool {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history_disabled", "processing history is not enabled")
		return false
	}
	return true
}

func (s *Server) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}

	limit := int64(defaultHistoryLimit)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.history.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("history list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "history_error", "cannot read history")
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Records: records})
}

func (s *Server) handleHistoryGet(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}

	rec, err := s.history.Get(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "history record not found")
		return
	}
	if err != nil {
		s.logger.Error("history get failed", "error", err)
		writeError(w, http.StatusInternalServerError, "history_error", "cannot read history")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleHistoryDelete(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}

	err := s.history.Delete(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "history record not found")
		return
	}
	if err != nil {
		s.logger.Error("history delete failed", "error", err)
		writeError(w, http.StatusInternalServerError, "history_error", "cannot delete history record")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
