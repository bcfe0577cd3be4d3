// Package server exposes detection, anonymization, document upload and
// processing history over HTTP.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/vurakit/lexveil/internal/auth"
	"github.com/vurakit/lexveil/internal/extract"
	"github.com/vurakit/lexveil/internal/history"
	"github.com/vurakit/lexveil/internal/logging"
	"github.com/vurakit/lexveil/internal/processor"
	"github.com/vurakit/lexveil/internal/webhook"
)

// MaxBodySize caps JSON request bodies (10MB)
const MaxBodySize = 10 * 1024 * 1024

// Option configures the Server
type Option func(*Server)

// WithHistory records every document upload in store.
func WithHistory(store *history.Store) Option {
	return func(s *Server) { s.history = store }
}

// WithAuth requires an API key on every /v1 route and checks its role.
func WithAuth(m *auth.Manager) Option {
	return func(s *Server) { s.auth = m }
}

// WithWebhooks reports every finished document upload to d.
func WithWebhooks(d *webhook.Dispatcher) Option {
	return func(s *Server) { s.webhooks = d }
}

// WithLogger sets the access and error logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithDefaults sets the source of default anonymization options. It is
// called per request so reloaded configuration applies immediately.
func WithDefaults(fn func() processor.Options) Option {
	return func(s *Server) { s.defaults = fn }
}

// Server serves the HTTP API
type Server struct {
	processor *processor.Processor
	extractor *extract.Extractor
	history   *history.Store
	auth      *auth.Manager
	webhooks  *webhook.Dispatcher
	logger    *slog.Logger
	defaults  func() processor.Options
}

// New creates a Server. A nil extractor means extract.New().
func New(p *processor.Processor, ext *extract.Extractor, opts ...Option) *Server {
	if ext == nil {
		ext = extract.New()
	}
	s := &Server{
		processor: p,
		extractor: ext,
		logger:    slog.Default(),
		defaults:  processor.DefaultOptions,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler with the request logging middleware
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/v1").Subrouter()
	api.Handle("/detect", s.guard(auth.ActionDetect, s.handleDetect)).Methods(http.MethodPost)
	api.Handle("/anonymize", s.guard(auth.ActionProcess, s.handleAnonymize)).Methods(http.MethodPost)
	api.Handle("/documents", s.guard(auth.ActionProcess, s.handleDocument)).Methods(http.MethodPost)
	api.Handle("/techniques", s.guard(auth.ActionDetect, s.handleTechniques)).Methods(http.MethodGet)
	api.Handle("/history", s.guard(auth.ActionReadHistory, s.handleHistoryList)).Methods(http.MethodGet)
	api.Handle("/history/{id}", s.guard(auth.ActionReadHistory, s.handleHistoryGet)).Methods(http.MethodGet)
	api.Handle("/history/{id}", s.guard(auth.ActionDeleteHistory, s.handleHistoryDelete)).Methods(http.MethodDelete)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such endpoint")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" not allowed")
	})

	r.Use(s.logRequests)
	return r
}

// guard wraps h with key validation and a role check when auth is enabled.
func (s *Server) guard(action auth.Action, h http.HandlerFunc) http.Handler {
	if s.auth == nil {
		return h
	}
	return s.auth.Middleware(auth.Require(action)(h))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// logRequests writes one access-log entry per request. Bodies are never logged.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		logging.RequestEvent{
			RequestID:  reqID,
			Method:     r.Method,
			Path:       r.URL.Path,
			RemoteAddr: r.RemoteAddr,
			StatusCode: rec.status,
			Duration:   time.Since(started),
		}.Log(s.logger)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":     "ok",
		"extractors": s.extractor.Available(),
	}
	switch {
	case s.history == nil:
		status["history"] = "disabled"
	case s.history.Ping(r.Context()) != nil:
		status["history"] = "unavailable"
	default:
		status["history"] = "ok"
	}
	writeJSON(w, http.StatusOK, status)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}
