// Package server is the HTTP trigger gateway: it turns account, document
// and lifecycle requests into engine events and backfill runs.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mailchimp/Firebase/internal/config"
	"github.com/mailchimp/Firebase/internal/engine"
	"github.com/mailchimp/Firebase/internal/identity"
	"github.com/mailchimp/Firebase/internal/store"
)

// Engine is the part of *engine.Engine the gateway drives.
type Engine interface {
	Enqueue(ev engine.Event) bool
	Configure(raw config.Raw) ([]config.Diagnostic, error)
	Initialized() bool
	QueueLen() int
}

// Lifecycle starts backfills. *backfill.Orchestrator implements it.
type Lifecycle interface {
	Start(ctx context.Context, trigger config.Trigger) error
}

// Store holds the accounts and documents the gateway writes.
type Store interface {
	CreateUser(ctx context.Context, u identity.User) error
	DeleteUser(ctx context.Context, uid string) (identity.User, bool, error)
	WriteDocument(ctx context.Context, path string, data map[string]any) (before, after map[string]any, err error)
	DeleteDocument(ctx context.Context, path string) (before map[string]any, err error)
	ProcessingStates(ctx context.Context) ([]store.ProcessingState, error)
}

// Server routes trigger requests.
type Server struct {
	engine    Engine
	lifecycle Lifecycle
	store     Store
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	router    *mux.Router
}

// New builds the router. A nil gatherer serves the default registry.
func New(e Engine, l Lifecycle, s Store, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		engine:    e,
		lifecycle: l,
		store:     s,
		gatherer:  gatherer,
		logger:    logger.With("component", "server"),
	}

	r := mux.NewRouter()
	r.Use(srv.logRequests)

	r.HandleFunc("/healthz", srv.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/users", srv.handleUserCreate).Methods(http.MethodPost)
	v1.HandleFunc("/users/{uid}", srv.handleUserDelete).Methods(http.MethodDelete)
	v1.HandleFunc("/documents/{path:.+}", srv.handleDocumentWrite).Methods(http.MethodPut)
	v1.HandleFunc("/documents/{path:.+}", srv.handleDocumentDelete).Methods(http.MethodDelete)
	v1.HandleFunc("/lifecycle/{event}", srv.handleLifecycle).Methods(http.MethodPost)
	v1.HandleFunc("/reconfigure", srv.handleReconfigure).Methods(http.MethodPost)
	v1.HandleFunc("/processing-state", srv.handleProcessingState).Methods(http.MethodGet)

	srv.router = r
	return srv
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errc <- hs.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"initialized": s.engine.Initialized(),
		"queued":      s.engine.QueueLen(),
	})
}

func (s *Server) handleUserCreate(w http.ResponseWriter, r *http.Request) {
	var u identity.User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if strings.TrimSpace(u.UID) == "" {
		writeError(w, http.StatusBadRequest, "missing_uid")
		return
	}
	if err := s.store.CreateUser(r.Context(), u); err != nil {
		s.logger.Error("create user failed", "uid", u.UID, "error", err)
		writeError(w, http.StatusInternalServerError, "write_failed")
		return
	}
	s.enqueue(w, engine.Event{Type: engine.EventUserCreated, User: u})
}

func (s *Server) handleUserDelete(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	u, found, err := s.store.DeleteUser(r.Context(), uid)
	if err != nil {
		s.logger.Error("delete user failed", "uid", uid, "error", err)
		writeError(w, http.StatusInternalServerError, "write_failed")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	s.enqueue(w, engine.Event{Type: engine.EventUserDeleted, User: u})
}

func (s *Server) handleDocumentWrite(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]
	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil || data == nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	before, after, err := s.store.WriteDocument(r.Context(), path, data)
	if err != nil {
		s.logger.Error("write document failed", "path", path, "error", err)
		writeError(w, http.StatusBadRequest, "write_failed")
		return
	}
	s.enqueue(w, engine.Event{Type: engine.EventDocumentWritten, Path: path, Before: before, After: after})
}

func (s *Server) handleDocumentDelete(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]
	before, err := s.store.DeleteDocument(r.Context(), path)
	if err != nil {
		s.logger.Error("delete document failed", "path", path, "error", err)
		writeError(w, http.StatusBadRequest, "write_failed")
		return
	}
	if before == nil {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	s.enqueue(w, engine.Event{Type: engine.EventDocumentWritten, Path: path, Before: before})
}

func (s *Server) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	trigger := config.Trigger(strings.ToUpper(mux.Vars(r)["event"]))
	switch trigger {
	case config.TriggerInstall, config.TriggerUpdate, config.TriggerConfigure:
	default:
		writeError(w, http.StatusBadRequest, "unknown_event")
		return
	}
	if err := s.lifecycle.Start(r.Context(), trigger); err != nil {
		s.logger.Error("backfill start failed", "trigger", string(trigger), "error", err)
		writeError(w, http.StatusInternalServerError, "start_failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"event": string(trigger)})
}

func (s *Server) handleReconfigure(w http.ResponseWriter, r *http.Request) {
	var values map[string]any
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	raw, err := config.DecodeRaw(values)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_config")
		return
	}

	diags, initErr := s.engine.Configure(raw)
	resp := map[string]any{
		"initialized": s.engine.Initialized(),
		"diagnostics": diags,
	}
	if initErr != nil {
		resp["error"] = initErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProcessingState(w http.ResponseWriter, r *http.Request) {
	states, err := s.store.ProcessingStates(r.Context())
	if err != nil {
		s.logger.Error("read processing state failed", "error", err)
		writeError(w, http.StatusInternalServerError, "read_failed")
		return
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) enqueue(w http.ResponseWriter, ev engine.Event) {
	if !s.engine.Enqueue(ev) {
		writeError(w, http.StatusServiceUnavailable, "stopping")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"event": ev.Type.String()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]any{"error": code})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
