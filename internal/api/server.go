// Package api serves the JSON REST surface and the webhook trigger.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"sweepbot/internal/cleanup"
	"sweepbot/internal/executor"
	"sweepbot/internal/model"
	"sweepbot/internal/registry"
	"sweepbot/internal/storage"
)

const maxBodyBytes = 1 << 20

// SecretHeader carries the shared webhook secret.
const SecretHeader = "X-Webhook-Secret"

// Cleaner runs simulations and cleanups.
type Cleaner interface {
	Simulate(ctx context.Context, tenant, filterID string) cleanup.SimulateResult
	Run(ctx context.Context, tenant, filterID string, dryRun bool, progress cleanup.Progress) cleanup.RunResult
}

// Replier posts a message into a conversation.
type Replier interface {
	SendMessage(ctx context.Context, tenant, sessionID, content string) error
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	registry *registry.Registry
	cleaner  Cleaner
	stats    storage.StatsStore
	replier  Replier
	exec     *executor.Executor
	secret   string
	log      *zap.Logger
}

// New creates a Server. replier may be nil, in which case webhook triggers
// are not answered in the conversation. Replies go through exec so a rate
// limited send is retried. An empty secret disables the check.
func New(reg *registry.Registry, cleaner Cleaner, stats storage.StatsStore, replier Replier, exec *executor.Executor, secret string, log *zap.Logger) *Server {
	if secret == "" {
		log.Warn("webhook secret not set, anyone who can reach the server can trigger cleanups")
	}
	return &Server{
		registry: reg,
		cleaner:  cleaner,
		stats:    stats,
		replier:  replier,
		exec:     exec,
		secret:   secret,
		log:      log,
	}
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/{tenant}/filters", s.listFilters)
	mux.HandleFunc("POST /api/{tenant}/filters", s.createFilter)
	mux.HandleFunc("PATCH /api/{tenant}/filters/{id}", s.updateFilter)
	mux.HandleFunc("DELETE /api/{tenant}/filters/{id}", s.deleteFilter)
	mux.HandleFunc("POST /api/{tenant}/filters/{id}/clone", s.cloneFilter)
	mux.HandleFunc("POST /api/{tenant}/filters/{id}/run", s.runFilter)
	mux.HandleFunc("POST /api/{tenant}/filters/{id}/test", s.testFilter)

	mux.HandleFunc("GET /api/{tenant}/groups", s.listGroups)
	mux.HandleFunc("POST /api/{tenant}/groups", s.createGroup)
	mux.HandleFunc("DELETE /api/{tenant}/groups/{id}", s.deleteGroup)

	mux.HandleFunc("GET /api/{tenant}/stats", s.getStats)

	mux.HandleFunc("POST /webhook", s.webhook)

	return s.logRequests(mux)
}

// --- envelope ---

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeOK(w http.ResponseWriter, status int, key string, value any) {
	body := map[string]any{"success": true}
	if key != "" {
		body[key] = value
	}
	writeJSON(w, status, body)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]any{"success": false, "error": err.Error()})
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	var validation *model.ValidationError
	var notFound *model.NotFoundError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return &model.ValidationError{Field: "body", Msg: fmt.Sprintf("invalid JSON: %v", err)}
}

// --- filters ---

func (s *Server) listFilters(w http.ResponseWriter, r *http.Request) {
	filters, err := s.registry.List(r.Context(), r.PathValue("tenant"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if filters == nil {
		filters = []model.Filter{}
	}
	writeOK(w, http.StatusOK, "filters", filters)
}

func (s *Server) createFilter(w http.ResponseWriter, r *http.Request) {
	var patch registry.FilterPatch
	if err := decode(r, &patch); err != nil {
		s.writeError(w, err)
		return
	}
	f, err := s.registry.Create(r.Context(), r.PathValue("tenant"), patch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeOK(w, http.StatusCreated, "filter", f)
}

func (s *Server) updateFilter(w http.ResponseWriter, r *http.Request) {
	var patch registry.FilterPatch
	if err := decode(r, &patch); err != nil {
		s.writeError(w, err)
		return
	}
	f, err := s.registry.Update(r.Context(), r.PathValue("tenant"), r.PathValue("id"), patch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, "filter", f)
}

func (s *Server) deleteFilter(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Delete(r.Context(), r.PathValue("tenant"), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, "", nil)
}

func (s *Server) cloneFilter(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	f, err := s.registry.Clone(r.Context(), r.PathValue("tenant"), r.PathValue("id"), body.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeOK(w, http.StatusCreated, "filter", f)
}

func (s *Server) runFilter(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DryRun bool `json:"dryRun"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	res := s.cleaner.Run(r.Context(), r.PathValue("tenant"), r.PathValue("id"), body.DryRun, nil)
	writeJSON(w, statusFor(res.Err), res)
}

func (s *Server) testFilter(w http.ResponseWriter, r *http.Request) {
	res := s.cleaner.Simulate(r.Context(), r.PathValue("tenant"), r.PathValue("id"))
	writeJSON(w, statusFor(res.Err), res)
}

// --- groups ---

func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.registry.ListGroups(r.Context(), r.PathValue("tenant"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if groups == nil {
		groups = []model.Group{}
	}
	writeOK(w, http.StatusOK, "groups", groups)
}

func (s *Server) createGroup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name  string `json:"name"`
		Color string `json:"color"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	g, err := s.registry.CreateGroup(r.Context(), r.PathValue("tenant"), body.Name, body.Color)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeOK(w, http.StatusCreated, "group", g)
}

func (s *Server) deleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.DeleteGroup(r.Context(), r.PathValue("tenant"), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, "", nil)
}

// --- stats ---

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.stats.GetStats(r.Context(), r.PathValue("tenant"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, "stats", st)
}

// --- middleware ---

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.status),
			zap.Duration("took", time.Since(start)),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
