// Package httpapi is the local control surface of a running hearth process.
//
//	POST /v1/tasks    enqueue a task draft
//	GET  /v1/tasks    list pending tasks in seq order
//	GET  /v1/tasks/{scope}/{entity}
//	                  pending tasks of one entity
//	GET  /v1/plan     preview the folded plan of the next cycle
//	POST /v1/sync     request a run (manual refresh)
//	GET  /v1/status   processor state, connectivity, queue depth, last cycle
//	GET  /metrics     Prometheus metrics
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/hearth/internal/engine"
	"github.com/roach88/hearth/internal/fold"
	"github.com/roach88/hearth/internal/netstatus"
	"github.com/roach88/hearth/internal/task"
)

const maxBodyBytes = 1 << 20

// Queue is the processor surface the API drives. *engine.Engine implements it.
type Queue interface {
	Enqueue(ctx context.Context, d task.Draft) (task.Task, error)
	Pending(ctx context.Context) ([]task.Task, error)
	Plan(ctx context.Context) (fold.Plan, error)
	State() engine.State
}

// Trigger requests runs. *scheduler.Scheduler implements it.
type Trigger interface {
	Refresh() bool
	Last() (engine.Report, bool)
}

// Inspector reads the durable queue directly. *store.Store implements it.
type Inspector interface {
	Count(ctx context.Context) (int, error)
	ListBucket(ctx context.Context, key task.BucketKey) ([]task.Task, error)
}

// Deps are the collaborators behind the routes. Metrics may be nil.
type Deps struct {
	Queue    Queue
	Store    Inspector
	Trigger  Trigger
	Detector netstatus.Detector
	Metrics  http.Handler
}

type server struct {
	Deps
}

// NewHandler builds the router.
func NewHandler(d Deps) http.Handler {
	s := &server{Deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/v1", func(r chi.Router) {
		r.Post("/tasks", s.enqueue)
		r.Get("/tasks", s.pending)
		r.Get("/tasks/{scope}/{entity}", s.bucket)
		r.Get("/plan", s.plan)
		r.Post("/sync", s.sync)
		r.Get("/status", s.status)
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	return r
}

func (s *server) enqueue(w http.ResponseWriter, r *http.Request) {
	var d task.Draft
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	d.EnqueuedAt = 0 // stamped by the processor

	t, err := s.Queue.Enqueue(r.Context(), d)
	switch {
	case errors.Is(err, task.ErrInvalid):
		writeError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		slog.Error("enqueue failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *server) pending(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.Queue.Pending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(tasks),
		"tasks": tasks,
	})
}

func (s *server) bucket(w http.ResponseWriter, r *http.Request) {
	key := task.BucketKey{ScopeID: chi.URLParam(r, "scope"), EntityID: chi.URLParam(r, "entity")}
	tasks, err := s.Store.ListBucket(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bucket": key.String(),
		"count":  len(tasks),
		"tasks":  tasks,
	})
}

func (s *server) plan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.Queue.Plan(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if plan == nil {
		plan = fold.Plan{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats": plan.Stats(),
		"tasks": plan,
	})
}

func (s *server) sync(w http.ResponseWriter, r *http.Request) {
	if !s.Trigger.Refresh() {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"accepted": false})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

type statusResponse struct {
	State   string         `json:"state"`
	Online  bool           `json:"online"`
	Pending int            `json:"pending"`
	Last    *engine.Report `json:"last_cycle,omitempty"`
}

func (s *server) status(w http.ResponseWriter, r *http.Request) {
	n, err := s.Store.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := statusResponse{
		State:   s.Queue.State().String(),
		Online:  s.Detector.Online(),
		Pending: n,
	}
	if rep, ok := s.Trigger.Last(); ok {
		resp.Last = &rep
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
