package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/brand-radar/internal/model"
	"github.com/sells-group/brand-radar/internal/progress"
	"github.com/sells-group/brand-radar/internal/store"
)

// jobRunner is the part of the pipeline the HTTP server drives.
type jobRunner interface {
	Submit(ctx context.Context, spec model.JobSpec) (*model.Job, error)
	Run(ctx context.Context, jobID string) error
}

// server holds the HTTP handlers. baseCtx bounds background job runs.
type server struct {
	store   store.Store
	runner  jobRunner
	hub     *progress.Hub
	metrics http.Handler
	baseCtx context.Context
	wg      sync.WaitGroup
}

func newServer(ctx context.Context, st store.Store, runner jobRunner, hub *progress.Hub) *server {
	return &server{store: st, runner: runner, hub: hub, baseCtx: ctx}
}

func (s *server) routes(origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(accessLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Last-Event-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Get("/", s.handleListJobs)
		r.Route("/{jobID}", func(r chi.Router) {
			r.Get("/", s.handleGetJob)
			r.Delete("/", s.handleDeleteJob)
			r.Get("/results", s.handleResults)
			r.Get("/sources", s.handleSources)
			r.Get("/opportunities", s.handleOpportunities)
			r.Patch("/opportunities/{oppID}", s.handleUpdateOpportunity)
			r.Get("/export", s.handleExport)
			r.Get("/events", s.handleEvents)
		})
	})
	return r
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var spec model.JobSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := spec.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.runner.Submit(r.Context(), spec)
	if err != nil {
		zap.L().Error("submit job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "submit failed")
		return
	}

	s.goRun("run "+job.ID, func(ctx context.Context) error {
		return s.runner.Run(ctx, job.ID)
	})

	w.Header().Set("Location", "/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, job)
}

func (s *server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.JobFilter{
		Status: model.JobStatus(q.Get("status")),
		Target: q.Get("target"),
		Limit:  20,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	jobs, err := s.store.ListJobs(r.Context(), filter)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []model.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteJob(r.Context(), chi.URLParam(r, "jobID")); err != nil {
		s.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleResults(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if !s.jobExists(w, r, jobID) {
		return
	}
	results, err := s.store.ListAnalysisResults(r.Context(), jobID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if results == nil {
		results = []model.AnalysisResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *server) handleSources(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if !s.jobExists(w, r, jobID) {
		return
	}
	sources, err := s.store.ListSources(r.Context(), jobID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if sources == nil {
		sources = []model.Source{}
	}
	writeJSON(w, http.StatusOK, sources)
}

func (s *server) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if !s.jobExists(w, r, jobID) {
		return
	}
	opps, err := s.store.ListOpportunities(r.Context(), jobID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if opps == nil {
		opps = []model.Opportunity{}
	}
	writeJSON(w, http.StatusOK, opps)
}

func (s *server) handleUpdateOpportunity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
		Note   string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	upd, err := buildOpportunityUpdate(req.Status, req.Note, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID, oppID := chi.URLParam(r, "jobID"), chi.URLParam(r, "oppID")
	if err := s.store.UpdateOpportunity(r.Context(), jobID, oppID, upd); err != nil {
		s.storeError(w, err)
		return
	}
	opps, err := s.store.ListOpportunities(r.Context(), jobID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	for _, o := range opps {
		if o.ID == oppID {
			writeJSON(w, http.StatusOK, o)
			return
		}
	}
	writeError(w, http.StatusNotFound, "not found")
}

func (s *server) handleExport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if !s.jobExists(w, r, jobID) {
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	contentType, ok := exportContentTypes[format]
	if !ok {
		writeError(w, http.StatusBadRequest, "format must be json, csv or xlsx")
		return
	}

	opps, err := s.store.ListOpportunities(r.Context(), jobID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="opportunities-%s.%s"`, jobID, format))
	if err := writeOpportunities(w, format, opps); err != nil {
		zap.L().Error("export failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

var exportContentTypes = map[string]string{
	"json": "application/json",
	"csv":  "text/csv",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// handleEvents streams a job's progress as server-sent events until the job
// reaches a terminal status or the client goes away.
func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	jobID := chi.URLParam(r, "jobID")

	// Subscribe before reading the job so no transition is missed.
	events, cancel := s.hub.Subscribe(jobID)
	defer cancel()

	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		s.storeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	snapshot := snapshotEvent(job)
	if err := writeEvent(w, snapshot); err != nil {
		return
	}
	flusher.Flush()
	if snapshot.Terminal() {
		return
	}

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
			if ev.Terminal() {
				return
			}
		}
	}
}

// snapshotEvent reports a job's current state as an event.
func snapshotEvent(job *model.Job) progress.Event {
	ev := progress.Event{
		JobID:    job.ID,
		Type:     progress.TypeProgress,
		Progress: job.Progress,
		At:       job.UpdatedAt,
	}
	switch job.Status {
	case model.JobStatusCompleted:
		ev.Type = progress.TypeCompleted
		ev.Message = "completed"
	case model.JobStatusFailed:
		ev.Type = progress.TypeFailed
		ev.Message = job.Error
	}
	return ev
}

func writeEvent(w http.ResponseWriter, ev progress.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

func (s *server) jobExists(w http.ResponseWriter, r *http.Request, jobID string) bool {
	if _, err := s.store.GetJob(r.Context(), jobID); err != nil {
		s.storeError(w, err)
		return false
	}
	return true
}

func (s *server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	zap.L().Error("store request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
