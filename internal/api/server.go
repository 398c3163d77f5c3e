package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"vidflow/internal/domain"
	"vidflow/internal/history"
	"vidflow/internal/orchestrator"
	"vidflow/internal/store"
	"vidflow/internal/worker"
)

type TaskService interface {
	Create(ctx context.Context, req orchestrator.CreateRequest) (orchestrator.CreateResponse, error)
	Status(ctx context.Context, taskID string) (domain.PublicTaskStatus, error)
	History(ctx context.Context, f history.Filter) (orchestrator.HistoryResult, error)
}

type Server struct {
	r   *chi.Mux
	svc TaskService
	log zerolog.Logger
}

func NewServer(svc TaskService, log zerolog.Logger) http.Handler {
	return NewServerWithDebug(svc, log, false)
}

func NewServerWithDebug(svc TaskService, log zerolog.Logger, enableDebug bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, accessLog(log), middleware.Recoverer)

	s := &Server{r: r, svc: svc, log: log}

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(withCaller)
		r.Post("/vehicles/{itemID}/video", s.createVideo)
		r.Get("/video-tasks/history", s.listHistory)
		r.Get("/video-tasks/{taskID}", s.getTask)
	})

	// Debug routes (pprof)
	if enableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type createVideoReq struct {
	Prompt   string `json:"prompt"`
	Style    string `json:"style"`
	Duration *int   `json:"duration"`
	Ratio    string `json:"ratio"`
}

func (s *Server) createVideo(w http.ResponseWriter, r *http.Request) {
	var req createVideoReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	c := callerFrom(r.Context())
	resp, err := s.svc.Create(r.Context(), orchestrator.CreateRequest{
		ItemID:    chi.URLParam(r, "itemID"),
		Prompt:    req.Prompt,
		Style:     req.Style,
		Duration:  req.Duration,
		Ratio:     req.Ratio,
		AuthToken: c.token,
		Country:   c.country,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, resp)
	case errors.Is(err, orchestrator.ErrMissingItemID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, worker.ErrPoolClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Error().Err(err).Msg("create video task")
		writeError(w, http.StatusInternalServerError, "failed to create video task")
	}
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.Context(), chi.URLParam(r, "taskID"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, st)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	default:
		s.log.Error().Err(err).Msg("get video task")
		writeError(w, http.StatusInternalServerError, "failed to load task")
	}
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := history.Filter{
		ItemID: q.Get("itemId"),
		Status: domain.TaskStatus(strings.ToLower(q.Get("status"))),
		Month:  q.Get("month"),
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}
	res, err := s.svc.History(r.Context(), f)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, history.ErrInvalidFilter):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error().Err(err).Msg("query video task history")
		writeError(w, http.StatusInternalServerError, "failed to query history")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
