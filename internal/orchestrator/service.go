// Package orchestrator creates video tasks and drives each one through fetch,
// submit, poll, shorten, catalog sync and finalize on its own goroutine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"vidflow/internal/catalog"
	"vidflow/internal/domain"
	"vidflow/internal/history"
	"vidflow/internal/metrics"
	"vidflow/internal/provider"
	"vidflow/internal/store"
	"vidflow/internal/worker"
)

var (
	ErrMissingItemID   = errors.New("item id is required")
	ErrUnauthenticated = errors.New("authentication is required")
	ErrNoImages        = errors.New("no images available")
	ErrPollTimeout     = errors.New("video generation timed out")
)

// Vehicles reads vehicle data and photos from the catalog and writes one field back.
type Vehicles interface {
	Vehicle(ctx context.Context, auth catalog.Auth, id string) (domain.Vehicle, error)
	Gallery(ctx context.Context, auth catalog.Auth, id string) ([]domain.Image, error)
	UpdateField(ctx context.Context, auth catalog.Auth, id, field string, value any) error
}

// Generator submits video generation jobs and reports their progress.
type Generator interface {
	Submit(ctx context.Context, req provider.JobRequest) (string, error)
	Poll(ctx context.Context, jobID string) (provider.JobStatus, error)
}

// Shortener returns a short link for url, or url itself and false.
type Shortener interface {
	Shorten(ctx context.Context, url string) (string, bool)
}

// HistoryLog stores terminal task outcomes and answers history queries.
type HistoryLog interface {
	Record(ctx context.Context, e domain.HistoryEntry) error
	Query(ctx context.Context, f history.Filter) ([]domain.HistoryEntry, error)
}

// Dispatcher runs a pipeline in the background without blocking the caller.
type Dispatcher interface {
	Go(name string, job worker.Job) error
}

// Config bounds the poll loop and catalog sync. Zero fields take DefaultConfig values.
type Config struct {
	PollInterval    time.Duration
	MaxPollAttempts int
	SyncAttempts    int
	SyncBackoff     time.Duration
	// VideoField is the catalog attribute that receives the video url.
	VideoField     string
	DefaultCountry string
}

func DefaultConfig() Config {
	return Config{
		PollInterval:    10 * time.Second,
		MaxPollAttempts: 60,
		SyncAttempts:    3,
		SyncBackoff:     2 * time.Second,
		VideoField:      "videoUrl",
	}
}

type Deps struct {
	Store     store.Store
	Vehicles  Vehicles
	Generator Generator
	Shortener Shortener
	History   HistoryLog
	Pool      Dispatcher
	Clock     clockwork.Clock
	Log       zerolog.Logger
}

type Service struct {
	Deps
	cfg Config
}

func New(d Deps, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = def.MaxPollAttempts
	}
	if cfg.SyncAttempts <= 0 {
		cfg.SyncAttempts = def.SyncAttempts
	}
	if cfg.SyncBackoff <= 0 {
		cfg.SyncBackoff = def.SyncBackoff
	}
	if cfg.VideoField == "" {
		cfg.VideoField = def.VideoField
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	return &Service{Deps: d, cfg: cfg}
}

type CreateRequest struct {
	ItemID    string
	Prompt    string
	Style     string
	Duration  *int
	Ratio     string
	AuthToken string
	Country   string
}

type CreateResponse struct {
	TaskID  string            `json:"taskId"`
	ItemID  string            `json:"itemId"`
	Status  domain.TaskStatus `json:"status"`
	Message string            `json:"message"`
}

// Create validates the request, allocates the task and hands its pipeline to
// the pool. It returns as soon as the pipeline is dispatched.
func (s *Service) Create(ctx context.Context, req CreateRequest) (CreateResponse, error) {
	itemID := strings.TrimSpace(req.ItemID)
	if itemID == "" {
		return CreateResponse{}, ErrMissingItemID
	}
	if req.AuthToken == "" {
		return CreateResponse{}, ErrUnauthenticated
	}
	country := req.Country
	if country == "" {
		country = s.cfg.DefaultCountry
	}
	opts := domain.GenerationOptions{Duration: req.Duration, Ratio: req.Ratio, Style: req.Style}

	task, err := s.Store.Create(ctx, itemID, country, domain.ItemInfo{}, opts)
	if err != nil {
		return CreateResponse{}, fmt.Errorf("create task: %w", err)
	}
	metrics.RecordTaskCreated()

	p := &pipeline{
		svc:    s,
		task:   task,
		auth:   catalog.Auth{Token: req.AuthToken, Country: country},
		prompt: strings.TrimSpace(req.Prompt),
		log:    s.Log.With().Str("task_id", task.ID).Str("item_id", itemID).Logger(),
	}
	if err := s.Pool.Go(task.ID, p.run); err != nil {
		p.fail(context.WithoutCancel(ctx), stageDispatch, fmt.Errorf("dispatch pipeline: %w", err))
		return CreateResponse{}, err
	}
	p.log.Info().Str("country", country).Msg("video task created")

	return CreateResponse{
		TaskID:  task.ID,
		ItemID:  itemID,
		Status:  task.Status,
		Message: "Video generation started. Poll the task status for progress.",
	}, nil
}

func (s *Service) Status(ctx context.Context, taskID string) (domain.PublicTaskStatus, error) {
	return s.Store.StatusView(ctx, taskID)
}

type HistoryResult struct {
	Count   int                   `json:"count"`
	History []domain.HistoryEntry `json:"history"`
}

func (s *Service) History(ctx context.Context, f history.Filter) (HistoryResult, error) {
	entries, err := s.Deps.History.Query(ctx, f)
	if err != nil {
		return HistoryResult{}, err
	}
	return HistoryResult{Count: len(entries), History: entries}, nil
}
