package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"vidflow/internal/catalog"
	"vidflow/internal/domain"
	"vidflow/internal/metrics"
	"vidflow/internal/provider"
	"vidflow/internal/retry"
)

// Stages label where a pipeline ended, for metrics and logs.
const (
	stageDispatch = "dispatch"
	stageFetch    = "fetch"
	stageSubmit   = "submit"
	stagePoll     = "poll"
	stageComplete = "complete"
	stagePanic    = "panic"
)

var errStillPending = errors.New("provider job still pending")

// pipeline is the only writer of its task once dispatched. task mirrors the
// stored record so the history entry can be built even if a store write fails.
type pipeline struct {
	svc    *Service
	task   domain.Task
	auth   catalog.Auth
	prompt string
	log    zerolog.Logger
}

func (p *pipeline) run(ctx context.Context) {
	defer func() {
		r := recover()
		switch {
		case r == nil:
		case p.task.Status.Terminal():
			p.log.Error().Interface("panic", r).Msg("pipeline panicked after finishing")
		default:
			p.fail(ctx, stagePanic, fmt.Errorf("pipeline panicked: %v", r))
		}
	}()

	vehicle, images, err := p.fetch(ctx)
	if err != nil {
		p.fail(ctx, stageFetch, err)
		return
	}

	prompt := p.prompt
	if prompt == "" {
		prompt = ComposePrompt(vehicle, p.task.Options.Style)
	}
	jobID, err := p.submit(ctx, prompt, images)
	if err != nil {
		p.fail(ctx, stageSubmit, err)
		return
	}

	videoURL, err := p.poll(ctx, jobID)
	if err != nil {
		p.fail(ctx, stagePoll, err)
		return
	}

	short, ok := p.svc.Shortener.Shorten(ctx, videoURL)
	if !ok {
		metrics.RecordShortenerFallback()
	}
	updated := p.syncItem(ctx, short)
	p.complete(ctx, videoURL, short, updated)
}

func (p *pipeline) fetch(ctx context.Context) (domain.Vehicle, []string, error) {
	v, err := p.svc.Vehicles.Vehicle(ctx, p.auth, p.task.ItemID)
	if err != nil {
		return domain.Vehicle{}, nil, fmt.Errorf("fetch vehicle: %w", err)
	}
	info := v.Info()
	p.update(ctx, domain.TaskPatch{ItemInfo: &info})

	gallery, err := p.svc.Vehicles.Gallery(ctx, p.auth, p.task.ItemID)
	if err != nil {
		return domain.Vehicle{}, nil, fmt.Errorf("fetch gallery: %w", err)
	}
	if len(gallery) == 0 {
		return domain.Vehicle{}, nil, ErrNoImages
	}
	// With more than one photo the provider interpolates from the first to the
	// last gallery photo.
	images := []string{gallery[0].URL}
	if n := len(gallery); n > 1 {
		images = append(images, gallery[n-1].URL)
	}
	p.log.Debug().Str("vehicle", info.String()).Int("images", len(images)).Msg("vehicle data fetched")
	return v, images, nil
}

func (p *pipeline) submit(ctx context.Context, prompt string, images []string) (string, error) {
	opts := p.task.Options
	jobID, err := p.svc.Generator.Submit(ctx, provider.JobRequest{
		Prompt:   prompt,
		Images:   images,
		Duration: opts.Duration,
		Ratio:    opts.Ratio,
		Style:    opts.Style,
	})
	if err != nil {
		return "", fmt.Errorf("submit generation job: %w", err)
	}
	p.update(ctx, domain.TaskPatch{
		Status:        domain.Ptr(domain.StatusProcessingProvider),
		ProviderJobID: &jobID,
	})
	p.log.Info().Str("provider_job_id", jobID).Msg("generation job submitted")
	return jobID, nil
}

// poll checks the job immediately and then every PollInterval, giving up
// after MaxPollAttempts checks. Transport errors count against the budget.
func (p *pipeline) poll(ctx context.Context, jobID string) (string, error) {
	cfg := p.svc.cfg
	policy := retry.Policy{
		MaxAttempts: cfg.MaxPollAttempts,
		Backoff:     retry.Constant(cfg.PollInterval),
		Clock:       p.svc.Clock,
		Retryable: func(err error) bool {
			return !errors.Is(err, provider.ErrJobFailed) && !errors.Is(err, provider.ErrNoVideoURL)
		},
	}

	var videoURL string
	err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		st, err := p.svc.Generator.Poll(ctx, jobID)
		if err != nil {
			metrics.RecordPoll("error")
			p.log.Warn().Err(err).Int("attempt", attempt).Msg("provider poll failed")
			return err
		}
		now := p.svc.Clock.Now()
		p.update(ctx, domain.TaskPatch{ProviderStatus: &st.Raw, LastCheckedAt: &now})
		metrics.RecordPoll(string(st.State))

		switch st.State {
		case provider.StateSucceeded:
			u, via, err := provider.ExtractVideoURL(st.Output)
			if err != nil {
				return err
			}
			p.log.Debug().Str("extractor", via).Int("attempt", attempt).Msg("video url extracted")
			videoURL = u
			return nil
		case provider.StateFailed:
			msg := st.Error
			if msg == "" {
				msg = "status " + st.Raw
			}
			return fmt.Errorf("%w: %s", provider.ErrJobFailed, msg)
		}
		p.log.Debug().Str("provider_status", st.Raw).Float64("progress", st.Progress).Int("attempt", attempt).Msg("job still running")
		return errStillPending
	})
	if errors.Is(err, retry.ErrExhausted) {
		return "", fmt.Errorf("%w after %d polling attempts", ErrPollTimeout, cfg.MaxPollAttempts)
	}
	return videoURL, err
}

// syncItem writes the video url back to the catalog. Failure is logged and
// reported through the returned flag; it never fails the task.
func (p *pipeline) syncItem(ctx context.Context, videoURL string) bool {
	cfg := p.svc.cfg
	policy := retry.Policy{
		MaxAttempts: cfg.SyncAttempts,
		Backoff:     retry.Exponential(cfg.SyncBackoff),
		Clock:       p.svc.Clock,
		Retryable:   func(err error) bool { return !errors.Is(err, catalog.ErrNotFound) },
		OnRetry: func(attempt int, delay time.Duration, err error) {
			p.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("catalog update failed")
		},
	}
	err := policy.Do(ctx, func(ctx context.Context, _ int) error {
		return p.svc.Vehicles.UpdateField(ctx, p.auth, p.task.ItemID, cfg.VideoField, videoURL)
	})
	metrics.RecordCatalogSync(err == nil)
	if err != nil {
		p.log.Error().Err(err).Msg("catalog item not updated with video url")
		return false
	}
	return true
}

func (p *pipeline) complete(ctx context.Context, originalURL, videoURL string, updated bool) {
	now := p.svc.Clock.Now()
	p.update(ctx, domain.TaskPatch{
		Status:           domain.Ptr(domain.StatusCompleted),
		CompletedAt:      &now,
		VideoURL:         &videoURL,
		OriginalVideoURL: &originalURL,
		ItemUpdated:      &updated,
	})
	p.log.Info().Str("video_url", videoURL).Bool("item_updated", updated).Msg("video task completed")
	p.finish(ctx, stageComplete)
}

func (p *pipeline) fail(ctx context.Context, stage string, cause error) {
	now := p.svc.Clock.Now()
	msg := cause.Error()
	p.update(ctx, domain.TaskPatch{
		Status:      domain.Ptr(domain.StatusFailed),
		CompletedAt: &now,
		Error:       &msg,
	})
	p.log.Error().Err(cause).Str("stage", stage).Msg("video task failed")
	p.finish(ctx, stage)
}

// finish records the terminal outcome once. History write failures are
// logged and counted; the task itself stays terminal.
func (p *pipeline) finish(ctx context.Context, stage string) {
	entry, err := domain.NewHistoryEntry(p.task)
	if err != nil {
		p.log.Error().Err(err).Msg("cannot build history entry")
		return
	}
	metrics.RecordTaskFinished(string(entry.Status), stage, entry.CompletedAt.Sub(entry.CreatedAt))

	if err := p.svc.Deps.History.Record(ctx, entry); err != nil {
		metrics.RecordHistoryWriteError()
		p.log.Error().Err(err).Str("month", entry.Month()).Msg("history write failed")
	}
}

// update applies patch to the local mirror and then to the store. A patch the
// state machine rejects is a programming error and is only logged.
func (p *pipeline) update(ctx context.Context, patch domain.TaskPatch) {
	if err := patch.Apply(&p.task); err != nil {
		p.log.Error().Err(err).Msg("rejected task update")
		return
	}
	if _, err := p.svc.Store.Update(ctx, p.task.ID, patch); err != nil {
		p.log.Error().Err(err).Msg("task store update failed")
	}
}
