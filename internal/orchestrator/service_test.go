package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidflow/internal/catalog"
	"vidflow/internal/domain"
	"vidflow/internal/history"
	"vidflow/internal/provider"
	"vidflow/internal/store"
	"vidflow/internal/worker"
)

func TestPipelineCompletes(t *testing.T) {
	h := newHarness(t)
	h.gen.statuses = []provider.JobStatus{
		{State: provider.StatePending, Raw: "PENDING"},
		{State: provider.StatePending, Raw: "RUNNING"},
		{State: provider.StateSucceeded, Raw: "SUCCEEDED", Output: map[string]any{"url": "https://provider/x.mp4"}},
	}
	h.svc.Shortener = fakeShortener{short: "https://s/abc", ok: true}
	resp := h.create(t)
	assert.Equal(t, domain.StatusProcessing, resp.Status)
	assert.Equal(t, "V1", resp.ItemID)
	assert.NotEmpty(t, resp.Message)

	h.wait(t)

	task := h.task(t, resp.TaskID)
	assert.Equal(t, domain.StatusCompleted, task.Status)
	assert.Equal(t, "https://s/abc", task.VideoURL)
	assert.Equal(t, "https://provider/x.mp4", task.OriginalVideoURL)
	assert.True(t, task.ItemUpdated)
	assert.Equal(t, "job-1", task.ProviderJobID)
	assert.Equal(t, "SUCCEEDED", task.ProviderStatus)
	assert.Equal(t, "Seat", task.ItemInfo.Make)
	require.NotNil(t, task.CompletedAt)
	require.NotNil(t, task.LastCheckedAt)

	assert.Equal(t, []domain.TaskStatus{
		domain.StatusProcessing, domain.StatusProcessingProvider, domain.StatusCompleted,
	}, h.store.sequence())

	require.Len(t, h.gen.submitted, 1)
	req := h.gen.submitted[0]
	assert.Equal(t, []string{"https://img/1.jpg", "https://img/3.jpg"}, req.Images)
	assert.Contains(t, req.Prompt, "Seat Leon FR")

	assert.Equal(t, []string{"videoUrl=https://s/abc"}, h.vehicles.updates)
	assert.Equal(t, catalog.Auth{Token: "tok", Country: "es"}, h.vehicles.auths[0])

	_, polls := h.gen.counts()
	assert.Equal(t, 3, polls)

	require.Len(t, h.history.entries, 1)
	e := h.history.entries[0]
	assert.Equal(t, domain.StatusCompleted, e.Status)
	assert.Equal(t, "https://s/abc", e.VideoURL)
	// Created in March, so it lands in the March partition whenever it ends.
	assert.Equal(t, "2026-03", e.Month())
	// Two poll intervals between the three polls.
	assert.Equal(t, 20.0, e.ProcessingTimeSeconds)
	assert.Equal(t, 20*time.Second, task.CompletedAt.Sub(task.CreatedAt))
}

func TestPipelineUsesExplicitPromptAndOptions(t *testing.T) {
	h := newHarness(t)
	h.vehicles.gallery = h.vehicles.gallery[:1]
	_, err := h.svc.Create(context.Background(), CreateRequest{
		ItemID: "V1", AuthToken: "tok", Country: "pt",
		Prompt: "  a car at sunset ", Duration: domain.Ptr(10), Ratio: "768:1280", Style: "moody",
	})
	require.NoError(t, err)
	h.wait(t)

	require.Len(t, h.gen.submitted, 1)
	req := h.gen.submitted[0]
	assert.Equal(t, "a car at sunset", req.Prompt)
	assert.Equal(t, []string{"https://img/1.jpg"}, req.Images)
	assert.Equal(t, 10, *req.Duration)
	assert.Equal(t, "768:1280", req.Ratio)
	assert.Equal(t, "moody", req.Style)
	assert.Equal(t, "pt", h.vehicles.auths[0].Country)
}

func TestPipelineCatalogSyncRetries(t *testing.T) {
	h := newHarness(t)
	h.vehicles.updateErrs = []error{&catalog.StatusError{Code: 502}}
	resp := h.create(t)
	h.wait(t)

	task := h.task(t, resp.TaskID)
	assert.Equal(t, domain.StatusCompleted, task.Status)
	assert.True(t, task.ItemUpdated)
	assert.Equal(t, 2, h.vehicles.updateCalls())
	assert.Equal(t, []time.Duration{2 * time.Second}, h.vehicles.gaps())
}

func TestPipelineCatalogSyncExhausted(t *testing.T) {
	h := newHarness(t)
	fail := &catalog.StatusError{Code: 500}
	h.vehicles.updateErrs = []error{fail, fail, fail, fail}
	resp := h.create(t)
	h.wait(t)

	task := h.task(t, resp.TaskID)
	assert.Equal(t, domain.StatusCompleted, task.Status)
	assert.False(t, task.ItemUpdated)
	assert.Empty(t, task.Error)
	assert.Equal(t, 3, h.vehicles.updateCalls())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, h.vehicles.gaps())
	// One poll interval, then the two sync backoffs.
	assert.Equal(t, 16*time.Second, task.CompletedAt.Sub(task.CreatedAt))
	require.Len(t, h.history.entries, 1)
}

func TestPipelineCatalogSyncSkipsRetryOnMissingItem(t *testing.T) {
	h := newHarness(t)
	h.vehicles.updateErrs = []error{catalog.ErrNotFound}
	resp := h.create(t)
	h.wait(t)

	assert.False(t, h.task(t, resp.TaskID).ItemUpdated)
	assert.Equal(t, 1, h.vehicles.updateCalls())
}

func TestPipelineShortenerFallback(t *testing.T) {
	h := newHarness(t)
	h.svc.Shortener = fakeShortener{}
	resp := h.create(t)
	h.wait(t)

	task := h.task(t, resp.TaskID)
	assert.Equal(t, domain.StatusCompleted, task.Status)
	assert.Equal(t, "https://cdn/video.mp4", task.VideoURL)
	assert.Equal(t, task.VideoURL, task.OriginalVideoURL)
	assert.Equal(t, []string{"videoUrl=https://cdn/video.mp4"}, h.vehicles.updates)
}

func TestPipelineProviderFailure(t *testing.T) {
	h := newHarness(t)
	h.gen.statuses = []provider.JobStatus{
		{State: provider.StateFailed, Raw: "FAILED", Error: "content moderation"},
	}
	resp := h.create(t)
	h.wait(t)

	task := h.task(t, resp.TaskID)
	assert.Equal(t, domain.StatusFailed, task.Status)
	assert.Contains(t, task.Error, "content moderation")
	assert.Equal(t, "FAILED", task.ProviderStatus)
	assert.Empty(t, task.VideoURL)
	assert.NotNil(t, task.CompletedAt)
	assert.Zero(t, h.vehicles.updateCalls())
	_, polls := h.gen.counts()
	assert.Equal(t, 1, polls)

	assert.Equal(t, []domain.TaskStatus{
		domain.StatusProcessing, domain.StatusProcessingProvider, domain.StatusFailed,
	}, h.store.sequence())
	require.Len(t, h.history.entries, 1)
	assert.Equal(t, domain.StatusFailed, h.history.entries[0].Status)
	assert.Contains(t, h.history.entries[0].Error, "content moderation")
}

func TestPipelinePollTimeout(t *testing.T) {
	h := newHarness(t)
	h.gen.statuses = []provider.JobStatus{{State: provider.StatePending, Raw: "RUNNING"}}
	resp := h.create(t)
	h.wait(t)

	task := h.task(t, resp.TaskID)
	assert.Equal(t, domain.StatusFailed, task.Status)
	assert.Contains(t, task.Error, "timed out")
	_, polls := h.gen.counts()
	assert.Equal(t, 5, polls)
	// Four waits of one interval each between five polls.
	assert.Equal(t, 4*10*time.Second, task.CompletedAt.Sub(task.CreatedAt))
	require.Len(t, h.history.entries, 1)
}

func TestPipelinePollErrorsCountTowardBudget(t *testing.T) {
	h := newHarness(t)
	h.gen.pollErr = errors.New("connection reset")
	resp := h.create(t)
	h.wait(t)

	task := h.task(t, resp.TaskID)
	assert.Equal(t, domain.StatusFailed, task.Status)
	assert.Contains(t, task.Error, "timed out")
	_, polls := h.gen.counts()
	assert.Equal(t, 5, polls)
	assert.Equal(t, 4*10*time.Second, task.CompletedAt.Sub(task.CreatedAt))
}

func TestPipelineSucceededWithoutURL(t *testing.T) {
	h := newHarness(t)
	h.gen.statuses = []provider.JobStatus{{State: provider.StateSucceeded, Raw: "SUCCEEDED", Output: map[string]any{}}}
	resp := h.create(t)
	h.wait(t)

	task := h.task(t, resp.TaskID)
	assert.Equal(t, domain.StatusFailed, task.Status)
	assert.Equal(t, provider.ErrNoVideoURL.Error(), task.Error)
	_, polls := h.gen.counts()
	assert.Equal(t, 1, polls)
}

func TestPipelineNoImages(t *testing.T) {
	h := newHarness(t)
	h.vehicles.gallery = nil
	resp := h.create(t)
	h.wait(t)

	task := h.task(t, resp.TaskID)
	assert.Equal(t, domain.StatusFailed, task.Status)
	assert.Equal(t, "no images available", task.Error)
	submits, polls := h.gen.counts()
	assert.Zero(t, submits)
	assert.Zero(t, polls)
	assert.Equal(t, []domain.TaskStatus{domain.StatusProcessing, domain.StatusFailed}, h.store.sequence())
	require.Len(t, h.history.entries, 1)
}

func TestPipelineFetchFailures(t *testing.T) {
	t.Run("vehicle", func(t *testing.T) {
		h := newHarness(t)
		h.vehicles.vehicleErr = catalog.ErrNotFound
		resp := h.create(t)
		h.wait(t)
		task := h.task(t, resp.TaskID)
		assert.Equal(t, domain.StatusFailed, task.Status)
		assert.Contains(t, task.Error, "vehicle not found")
	})
	t.Run("gallery", func(t *testing.T) {
		h := newHarness(t)
		h.vehicles.galleryErr = &catalog.StatusError{Code: 503, Body: "down"}
		resp := h.create(t)
		h.wait(t)
		task := h.task(t, resp.TaskID)
		assert.Equal(t, domain.StatusFailed, task.Status)
		assert.Contains(t, task.Error, "fetch gallery")
	})
	t.Run("submit", func(t *testing.T) {
		h := newHarness(t)
		h.gen.submitErr = errors.New("quota exceeded")
		resp := h.create(t)
		h.wait(t)
		task := h.task(t, resp.TaskID)
		assert.Equal(t, domain.StatusFailed, task.Status)
		assert.Contains(t, task.Error, "quota exceeded")
		assert.Empty(t, task.ProviderJobID)
	})
}

func TestPipelineHistoryWriteFailureKeepsTaskTerminal(t *testing.T) {
	h := newHarness(t)
	h.history.err = errors.New("disk full")
	resp := h.create(t)
	h.wait(t)

	assert.Equal(t, domain.StatusCompleted, h.task(t, resp.TaskID).Status)
}

func TestPipelinePanicFailsTask(t *testing.T) {
	h := newHarness(t)
	h.gen.statuses = []provider.JobStatus{{State: provider.StateSucceeded, Raw: "SUCCEEDED", Output: "https://cdn/video.mp4"}}
	h.svc.Shortener = panickingShortener{}
	pool := worker.NewPool(2, zerolog.Nop())
	h.svc.Pool = pool

	resp := h.create(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, pool.Shutdown(ctx))

	task := h.task(t, resp.TaskID)
	assert.Equal(t, domain.StatusFailed, task.Status)
	assert.Contains(t, task.Error, "pipeline panicked: shortener exploded")
	require.NotNil(t, task.CompletedAt)
	assert.Zero(t, h.vehicles.updateCalls())
	assert.Equal(t, []domain.TaskStatus{
		domain.StatusProcessing, domain.StatusProcessingProvider, domain.StatusFailed,
	}, h.store.sequence())
	require.Len(t, h.history.entries, 1)
	assert.Equal(t, domain.StatusFailed, h.history.entries[0].Status)
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Create(ctx, CreateRequest{ItemID: "  ", AuthToken: "tok"})
	assert.ErrorIs(t, err, ErrMissingItemID)

	_, err = h.svc.Create(ctx, CreateRequest{ItemID: "V1"})
	assert.ErrorIs(t, err, ErrUnauthenticated)

	assert.Zero(t, h.store.Len())
	submits, _ := h.gen.counts()
	assert.Zero(t, submits)
}

func TestCreateDispatchFailure(t *testing.T) {
	h := newHarness(t)
	h.pool.err = worker.ErrPoolClosed

	_, err := h.svc.Create(context.Background(), CreateRequest{ItemID: "V1", AuthToken: "tok"})
	require.ErrorIs(t, err, worker.ErrPoolClosed)

	require.Equal(t, 1, h.store.Len())
	assert.Equal(t, []domain.TaskStatus{domain.StatusProcessing, domain.StatusFailed}, h.store.sequence())
	require.Len(t, h.history.entries, 1)
	assert.Contains(t, h.history.entries[0].Error, "dispatch pipeline")
}

func TestStatusAndHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Status(ctx, "tsk_missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	resp := h.create(t)
	h.wait(t)

	st, err := h.svc.Status(ctx, resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, st.Status)
	assert.Equal(t, "https://sho.rt/abc", st.VideoURL)

	res, err := h.svc.History(ctx, history.Filter{ItemID: "V1"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, resp.TaskID, res.History[0].TaskID)

	res, err = h.svc.History(ctx, history.Filter{ItemID: "other"})
	require.NoError(t, err)
	assert.Zero(t, res.Count)
}
