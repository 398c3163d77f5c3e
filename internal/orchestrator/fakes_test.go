package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"vidflow/internal/catalog"
	"vidflow/internal/domain"
	"vidflow/internal/history"
	"vidflow/internal/provider"
	"vidflow/internal/store"
	"vidflow/internal/worker"
)

var epoch = time.Date(2026, 3, 31, 23, 50, 0, 0, time.UTC)

type fakeVehicles struct {
	mu         sync.Mutex
	vehicle    domain.Vehicle
	gallery    []domain.Image
	vehicleErr error
	galleryErr error
	// updateErrs is consumed one per UpdateField call; nil entries succeed.
	updateErrs []error
	updates    []string
	updatedAt  []time.Time
	auths      []catalog.Auth
	clock      clockwork.Clock
}

func (f *fakeVehicles) Vehicle(_ context.Context, auth catalog.Auth, id string) (domain.Vehicle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auths = append(f.auths, auth)
	if f.vehicleErr != nil {
		return domain.Vehicle{}, f.vehicleErr
	}
	v := f.vehicle
	v.ID = id
	return v, nil
}

func (f *fakeVehicles) Gallery(context.Context, catalog.Auth, string) ([]domain.Image, error) {
	return f.gallery, f.galleryErr
}

func (f *fakeVehicles) UpdateField(_ context.Context, _ catalog.Auth, _, field string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, field+"="+value.(string))
	f.updatedAt = append(f.updatedAt, f.clock.Now())
	if len(f.updateErrs) == 0 {
		return nil
	}
	err := f.updateErrs[0]
	f.updateErrs = f.updateErrs[1:]
	return err
}

func (f *fakeVehicles) updateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

type fakeGenerator struct {
	mu        sync.Mutex
	jobID     string
	submitErr error
	// statuses are returned in order; the last one repeats.
	statuses  []provider.JobStatus
	pollErr   error
	submitted []provider.JobRequest
	polls     int
}

func (f *fakeGenerator) Submit(_ context.Context, req provider.JobRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)
	return f.jobID, f.submitErr
}

func (f *fakeGenerator) Poll(context.Context, string) (provider.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.pollErr != nil {
		return provider.JobStatus{}, f.pollErr
	}
	i := min(f.polls-1, len(f.statuses)-1)
	return f.statuses[i], nil
}

func (f *fakeGenerator) counts() (submits, polls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted), f.polls
}

type fakeShortener struct {
	short string
	ok    bool
}

func (f fakeShortener) Shorten(_ context.Context, u string) (string, bool) {
	if !f.ok {
		return u, false
	}
	return f.short, true
}

type panickingShortener struct{}

func (panickingShortener) Shorten(context.Context, string) (string, bool) {
	panic("shortener exploded")
}

type fakeHistory struct {
	mu      sync.Mutex
	entries []domain.HistoryEntry
	err     error
}

func (f *fakeHistory) Record(_ context.Context, e domain.HistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeHistory) Query(_ context.Context, filter history.Filter) ([]domain.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.HistoryEntry
	for _, e := range f.entries {
		if filter.ItemID == "" || e.ItemID == filter.ItemID {
			out = append(out, e)
		}
	}
	return out, nil
}

// recordingStore captures every status a task passes through.
type recordingStore struct {
	*store.Memory
	mu       sync.Mutex
	statuses []domain.TaskStatus
}

func (r *recordingStore) Create(ctx context.Context, itemID, country string, info domain.ItemInfo, opts domain.GenerationOptions) (domain.Task, error) {
	t, err := r.Memory.Create(ctx, itemID, country, info, opts)
	if err == nil {
		r.record(t.Status)
	}
	return t, err
}

func (r *recordingStore) Update(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	t, err := r.Memory.Update(ctx, id, patch)
	if err == nil {
		r.record(t.Status)
	}
	return t, err
}

func (r *recordingStore) record(s domain.TaskStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.statuses); n == 0 || r.statuses[n-1] != s {
		r.statuses = append(r.statuses, s)
	}
}

func (r *recordingStore) sequence() []domain.TaskStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.TaskStatus(nil), r.statuses...)
}

// trackingDispatcher runs each job on a goroutine and closes done when the
// most recent one returns.
type trackingDispatcher struct {
	err  error
	done chan struct{}
}

func (d *trackingDispatcher) Go(_ string, job worker.Job) error {
	if d.err != nil {
		return d.err
	}
	d.done = make(chan struct{})
	go func() {
		defer close(d.done)
		job(context.Background())
	}()
	return nil
}

type harness struct {
	svc      *Service
	clock    *clockwork.FakeClock
	store    *recordingStore
	vehicles *fakeVehicles
	gen      *fakeGenerator
	history  *fakeHistory
	pool     *trackingDispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	h := &harness{
		clock: clock,
		store: &recordingStore{Memory: store.NewMemory(clock)},
		vehicles: &fakeVehicles{
			clock:   clock,
			vehicle: domain.Vehicle{Make: "Seat", Model: "Leon", Version: "FR", Year: 2022, Color: "Red", Mileage: 15000},
			gallery: []domain.Image{{ID: "1", URL: "https://img/1.jpg"}, {ID: "2", URL: "https://img/2.jpg"}, {ID: "3", URL: "https://img/3.jpg"}},
		},
		gen: &fakeGenerator{
			jobID: "job-1",
			statuses: []provider.JobStatus{
				{State: provider.StatePending, Raw: "RUNNING"},
				{State: provider.StateSucceeded, Raw: "SUCCEEDED", Output: []any{"https://cdn/video.mp4"}},
			},
		},
		history: &fakeHistory{},
		pool:    &trackingDispatcher{},
	}
	h.svc = New(Deps{
		Store:     h.store,
		Vehicles:  h.vehicles,
		Generator: h.gen,
		Shortener: fakeShortener{short: "https://sho.rt/abc", ok: true},
		History:   h.history,
		Pool:      h.pool,
		Clock:     clock,
		Log:       zerolog.Nop(),
	}, Config{
		PollInterval:    10 * time.Second,
		MaxPollAttempts: 5,
		SyncAttempts:    3,
		SyncBackoff:     2 * time.Second,
		DefaultCountry:  "es",
	})
	return h
}

func (h *harness) create(t *testing.T) CreateResponse {
	t.Helper()
	resp, err := h.svc.Create(context.Background(), CreateRequest{ItemID: "V1", AuthToken: "tok"})
	require.NoError(t, err)
	return resp
}

// wait advances the fake clock one second at a time while the pipeline
// sleeps, so each sleep ends exactly when its delay elapses.
func (h *harness) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		blocked := make(chan error, 1)
		go func() { blocked <- h.clock.BlockUntilContext(ctx, 1) }()
		select {
		case <-h.pool.done:
			return
		case err := <-blocked:
			require.NoError(t, err, "pipeline did not finish")
			h.clock.Advance(time.Second)
		}
	}
}

// gaps returns the clock time elapsed between consecutive catalog updates.
func (f *fakeVehicles) gaps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []time.Duration
	for i := 1; i < len(f.updatedAt); i++ {
		out = append(out, f.updatedAt[i].Sub(f.updatedAt[i-1]))
	}
	return out
}

func (h *harness) task(t *testing.T, id string) domain.Task {
	t.Helper()
	task, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return task
}
