package jobmanager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/makr-code/loraforge/internal/common"
	"github.com/makr-code/loraforge/internal/domain"
	"github.com/makr-code/loraforge/internal/hub"
	"github.com/makr-code/loraforge/internal/queue"
	"github.com/makr-code/loraforge/internal/store"
	"github.com/makr-code/loraforge/internal/trainer"
)

// fakeAdapter gives tests precise control over run duration, cooperation
// with cancellation, and outcome — the real simulators in internal/trainer
// are exercised by their own package's tests.
type fakeAdapter struct {
	steps        int
	stepDelay    time.Duration
	cooperative  bool
	artifacts    map[string]string
}

func (f fakeAdapter) Validate(configRef, datasetRef string) error { return nil }

func (f fakeAdapter) Run(ctx context.Context, configRef, datasetRef string, report trainer.Reporter) trainer.Result {
	for i := 1; i <= f.steps; i++ {
		select {
		case <-ctx.Done():
			if f.cooperative {
				return trainer.Result{Cancelled: true}
			}
			// Ignore cancellation and keep working, exercising the
			// non-cooperative / ErrCancelTimeout path.
		default:
		}
		time.Sleep(f.stepDelay)
		report(domain.Progress{EpochsDone: 1, EpochsTotal: 1, StepsDone: i, StepsTotal: f.steps})
	}
	artifacts := f.artifacts
	if artifacts == nil {
		artifacts = map[string]string{"adapter": "out://artifact"}
	}
	return trainer.Result{ArtifactRefs: artifacts}
}

func newTestManager(t *testing.T, workers int, registry *trainer.Registry, cfg Config) *Manager {
	t.Helper()
	st := store.New(time.Hour)
	q := queue.New(cfg.QueueCapacity)
	h := hub.New(cfg.SubscriberBufferSize, cfg.MaxSubscribers, nil)
	logger := common.NewSilentLogger()

	cfg.Workers = workers
	if cfg.CancelGraceTimeout == 0 {
		cfg.CancelGraceTimeout = time.Second
	}
	m := New(st, q, h, registry, logger, cfg, nil)
	m.Start()
	t.Cleanup(m.Stop)
	return m
}

func drain(t *testing.T, sub *hub.Subscription, timeout time.Duration) []domain.ProgressEvent {
	t.Helper()
	var out []domain.ProgressEvent
	deadline := time.After(timeout)
	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, e)
			if e.Terminal() {
				return out
			}
		case <-sub.Done():
			return out
		case <-deadline:
			t.Fatal("timed out waiting for terminal event")
			return out
		}
	}
}

func TestSubmitHappyPathEmitsOrderedTerminalCompletion(t *testing.T) {
	registry := trainer.NewRegistry()
	registry.Register(domain.TrainerLoRA, fakeAdapter{steps: 3, stepDelay: time.Millisecond, cooperative: true})
	m := newTestManager(t, 1, registry, DefaultConfig())

	jobID, err := m.Submit(domain.SubmitRequest{TrainerKind: domain.TrainerLoRA, ConfigRef: "cfg://a", DatasetRef: "ds://a", Priority: 3})
	require.NoError(t, err)

	sub, snapshot, err := m.Observe(hub.Filter{JobID: jobID})
	require.NoError(t, err)
	require.Len(t, snapshot, 1)

	events := drain(t, sub, 2*time.Second)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, domain.JobStatusCompleted, last.Status)
	require.Contains(t, last.ArtifactRefs, "adapter")

	for i := 1; i < len(events); i++ {
		require.Greater(t, events[i].Seq, events[i-1].Seq)
	}

	job, err := m.Get(jobID)
	require.NoError(t, err)
	require.Equal(t, domain.JobStatusCompleted, job.Status)
}

func TestPriorityOrderingAcrossOneWorker(t *testing.T) {
	registry := trainer.NewRegistry()
	registry.Register(domain.TrainerLoRA, fakeAdapter{steps: 1, stepDelay: 5 * time.Millisecond, cooperative: true})

	// The manager is started only once all three jobs are queued, so the
	// single worker's first pop already sees every entry and the running
	// order depends on priority alone, not on goroutine scheduling.
	cfg := DefaultConfig()
	cfg.Workers = 1
	cfg.CancelGraceTimeout = time.Second
	m := New(store.New(time.Hour), queue.New(cfg.QueueCapacity), hub.New(cfg.SubscriberBufferSize, cfg.MaxSubscribers, nil), registry, common.NewSilentLogger(), cfg, nil)

	sub, _, err := m.Observe(hub.Filter{Wildcard: true})
	require.NoError(t, err)

	base := domain.SubmitRequest{TrainerKind: domain.TrainerLoRA, ConfigRef: "cfg", DatasetRef: "ds"}
	j1 := base
	j1.Priority = 1
	j2 := base
	j2.Priority = 5
	j3 := base
	j3.Priority = 3

	id1, err := m.Submit(j1)
	require.NoError(t, err)
	id2, err := m.Submit(j2)
	require.NoError(t, err)
	id3, err := m.Submit(j3)
	require.NoError(t, err)

	m.Start()
	t.Cleanup(m.Stop)

	var runningOrder []string
	deadline := time.After(3 * time.Second)
	for len(runningOrder) < 3 {
		select {
		case e := <-sub.Events():
			if e.Status == domain.JobStatusRunning {
				runningOrder = append(runningOrder, e.JobID)
			}
		case <-deadline:
			t.Fatal("timed out waiting for running transitions")
		}
	}
	require.Equal(t, []string{id2, id3, id1}, runningOrder)
}

func TestCancelQueuedJobNeverRuns(t *testing.T) {
	registry := trainer.NewRegistry()
	registry.Register(domain.TrainerLoRA, fakeAdapter{steps: 20, stepDelay: 20 * time.Millisecond, cooperative: true})
	m := newTestManager(t, 1, registry, DefaultConfig())

	req := domain.SubmitRequest{TrainerKind: domain.TrainerLoRA, ConfigRef: "cfg", DatasetRef: "ds"}
	j1, err := m.Submit(req)
	require.NoError(t, err)
	j2, err := m.Submit(req)
	require.NoError(t, err)

	// Give the worker time to claim J1 before cancelling J2, so J2 is
	// cancelled strictly while still queued.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, m.Cancel(j2))

	sub, _, err := m.Observe(hub.Filter{JobID: j2})
	require.NoError(t, err)
	events := drain(t, sub, time.Second)
	require.NotEmpty(t, events)
	require.Equal(t, domain.JobStatusCancelled, events[len(events)-1].Status)

	job1, err := m.Get(j1)
	require.NoError(t, err)
	require.NotEqual(t, domain.JobStatusCancelled, job1.Status)
}

func TestCancelRunningCooperative(t *testing.T) {
	registry := trainer.NewRegistry()
	registry.Register(domain.TrainerLoRA, fakeAdapter{steps: 1000, stepDelay: 20 * time.Millisecond, cooperative: true})
	cfg := DefaultConfig()
	cfg.CancelGraceTimeout = time.Second
	m := newTestManager(t, 1, registry, cfg)

	req := domain.SubmitRequest{TrainerKind: domain.TrainerLoRA, ConfigRef: "cfg", DatasetRef: "ds"}
	jobID, err := m.Submit(req)
	require.NoError(t, err)

	sub, _, err := m.Observe(hub.Filter{JobID: jobID})
	require.NoError(t, err)

	// Wait for the running transition before cancelling.
	for {
		e := <-sub.Events()
		if e.Status == domain.JobStatusRunning {
			break
		}
	}
	require.NoError(t, m.Cancel(jobID))

	events := drain(t, sub, 2*time.Second)
	require.NotEmpty(t, events)
	require.Equal(t, domain.JobStatusCancelled, events[len(events)-1].Status)
}

func TestCancelRunningNonCooperativeTimesOut(t *testing.T) {
	registry := trainer.NewRegistry()
	registry.Register(domain.TrainerLoRA, fakeAdapter{steps: 1000, stepDelay: time.Millisecond, cooperative: false})
	cfg := DefaultConfig()
	cfg.CancelGraceTimeout = 200 * time.Millisecond
	m := newTestManager(t, 1, registry, cfg)

	req := domain.SubmitRequest{TrainerKind: domain.TrainerLoRA, ConfigRef: "cfg", DatasetRef: "ds"}
	jobID, err := m.Submit(req)
	require.NoError(t, err)

	sub, _, err := m.Observe(hub.Filter{JobID: jobID})
	require.NoError(t, err)
	for {
		e := <-sub.Events()
		if e.Status == domain.JobStatusRunning {
			break
		}
	}
	require.NoError(t, m.Cancel(jobID))

	events := drain(t, sub, 2*time.Second)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, domain.JobStatusFailed, last.Status)
	require.Equal(t, domain.ErrKindCancelTimeout, last.ErrorKind)
}

func TestLateSubscriberBootstrapsTerminalSnapshot(t *testing.T) {
	registry := trainer.NewRegistry()
	registry.Register(domain.TrainerLoRA, fakeAdapter{steps: 1, stepDelay: time.Millisecond, cooperative: true})
	m := newTestManager(t, 1, registry, DefaultConfig())

	req := domain.SubmitRequest{TrainerKind: domain.TrainerLoRA, ConfigRef: "cfg", DatasetRef: "ds"}
	jobID, err := m.Submit(req)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := m.Get(jobID)
		return err == nil && job.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	sub, snapshot, err := m.Observe(hub.Filter{JobID: jobID})
	require.NoError(t, err)
	require.Len(t, snapshot, 1)
	require.Equal(t, domain.JobStatusCompleted, snapshot[0].Status)

	select {
	case e := <-sub.Events():
		require.Equal(t, domain.JobStatusCompleted, e.Status)
		require.Equal(t, snapshot[0].Seq, e.Seq)
	case <-time.After(time.Second):
		t.Fatal("expected an immediate bootstrap event for a terminal job")
	}

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not close after terminal bootstrap event")
	}
}

func TestCancelTerminalJobReturnsErrTerminal(t *testing.T) {
	registry := trainer.NewRegistry()
	registry.Register(domain.TrainerLoRA, fakeAdapter{steps: 1, stepDelay: time.Millisecond, cooperative: true})
	m := newTestManager(t, 1, registry, DefaultConfig())

	req := domain.SubmitRequest{TrainerKind: domain.TrainerLoRA, ConfigRef: "cfg", DatasetRef: "ds"}
	jobID, err := m.Submit(req)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := m.Get(jobID)
		return err == nil && job.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	err = m.Cancel(jobID)
	require.ErrorIs(t, err, domain.ErrTerminal)
}

func TestSubmitRejectsUnknownTrainer(t *testing.T) {
	registry := trainer.NewRegistry()
	m := newTestManager(t, 1, registry, DefaultConfig())

	_, err := m.Submit(domain.SubmitRequest{TrainerKind: domain.TrainerLoRA, ConfigRef: "cfg", DatasetRef: "ds"})
	require.Equal(t, domain.ErrKindUnknownTrainer, domain.KindOf(err))
}

func TestSlowWildcardSubscriberEvictedOthersUnaffected(t *testing.T) {
	registry := trainer.NewRegistry()
	registry.Register(domain.TrainerLoRA, fakeAdapter{steps: 5, stepDelay: 2 * time.Millisecond, cooperative: true})
	cfg := DefaultConfig()
	cfg.SubscriberBufferSize = 2
	cfg.Workers = 3
	m := newTestManager(t, 3, registry, cfg)

	slow, _, err := m.Observe(hub.Filter{Wildcard: true})
	require.NoError(t, err)
	fast, _, err := m.Observe(hub.Filter{Wildcard: true})
	require.NoError(t, err)

	var wg sync.WaitGroup
	fastEvents := make([]domain.ProgressEvent, 0, 64)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range fast.Events() {
			fastEvents = append(fastEvents, e)
		}
	}()

	req := domain.SubmitRequest{TrainerKind: domain.TrainerLoRA, ConfigRef: "cfg", DatasetRef: "ds"}
	jobIDs := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		id, err := m.Submit(req)
		require.NoError(t, err)
		jobIDs = append(jobIDs, id)
	}

	// The slow subscriber never drains its buffer, so it must eventually
	// be evicted while the fast one keeps receiving every event.
	select {
	case <-slow.Done():
		require.ErrorIs(t, slow.Err(), domain.ErrSlowConsumer)
	case <-time.After(5 * time.Second):
		t.Fatal("slow subscriber was never evicted")
	}

	for _, id := range jobIDs {
		require.Eventually(t, func() bool {
			job, err := m.Get(id)
			return err == nil && job.Status.Terminal()
		}, 5*time.Second, 10*time.Millisecond)
	}

	m.hub.Unsubscribe(fast)
	wg.Wait()
	require.NotEmpty(t, fastEvents)
}

func TestSubmitCapacityRejected(t *testing.T) {
	registry := trainer.NewRegistry()
	registry.Register(domain.TrainerLoRA, fakeAdapter{steps: 1000, stepDelay: 20 * time.Millisecond, cooperative: true})
	cfg := DefaultConfig()
	cfg.QueueCapacity = 1
	m := newTestManager(t, 1, registry, cfg)

	req := domain.SubmitRequest{TrainerKind: domain.TrainerLoRA, ConfigRef: "cfg", DatasetRef: "ds"}
	_, err := m.Submit(req)
	require.NoError(t, err)
	// Give the single worker time to claim the first job, freeing the
	// one-deep queue's only slot for the second submission.
	time.Sleep(30 * time.Millisecond)
	_, err = m.Submit(req)
	require.NoError(t, err)

	_, err = m.Submit(req)
	require.Equal(t, domain.ErrKindCapacity, domain.KindOf(err))
}

// TestCancelDuringPopDispatchWindowStillCancels exercises the window
// between a worker popping an entry off the queue and dispatch()
// registering its running handle, by driving both steps manually instead
// of relying on goroutine timing. Cancel must land even though, at the
// moment it runs, the job is already gone from the queue but not yet in
// m.running.
func TestCancelDuringPopDispatchWindowStillCancels(t *testing.T) {
	registry := trainer.NewRegistry()
	registry.Register(domain.TrainerLoRA, fakeAdapter{steps: 5, stepDelay: time.Millisecond, cooperative: true})

	st := store.New(time.Hour)
	q := queue.New(16)
	h := hub.New(16, 16, nil)
	logger := common.NewSilentLogger()
	m := New(st, q, h, registry, logger, DefaultConfig(), nil)

	jobID, err := m.Submit(domain.SubmitRequest{TrainerKind: domain.TrainerLoRA, ConfigRef: "cfg", DatasetRef: "ds"})
	require.NoError(t, err)

	// Simulate the worker having already popped the entry off the queue...
	_, ok := q.PopBlocking(nil)
	require.True(t, ok)

	// ...before dispatch() runs, a client cancels. At this point the job
	// is still marked queued in the store and m.running has no entry for
	// it yet.
	require.NoError(t, m.Cancel(jobID))

	// dispatch() now runs for the popped entry, as the worker loop would.
	job, ctx, err := m.dispatch(context.Background(), jobID)
	require.NoError(t, err)
	require.Nil(t, job)
	require.Nil(t, ctx)

	got, err := m.Get(jobID)
	require.NoError(t, err)
	require.Equal(t, domain.JobStatusCancelled, got.Status)
}
