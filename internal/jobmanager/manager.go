// Package jobmanager implements the Job Manager: sole authoritative owner
// of job state and sole writer to the Job State Store, plus the worker
// pool that dequeues and drives jobs to completion.
//
// The safeGo panic-recovering goroutine launcher and Start/Stop lifecycle
// (a context.CancelFunc plus a sync.WaitGroup) are grounded directly on
// the corpus's own job manager; the single logical writer here is a plain
// mutex guarding every state transition, the "mutex protecting the store"
// option the concurrency model explicitly allows.
package jobmanager

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/makr-code/loraforge/internal/common"
	"github.com/makr-code/loraforge/internal/domain"
	"github.com/makr-code/loraforge/internal/hub"
	"github.com/makr-code/loraforge/internal/queue"
	"github.com/makr-code/loraforge/internal/store"
	"github.com/makr-code/loraforge/internal/trainer"
)

// Config bundles the Manager's tunable knobs, all sourced from the
// service's [scheduler] configuration section.
type Config struct {
	Workers                int
	QueueCapacity          int
	MaxSubscribers         int
	SubscriberBufferSize   int
	CancelGraceTimeout     time.Duration
	JobRunTimeout          time.Duration // 0 means infinite
	RetainTerminalFor      time.Duration
	RetentionSweepInterval time.Duration
}

// DefaultConfig returns the capacity defaults named throughout the
// concurrency model: 2 workers, a 256-deep queue, 1024 subscribers, a
// 64-event per-subscriber buffer, a 30s cancel grace period, no job run
// timeout, and 24h terminal-job retention.
func DefaultConfig() Config {
	return Config{
		Workers:                2,
		QueueCapacity:          256,
		MaxSubscribers:         1024,
		SubscriberBufferSize:   64,
		CancelGraceTimeout:     30 * time.Second,
		JobRunTimeout:          0,
		RetainTerminalFor:      24 * time.Hour,
		RetentionSweepInterval: 5 * time.Minute,
	}
}

// Recorder receives metric observations from the Manager. Every method is
// optional to implement meaningfully — a nil Recorder is never dereferenced
// because the Manager only ever calls through a non-nil noopRecorder when
// none is supplied, matching the corpus's habit of taking small
// consumer-defined interfaces for cross-cutting collaborators.
type Recorder interface {
	JobSubmitted(kind domain.TrainerKind)
	JobTerminal(status domain.JobStatus)
	QueueDepth(n int)     // current absolute queue length
	WorkersBusy(delta int) // +1 when a worker claims a job, -1 when it returns to idle
	ProgressEventPublished()
	SubscribersActive(n int) // current absolute subscriber count
	SlowConsumerEvicted()
}

type noopRecorder struct{}

func (noopRecorder) JobSubmitted(domain.TrainerKind) {}
func (noopRecorder) JobTerminal(domain.JobStatus)    {}
func (noopRecorder) QueueDepth(int)                  {}
func (noopRecorder) WorkersBusy(int)                 {}
func (noopRecorder) ProgressEventPublished()          {}
func (noopRecorder) SubscribersActive(int)            {}
func (noopRecorder) SlowConsumerEvicted()             {}

// runHandle tracks the cancellation plumbing for one in-flight job, so
// Cancel can reach a running job's worker without the worker and the
// Manager sharing anything beyond this handle.
type runHandle struct {
	cancel context.CancelFunc
	timer  *time.Timer // non-nil only when a jobRunTimeout is configured
	mu     sync.Mutex
	reason string // "", "user", or "timeout"
}

func (h *runHandle) markReason(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reason == "" {
		h.reason = reason
	}
}

func (h *runHandle) getReason() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reason
}

// Manager is the Job Manager and the owner of the worker pool.
type Manager struct {
	mu sync.Mutex // serialises every job-state transition; see package doc

	store    *store.MemStore
	queue    *queue.Queue
	hub      *hub.Hub
	registry *trainer.Registry
	logger   *common.Logger
	config   Config
	recorder Recorder

	running map[string]*runHandle

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Manager. recorder may be nil.
func New(st *store.MemStore, q *queue.Queue, h *hub.Hub, registry *trainer.Registry, logger *common.Logger, config Config, recorder Recorder) *Manager {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Manager{
		store:    st,
		queue:    q,
		hub:      h,
		registry: registry,
		logger:   logger,
		config:   config,
		recorder: recorder,
		running:  make(map[string]*runHandle),
	}
}

// safeGo launches a goroutine with panic recovery, matching the corpus's
// job manager launcher.
func (m *Manager) safeGo(name string, fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("recovered from panic in job manager goroutine")
			}
		}()
		fn()
	}()
}

// Start launches the worker pool and the retention sweep loop. Safe to
// call only once per Manager; call Stop before constructing a new Manager
// to restart.
func (m *Manager) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	workers := m.config.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		w := &worker{id: i, manager: m}
		m.safeGo(fmt.Sprintf("worker-%d", i), func() { w.loop(ctx) })
	}

	if m.config.RetentionSweepInterval > 0 {
		m.safeGo("retention-sweep", func() { m.retentionLoop(ctx) })
	}

	m.logger.Info().Int("workers", workers).Msg("job manager started")
}

// Stop drains the queue, releases blocked workers, and waits for every
// launched goroutine to return.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.queue.Shutdown()
	m.wg.Wait()
	m.logger.Info().Msg("job manager stopped")
}

func (m *Manager) retentionLoop(ctx context.Context) {
	ticker := time.NewTicker(m.config.RetentionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.store.PurgeTerminal(time.Now()); n > 0 {
				m.logger.Debug().Int("evicted", n).Msg("purged retained terminal jobs")
			}
		}
	}
}

// Submit validates and accepts request, enqueues the resulting job, and
// returns its JobID.
func (m *Manager) Submit(request domain.SubmitRequest) (string, error) {
	if !request.TrainerKind.Valid() {
		return "", domain.WrapError(domain.ErrKindUnknownTrainer, string(request.TrainerKind), nil)
	}
	if _, err := m.registry.Resolve(request.TrainerKind); err != nil {
		return "", err
	}

	priority := request.Priority
	if priority == 0 {
		priority = domain.DefaultPriority
	}
	if priority < domain.MinPriority || priority > domain.MaxPriority {
		return "", domain.NewError(domain.ErrKindInvalidConfig, "priority must be in [1,5]")
	}
	if request.ConfigRef == "" {
		return "", domain.NewError(domain.ErrKindInvalidConfig, "configRef is required")
	}
	requiresDataset := request.TrainerKind == domain.TrainerLoRA || request.TrainerKind == domain.TrainerQLoRA
	if requiresDataset && request.DatasetRef == "" {
		return "", domain.NewError(domain.ErrKindInvalidConfig, fmt.Sprintf("%s requires a datasetRef", request.TrainerKind))
	}

	adapter, _ := m.registry.Resolve(request.TrainerKind)
	if err := adapter.Validate(request.ConfigRef, request.DatasetRef); err != nil {
		return "", err
	}

	now := time.Now()
	job := &domain.Job{
		ID:          uuid.NewString(),
		TrainerKind: request.TrainerKind,
		ConfigRef:   request.ConfigRef,
		DatasetRef:  request.DatasetRef,
		Priority:    priority,
		SubmittedAt: now,
		SubmittedBy: request.SubmittedBy,
		Tags:        request.Tags,
		Status:      domain.JobStatusPending,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.queue.Push(domain.QueueEntry{JobID: job.ID, Priority: job.Priority, SubmittedAt: job.SubmittedAt}); err != nil {
		return "", err
	}
	job.Status = domain.JobStatusQueued
	m.store.Put(job)
	m.recorder.JobSubmitted(job.TrainerKind)
	m.recorder.QueueDepth(m.queue.Len())
	m.publish(job)

	return job.ID, nil
}

// Get returns the job record for jobID.
func (m *Manager) Get(jobID string) (*domain.Job, error) {
	return m.store.Get(jobID)
}

// List returns jobs matching filter.
func (m *Manager) List(filter domain.ListFilter) []*domain.Job {
	return m.store.List(filter)
}

// Cancel requests cancellation of jobID per the state-machine rules in
// §4.1: a queued job is cancelled immediately; a running job's trainer is
// signalled and the transition happens asynchronously; a terminal job
// returns ErrTerminal.
func (m *Manager) Cancel(jobID string) error {
	m.mu.Lock()

	job, err := m.store.Get(jobID)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	switch {
	case job.Status == domain.JobStatusQueued:
		if m.queue.Remove(jobID) {
			m.transitionLocked(jobID, domain.JobStatusCancelled, nil, domain.ErrKindInternal, "")
			m.mu.Unlock()
			return nil
		}
		// Already popped off the queue by a worker, but dispatch() may not
		// have registered a running handle yet — mark the job so dispatch
		// sees the pending cancellation under the same lock and cancels
		// immediately instead of starting it, then fall through in case
		// the handle is already live.
		_ = m.store.Mutate(jobID, func(j *domain.Job) error {
			j.CancelRequested = true
			return nil
		})
		fallthrough
	case job.Status == domain.JobStatusRunning:
		handle := m.running[jobID]
		m.mu.Unlock()
		if handle != nil {
			handle.markReason("user")
			handle.cancel()
		}
		return nil
	default:
		m.mu.Unlock()
		return domain.ErrTerminal
	}
}

// ReportProgress merges delta into jobID's stored Progress, rejecting
// stale or non-monotonic reports, and forwards the resulting event to the
// Progress Hub. Called only by workers.
func (m *Manager) ReportProgress(jobID string, delta domain.Progress) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var event domain.ProgressEvent
	var publish bool
	err := m.store.Mutate(jobID, func(j *domain.Job) error {
		if j.Status != domain.JobStatusRunning {
			return nil // stale report from a crashed/abandoned trainer; drop silently
		}
		if !j.Progress.Merge(delta) {
			return nil // non-monotonic; reject silently
		}
		j.Seq++
		event = domain.ProgressEvent{JobID: j.ID, Status: j.Status, Progress: j.Progress, Seq: j.Seq}
		publish = true
		return nil
	})
	if err != nil || !publish {
		return
	}
	m.hub.Publish(event)
	m.recorder.ProgressEventPublished()
}

// Observe attaches a subscription for filter, returning it alongside a
// bootstrap snapshot taken atomically with the attach so no event is lost
// across the boundary (per the Progress Hub's attach-atomicity contract).
func (m *Manager) Observe(filter hub.Filter) (*hub.Subscription, []*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var snapshot []*domain.Job
	if filter.Wildcard {
		snapshot = m.store.List(domain.ListFilter{})
	} else {
		job, err := m.store.Get(filter.JobID)
		if err != nil {
			return nil, nil, err
		}
		snapshot = []*domain.Job{job}
	}

	sub, err := m.hub.Subscribe(filter)
	if err != nil {
		return nil, nil, err
	}
	for _, job := range snapshot {
		m.hub.Bootstrap(sub, domain.ProgressEvent{
			JobID:        job.ID,
			Status:       job.Status,
			Progress:     job.Progress,
			Seq:          job.Seq,
			ArtifactRefs: job.ArtifactRefs,
			ErrorKind:    job.LastErrorKind,
		})
	}
	m.recorder.SubscribersActive(m.hub.Count())
	return sub, snapshot, nil
}

// dispatch transitions a dequeued job from queued to running, returning
// the job snapshot and a per-job context bound to cancellation. Returns
// (nil, nil, nil) if the job was no longer queued (cancelled in the
// meantime), per the worker loop's "discard and loop" instruction.
func (m *Manager) dispatch(parent context.Context, jobID string) (*domain.Job, context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.store.Get(jobID)
	if err != nil || job.Status != domain.JobStatusQueued {
		return nil, nil, nil
	}

	if job.CancelRequested {
		m.transitionLocked(jobID, domain.JobStatusCancelled, nil, domain.ErrKindInternal, "")
		return nil, nil, nil
	}

	ctx, cancel := context.WithCancel(parent)
	handle := &runHandle{cancel: cancel}
	if m.config.JobRunTimeout > 0 {
		handle.timer = time.AfterFunc(m.config.JobRunTimeout, func() {
			handle.markReason("timeout")
			cancel()
		})
	}
	m.running[jobID] = handle

	m.transitionLocked(jobID, domain.JobStatusRunning, nil, domain.ErrKindInternal, "")
	job, _ = m.store.Get(jobID)
	m.recorder.QueueDepth(m.queue.Len())
	return job, ctx, nil
}

// finish performs the terminal transition for jobID and unregisters its
// run handle. outcome is one of "completed", "failed", "cancelled".
func (m *Manager) finish(jobID string, outcome domain.JobStatus, artifacts map[string]string, kind domain.ErrorKind, message string) {
	m.mu.Lock()
	if handle := m.running[jobID]; handle != nil && handle.timer != nil {
		handle.timer.Stop()
	}
	delete(m.running, jobID)
	m.transitionLocked(jobID, outcome, artifacts, kind, message)
	m.mu.Unlock()
	m.recorder.JobTerminal(outcome)
}

// cancelReason reports why jobID's in-flight run was cancelled ("user",
// "timeout", or "" if it was never signalled), for the worker to choose
// between ErrCancelTimeout and ErrTimeout when the grace period lapses.
func (m *Manager) cancelReason(jobID string) string {
	m.mu.Lock()
	handle := m.running[jobID]
	m.mu.Unlock()
	if handle == nil {
		return ""
	}
	return handle.getReason()
}

// transitionLocked applies a status change, timestamps, and artifact/error
// fields, bumps seq, and publishes the resulting event. Must be called
// with m.mu held.
func (m *Manager) transitionLocked(jobID string, status domain.JobStatus, artifacts map[string]string, errKind domain.ErrorKind, message string) {
	now := time.Now()
	var event domain.ProgressEvent
	_ = m.store.Mutate(jobID, func(j *domain.Job) error {
		j.Status = status
		switch status {
		case domain.JobStatusRunning:
			j.StartedAt = now
		case domain.JobStatusCompleted:
			j.FinishedAt = now
			j.ArtifactRefs = artifacts
		case domain.JobStatusFailed:
			j.FinishedAt = now
			j.LastError = message
			j.LastErrorKind = errKind
		case domain.JobStatusCancelled:
			j.FinishedAt = now
		}
		j.Seq++
		event = domain.ProgressEvent{JobID: j.ID, Status: j.Status, Progress: j.Progress, Seq: j.Seq, ArtifactRefs: j.ArtifactRefs}
		if status == domain.JobStatusFailed {
			event.ErrorKind = errKind
		}
		return nil
	})
	m.publishEvent(event)
}

func (m *Manager) publish(job *domain.Job) {
	m.publishEvent(domain.ProgressEvent{JobID: job.ID, Status: job.Status, Progress: job.Progress, Seq: job.Seq})
}

func (m *Manager) publishEvent(event domain.ProgressEvent) {
	m.logger.Info().Str("job_id", event.JobID).Str("event", "transition").Str("outcome", string(event.Status)).Int("seq", event.Seq).Msg("job state transition")
	m.hub.Publish(event)
	m.recorder.ProgressEventPublished()
}
