package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/makr-code/loraforge/internal/domain"
)

func newJob(id string, status domain.JobStatus, submittedAt time.Time) *domain.Job {
	return &domain.Job{
		ID:          id,
		TrainerKind: domain.TrainerLoRA,
		Status:      status,
		SubmittedAt: submittedAt,
	}
}

func TestGetNotFound(t *testing.T) {
	s := New(time.Hour)
	_, err := s.Get("missing")
	require.Equal(t, domain.ErrKindNotFound, domain.KindOf(err))
}

func TestListOrderingMostRecentFirst(t *testing.T) {
	s := New(time.Hour)
	now := time.Now()
	s.Put(newJob("old", domain.JobStatusRunning, now.Add(-time.Hour)))
	s.Put(newJob("new", domain.JobStatusRunning, now))

	jobs := s.List(domain.ListFilter{})
	require.Len(t, jobs, 2)
	require.Equal(t, "new", jobs[0].ID)
	require.Equal(t, "old", jobs[1].ID)
}

func TestListFilterByStatus(t *testing.T) {
	s := New(time.Hour)
	now := time.Now()
	s.Put(newJob("a", domain.JobStatusCompleted, now))
	s.Put(newJob("b", domain.JobStatusFailed, now))

	jobs := s.List(domain.ListFilter{Status: map[domain.JobStatus]bool{domain.JobStatusCompleted: true}})
	require.Len(t, jobs, 1)
	require.Equal(t, "a", jobs[0].ID)
}

func TestPurgeTerminalEvictsOldOnly(t *testing.T) {
	s := New(time.Hour)
	now := time.Now()

	old := newJob("stale", domain.JobStatusCompleted, now.Add(-3*time.Hour))
	old.FinishedAt = now.Add(-2 * time.Hour)
	s.Put(old)

	fresh := newJob("fresh", domain.JobStatusCompleted, now)
	fresh.FinishedAt = now
	s.Put(fresh)

	running := newJob("running", domain.JobStatusRunning, now.Add(-3*time.Hour))
	s.Put(running)

	evicted := s.PurgeTerminal(now)
	require.Equal(t, 1, evicted)

	_, err := s.Get("stale")
	require.Equal(t, domain.ErrKindNotFound, domain.KindOf(err))

	_, err = s.Get("fresh")
	require.NoError(t, err)
	_, err = s.Get("running")
	require.NoError(t, err)
}

func TestMutateAppliesUnderLock(t *testing.T) {
	s := New(time.Hour)
	s.Put(newJob("j1", domain.JobStatusQueued, time.Now()))

	err := s.Mutate("j1", func(j *domain.Job) error {
		j.Status = domain.JobStatusRunning
		return nil
	})
	require.NoError(t, err)

	got, err := s.Get("j1")
	require.NoError(t, err)
	require.Equal(t, domain.JobStatusRunning, got.Status)
}
