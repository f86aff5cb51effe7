// Package surreal is an optional durable archive for terminal jobs. The
// Job State Store itself is in-memory only and never persists anything
// (see internal/store); a deployment that wants terminal jobs to survive
// a restart constructs an ArchiveStore alongside the in-memory one and
// calls Archive from wherever it observes a job go terminal (the Job
// Manager's Recorder hook is the natural place). Nothing in this module
// constructs one by default.
package surreal

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/makr-code/loraforge/internal/common"
	"github.com/makr-code/loraforge/internal/domain"
)

// jobSelectFields mirrors the job_archive table's columns onto domain.Job,
// aliasing job_id back to id for struct mapping.
const jobSelectFields = "job_id as id, trainer_kind, config_ref, dataset_ref, priority, " +
	"submitted_at, submitted_by, status, started_at, finished_at, last_error, last_error_kind, seq"

// ArchiveStore persists terminal domain.Job snapshots to SurrealDB, for
// deployments that need job history to outlive a process restart.
type ArchiveStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewArchiveStore wraps an already-connected SurrealDB handle.
func NewArchiveStore(db *surrealdb.DB, logger *common.Logger) *ArchiveStore {
	return &ArchiveStore{db: db, logger: logger}
}

// Archive upserts a terminal job's record. Called once per job, after the
// Job Manager observes its terminal transition; calling it again for the
// same job ID (e.g. a retried archive write) overwrites the prior record
// rather than erroring.
func (s *ArchiveStore) Archive(ctx context.Context, job *domain.Job) error {
	sql := `UPSERT $rid SET
		job_id = $job_id, trainer_kind = $trainer_kind, config_ref = $config_ref,
		dataset_ref = $dataset_ref, priority = $priority, submitted_at = $submitted_at,
		submitted_by = $submitted_by, status = $status, started_at = $started_at,
		finished_at = $finished_at, last_error = $last_error, last_error_kind = $last_error_kind,
		seq = $seq`
	vars := map[string]any{
		"rid":             surrealmodels.NewRecordID("job_archive", job.ID),
		"job_id":          job.ID,
		"trainer_kind":    job.TrainerKind,
		"config_ref":      job.ConfigRef,
		"dataset_ref":     job.DatasetRef,
		"priority":        job.Priority,
		"submitted_at":    job.SubmittedAt,
		"submitted_by":    job.SubmittedBy,
		"status":          job.Status,
		"started_at":      job.StartedAt,
		"finished_at":     job.FinishedAt,
		"last_error":      job.LastError,
		"last_error_kind": job.LastErrorKind,
		"seq":             job.Seq,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to archive job %s: %w", job.ID, err)
	}
	return nil
}

// Get retrieves one archived job by ID, or domain.ErrNotFound if absent.
func (s *ArchiveStore) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	sql := "SELECT " + jobSelectFields + " FROM job_archive WHERE job_id = $job_id LIMIT 1"
	vars := map[string]any{"job_id": jobID}

	results, err := surrealdb.Query[[]domain.Job](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to query archived job %s: %w", jobID, err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, domain.NewError(domain.ErrKindNotFound, "archived job "+jobID+" not found")
	}
	job := (*results)[0].Result[0]
	return &job, nil
}

// ListBySubmitter returns archived jobs for submittedBy, most recent first.
func (s *ArchiveStore) ListBySubmitter(ctx context.Context, submittedBy string, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	sql := "SELECT " + jobSelectFields + " FROM job_archive WHERE submitted_by = $submitted_by " +
		"ORDER BY submitted_at DESC LIMIT $limit"
	vars := map[string]any{"submitted_by": submittedBy, "limit": limit}
	return s.queryJobs(ctx, sql, vars)
}

// PurgeOlderThan deletes archived jobs whose FinishedAt predates cutoff,
// for a deployment that wants the archive itself to age out eventually.
func (s *ArchiveStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) error {
	sql := "DELETE FROM job_archive WHERE finished_at < $cutoff"
	vars := map[string]any{"cutoff": cutoff}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to purge archived jobs: %w", err)
	}
	return nil
}

func (s *ArchiveStore) queryJobs(ctx context.Context, sql string, vars map[string]any) ([]*domain.Job, error) {
	results, err := surrealdb.Query[[]domain.Job](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to query archived jobs: %w", err)
	}

	var jobs []*domain.Job
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			jobs = append(jobs, &(*results)[0].Result[i])
		}
	}
	return jobs, nil
}
