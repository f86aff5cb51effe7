// Package domain holds the core types shared by every component of the
// training-job control plane: jobs, their state machine, progress events,
// and the trainer/error taxonomies they carry.
package domain

import "time"

// JobStatus is a closed sum type over the legal states of a Job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Valid reports whether s is one of the recognised statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusQueued, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s is one of the sink states.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

func (s JobStatus) String() string { return string(s) }

// TrainerKind is a closed sum type over the registered trainer adapters.
type TrainerKind string

const (
	TrainerLoRA           TrainerKind = "LoRA"
	TrainerQLoRA          TrainerKind = "QLoRA"
	TrainerContinuous     TrainerKind = "Continuous"
	TrainerDatasetAssembly TrainerKind = "DatasetAssembly"
)

// Valid reports whether k is one of the recognised trainer kinds.
func (k TrainerKind) Valid() bool {
	switch k {
	case TrainerLoRA, TrainerQLoRA, TrainerContinuous, TrainerDatasetAssembly:
		return true
	}
	return false
}

func (k TrainerKind) String() string { return string(k) }

// Minimum priority a Submit request may carry; higher values are serviced sooner.
const (
	MinPriority     = 1
	MaxPriority     = 5
	DefaultPriority = 3
)

// MockPrincipal is the synthetic identity used by the Auth Gate's debug mode.
const MockPrincipal = "mock-principal"

// Progress is the mutable execution snapshot carried on a Job.
type Progress struct {
	EpochsDone  int                `json:"epochsDone"`
	EpochsTotal int                `json:"epochsTotal"`
	StepsDone   int                `json:"stepsDone"`
	StepsTotal  int                `json:"stepsTotal"`
	LastMetrics map[string]float64 `json:"lastMetrics,omitempty"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// Merge applies a progress delta, honouring the monotonicity invariant:
// epochsDone/stepsDone never decrease. Returns false if the delta would
// violate monotonicity, in which case the receiver is left unchanged.
func (p *Progress) Merge(delta Progress) bool {
	if delta.EpochsDone < p.EpochsDone || delta.StepsDone < p.StepsDone {
		return false
	}
	if delta.EpochsDone > 0 || delta.EpochsTotal > 0 {
		p.EpochsDone = delta.EpochsDone
	}
	if delta.EpochsTotal > 0 {
		p.EpochsTotal = delta.EpochsTotal
	}
	if delta.StepsDone > 0 || delta.StepsTotal > 0 {
		p.StepsDone = delta.StepsDone
	}
	if delta.StepsTotal > 0 {
		p.StepsTotal = delta.StepsTotal
	}
	if len(delta.LastMetrics) > 0 {
		if p.LastMetrics == nil {
			p.LastMetrics = make(map[string]float64, len(delta.LastMetrics))
		}
		for k, v := range delta.LastMetrics {
			p.LastMetrics[k] = v
		}
	}
	p.UpdatedAt = time.Now()
	return true
}

// Job is the authoritative record the Job Manager owns for the life of a
// submitted unit of work.
type Job struct {
	ID          string            `json:"id"`
	TrainerKind TrainerKind       `json:"trainerKind"`
	ConfigRef   string            `json:"configRef"`
	DatasetRef  string            `json:"datasetRef,omitempty"`
	Priority    int               `json:"priority"`
	SubmittedAt time.Time         `json:"submittedAt"`
	SubmittedBy string            `json:"submittedBy"`
	Tags        []string          `json:"tags,omitempty"`

	Status       JobStatus         `json:"status"`
	StartedAt    time.Time         `json:"startedAt,omitempty"`
	FinishedAt   time.Time         `json:"finishedAt,omitempty"`
	Progress     Progress          `json:"progress"`
	LastError    string            `json:"lastError,omitempty"`
	LastErrorKind ErrorKind        `json:"lastErrorKind,omitempty"`
	ArtifactRefs map[string]string `json:"artifactRefs,omitempty"`

	// Seq is the per-job monotonic event counter; it lives on the job
	// record so a late subscriber's bootstrap event carries the job's
	// current value.
	Seq int `json:"seq"`

	// CancelRequested marks that a Cancel call has been accepted for this
	// job but not yet observed by the owning worker/trainer.
	CancelRequested bool `json:"-"`
}

// Clone returns a deep-enough copy of j suitable for a read snapshot —
// safe for a caller to read without racing the Manager's writer.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Tags != nil {
		cp.Tags = append([]string(nil), j.Tags...)
	}
	if j.ArtifactRefs != nil {
		cp.ArtifactRefs = make(map[string]string, len(j.ArtifactRefs))
		for k, v := range j.ArtifactRefs {
			cp.ArtifactRefs[k] = v
		}
	}
	if j.Progress.LastMetrics != nil {
		cp.Progress.LastMetrics = make(map[string]float64, len(j.Progress.LastMetrics))
		for k, v := range j.Progress.LastMetrics {
			cp.Progress.LastMetrics[k] = v
		}
	}
	return &cp
}

// ProgressEvent is the unit delivered to Progress Hub subscribers.
type ProgressEvent struct {
	JobID             string      `json:"jobID"`
	Status            JobStatus   `json:"status"`
	Progress          Progress    `json:"progress"`
	Seq               int         `json:"seq"`
	ArtifactRefs      map[string]string `json:"artifactRefs,omitempty"`
	ErrorKind         ErrorKind   `json:"errorKind,omitempty"`
}

// Terminal reports whether this event represents a job's terminal transition.
func (e ProgressEvent) Terminal() bool { return e.Status.Terminal() }

// QueueEntry is the value held by the Priority Queue between acceptance and
// dispatch. Ordering is higher Priority first, then earlier SubmittedAt.
type QueueEntry struct {
	JobID       string
	Priority    int
	SubmittedAt time.Time
}

// Less reports whether a should be served before b under queue ordering.
func (a QueueEntry) Less(b QueueEntry) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.SubmittedAt.Before(b.SubmittedAt)
}

// SubmitRequest is the validated input to Job Manager Submit.
type SubmitRequest struct {
	TrainerKind TrainerKind
	ConfigRef   string
	DatasetRef  string
	Priority    int
	SubmittedBy string
	Tags        []string
}

// ListFilter narrows a List call.
type ListFilter struct {
	Status      map[JobStatus]bool
	TrainerKind map[TrainerKind]bool
	SubmittedBy string
	Limit       int
}

// Matches reports whether job j satisfies the filter.
func (f ListFilter) Matches(j *Job) bool {
	if len(f.Status) > 0 && !f.Status[j.Status] {
		return false
	}
	if len(f.TrainerKind) > 0 && !f.TrainerKind[j.TrainerKind] {
		return false
	}
	if f.SubmittedBy != "" && f.SubmittedBy != j.SubmittedBy {
		return false
	}
	return true
}

// DatasetExportFormat enumerates the supported DatasetAssembly export formats.
type DatasetExportFormat string

const (
	ExportLineDelimitedJSON DatasetExportFormat = "lineDelimitedJSON"
	ExportColumnar          DatasetExportFormat = "columnar"
	ExportCommaSeparated    DatasetExportFormat = "commaSeparated"
)

// DatasetDescriptor is the output of a completed DatasetAssembly job.
type DatasetDescriptor struct {
	DatasetID        string                         `json:"datasetID"`
	Name             string                         `json:"name"`
	DocumentCount    int                            `json:"documentCount"`
	TotalTokens      int                            `json:"totalTokens"`
	QualityScoreMean float64                         `json:"qualityScoreMean"`
	Exports          map[DatasetExportFormat]string `json:"exports"`
}

// DatasetRecord is one line of a line-delimited-JSON dataset export.
type DatasetRecord struct {
	ID   string            `json:"id"`
	Text string            `json:"text"`
	Meta map[string]string `json:"meta,omitempty"`
}
