// Package trainer implements the Trainer Adapter: a uniform contract
// implemented once per domain.TrainerKind and looked up through a
// Registry, replacing a coupled class hierarchy with an interface plus a
// keyed registration table (the same shape the teacher's job dispatcher
// uses, turned into a map lookup instead of a type switch).
package trainer

import (
	"context"

	"github.com/makr-code/loraforge/internal/domain"
)

// Reporter is the callback a Run implementation uses to publish progress.
// The worker binds it to the Job Manager's ReportProgress so a trainer
// never touches job state directly.
type Reporter func(delta domain.Progress)

// Result is what Run returns on completion. Exactly one of Err or
// Cancelled should be set for a non-success outcome; ArtifactRefs is
// populated only on success.
type Result struct {
	ArtifactRefs map[string]string
	Cancelled    bool
	Err          error
}

// Adapter is the contract every trainerKind implements once.
type Adapter interface {
	// Validate performs cheap structural checks only — no heavy I/O, no
	// semantic validation of dataset contents. Returns ErrInvalidConfig
	// (wrapped with a descriptive message) on failure.
	Validate(configRef, datasetRef string) error

	// Run performs the actual work, cooperatively checking ctx for
	// cancellation at epoch/chunk boundaries, calling report at intervals
	// no more often than roughly once per second.
	Run(ctx context.Context, configRef, datasetRef string, report Reporter) Result
}

// Registry maps a TrainerKind to its Adapter. A Registry is built once at
// startup from configuration (which kinds a given binary enables) and is
// read-only for the lifetime of the process.
type Registry struct {
	adapters map[domain.TrainerKind]Adapter
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[domain.TrainerKind]Adapter)}
}

// Register binds kind to adapter. Intended to be called only during
// startup wiring.
func (r *Registry) Register(kind domain.TrainerKind, adapter Adapter) {
	r.adapters[kind] = adapter
}

// Resolve looks up the Adapter for kind, or ErrUnknownTrainer if the
// binary was not configured to enable it.
func (r *Registry) Resolve(kind domain.TrainerKind) (Adapter, error) {
	a, ok := r.adapters[kind]
	if !ok {
		return nil, domain.WrapError(domain.ErrKindUnknownTrainer, string(kind), nil)
	}
	return a, nil
}

// Enabled reports the kinds currently registered, for diagnostics and
// config validation at startup.
func (r *Registry) Enabled() []domain.TrainerKind {
	out := make([]domain.TrainerKind, 0, len(r.adapters))
	for k := range r.adapters {
		out = append(out, k)
	}
	return out
}
