package trainer

import (
	"context"
	"fmt"
	"time"

	"github.com/makr-code/loraforge/internal/domain"
)

// epochTrainer is the shared deterministic simulator behind LoRA and
// QLoRA: both are epoch-structured training runs with the same config
// validation that differ only in the artifacts they produce. A real
// deployment would replace stepWork with an actual training call; this
// adapter honours the timing and cancellation contract so the rest of the
// system (queueing, progress fan-out, cancellation) can be exercised
// end-to-end without one.
type epochTrainer struct {
	kind          domain.TrainerKind
	epochs        int
	stepsPerEpoch int
	stepWork      time.Duration
	artifacts     func(configRef string) map[string]string
}

func (t epochTrainer) Validate(configRef, datasetRef string) error {
	if configRef == "" {
		return domain.NewError(domain.ErrKindInvalidConfig, "configRef is required")
	}
	if datasetRef == "" {
		return domain.NewError(domain.ErrKindInvalidConfig, fmt.Sprintf("%s requires a datasetRef", t.kind))
	}
	return nil
}

func (t epochTrainer) Run(ctx context.Context, configRef, datasetRef string, report Reporter) Result {
	progress := domain.Progress{EpochsTotal: t.epochs, StepsTotal: t.epochs * t.stepsPerEpoch}
	lastReport := time.Now()

	for epoch := 1; epoch <= t.epochs; epoch++ {
		for step := 1; step <= t.stepsPerEpoch; step++ {
			select {
			case <-ctx.Done():
				return Result{Cancelled: true}
			case <-time.After(t.stepWork):
			}

			progress.StepsDone++
			progress.LastMetrics = map[string]float64{"loss": simulatedLoss(progress.StepsDone, progress.StepsTotal)}
			if step == t.stepsPerEpoch {
				progress.EpochsDone = epoch
			}

			if time.Since(lastReport) >= time.Second || (epoch == t.epochs && step == t.stepsPerEpoch) {
				progress.UpdatedAt = time.Now()
				report(progress)
				lastReport = time.Now()
			}
		}
	}

	return Result{ArtifactRefs: t.artifacts(configRef)}
}

// simulatedLoss produces a monotonically-decreasing-ish curve so progress
// snapshots look like a real training run without any real numerics.
func simulatedLoss(stepsDone, stepsTotal int) float64 {
	if stepsTotal == 0 {
		return 0
	}
	fraction := float64(stepsDone) / float64(stepsTotal)
	return 1.0 - 0.9*fraction
}

// NewLoRA returns the LoRA trainerKind Adapter: epochs/stepsPerEpoch
// control the simulated run length, stepWork the per-step simulated
// latency.
func NewLoRA(epochs, stepsPerEpoch int, stepWork time.Duration) Adapter {
	return epochTrainer{
		kind:          domain.TrainerLoRA,
		epochs:        epochs,
		stepsPerEpoch: stepsPerEpoch,
		stepWork:      stepWork,
		artifacts: func(configRef string) map[string]string {
			return map[string]string{"adapter": fmt.Sprintf("artifacts/lora/%s/adapter.safetensors", configRef)}
		},
	}
}

// NewQLoRA returns the QLoRA trainerKind Adapter, producing both a
// quantized-base reference and the adapter delta on success.
func NewQLoRA(epochs, stepsPerEpoch int, stepWork time.Duration) Adapter {
	return epochTrainer{
		kind:          domain.TrainerQLoRA,
		epochs:        epochs,
		stepsPerEpoch: stepsPerEpoch,
		stepWork:      stepWork,
		artifacts: func(configRef string) map[string]string {
			return map[string]string{
				"quantizedBase": fmt.Sprintf("artifacts/qlora/%s/base.q4.gguf", configRef),
				"adapter":       fmt.Sprintf("artifacts/qlora/%s/adapter.safetensors", configRef),
			}
		},
	}
}
