package trainer

import (
	"context"
	"fmt"
	"time"

	"github.com/makr-code/loraforge/internal/domain"
	"github.com/makr-code/loraforge/internal/providers"
)

// continuousTrainer drains a feedback buffer through a FeedbackProvider
// and simulates an incremental update pass over whatever it drained. With
// an empty buffer it completes almost immediately, matching the
// contract's "may complete quickly when the buffer is small" note.
type continuousTrainer struct {
	feedback      providers.FeedbackProvider
	drainLimit    int
	stepWork      time.Duration
}

// NewContinuous returns the Continuous trainerKind Adapter. drainLimit
// bounds how many feedback samples a single run consumes (the default
// feedback drain policy is 256).
func NewContinuous(feedback providers.FeedbackProvider, drainLimit int, stepWork time.Duration) Adapter {
	if drainLimit <= 0 {
		drainLimit = 256
	}
	return &continuousTrainer{feedback: feedback, drainLimit: drainLimit, stepWork: stepWork}
}

func (t *continuousTrainer) Validate(configRef, datasetRef string) error {
	if configRef == "" {
		return domain.NewError(domain.ErrKindInvalidConfig, "configRef is required")
	}
	return nil
}

func (t *continuousTrainer) Run(ctx context.Context, configRef, datasetRef string, report Reporter) Result {
	samples, err := t.feedback.DrainFeedback(ctx, t.drainLimit)
	if err != nil {
		return Result{Err: domain.WrapError(domain.ErrKindInternal, "draining feedback", err)}
	}

	total := len(samples)
	progress := domain.Progress{EpochsTotal: 1, StepsTotal: total}
	if total == 0 {
		progress.EpochsDone = 1
		progress.UpdatedAt = time.Now()
		report(progress)
		return Result{ArtifactRefs: map[string]string{"summary": fmt.Sprintf("artifacts/continuous/%s/empty.json", configRef)}}
	}

	var scoreSum float64
	lastReport := time.Now()
	for i, sample := range samples {
		select {
		case <-ctx.Done():
			return Result{Cancelled: true}
		case <-time.After(t.stepWork):
		}

		scoreSum += sample.Score
		progress.StepsDone = i + 1
		if i == total-1 {
			progress.EpochsDone = 1
		}

		if time.Since(lastReport) >= time.Second || i == total-1 {
			progress.LastMetrics = map[string]float64{"meanFeedbackScore": scoreSum / float64(progress.StepsDone)}
			progress.UpdatedAt = time.Now()
			report(progress)
			lastReport = time.Now()
		}
	}

	return Result{ArtifactRefs: map[string]string{
		"adapter": fmt.Sprintf("artifacts/continuous/%s/adapter.safetensors", configRef),
	}}
}
