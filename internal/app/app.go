// Package app wires together the Job Manager, Worker Pool, Progress Hub,
// Trainer Adapters, Auth Gate, and metrics collector into the shared core
// both cmd binaries start from, differing only in which trainer kinds
// are enabled and which bind address they serve on.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/makr-code/loraforge/internal/auth"
	"github.com/makr-code/loraforge/internal/common"
	"github.com/makr-code/loraforge/internal/domain"
	"github.com/makr-code/loraforge/internal/hub"
	"github.com/makr-code/loraforge/internal/jobmanager"
	"github.com/makr-code/loraforge/internal/llm"
	"github.com/makr-code/loraforge/internal/metrics"
	"github.com/makr-code/loraforge/internal/providers"
	"github.com/makr-code/loraforge/internal/queue"
	"github.com/makr-code/loraforge/internal/store"
	"github.com/makr-code/loraforge/internal/trainer"
)

// App holds every constructed collaborator the Request Surface needs.
// It is the shared core used by both cmd/forge-trainer and
// cmd/forge-datasets.
type App struct {
	Config  *common.Config
	Logger  *common.Logger
	Gate    *auth.Gate
	Metrics *metrics.Metrics
	Hub     *hub.Hub
	Manager *jobmanager.Manager

	Feedback *providers.MemoryFeedback

	StartupTime time.Time
}

// getBinaryDir returns the directory containing the executable, so a
// relative config path resolves the same way regardless of the caller's
// working directory.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// EnabledKinds lists which trainer kinds a binary registers; each of the
// two cmd/ entry points passes its own subset.
type EnabledKinds struct {
	LoRA            bool
	QLoRA           bool
	Continuous      bool
	DatasetAssembly bool
}

// New initializes configuration, logging, the Job Manager's collaborators,
// and the trainer kinds listed in kinds. configPath may be empty, in which
// case the default resolution logic below applies.
func New(configPath string, kinds EnabledKinds) (*App, error) {
	startupStart := time.Now()

	binDir := getBinaryDir()
	if configPath == "" {
		configPath = os.Getenv("LORAFORGE_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "loraforge.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/loraforge.toml"
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := common.NewLogger(config.Logging.Level)

	gate := auth.New(auth.Config{
		Mode:        auth.Mode(config.Auth.Mode),
		JWTSecret:   config.Auth.JWTSecret,
		TokenExpiry: config.Auth.GetTokenExpiry(),
		DebugRoles:  toRoles(config.Auth.DebugRoles),
	}, logger)

	m := metrics.New()

	st := store.New(config.Scheduler.GetRetainTerminalFor())
	q := queue.New(config.Scheduler.QueueCapacity)
	h := hub.New(config.Hub.SubscriberBufferSize, config.Hub.MaxSubscribers, logger)

	registry := trainer.NewRegistry()
	feedback := providers.NewMemoryFeedback()

	if kinds.LoRA {
		lc := config.Trainers.LoRA
		registry.Register(domain.TrainerLoRA, trainer.NewLoRA(lc.Epochs, lc.StepsPerEpoch, lc.GetStepWork()))
	}
	if kinds.QLoRA {
		qc := config.Trainers.QLoRA
		registry.Register(domain.TrainerQLoRA, trainer.NewQLoRA(qc.Epochs, qc.StepsPerEpoch, qc.GetStepWork()))
	}
	if kinds.Continuous {
		cc := config.Trainers.Continuous
		registry.Register(domain.TrainerContinuous, trainer.NewContinuous(feedback, cc.DrainLimit, cc.GetStepWork()))
	}
	if kinds.DatasetAssembly {
		dc := config.Trainers.DatasetAssembly

		// A real search backend is wired here by coordinates only; absent
		// configuration leaves search nil and the trainer falls back to an
		// ordered filesystem read of datasetRef.
		var search providers.SearchProvider

		var scorer trainer.QualityScorer
		if config.Providers.Search.Enabled && config.Providers.Search.APIKey != "" {
			client, err := llm.NewClient(context.Background(), config.Providers.Search.APIKey, llm.WithLogger(logger))
			if err != nil {
				logger.Warn().Err(err).Msg("LLM quality scorer unavailable, falling back to search result scores")
			} else {
				scorer = client
			}
		}
		registry.Register(domain.TrainerDatasetAssembly, trainer.NewDatasetAssembly(search, scorer, dc.ExportRoot, dc.GetStepWork()))
	}

	mgrConfig := jobmanager.Config{
		Workers:                config.Scheduler.Workers,
		QueueCapacity:          config.Scheduler.QueueCapacity,
		MaxSubscribers:         config.Hub.MaxSubscribers,
		SubscriberBufferSize:   config.Hub.SubscriberBufferSize,
		CancelGraceTimeout:     config.Scheduler.GetCancelGraceTimeout(),
		JobRunTimeout:          config.Scheduler.GetJobRunTimeout(),
		RetainTerminalFor:      config.Scheduler.GetRetainTerminalFor(),
		RetentionSweepInterval: config.Scheduler.GetRetentionSweepInterval(),
	}
	manager := jobmanager.New(st, q, h, registry, logger, mgrConfig, m)

	a := &App{
		Config:      config,
		Logger:      logger,
		Gate:        gate,
		Metrics:     m,
		Hub:         h,
		Manager:     manager,
		Feedback:    feedback,
		StartupTime: startupStart,
	}
	return a, nil
}

// Start launches the Job Manager's worker pool and retention sweeper.
func (a *App) Start() {
	a.Manager.Start()
}

// Close stops the Job Manager, draining any in-flight jobs according to
// the configured cancel grace timeout.
func (a *App) Close() {
	a.Manager.Stop()
}

func toRoles(raw []string) []auth.Role {
	out := make([]auth.Role, 0, len(raw))
	for _, r := range raw {
		out = append(out, auth.Role(r))
	}
	return out
}
