package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reachrl/trainwatch/internal/episodelog/csvlog"
	"github.com/reachrl/trainwatch/internal/id/uuid"
	"github.com/reachrl/trainwatch/internal/logging"
	"github.com/reachrl/trainwatch/internal/monitor"
	"github.com/reachrl/trainwatch/internal/progress"
	"github.com/reachrl/trainwatch/internal/progress/sinks"
	"github.com/reachrl/trainwatch/internal/watcher"
)

var (
	watchPath  string
	watchRunID string
)

// newWatchCmd creates the 'watch' subcommand. Watch mode is for trainers that
// only write a monitor CSV: trainwatch tails the file and runs the reward
// monitor locally instead of behind the HTTP API.
func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll a trainer's episode log file and track reward progress",
		RunE:  runWatch,
	}
	cmd.Flags().StringVar(&watchPath, "path", "", "episode log CSV file (overrides watch.path)")
	cmd.Flags().StringVar(&watchRunID, "run-id", "", "run label for emitted events")
	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if watchPath != "" {
		cfg.Watch.Path = watchPath
	}
	if cfg.Watch.Path == "" {
		return errors.New("an episode log path is required (--path or watch.path)")
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	runID := watchRunID
	if runID == "" {
		if runID, err = uuid.New().NewID(); err != nil {
			return err
		}
	}

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	hub := progress.NewHub(
		progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress.log")),
		promSink,
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = hub.Close(closeCtx)
	}()

	reader := csvlog.NewReader(cfg.Watch.Path)
	tracker := monitor.New(reader, monitor.Config{
		CheckInterval: cfg.Monitor.CheckInterval,
		Window:        cfg.Monitor.Window,
		Logger:        logger.Named("monitor").With(zap.String("run_id", runID)),
		OnCheck: func(_ context.Context, result monitor.Result) {
			if result.InsufficientData {
				return
			}
			hub.Emit(progress.Event{
				RunID:      runID,
				TS:         time.Now().UTC(),
				Stage:      progress.StageRunHB,
				EnvID:      cfg.Watch.EnvID,
				Timestep:   result.Timestep,
				Episodes:   int64(result.Episodes),
				MeanReward: result.MeanReward,
				Window:     cfg.Monitor.Window,
			})
		},
		OnImprove: func(_ context.Context, result monitor.Result) {
			hub.Emit(progress.Event{
				RunID:      runID,
				TS:         time.Now().UTC(),
				Stage:      progress.StageBestUpdate,
				EnvID:      cfg.Watch.EnvID,
				Timestep:   result.Timestep,
				Episodes:   int64(result.Episodes),
				MeanReward: result.BestMeanReward,
				Window:     cfg.Monitor.Window,
			})
		},
	})

	w := watcher.New(reader, tracker, hub, watcher.Config{
		RunID:  runID,
		EnvID:  cfg.Watch.EnvID,
		Poll:   cfg.WatchPoll(),
		Logger: logger.Named("watcher"),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("watching episode log",
		zap.String("path", cfg.Watch.Path),
		zap.String("run_id", runID),
		zap.Duration("poll", cfg.WatchPoll()),
	)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
