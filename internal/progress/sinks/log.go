package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/reachrl/trainwatch/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or audits where a durable store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.logger.Info("progress event",
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
			zap.String("env_id", evt.EnvID),
			zap.Int64("timestep", evt.Timestep),
			zap.Int64("episodes", evt.Episodes),
			zap.Float64("reward", evt.Reward),
			zap.Float64("mean_reward", evt.MeanReward),
			zap.Int("window", evt.Window),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
