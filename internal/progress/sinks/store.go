package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/reachrl/trainwatch/internal/progress"
	"github.com/reachrl/trainwatch/internal/run"
	"github.com/reachrl/trainwatch/internal/store"
)

// StoreSink persists progress through a store.RunRepository. Check-derived
// snapshots are collapsed per run within a batch to reduce write
// amplification.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies lifecycle transitions immediately and collapses progress
// snapshots to the latest per run before persisting. Repository errors are
// returned verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	latest := make(map[string]progress.Event)
	best := make(map[string]float64)

	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
			if err := s.handleLifecycle(ctx, evt); err != nil {
				return err
			}
		case progress.StageRunHB, progress.StageBestUpdate:
			prev, ok := latest[evt.RunID]
			if !ok || evt.Timestep >= prev.Timestep {
				// Repositories ignore reward fields on episode-free
				// snapshots, so an episode-free event must not mask the
				// episode count of the one it collapses over.
				if ok && prev.Episodes > evt.Episodes {
					evt.Episodes = prev.Episodes
				}
				latest[evt.RunID] = evt
			}
			// A best update must survive the collapse even when a later
			// heartbeat supersedes it as the newest snapshot.
			if evt.Stage == progress.StageBestUpdate {
				if b, ok := best[evt.RunID]; !ok || evt.MeanReward > b {
					best[evt.RunID] = evt.MeanReward
				}
			}
		}
	}

	for runID, evt := range latest {
		b, ok := best[runID]
		if !ok {
			b = evt.MeanReward
		}
		// Repositories keep the stored best/counters monotone.
		p := run.Progress{
			Timesteps:      evt.Timestep,
			Episodes:       evt.Episodes,
			MeanReward:     evt.MeanReward,
			BestMeanReward: b,
		}
		if err := s.repo.ApplyProgress(ctx, runID, p, evt.TS); err != nil {
			return fmt.Errorf("apply progress: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) handleLifecycle(ctx context.Context, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageRunStart:
		if err := s.repo.UpdateRunStatus(ctx, evt.RunID, run.StatusRunning, "", evt.TS); err != nil {
			return fmt.Errorf("mark run running: %w", err)
		}
	case progress.StageRunDone:
		if err := s.repo.UpdateRunStatus(ctx, evt.RunID, run.StatusSucceeded, "", evt.TS); err != nil {
			return fmt.Errorf("mark run succeeded: %w", err)
		}
	case progress.StageRunError:
		if err := s.repo.UpdateRunStatus(ctx, evt.RunID, run.StatusFailed, evt.Note, evt.TS); err != nil {
			return fmt.Errorf("mark run failed: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
