// Package progress defines the telemetry events emitted while a training run
// is observed, and the hub that fans them out to sinks.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageRunHB      Stage = "RUN_HEARTBEAT"
	StageEpisode    Stage = "EPISODE_DONE"
	StageBestUpdate Stage = "BEST_UPDATE"
	StageEvalDone   Stage = "EVAL_DONE"
	StageRunDone    Stage = "RUN_DONE"
	StageRunError   Stage = "RUN_ERROR"
)

// Event captures a single milestone of training-run progress.
type Event struct {
	// RunID identifies the training run.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// EnvID optionally labels the environment for metric partitioning.
	EnvID string
	// Timestep is the trainer's step counter at emit time.
	Timestep int64
	// Episodes is the number of completed episodes known at emit time.
	Episodes int64
	// Reward is the single-episode return for EPISODE_DONE events.
	Reward float64
	// MeanReward carries the windowed mean for check-derived events.
	MeanReward float64
	// Window is the episode window behind MeanReward.
	Window int
	// Dur captures run duration for completion events.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunHB, StageRunDone, StageRunError, StageEvalDone:
	case StageEpisode:
		if e.Timestep <= 0 {
			return errors.New("episode event requires a timestep")
		}
	case StageBestUpdate:
		if e.Window <= 0 {
			return errors.New("best update requires a window")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Timestep < 0 {
		return errors.New("timestep must be >= 0")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
