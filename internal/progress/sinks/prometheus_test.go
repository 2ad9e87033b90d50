package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/reachrl/trainwatch/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters, gauges, and histograms
// track a run's lifecycle and reward stream.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{RunID: "run-1", TS: now, Stage: progress.StageRunStart, EnvID: "ReachArm-v1"},
		{
			RunID:    "run-1",
			TS:       now.Add(time.Second),
			Stage:    progress.StageEpisode,
			EnvID:    "ReachArm-v1",
			Timestep: 200,
			Episodes: 1,
			Reward:   -42.0,
		},
		{
			RunID:      "run-1",
			TS:         now.Add(2 * time.Second),
			Stage:      progress.StageBestUpdate,
			EnvID:      "ReachArm-v1",
			Timestep:   1000,
			Episodes:   4,
			MeanReward: -20.5,
			Window:     100,
		},
		{RunID: "run-1", TS: now.Add(time.Hour), Stage: progress.StageRunDone, Dur: time.Hour},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsActive))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.episodesTotal.WithLabelValues("ReachArm-v1")))
	require.Equal(t, 1000.0, testutil.ToFloat64(sink.timestepsTotal.WithLabelValues("ReachArm-v1")))
	require.InDelta(t, -20.5, testutil.ToFloat64(sink.bestMeanReward.WithLabelValues("run-1")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.episodeReward, "trainwatch_episode_reward"))
}

// TestPrometheusSinkStepDeltas converts absolute step counters into counter
// increments and ignores stale counters.
func TestPrometheusSinkStepDeltas(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	emitHB := func(step int64) {
		require.NoError(t, sink.Consume(context.Background(), []progress.Event{
			{RunID: "run-1", TS: now, Stage: progress.StageRunHB, EnvID: "ReachArm-v1", Timestep: step},
		}))
	}

	emitHB(500)
	emitHB(1500)
	emitHB(1200) // stale heartbeat, must not decrement

	require.Equal(t, 1500.0, testutil.ToFloat64(sink.timestepsTotal.WithLabelValues("ReachArm-v1")))
}
