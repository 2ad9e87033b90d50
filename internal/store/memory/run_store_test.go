package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reachrl/trainwatch/internal/episodelog"
	"github.com/reachrl/trainwatch/internal/run"
	"github.com/reachrl/trainwatch/internal/store"
)

func seedRun(t *testing.T, s *RunStore, id string, submitted time.Time) {
	t.Helper()
	require.NoError(t, s.CreateRun(context.Background(), run.Run{
		ID:        id,
		Name:      "sac-reacharm",
		EnvID:     "ReachArm-v1",
		Status:    run.StatusPending,
		Submitted: submitted,
	}))
}

// TestRunLifecycle walks create, start, progress, and completion.
func TestRunLifecycle(t *testing.T) {
	t.Parallel()

	s := NewRunStore()
	ctx := context.Background()
	now := time.Now().UTC()
	seedRun(t, s, "run-1", now)

	require.NoError(t, s.UpdateRunStatus(ctx, "run-1", run.StatusRunning, "", now))
	require.NoError(t, s.ApplyProgress(ctx, "run-1", run.Progress{
		Timesteps:      1000,
		Episodes:       4,
		MeanReward:     -12.5,
		BestMeanReward: -12.5,
	}, now))
	require.NoError(t, s.UpdateRunStatus(ctx, "run-1", run.StatusSucceeded, "", now.Add(time.Hour)))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, run.StatusSucceeded, got.Status)
	require.NotNil(t, got.Started)
	require.NotNil(t, got.Finished)
	require.Equal(t, int64(1000), got.Progress.Timesteps)
}

// TestGetRunNotFound surfaces the sentinel for unknown runs.
func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	s := NewRunStore()
	_, err := s.GetRun(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.AppendEpisode(context.Background(), "missing", episodelog.Entry{}), store.ErrNotFound)
}

// TestListRunsFiltersAndPaginates checks status filtering and newest-first
// ordering with limit/offset.
func TestListRunsFiltersAndPaginates(t *testing.T) {
	t.Parallel()

	s := NewRunStore()
	ctx := context.Background()
	base := time.Now().UTC()
	seedRun(t, s, "run-a", base)
	seedRun(t, s, "run-b", base.Add(time.Minute))
	seedRun(t, s, "run-c", base.Add(2*time.Minute))
	require.NoError(t, s.UpdateRunStatus(ctx, "run-b", run.StatusRunning, "", base))

	running := run.StatusRunning
	got, err := s.ListRuns(ctx, &running, 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "run-b", got[0].ID)

	all, err := s.ListRuns(ctx, nil, 2, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "run-c", all[0].ID)

	rest, err := s.ListRuns(ctx, nil, 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, "run-a", rest[0].ID)
}

// TestEpisodeLogRoundTrip appends and reads back a run's episode stream via
// the repository-backed reader adapter.
func TestEpisodeLogRoundTrip(t *testing.T) {
	t.Parallel()

	s := NewRunStore()
	ctx := context.Background()
	seedRun(t, s, "run-1", time.Now().UTC())

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.AppendEpisode(ctx, "run-1", episodelog.Entry{
			Timestep: int64(i * 200),
			Reward:   float64(-i),
			Length:   200,
		}))
	}

	reader := store.NewEpisodeReader(s, "run-1")
	entries, err := reader.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, int64(600), entries[2].Timestep)
}

// TestRecordEvaluationAndArtifact persists auxiliary run records.
func TestRecordEvaluationAndArtifact(t *testing.T) {
	t.Parallel()

	s := NewRunStore()
	ctx := context.Background()
	now := time.Now().UTC()
	seedRun(t, s, "run-1", now)

	require.NoError(t, s.RecordEvaluation(ctx, run.Evaluation{
		RunID:      "run-1",
		Episodes:   10,
		MeanReward: -8.2,
		StdReward:  1.4,
		At:         now,
	}))
	require.NoError(t, s.RecordArtifact(ctx, run.Artifact{
		RunID: "run-1",
		Kind:  run.ArtifactCheckpoint,
		URI:   "memory://checkpoints/run-1/best.zip",
		Bytes: 2048,
		At:    now,
	}))

	require.Len(t, s.Evaluations("run-1"), 1)
	require.Len(t, s.Artifacts("run-1"), 1)
}
