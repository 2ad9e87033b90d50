package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/reachrl/trainwatch/internal/episodelog"
	"github.com/reachrl/trainwatch/internal/run"
	"github.com/reachrl/trainwatch/internal/store"
)

func newMockStore(t *testing.T) (*RunStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewRunStoreWithDB(mock), mock
}

// TestCreateRunInsertsRow verifies the insert including JSONB hyperparams.
func TestCreateRunInsertsRow(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Unix(1724300000, 0).UTC()

	r := run.Run{
		ID:        "0191e9f2-0000-7000-8000-000000000001",
		Name:      "sac-reacharm",
		EnvID:     "ReachArm-v1",
		Status:    run.StatusPending,
		Submitted: now,
		Hyperparams: run.Hyperparams{
			Algo:           "sac",
			LearningRate:   3e-4,
			BufferSize:     1000000,
			TotalTimesteps: 200000,
		},
	}

	mock.ExpectExec("INSERT INTO runs").
		WithArgs(r.ID, r.Name, r.EnvID, r.Status, r.Submitted, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.CreateRun(context.Background(), r))
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestUpdateRunStatusNotFound maps zero affected rows to store.ErrNotFound.
func TestUpdateRunStatusNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec("UPDATE runs").
		WithArgs(run.StatusRunning, "", now, "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunStatus(context.Background(), "missing", run.StatusRunning, "", now)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestApplyProgressUpdatesRow checks the progress snapshot update.
func TestApplyProgressUpdatesRow(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Now().UTC()
	p := run.Progress{Timesteps: 5000, Episodes: 20, MeanReward: -15.5, BestMeanReward: -12.0}

	mock.ExpectExec("UPDATE runs").
		WithArgs(p.Timesteps, p.Episodes, p.MeanReward, p.BestMeanReward, now, "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.ApplyProgress(context.Background(), "run-1", p, now))
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestAppendAndListEpisodes round-trips the episode log queries.
func TestAppendAndListEpisodes(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	entry := episodelog.Entry{Timestep: 400, Reward: -22.5, Length: 200, WallTime: 4.2}

	mock.ExpectExec("INSERT INTO run_episodes").
		WithArgs("run-1", entry.Timestep, entry.Reward, entry.Length, entry.WallTime).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	mock.ExpectQuery("SELECT timestep, reward, length, wall_time").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"timestep", "reward", "length", "wall_time"}).
			AddRow(int64(200), -30.0, 200, 2.1).
			AddRow(int64(400), -22.5, 200, 4.2))

	ctx := context.Background()
	require.NoError(t, s.AppendEpisode(ctx, "run-1", entry))

	entries, err := s.ListEpisodes(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, int64(400), entries[1].Timestep)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestGetRunNotFound maps pgx.ErrNoRows to the sentinel.
func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, name, env_id").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := s.GetRun(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestRecordEvaluation verifies the evaluation insert.
func TestRecordEvaluation(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Now().UTC()
	ev := run.Evaluation{RunID: "run-1", Episodes: 10, MeanReward: -9.1, StdReward: 2.2, At: now}

	mock.ExpectExec("INSERT INTO run_evaluations").
		WithArgs(ev.RunID, ev.Episodes, ev.MeanReward, ev.StdReward, ev.At).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.RecordEvaluation(context.Background(), ev))
	require.NoError(t, mock.ExpectationsWereMet())
}
