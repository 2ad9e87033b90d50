// Package postgres provides the Postgres-backed RunRepository.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reachrl/trainwatch/internal/episodelog"
	"github.com/reachrl/trainwatch/internal/run"
	"github.com/reachrl/trainwatch/internal/store"
)

// DB is the subset of pgxpool.Pool the store needs; pgxmock satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RunStore implements store.RunRepository on Postgres.
type RunStore struct {
	db   DB
	pool *pgxpool.Pool
}

// NewRunStore connects a pool for the given DSN.
func NewRunStore(ctx context.Context, dsn string) (*RunStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	return &RunStore{db: pool, pool: pool}, nil
}

// NewRunStoreWithDB wraps an existing connection source, used by tests.
func NewRunStoreWithDB(db DB) *RunStore {
	return &RunStore{db: db}
}

// Close releases the underlying pool if this store owns one.
func (s *RunStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateRun inserts a new run row. Hyperparameters are stored as JSONB so the
// schema never chases the trainer's knob set.
func (s *RunStore) CreateRun(ctx context.Context, r run.Run) error {
	params, err := json.Marshal(r.Hyperparams)
	if err != nil {
		return fmt.Errorf("marshal hyperparams: %w", err)
	}
	query := `
		INSERT INTO runs (id, name, env_id, status, submitted_at, hyperparams)
		VALUES ($1, $2, $3, $4, $5, $6);
	`
	if _, err := s.db.Exec(ctx, query, r.ID, r.Name, r.EnvID, r.Status, r.Submitted, params); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun loads one run or returns store.ErrNotFound.
func (s *RunStore) GetRun(ctx context.Context, runID string) (run.Run, error) {
	query := `
		SELECT id, name, env_id, status, submitted_at, started_at, finished_at,
			error_text, hyperparams, timesteps, episodes, mean_reward, best_mean_reward
		FROM runs
		WHERE id = $1;
	`
	r, err := scanRun(s.db.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return run.Run{}, store.ErrNotFound
		}
		return run.Run{}, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns runs newest first with optional status filtering.
func (s *RunStore) ListRuns(ctx context.Context, status *run.Status, limit, offset int) ([]run.Run, error) {
	query := `
		SELECT id, name, env_id, status, submitted_at, started_at, finished_at,
			error_text, hyperparams, timesteps, episodes, mean_reward, best_mean_reward
		FROM runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY submitted_at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.db.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []run.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}

// UpdateRunStatus transitions the run's lifecycle state. started_at is set on
// the first transition to running, finished_at on any terminal state.
func (s *RunStore) UpdateRunStatus(
	ctx context.Context,
	runID string,
	status run.Status,
	errText string,
	at time.Time,
) error {
	query := `
		UPDATE runs
		SET status = $1,
			error_text = $2,
			started_at = CASE WHEN $1 = 'running' THEN COALESCE(started_at, $3) ELSE started_at END,
			finished_at = CASE WHEN $1 IN ('succeeded', 'failed', 'canceled') THEN $3 ELSE finished_at END
		WHERE id = $4;
	`
	tag, err := s.db.Exec(ctx, query, status, errText, at, runID)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ApplyProgress stores a monitor snapshot on the run row. Counters and the
// best mean never move backwards; reward fields are ignored for snapshots
// that carry no episodes. The first episode-bearing snapshot seeds the best
// so a negative reward scale is not beaten by the column's zero default.
func (s *RunStore) ApplyProgress(ctx context.Context, runID string, p run.Progress, at time.Time) error {
	query := `
		UPDATE runs
		SET timesteps = GREATEST(timesteps, $1),
			episodes = GREATEST(episodes, $2),
			mean_reward = CASE WHEN $2 > 0 THEN $3 ELSE mean_reward END,
			best_mean_reward = CASE
				WHEN $2 <= 0 THEN best_mean_reward
				WHEN episodes = 0 THEN $4
				ELSE GREATEST(best_mean_reward, $4)
			END,
			progress_at = $5
		WHERE id = $6;
	`
	tag, err := s.db.Exec(ctx, query, p.Timesteps, p.Episodes, p.MeanReward, p.BestMeanReward, at, runID)
	if err != nil {
		return fmt.Errorf("apply progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AppendEpisode inserts one completed episode for the run.
func (s *RunStore) AppendEpisode(ctx context.Context, runID string, entry episodelog.Entry) error {
	query := `
		INSERT INTO run_episodes (run_id, timestep, reward, length, wall_time)
		VALUES ($1, $2, $3, $4, $5);
	`
	if _, err := s.db.Exec(ctx, query, runID, entry.Timestep, entry.Reward, entry.Length, entry.WallTime); err != nil {
		return fmt.Errorf("insert episode: %w", err)
	}
	return nil
}

// ListEpisodes returns the run's episode log oldest first.
func (s *RunStore) ListEpisodes(ctx context.Context, runID string) ([]episodelog.Entry, error) {
	query := `
		SELECT timestep, reward, length, wall_time
		FROM run_episodes
		WHERE run_id = $1
		ORDER BY timestep ASC;
	`
	rows, err := s.db.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	defer rows.Close()

	var entries []episodelog.Entry
	for rows.Next() {
		var e episodelog.Entry
		if err := rows.Scan(&e.Timestep, &e.Reward, &e.Length, &e.WallTime); err != nil {
			return nil, fmt.Errorf("scan episode row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate episode rows: %w", err)
	}
	return entries, nil
}

// RecordEvaluation persists one evaluation pass.
func (s *RunStore) RecordEvaluation(ctx context.Context, ev run.Evaluation) error {
	query := `
		INSERT INTO run_evaluations (run_id, episodes, mean_reward, std_reward, evaluated_at)
		VALUES ($1, $2, $3, $4, $5);
	`
	if _, err := s.db.Exec(ctx, query, ev.RunID, ev.Episodes, ev.MeanReward, ev.StdReward, ev.At); err != nil {
		return fmt.Errorf("insert evaluation: %w", err)
	}
	return nil
}

// RecordArtifact persists an uploaded blob reference.
func (s *RunStore) RecordArtifact(ctx context.Context, art run.Artifact) error {
	query := `
		INSERT INTO run_artifacts (run_id, kind, uri, bytes, created_at)
		VALUES ($1, $2, $3, $4, $5);
	`
	if _, err := s.db.Exec(ctx, query, art.RunID, art.Kind, art.URI, art.Bytes, art.At); err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

func scanRun(row pgx.Row) (run.Run, error) {
	var (
		r      run.Run
		params []byte
	)
	err := row.Scan(
		&r.ID,
		&r.Name,
		&r.EnvID,
		&r.Status,
		&r.Submitted,
		&r.Started,
		&r.Finished,
		&r.ErrorText,
		&params,
		&r.Progress.Timesteps,
		&r.Progress.Episodes,
		&r.Progress.MeanReward,
		&r.Progress.BestMeanReward,
	)
	if err != nil {
		return run.Run{}, err
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &r.Hyperparams); err != nil {
			return run.Run{}, fmt.Errorf("unmarshal hyperparams: %w", err)
		}
	}
	return r, nil
}
