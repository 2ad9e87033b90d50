package postgres

import (
	"context"
	"fmt"
)

// schema creates the run tables when they do not exist. Statements are
// idempotent so the service can own its schema in small deployments.
// TODO: move to golang-migrate once the schema needs versioned changes.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		env_id TEXT NOT NULL,
		status TEXT NOT NULL,
		submitted_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		error_text TEXT NOT NULL DEFAULT '',
		hyperparams JSONB,
		timesteps BIGINT NOT NULL DEFAULT 0,
		episodes BIGINT NOT NULL DEFAULT 0,
		mean_reward DOUBLE PRECISION NOT NULL DEFAULT 0,
		best_mean_reward DOUBLE PRECISION NOT NULL DEFAULT 0,
		progress_at TIMESTAMPTZ
	);`,
	`CREATE TABLE IF NOT EXISTS run_episodes (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		run_id UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		timestep BIGINT NOT NULL,
		reward DOUBLE PRECISION NOT NULL,
		length INTEGER NOT NULL,
		wall_time DOUBLE PRECISION NOT NULL DEFAULT 0
	);`,
	`CREATE INDEX IF NOT EXISTS run_episodes_run_id_timestep_idx
		ON run_episodes (run_id, timestep);`,
	`CREATE TABLE IF NOT EXISTS run_evaluations (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		run_id UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		episodes INTEGER NOT NULL,
		mean_reward DOUBLE PRECISION NOT NULL,
		std_reward DOUBLE PRECISION NOT NULL,
		evaluated_at TIMESTAMPTZ NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS run_artifacts (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		run_id UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		uri TEXT NOT NULL,
		bytes BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	);`,
}

// EnsureSchema applies the table definitions. Safe to call on every startup.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
