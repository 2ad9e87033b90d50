// Package store declares the persistence interface for training runs and
// their episode streams.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/reachrl/trainwatch/internal/episodelog"
	"github.com/reachrl/trainwatch/internal/run"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("run not found")

// RunRepository persists runs, their episode logs, and derived progress.
type RunRepository interface {
	// CreateRun inserts a new run record.
	CreateRun(ctx context.Context, r run.Run) error
	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID string) (run.Run, error)
	// ListRuns returns runs filtered by optional status plus limit/offset,
	// newest first.
	ListRuns(ctx context.Context, status *run.Status, limit, offset int) ([]run.Run, error)
	// UpdateRunStatus transitions a run's lifecycle state.
	UpdateRunStatus(ctx context.Context, runID string, status run.Status, errText string, at time.Time) error
	// ApplyProgress stores a monitor snapshot for the run.
	ApplyProgress(ctx context.Context, runID string, p run.Progress, at time.Time) error

	// AppendEpisode adds one completed episode to the run's log.
	AppendEpisode(ctx context.Context, runID string, entry episodelog.Entry) error
	// ListEpisodes returns the run's episode log, oldest first.
	ListEpisodes(ctx context.Context, runID string) ([]episodelog.Entry, error)

	// RecordEvaluation persists one evaluation pass.
	RecordEvaluation(ctx context.Context, ev run.Evaluation) error
	// RecordArtifact persists a reference to an uploaded blob.
	RecordArtifact(ctx context.Context, art run.Artifact) error
}

// EpisodeReader adapts one run's episode log in a RunRepository to the
// episodelog.Reader interface the monitor consumes.
type EpisodeReader struct {
	repo  RunRepository
	runID string
}

// NewEpisodeReader binds a repository to a single run.
func NewEpisodeReader(repo RunRepository, runID string) *EpisodeReader {
	return &EpisodeReader{repo: repo, runID: runID}
}

// ReadAll returns every episode recorded for the run.
func (r *EpisodeReader) ReadAll(ctx context.Context) ([]episodelog.Entry, error) {
	return r.repo.ListEpisodes(ctx, r.runID)
}
