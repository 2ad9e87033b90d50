// Package memory provides an in-memory RunRepository for development and
// handler tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/reachrl/trainwatch/internal/episodelog"
	"github.com/reachrl/trainwatch/internal/run"
	"github.com/reachrl/trainwatch/internal/store"
)

// RunStore keeps all run state in process memory.
type RunStore struct {
	mu          sync.RWMutex
	runs        map[string]run.Run
	episodes    map[string][]episodelog.Entry
	evaluations map[string][]run.Evaluation
	artifacts   map[string][]run.Artifact
}

// NewRunStore creates an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:        make(map[string]run.Run),
		episodes:    make(map[string][]episodelog.Entry),
		evaluations: make(map[string][]run.Evaluation),
		artifacts:   make(map[string][]run.Artifact),
	}
}

// CreateRun inserts the run record.
func (s *RunStore) CreateRun(_ context.Context, r run.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = r
	return nil
}

// GetRun returns the run or store.ErrNotFound.
func (s *RunStore) GetRun(_ context.Context, runID string) (run.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[runID]
	if !ok {
		return run.Run{}, store.ErrNotFound
	}
	return r, nil
}

// ListRuns returns runs newest first with optional status filtering.
func (s *RunStore) ListRuns(_ context.Context, status *run.Status, limit, offset int) ([]run.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]run.Run, 0, len(s.runs))
	for _, r := range s.runs {
		if status != nil && r.Status != *status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Submitted.After(out[j].Submitted)
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateRunStatus transitions the run's lifecycle state.
func (s *RunStore) UpdateRunStatus(
	_ context.Context,
	runID string,
	status run.Status,
	errText string,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	r.Status = status
	r.ErrorText = errText
	switch status {
	case run.StatusRunning:
		if r.Started == nil {
			started := at
			r.Started = &started
		}
	case run.StatusSucceeded, run.StatusFailed, run.StatusCanceled:
		finished := at
		r.Finished = &finished
	}
	s.runs[runID] = r
	return nil
}

// ApplyProgress stores a monitor snapshot. Step/episode counters and the
// best mean reward never move backwards.
func (s *RunStore) ApplyProgress(_ context.Context, runID string, p run.Progress, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	// Reward fields are only meaningful once a snapshot carries episodes;
	// heartbeat-only snapshots advance the step counter and nothing else.
	first := r.Progress.Episodes == 0
	if p.Timesteps > r.Progress.Timesteps {
		r.Progress.Timesteps = p.Timesteps
	}
	if p.Episodes > r.Progress.Episodes {
		r.Progress.Episodes = p.Episodes
	}
	if p.Episodes > 0 {
		r.Progress.MeanReward = p.MeanReward
		if first || p.BestMeanReward > r.Progress.BestMeanReward {
			r.Progress.BestMeanReward = p.BestMeanReward
		}
	}
	s.runs[runID] = r
	return nil
}

// AppendEpisode adds one completed episode to the run's log.
func (s *RunStore) AppendEpisode(_ context.Context, runID string, entry episodelog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return store.ErrNotFound
	}
	s.episodes[runID] = append(s.episodes[runID], entry)
	return nil
}

// ListEpisodes returns a copy of the run's episode log, oldest first.
func (s *RunStore) ListEpisodes(_ context.Context, runID string) ([]episodelog.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.runs[runID]; !ok {
		return nil, store.ErrNotFound
	}
	entries := s.episodes[runID]
	out := make([]episodelog.Entry, len(entries))
	copy(out, entries)
	return out, nil
}

// RecordEvaluation persists one evaluation pass.
func (s *RunStore) RecordEvaluation(_ context.Context, ev run.Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[ev.RunID]; !ok {
		return store.ErrNotFound
	}
	s.evaluations[ev.RunID] = append(s.evaluations[ev.RunID], ev)
	return nil
}

// RecordArtifact persists an uploaded blob reference.
func (s *RunStore) RecordArtifact(_ context.Context, art run.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[art.RunID]; !ok {
		return store.ErrNotFound
	}
	s.artifacts[art.RunID] = append(s.artifacts[art.RunID], art)
	return nil
}

// Evaluations returns recorded evaluations for inspection in tests.
func (s *RunStore) Evaluations(runID string) []run.Evaluation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]run.Evaluation, len(s.evaluations[runID]))
	copy(out, s.evaluations[runID])
	return out
}

// Artifacts returns recorded artifacts for inspection in tests.
func (s *RunStore) Artifacts(runID string) []run.Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]run.Artifact, len(s.artifacts[runID]))
	copy(out, s.artifacts[runID])
	return out
}
