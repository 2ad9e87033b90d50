// Package watcher polls a trainer's episode log file and drives the reward
// monitor for deployments where the trainer cannot push over HTTP.
package watcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/reachrl/trainwatch/internal/episodelog"
	"github.com/reachrl/trainwatch/internal/metrics"
	"github.com/reachrl/trainwatch/internal/monitor"
	"github.com/reachrl/trainwatch/internal/progress"
)

// Config tunes a Watcher.
type Config struct {
	// RunID labels events emitted for the watched run.
	RunID string
	// EnvID labels metrics for the watched run.
	EnvID string
	// Poll is the file poll cadence.
	Poll time.Duration
	// Logger receives per-poll diagnostics.
	Logger *zap.Logger
}

// Watcher tails an episode log through a Reader and forwards the newest step
// counter to the monitor on every poll. The monitor applies its own check
// cadence, so polling faster than the check interval is harmless.
type Watcher struct {
	reader  episodelog.Reader
	tracker *monitor.Tracker
	emitter progress.Emitter
	cfg     Config
	logger  *zap.Logger

	lastStep     int64
	lastEpisodes int
}

// New wires a Watcher over the reader and tracker.
func New(reader episodelog.Reader, tracker *monitor.Tracker, emitter progress.Emitter, cfg Config) *Watcher {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 5 * time.Second
	}
	return &Watcher{
		reader:  reader,
		tracker: tracker,
		emitter: emitter,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run polls until ctx is canceled. The first poll happens immediately.
func (w *Watcher) Run(ctx context.Context) error {
	metrics.Init()
	ticker := time.NewTicker(w.cfg.Poll)
	defer ticker.Stop()

	w.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll reads the log once and advances the monitor when new episodes or
// steps appeared since the previous poll.
func (w *Watcher) poll(ctx context.Context) {
	start := time.Now()
	entries, err := w.reader.ReadAll(ctx)
	if err != nil {
		metrics.ObserveWatchPoll("error", time.Since(start))
		w.logger.Warn("episode log read failed", zap.Error(err))
		return
	}
	if len(entries) == 0 {
		metrics.ObserveWatchPoll("empty", time.Since(start))
		return
	}
	metrics.ObserveWatchPoll("ok", time.Since(start))

	w.emitNew(entries)

	latest := entries[len(entries)-1].Timestep
	if latest <= w.lastStep {
		return
	}
	// The tracker walks every check boundary crossed since the last poll, so
	// a slow poll cadence cannot skip checks.
	w.tracker.Advance(ctx, latest)
	w.lastStep = latest
}

// emitNew publishes events for entries appended since the previous poll.
func (w *Watcher) emitNew(entries []episodelog.Entry) {
	if w.emitter == nil || len(entries) <= w.lastEpisodes {
		w.lastEpisodes = min(w.lastEpisodes, len(entries))
		return
	}
	for _, entry := range entries[w.lastEpisodes:] {
		w.emitter.Emit(progress.Event{
			RunID:    w.cfg.RunID,
			TS:       time.Now().UTC(),
			Stage:    progress.StageEpisode,
			EnvID:    w.cfg.EnvID,
			Timestep: entry.Timestep,
			Reward:   entry.Reward,
		})
	}
	w.lastEpisodes = len(entries)
}
