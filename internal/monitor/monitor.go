// Package monitor implements the training progress tracker: a periodic check
// over the episode log that maintains the best windowed mean reward seen so
// far. It runs inside the host training loop's step callback and must never
// interfere with training.
package monitor

import (
	"context"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/reachrl/trainwatch/internal/episodelog"
)

// DefaultWindow is the number of most recent episodes averaged per check.
const DefaultWindow = 100

// ImproveFunc is invoked after the best mean reward increases, with the full
// check result so consumers see the episode count behind the new best. An
// improvement hook must not stop training.
type ImproveFunc func(ctx context.Context, result Result)

// CheckFunc receives the outcome of every triggered check, improved or not.
// It backs the progress event pipeline.
type CheckFunc func(ctx context.Context, result Result)

// Result describes one triggered check.
type Result struct {
	// Timestep is the step count at which the check fired.
	Timestep int64
	// Episodes is the number of log entries available at check time.
	Episodes int
	// MeanReward is the windowed mean; only valid when Episodes > 0.
	MeanReward float64
	// BestMeanReward is the running best after this check.
	BestMeanReward float64
	// Improved is true when this check raised the best.
	Improved bool
	// InsufficientData is true when the log had no entries to average.
	InsufficientData bool
}

// Config controls Tracker behavior.
type Config struct {
	// CheckInterval is the step cadence between checks. Must be > 0.
	CheckInterval int64
	// Window is the episode window to average; defaults to DefaultWindow.
	Window int
	// OnImprove optionally reacts to a new best mean reward.
	OnImprove ImproveFunc
	// OnCheck optionally observes every triggered check.
	OnCheck CheckFunc
	// Logger is used for the per-check status line.
	Logger *zap.Logger
}

// Tracker polls the episode log on a fixed step cadence and records the best
// windowed mean reward. State does not survive reconstruction: a new Tracker
// always starts from negative infinity. Safe for concurrent use; concurrent
// ingest handlers may report steps for the same run.
type Tracker struct {
	reader        episodelog.Reader
	checkInterval int64
	window        int
	onImprove     ImproveFunc
	onCheck       CheckFunc
	logger        *zap.Logger

	mu       sync.Mutex
	bestMean float64
	lastStep int64
}

// New constructs a Tracker over the given episode log reader.
func New(reader episodelog.Reader, cfg Config) *Tracker {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		reader:        reader,
		checkInterval: cfg.CheckInterval,
		window:        cfg.Window,
		onImprove:     cfg.OnImprove,
		onCheck:       cfg.OnCheck,
		logger:        logger,
		bestMean:      math.Inf(-1),
	}
}

// OnStep is invoked once per training step with the current step counter. Off
// the check cadence it is a no-op. On cadence it reads the episode log,
// averages the most recent window, and raises the best on strict improvement.
// The returned continuation signal is always true: the monitor never requests
// early stopping, whatever the log contains.
func (t *Tracker) OnStep(ctx context.Context, timestep int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timestep > t.lastStep {
		t.lastStep = timestep
	}
	if timestep%t.checkInterval != 0 {
		return true
	}
	t.check(ctx, timestep)
	return true
}

// Advance reports a step counter observed sparsely, for example from episode
// ends that rarely land on the check cadence. Every check boundary crossed
// since the previous step is walked in order, so coarse reporting cannot skip
// checks. Like OnStep it always continues.
func (t *Tracker) Advance(ctx context.Context, timestep int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timestep <= t.lastStep {
		return true
	}
	next := (t.lastStep/t.checkInterval + 1) * t.checkInterval
	for ; next <= timestep; next += t.checkInterval {
		t.check(ctx, next)
	}
	t.lastStep = timestep
	return true
}

// Check runs one evaluation of the log regardless of cadence, for callers
// that already know a check boundary was crossed.
func (t *Tracker) Check(ctx context.Context, timestep int64) Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.check(ctx, timestep)
}

func (t *Tracker) check(ctx context.Context, timestep int64) Result {
	entries, err := t.reader.ReadAll(ctx)
	if err != nil {
		// An unreadable log is treated as insufficient data, not a failure.
		t.logger.Warn("episode log unavailable", zap.Int64("timestep", timestep), zap.Error(err))
		entries = nil
	}

	result := Result{
		Timestep:       timestep,
		Episodes:       len(entries),
		BestMeanReward: t.bestMean,
	}
	if len(entries) == 0 {
		result.InsufficientData = true
		t.logger.Info("insufficient data for reward check", zap.Int64("timestep", timestep))
		t.notifyCheck(ctx, result)
		return result
	}

	result.MeanReward = windowedMean(entries, t.window)
	if result.MeanReward > t.bestMean {
		t.bestMean = result.MeanReward
		result.Improved = true
		result.BestMeanReward = t.bestMean
	}

	t.logger.Info("reward check",
		zap.Int64("timestep", timestep),
		zap.Int("episodes", result.Episodes),
		zap.Float64("mean_reward", result.MeanReward),
		zap.Float64("best_mean_reward", t.bestMean),
		zap.Bool("improved", result.Improved),
	)
	t.notifyCheck(ctx, result)
	if result.Improved && t.onImprove != nil {
		t.onImprove(ctx, result)
	}
	return result
}

func (t *Tracker) notifyCheck(ctx context.Context, result Result) {
	if t.onCheck != nil {
		t.onCheck(ctx, result)
	}
}

// BestMeanReward returns the running best, negative infinity before the first
// improvement.
func (t *Tracker) BestMeanReward() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bestMean
}

// CheckInterval reports the configured step cadence.
func (t *Tracker) CheckInterval() int64 {
	return t.checkInterval
}

// Window reports the configured episode window.
func (t *Tracker) Window() int {
	return t.window
}

func windowedMean(entries []episodelog.Entry, window int) float64 {
	if len(entries) > window {
		entries = entries[len(entries)-window:]
	}
	var sum float64
	for _, e := range entries {
		sum += e.Reward
	}
	return sum / float64(len(entries))
}
