package sinks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/reachrl/trainwatch/internal/progress"
)

// PrometheusSink exports training-run metrics. It owns all collectors for
// runs started/completed/active, step counters, and reward statistics.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	episodesTotal  *prometheus.CounterVec
	timestepsTotal *prometheus.CounterVec
	episodeReward  *prometheus.HistogramVec
	bestMeanReward *prometheus.GaugeVec
	evalMeanReward *prometheus.GaugeVec

	tracker  *runTracker
	lastStep map[string]int64
	mu       sync.Mutex
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trainwatch_runs_started_total",
			Help: "Total training runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trainwatch_runs_completed_total",
			Help: "Total training runs completed partitioned by result.",
		}, []string{"result"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trainwatch_runs_active",
			Help: "Current number of active training runs.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trainwatch_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400, 43200},
		}, []string{"result"}),
		episodesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trainwatch_episodes_total",
			Help: "Completed episodes partitioned by environment.",
		}, []string{"env"}),
		timestepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trainwatch_timesteps_total",
			Help: "Environment steps observed partitioned by environment.",
		}, []string{"env"}),
		episodeReward: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trainwatch_episode_reward",
			Help:    "Episode returns partitioned by environment.",
			Buckets: prometheus.LinearBuckets(-100, 12.5, 17),
		}, []string{"env"}),
		bestMeanReward: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trainwatch_best_mean_reward",
			Help: "Best windowed mean reward per run.",
		}, []string{"run_id"}),
		evalMeanReward: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trainwatch_eval_mean_reward",
			Help: "Most recent policy evaluation mean reward per run.",
		}, []string{"run_id"}),
		tracker:  newRunTracker(),
		lastStep: make(map[string]int64),
	}
	var err error
	if s.runsStarted, err = register(reg, s.runsStarted); err != nil {
		return nil, err
	}
	if s.runsCompleted, err = register(reg, s.runsCompleted); err != nil {
		return nil, err
	}
	if s.runsActive, err = register(reg, s.runsActive); err != nil {
		return nil, err
	}
	if s.runDuration, err = register(reg, s.runDuration); err != nil {
		return nil, err
	}
	if s.episodesTotal, err = register(reg, s.episodesTotal); err != nil {
		return nil, err
	}
	if s.timestepsTotal, err = register(reg, s.timestepsTotal); err != nil {
		return nil, err
	}
	if s.episodeReward, err = register(reg, s.episodeReward); err != nil {
		return nil, err
	}
	if s.bestMeanReward, err = register(reg, s.bestMeanReward); err != nil {
		return nil, err
	}
	if s.evalMeanReward, err = register(reg, s.evalMeanReward); err != nil {
		return nil, err
	}
	return s, nil
}

// register adds the collector to the registry, reusing an existing instance
// when the same metric was registered before. Rebuilding the sink must not
// fail on the process-global registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, fmt.Errorf("register progress collector: %w", err)
	}
	return c, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsActive.Inc()
		}
	case progress.StageRunDone:
		s.completeRun(evt, "success")
	case progress.StageRunError:
		s.completeRun(evt, "error")
	case progress.StageEpisode:
		s.handleEpisode(evt)
	case progress.StageRunHB:
		s.observeSteps(evt)
	case progress.StageBestUpdate:
		s.bestMeanReward.WithLabelValues(evt.RunID).Set(evt.MeanReward)
		s.observeSteps(evt)
	case progress.StageEvalDone:
		s.evalMeanReward.WithLabelValues(evt.RunID).Set(evt.MeanReward)
	}
}

func (s *PrometheusSink) completeRun(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.runsActive.Dec()
	}
}

func (s *PrometheusSink) handleEpisode(evt progress.Event) {
	env := evt.EnvID
	if env == "" {
		env = "unknown"
	}
	s.episodesTotal.WithLabelValues(env).Inc()
	s.episodeReward.WithLabelValues(env).Observe(evt.Reward)
	s.observeSteps(evt)
}

// observeSteps turns the trainer's absolute step counter into a counter
// increment by diffing against the last value seen per run.
func (s *PrometheusSink) observeSteps(evt progress.Event) {
	if evt.Timestep <= 0 {
		return
	}
	env := evt.EnvID
	if env == "" {
		env = "unknown"
	}
	s.mu.Lock()
	delta := evt.Timestep - s.lastStep[evt.RunID]
	if delta > 0 {
		s.lastStep[evt.RunID] = evt.Timestep
	}
	s.mu.Unlock()
	if delta > 0 {
		s.timestepsTotal.WithLabelValues(env).Add(float64(delta))
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{active: make(map[string]struct{})}
}

func (t *runTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[id]; ok {
		return false
	}
	t.active[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[id]; !ok {
		return false
	}
	delete(t.active, id)
	return true
}
