package watcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reachrl/trainwatch/internal/episodelog"
	logmemory "github.com/reachrl/trainwatch/internal/episodelog/memory"
	"github.com/reachrl/trainwatch/internal/monitor"
	"github.com/reachrl/trainwatch/internal/progress"
)

type captureEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (c *captureEmitter) Emit(evt progress.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captureEmitter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestPollCrossesEveryCheckBoundary(t *testing.T) {
	t.Parallel()

	log := logmemory.NewLog()
	var checks []int64
	tracker := monitor.New(log, monitor.Config{
		CheckInterval: 100,
		Window:        3,
		OnCheck: func(_ context.Context, r monitor.Result) {
			checks = append(checks, r.Timestep)
		},
	})
	emitter := &captureEmitter{}
	w := New(log, tracker, emitter, Config{RunID: "run-1", EnvID: "ReachArm-v1", Poll: time.Hour})

	// Trainer wrote three episodes before the first poll.
	for i, step := range []int64{120, 250, 340} {
		require.NoError(t, log.Append(context.Background(), episodelog.Entry{
			Timestep: step,
			Reward:   float64(-30 + i),
			Length:   100,
		}))
	}
	w.poll(context.Background())

	// Boundaries 100, 200, 300 all fired despite one poll.
	assert.Equal(t, []int64{100, 200, 300}, checks)
	assert.Equal(t, 3, emitter.count())

	// No new entries: no new checks, no new events.
	w.poll(context.Background())
	assert.Len(t, checks, 3)
	assert.Equal(t, 3, emitter.count())

	// One more episode crossing the next boundary.
	require.NoError(t, log.Append(context.Background(), episodelog.Entry{Timestep: 410, Reward: -10, Length: 70}))
	w.poll(context.Background())
	assert.Equal(t, []int64{100, 200, 300, 400}, checks)
	assert.Equal(t, 4, emitter.count())
}

func TestPollToleratesMissingLog(t *testing.T) {
	t.Parallel()

	log := logmemory.NewLog()
	tracker := monitor.New(log, monitor.Config{CheckInterval: 100})
	w := New(log, tracker, nil, Config{RunID: "run-1", Poll: time.Hour})

	// Empty log polls are a quiet no-op.
	w.poll(context.Background())
	assert.Zero(t, w.lastStep)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	log := logmemory.NewLog()
	tracker := monitor.New(log, monitor.Config{CheckInterval: 100})
	w := New(log, tracker, nil, Config{RunID: "run-1", Poll: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}
