package monitor

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reachrl/trainwatch/internal/episodelog"
	logmemory "github.com/reachrl/trainwatch/internal/episodelog/memory"
)

func fillLog(t *testing.T, log *logmemory.Log, rewards ...float64) {
	t.Helper()
	var timestep int64
	for _, r := range rewards {
		timestep += 100
		require.NoError(t, log.Append(context.Background(), episodelog.Entry{
			Timestep: timestep,
			Reward:   r,
			Length:   100,
		}))
	}
}

// TestOnStepSkipsOffCadence verifies OnStep is a no-op unless the timestep is
// a multiple of the check interval.
func TestOnStepSkipsOffCadence(t *testing.T) {
	t.Parallel()

	log := logmemory.NewLog()
	fillLog(t, log, 5, 5, 5)

	var checks int
	tracker := New(log, Config{
		CheckInterval: 1000,
		OnCheck:       func(context.Context, Result) { checks++ },
	})

	for step := int64(1); step < 1000; step++ {
		require.True(t, tracker.OnStep(context.Background(), step))
	}
	require.Zero(t, checks)
	require.True(t, math.IsInf(tracker.BestMeanReward(), -1))

	require.True(t, tracker.OnStep(context.Background(), 1000))
	require.Equal(t, 1, checks)
}

// TestWindowedMeanUsesMostRecent checks the mean over rewards [1..5] with a
// window of 3 is mean(3,4,5) = 4.
func TestWindowedMeanUsesMostRecent(t *testing.T) {
	t.Parallel()

	log := logmemory.NewLog()
	fillLog(t, log, 1, 2, 3, 4, 5)

	tracker := New(log, Config{CheckInterval: 100, Window: 3})
	result := tracker.Check(context.Background(), 500)

	require.Equal(t, 4.0, result.MeanReward)
	require.Equal(t, 4.0, tracker.BestMeanReward())
	require.True(t, result.Improved)
}

// TestMeanOverShortLog averages only the entries that exist when fewer than a
// full window is available.
func TestMeanOverShortLog(t *testing.T) {
	t.Parallel()

	log := logmemory.NewLog()
	fillLog(t, log, 2, 4)

	tracker := New(log, Config{CheckInterval: 100, Window: 100})
	result := tracker.Check(context.Background(), 100)

	require.Equal(t, 3.0, result.MeanReward)
	require.Equal(t, 2, result.Episodes)
}

// TestBestIsMonotonic asserts the best mean reward never decreases across a
// sequence of checks over a declining reward stream.
func TestBestIsMonotonic(t *testing.T) {
	t.Parallel()

	log := logmemory.NewLog()
	tracker := New(log, Config{CheckInterval: 100, Window: 1})

	rewards := []float64{1, 5, 3, 2, 7, 4}
	var best float64 = math.Inf(-1)
	for i, r := range rewards {
		fillLog(t, log, r)
		result := tracker.Check(context.Background(), int64((i+1)*100))
		require.GreaterOrEqual(t, result.BestMeanReward, best)
		best = result.BestMeanReward
	}
	require.Equal(t, 7.0, best)
}

// TestEmptyLogReportsInsufficientData leaves the best untouched at -Inf when
// a check fires before any episode completes.
func TestEmptyLogReportsInsufficientData(t *testing.T) {
	t.Parallel()

	tracker := New(logmemory.NewLog(), Config{CheckInterval: 500})
	require.True(t, tracker.OnStep(context.Background(), 500))
	require.True(t, math.IsInf(tracker.BestMeanReward(), -1))

	result := tracker.Check(context.Background(), 1000)
	require.True(t, result.InsufficientData)
	require.Zero(t, result.Episodes)
}

// TestEqualMeanDoesNotImprove verifies ties do not re-trigger the improvement
// path after the first update.
func TestEqualMeanDoesNotImprove(t *testing.T) {
	t.Parallel()

	log := logmemory.NewLog()
	fillLog(t, log, 6, 6)

	var improvements int
	tracker := New(log, Config{
		CheckInterval: 100,
		OnImprove:     func(context.Context, Result) { improvements++ },
	})

	first := tracker.Check(context.Background(), 100)
	require.True(t, first.Improved)
	second := tracker.Check(context.Background(), 200)
	require.False(t, second.Improved)
	require.Equal(t, 1, improvements)
	require.Equal(t, 6.0, tracker.BestMeanReward())
}

// TestAdvanceWalksCrossedBoundaries: sparse step reports fire a check for
// every cadence boundary they crossed, not just exact multiples.
func TestAdvanceWalksCrossedBoundaries(t *testing.T) {
	t.Parallel()

	log := logmemory.NewLog()
	fillLog(t, log, -60, -40, -20)

	var checks []int64
	tracker := New(log, Config{
		CheckInterval: 100,
		Window:        3,
		OnCheck:       func(_ context.Context, r Result) { checks = append(checks, r.Timestep) },
	})

	// Step 37 crosses no boundary.
	require.True(t, tracker.Advance(context.Background(), 37))
	require.Empty(t, checks)

	// Step 315 crosses 100, 200 and 300.
	require.True(t, tracker.Advance(context.Background(), 315))
	require.Equal(t, []int64{100, 200, 300}, checks)
	require.Equal(t, -40.0, tracker.BestMeanReward())

	// A stale or repeated step counter is a no-op.
	require.True(t, tracker.Advance(context.Background(), 315))
	require.True(t, tracker.Advance(context.Background(), 250))
	require.Len(t, checks, 3)
}

// TestImproveHookSeesEpisodeCount: the improvement callback receives the full
// check result, episodes included.
func TestImproveHookSeesEpisodeCount(t *testing.T) {
	t.Parallel()

	log := logmemory.NewLog()
	fillLog(t, log, -30, -25)

	var got Result
	tracker := New(log, Config{
		CheckInterval: 100,
		Window:        3,
		OnImprove:     func(_ context.Context, r Result) { got = r },
	})

	require.True(t, tracker.OnStep(context.Background(), 200))
	require.Equal(t, 2, got.Episodes)
	require.Equal(t, int64(200), got.Timestep)
	require.Equal(t, -27.5, got.BestMeanReward)
}

// TestOnStepAlwaysContinues: the monitor never signals early stopping, even
// when the log reader fails outright.
func TestOnStepAlwaysContinues(t *testing.T) {
	t.Parallel()

	tracker := New(failingReader{}, Config{CheckInterval: 1})
	for step := int64(0); step <= 5; step++ {
		require.True(t, tracker.OnStep(context.Background(), step))
	}
	require.True(t, math.IsInf(tracker.BestMeanReward(), -1))
}

// TestReaderErrorTreatedAsInsufficientData covers the unreadable-log policy.
func TestReaderErrorTreatedAsInsufficientData(t *testing.T) {
	t.Parallel()

	tracker := New(failingReader{}, Config{CheckInterval: 100})
	result := tracker.Check(context.Background(), 100)
	require.True(t, result.InsufficientData)
	require.True(t, math.IsInf(result.BestMeanReward, -1))
}

type failingReader struct{}

func (failingReader) ReadAll(context.Context) ([]episodelog.Entry, error) {
	return nil, errors.New("log store offline")
}
