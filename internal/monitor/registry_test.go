package monitor

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reachrl/trainwatch/internal/episodelog"
)

type staticReader struct {
	entries []episodelog.Entry
}

func (r staticReader) ReadAll(context.Context) ([]episodelog.Entry, error) {
	return r.entries, nil
}

func TestRegistryReusesTracker(t *testing.T) {
	t.Parallel()

	built := 0
	reg := NewRegistry(func(string) *Tracker {
		built++
		return New(staticReader{}, Config{CheckInterval: 10, Window: 3})
	})

	a := reg.Get("run-1")
	b := reg.Get("run-1")
	require.Same(t, a, b)
	require.Equal(t, 1, built)

	reg.Get("run-2")
	require.Equal(t, 2, built)
	require.Equal(t, 2, reg.Len())
}

func TestRegistryRemoveResetsBest(t *testing.T) {
	t.Parallel()

	reader := staticReader{entries: []episodelog.Entry{{Timestep: 5, Reward: 3.5}}}
	reg := NewRegistry(func(string) *Tracker {
		return New(reader, Config{CheckInterval: 1, Window: 3})
	})

	tr := reg.Get("run-1")
	tr.OnStep(context.Background(), 1)
	require.InDelta(t, 3.5, tr.BestMeanReward(), 1e-9)

	reg.Remove("run-1")
	fresh := reg.Get("run-1")
	require.True(t, math.IsInf(fresh.BestMeanReward(), -1))
}
