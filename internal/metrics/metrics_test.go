package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if httpRequestsTotal == nil || httpRequestDurationSeconds == nil ||
		watchPollsTotal == nil || watchPollDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveWatchPoll(t *testing.T) {
	// No explicit Init: observers initialize the collectors themselves so
	// callers that never go through the server or watcher setup cannot hit a
	// nil collector.
	ObserveWatchPoll("ok", time.Millisecond)

	before := testutil.ToFloat64(watchPollsTotal.WithLabelValues("ok"))
	ObserveWatchPoll("ok", 5*time.Millisecond)
	ObserveWatchPoll("error", time.Millisecond)

	if got := testutil.ToFloat64(watchPollsTotal.WithLabelValues("ok")); got != before+1 {
		t.Errorf("expected ok polls to be %f, got %f", before+1, got)
	}
	if got := testutil.ToFloat64(watchPollsTotal.WithLabelValues("error")); got < 1 {
		t.Errorf("expected error polls to be at least 1, got %f", got)
	}
}
