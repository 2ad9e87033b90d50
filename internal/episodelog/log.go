// Package episodelog defines the append-only episode result stream written by
// an external training process and consumed by the progress monitor.
package episodelog

import "context"

// Entry records the outcome of one completed episode. Entries are appended in
// timestep order by the trainer's environment wrapper and are immutable once
// written.
type Entry struct {
	// Timestep is the cumulative environment step count at episode end.
	Timestep int64 `json:"timestep"`
	// Reward is the undiscounted episode return.
	Reward float64 `json:"reward"`
	// Length is the number of transitions in the episode.
	Length int `json:"length"`
	// WallTime is seconds since training start, as reported by the trainer.
	WallTime float64 `json:"wall_time,omitempty"`
}

// Reader exposes the episode stream to consumers. ReadAll returns every entry
// appended so far, oldest first. Implementations must tolerate being read
// before any entry exists and return an empty slice in that case.
type Reader interface {
	ReadAll(ctx context.Context) ([]Entry, error)
}

// Appender is the write half used by ingest paths. Appends must preserve
// arrival order.
type Appender interface {
	Append(ctx context.Context, entry Entry) error
}
