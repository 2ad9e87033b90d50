// Package publisher defines the interface for run milestone notifications.
package publisher

import (
	"context"
	"time"
)

// Publisher delivers a payload to a named topic and returns the broker's
// message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Notification kinds published on run milestones.
const (
	KindBestUpdate = "best_update"
	KindEvalDone   = "eval_done"
	KindRunDone    = "run_done"
	KindRunError   = "run_error"
)

// Notification is the JSON message published when a run hits a milestone.
type Notification struct {
	RunID      string    `json:"run_id"`
	Kind       string    `json:"kind"`
	Timestep   int64     `json:"timestep,omitempty"`
	Episodes   int64     `json:"episodes,omitempty"`
	MeanReward float64   `json:"mean_reward,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}
