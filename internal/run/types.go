// Package run defines core training-run types shared across subsystems.
package run

import "time"

// Status represents the lifecycle state of a training run.
type Status string

// Run status values persisted in the run store.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Hyperparams is the trainer configuration registered with a run. The service
// stores and reports these values but never interprets them; the external
// training process owns their semantics.
type Hyperparams struct {
	Algo           string  `json:"algo" mapstructure:"algo"`
	LearningRate   float64 `json:"learning_rate" mapstructure:"learning_rate"`
	BufferSize     int     `json:"buffer_size" mapstructure:"buffer_size"`
	BatchSize      int     `json:"batch_size" mapstructure:"batch_size"`
	Gamma          float64 `json:"gamma" mapstructure:"gamma"`
	Tau            float64 `json:"tau" mapstructure:"tau"`
	EntCoef        string  `json:"ent_coef" mapstructure:"ent_coef"`
	TrainFreq      int     `json:"train_freq" mapstructure:"train_freq"`
	LearningStarts int     `json:"learning_starts" mapstructure:"learning_starts"`
	TotalTimesteps int64   `json:"total_timesteps" mapstructure:"total_timesteps"`
	EvalEpisodes   int     `json:"eval_episodes" mapstructure:"eval_episodes"`
	Seed           int64   `json:"seed" mapstructure:"seed"`
}

// Progress is the monitor-derived snapshot stored alongside a run.
type Progress struct {
	// Timesteps is the highest step counter reported so far.
	Timesteps int64 `json:"timesteps"`
	// Episodes counts completed episodes ingested for the run.
	Episodes int64 `json:"episodes"`
	// MeanReward is the windowed mean at the most recent check.
	MeanReward float64 `json:"mean_reward"`
	// BestMeanReward is the running best; non-decreasing for a run's life.
	BestMeanReward float64 `json:"best_mean_reward"`
}

// Run is the metadata persisted for each registered training run.
type Run struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	EnvID       string      `json:"env_id"`
	Status      Status      `json:"status"`
	Submitted   time.Time   `json:"submitted_at"`
	Started     *time.Time  `json:"started_at,omitempty"`
	Finished    *time.Time  `json:"finished_at,omitempty"`
	ErrorText   string      `json:"error_text,omitempty"`
	Hyperparams Hyperparams `json:"hyperparams"`
	Progress    Progress    `json:"progress"`
}

// Evaluation records one policy evaluation pass over a finished or ongoing
// run: the mean and spread of returns over a batch of evaluation episodes.
type Evaluation struct {
	RunID      string    `json:"run_id"`
	Episodes   int       `json:"episodes"`
	MeanReward float64   `json:"mean_reward"`
	StdReward  float64   `json:"std_reward"`
	At         time.Time `json:"at"`
}

// ArtifactKind labels stored run artifacts.
type ArtifactKind string

// Artifact kinds accepted by the artifact endpoint.
const (
	ArtifactCheckpoint ArtifactKind = "checkpoint"
	ArtifactVideo      ArtifactKind = "video"
)

// Artifact is a blob produced by the external trainer (a model checkpoint or
// an evaluation video) persisted through the blob store.
type Artifact struct {
	RunID string       `json:"run_id"`
	Kind  ArtifactKind `json:"kind"`
	URI   string       `json:"uri"`
	Bytes int64        `json:"bytes"`
	At    time.Time    `json:"at"`
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
