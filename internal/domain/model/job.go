package model

import (
	"fmt"
	"time"
)

// JobState is the queue-side state of a transcode job.
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobDelayed   JobState = "delayed"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// JobStates lists every state a job can be listed by.
var JobStates = []JobState{JobWaiting, JobDelayed, JobActive, JobCompleted, JobFailed}

func (s JobState) IsValid() bool {
	switch s {
	case JobWaiting, JobDelayed, JobActive, JobCompleted, JobFailed:
		return true
	default:
		return false
	}
}

// IsPending reports whether a job in this state still owns its episode.
func (s JobState) IsPending() bool {
	return s == JobWaiting || s == JobDelayed || s == JobActive
}

func (s JobState) String() string {
	return string(s)
}

// MaxPriority is the highest job priority. Waiting jobs are scored by
// priority and enqueue time in one float, which is exact only up to this bound.
const MaxPriority = 100

// Job is one unit of queued transcoding work for a single episode.
// Attempt counts failed attempts so far; retries keep the same ID.
type Job struct {
	ID          string    `json:"id"`
	EpisodeID   string    `json:"episode_id"`
	SourcePath  string    `json:"source_path"`
	Priority    int       `json:"priority"`
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"max_attempts"`
	State       JobState  `json:"state"`
	Progress    int       `json:"progress"`
	LastError   string    `json:"last_error,omitempty"`
	WorkerID    string    `json:"worker_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
}

// NewJobID derives the job identity from the episode and submission time.
func NewJobID(episodeID string, submittedAt time.Time) string {
	return fmt.Sprintf("video-%s-%d", episodeID, submittedAt.UnixMilli())
}
