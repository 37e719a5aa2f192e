package model

import "time"

// ProgressEvent is a status update for operator display.
type ProgressEvent struct {
	EpisodeID    string          `json:"episode_id"`
	JobID        string          `json:"job_id"`
	Status       ProcessingState `json:"status"`
	Progress     int             `json:"progress"`
	CurrentStage Stage           `json:"current_stage"`
	Error        string          `json:"error,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}
