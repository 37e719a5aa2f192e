package model

import (
	"errors"
	"slices"
)

// ProcessingState is the lifecycle state of an episode's video processing.
type ProcessingState string

const (
	StatePending    ProcessingState = "pending"
	StateProcessing ProcessingState = "processing"
	StateCompleted  ProcessingState = "completed"
	StateFailed     ProcessingState = "failed"
)

// Valid state transitions:
// pending -> pending | processing | failed
// processing -> processing | completed | failed | pending (source replaced)
// completed, failed -> pending | processing (reprocessing)
var validTransitions = map[ProcessingState][]ProcessingState{
	StatePending:    {StatePending, StateProcessing, StateFailed},
	StateProcessing: {StateProcessing, StateCompleted, StateFailed, StatePending},
	StateCompleted:  {StatePending, StateProcessing},
	StateFailed:     {StatePending, StateProcessing},
}

var ErrInvalidTransition = errors.New("invalid processing state transition")

func (s ProcessingState) IsValid() bool {
	switch s {
	case StatePending, StateProcessing, StateCompleted, StateFailed:
		return true
	default:
		return false
	}
}

func (s ProcessingState) CanTransitionTo(next ProcessingState) bool {
	allowed, exists := validTransitions[s]
	if !exists {
		return false
	}
	return slices.Contains(allowed, next)
}

func (s ProcessingState) String() string {
	return string(s)
}

// Stage is the operator-facing label of the pipeline phase an episode is in.
type Stage string

const (
	StageUploading   Stage = "uploading"
	StageProbing     Stage = "probing"
	StageThumbnail   Stage = "thumbnail"
	StageSubtitles   Stage = "subtitles"
	StageTranscoding Stage = "transcoding"
	StagePackaging   Stage = "packaging"
	StageCompleted   Stage = "completed"
	StageFailed      Stage = "failed"
)

func (s Stage) String() string {
	return string(s)
}
