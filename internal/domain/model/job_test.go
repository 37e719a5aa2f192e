package model

import (
	"testing"
	"time"
)

func TestNewJobID(t *testing.T) {
	at := time.UnixMilli(1700000000123)

	got := NewJobID("ep42", at)
	if got != "video-ep42-1700000000123" {
		t.Errorf("NewJobID() = %q, want %q", got, "video-ep42-1700000000123")
	}

	if NewJobID("ep42", at.Add(time.Millisecond)) == got {
		t.Error("NewJobID() should differ for different submission times")
	}
}

func TestJobState_IsPending(t *testing.T) {
	tests := []struct {
		state JobState
		want  bool
	}{
		{JobWaiting, true},
		{JobDelayed, true},
		{JobActive, true},
		{JobCompleted, false},
		{JobFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			if got := tt.state.IsPending(); got != tt.want {
				t.Errorf("JobState.IsPending() = %v, want %v", got, tt.want)
			}
		})
	}
}
