package usecase

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/hszk-dev/vodforge/internal/domain/model"
)

func TestProgressReporter_Report(t *testing.T) {
	tests := []struct {
		name         string
		startAt      int
		reports      []float64
		wantPercents []int
	}{
		{
			name:         "floors and publishes increases",
			reports:      []float64{0, 10.9, 55.2, 90},
			wantPercents: []int{0, 10, 55, 90},
		},
		{
			name:         "drops repeated values",
			reports:      []float64{10, 10.4, 10.9, 11},
			wantPercents: []int{10, 11},
		},
		{
			name:         "never goes backwards",
			reports:      []float64{40, 20, 41},
			wantPercents: []int{40, 41},
		},
		{
			name:         "clamps out of range values",
			reports:      []float64{-5, 150},
			wantPercents: []int{0, 100},
		},
		{
			name:         "retry starts from stored high-water mark",
			startAt:      60,
			reports:      []float64{0, 10, 61},
			wantPercents: []int{60, 61},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			job := &model.Job{ID: "video-ep1-1", EpisodeID: "ep1", Progress: tt.startAt}
			r := NewProgressReporter(job, sink, nil)

			for _, p := range tt.reports {
				r.Report(context.Background(), model.StageTranscoding, p)
			}

			if got := sink.percents(); !slices.Equal(got, tt.wantPercents) {
				t.Errorf("published = %v, want %v", got, tt.wantPercents)
			}
		})
	}
}

func TestProgressReporter_StageChangePublishes(t *testing.T) {
	sink := &recordingSink{}
	r := NewProgressReporter(&model.Job{ID: "j", EpisodeID: "ep1"}, sink, nil)

	r.Report(context.Background(), model.StageThumbnail, 20)
	r.Report(context.Background(), model.StageSubtitles, 20)

	events := sink.all()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[1].CurrentStage != model.StageSubtitles || events[1].Progress != 20 {
		t.Errorf("second event = %+v, want subtitles at 20", events[1])
	}
}

func TestProgressReporter_StoresAdvancesOnLease(t *testing.T) {
	lease := &mockJobLease{}
	r := NewProgressReporter(&model.Job{ID: "j", EpisodeID: "ep1"}, &recordingSink{}, lease)

	r.Report(context.Background(), model.StageProbing, 0)
	r.Report(context.Background(), model.StageProbing, 10)
	r.Report(context.Background(), model.StageThumbnail, 10)
	r.Report(context.Background(), model.StageThumbnail, 20)

	if !slices.Equal(lease.progress, []int{10, 20}) {
		t.Errorf("lease progress = %v, want [10 20]", lease.progress)
	}
}

func TestProgressReporter_LeaseErrorIsIgnored(t *testing.T) {
	lease := &mockJobLease{
		updateProgressFn: func(context.Context, string, int) error { return errors.New("redis down") },
	}
	sink := &recordingSink{}
	r := NewProgressReporter(&model.Job{ID: "j", EpisodeID: "ep1"}, sink, lease)

	r.Report(context.Background(), model.StageProbing, 5)

	if got := sink.percents(); !slices.Equal(got, []int{5}) {
		t.Errorf("published = %v, want [5]", got)
	}
}

func TestProgressReporter_Terminal(t *testing.T) {
	t.Run("complete", func(t *testing.T) {
		sink := &recordingSink{}
		r := NewProgressReporter(&model.Job{ID: "j", EpisodeID: "ep1"}, sink, nil)

		r.Report(context.Background(), model.StagePackaging, 90)
		r.Complete(context.Background())

		events := sink.all()
		last := events[len(events)-1]
		if last.Status != model.StateCompleted || last.Progress != 100 || last.CurrentStage != model.StageCompleted {
			t.Errorf("last event = %+v, want completed at 100", last)
		}
	})

	t.Run("fail keeps stage and percent", func(t *testing.T) {
		sink := &recordingSink{}
		r := NewProgressReporter(&model.Job{ID: "j", EpisodeID: "ep1"}, sink, nil)

		r.Report(context.Background(), model.StageTranscoding, 42)
		r.Fail(context.Background(), errors.New("encoder crashed"))

		events := sink.all()
		last := events[len(events)-1]
		if last.Status != model.StateFailed {
			t.Errorf("Status = %s, want failed", last.Status)
		}
		if last.Progress != 42 || last.CurrentStage != model.StageTranscoding {
			t.Errorf("last event = %+v, want transcoding at 42", last)
		}
		if last.Error != "encoder crashed" {
			t.Errorf("Error = %q, want encoder crashed", last.Error)
		}
	})
}
