package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hszk-dev/vodforge/internal/artifact"
	"github.com/hszk-dev/vodforge/internal/domain/model"
	"github.com/hszk-dev/vodforge/internal/domain/repository"
	"github.com/hszk-dev/vodforge/internal/usecase"
)

// Mock services

type mockSubmissionService struct {
	submitFn   func(ctx context.Context, input usecase.SubmitInput) (*usecase.SubmitOutput, error)
	getJobFn   func(ctx context.Context, jobID string) (*model.Job, error)
	listJobsFn func(ctx context.Context, state model.JobState) ([]*model.Job, error)
}

func (m *mockSubmissionService) Submit(ctx context.Context, input usecase.SubmitInput) (*usecase.SubmitOutput, error) {
	if m.submitFn != nil {
		return m.submitFn(ctx, input)
	}
	return nil, nil
}

func (m *mockSubmissionService) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	if m.getJobFn != nil {
		return m.getJobFn(ctx, jobID)
	}
	return nil, repository.ErrJobNotFound
}

func (m *mockSubmissionService) ListJobs(ctx context.Context, state model.JobState) ([]*model.Job, error) {
	if m.listJobsFn != nil {
		return m.listJobsFn(ctx, state)
	}
	return nil, nil
}

type mockCanceller struct {
	cancelled []string
	err       error
}

func (m *mockCanceller) CancelAsync(_ context.Context, episodeID string) error {
	if m.err != nil {
		return m.err
	}
	m.cancelled = append(m.cancelled, episodeID)
	return nil
}

type mockProgressService struct {
	getProgressFn func(ctx context.Context, episodeID string) (*model.ProgressEvent, error)
}

func (m *mockProgressService) GetProgress(ctx context.Context, episodeID string) (*model.ProgressEvent, error) {
	if m.getProgressFn != nil {
		return m.getProgressFn(ctx, episodeID)
	}
	return nil, repository.ErrRecordNotFound
}

func newTestRouter(jobs *mockSubmissionService, canceller *mockCanceller, progress *mockProgressService) *chi.Mux {
	h := NewJobHandler(jobs, canceller, progress)
	r := chi.NewRouter()
	r.Route("/v1", h.Routes)
	return r
}

func TestJobHandler_Submit(t *testing.T) {
	tests := []struct {
		name           string
		requestBody    any
		setupMock      func(m *mockSubmissionService)
		wantStatusCode int
		checkResponse  func(t *testing.T, body []byte)
	}{
		{
			name:        "successful submission",
			requestBody: SubmitJobRequest{EpisodeID: "ep1", SourcePath: "/uploads/tmp/abc.mp4", Priority: 5},
			setupMock: func(m *mockSubmissionService) {
				m.submitFn = func(ctx context.Context, input usecase.SubmitInput) (*usecase.SubmitOutput, error) {
					if input.Priority != 5 {
						t.Errorf("expected priority 5, got %d", input.Priority)
					}
					return &usecase.SubmitOutput{
						JobID:      "video-ep1-1700000000000",
						SourcePath: "/videos/ep1/original.mp4",
					}, nil
				}
			},
			wantStatusCode: http.StatusAccepted,
			checkResponse: func(t *testing.T, body []byte) {
				var resp SubmitJobResponse
				if err := json.Unmarshal(body, &resp); err != nil {
					t.Fatalf("failed to unmarshal response: %v", err)
				}
				if resp.JobID != "video-ep1-1700000000000" {
					t.Errorf("expected job ID video-ep1-1700000000000, got %s", resp.JobID)
				}
				if resp.SourcePath != "/videos/ep1/original.mp4" {
					t.Errorf("expected organized source path, got %s", resp.SourcePath)
				}
			},
		},
		{
			name:           "invalid JSON body",
			requestBody:    "invalid json",
			setupMock:      func(m *mockSubmissionService) {},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:           "unknown field",
			requestBody:    `{"episode_id":"ep1","source_path":"/tmp/a.mp4","prio":3}`,
			setupMock:      func(m *mockSubmissionService) {},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:           "missing episode ID",
			requestBody:    SubmitJobRequest{SourcePath: "/tmp/a.mp4"},
			setupMock:      func(m *mockSubmissionService) {},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:           "missing source path",
			requestBody:    SubmitJobRequest{EpisodeID: "ep1"},
			setupMock:      func(m *mockSubmissionService) {},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:           "negative priority",
			requestBody:    SubmitJobRequest{EpisodeID: "ep1", SourcePath: "/tmp/a.mp4", Priority: -1},
			setupMock:      func(m *mockSubmissionService) {},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:           "priority above the highest",
			requestBody:    SubmitJobRequest{EpisodeID: "ep1", SourcePath: "/tmp/a.mp4", Priority: model.MaxPriority + 1},
			setupMock:      func(m *mockSubmissionService) {},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:        "highest priority accepted",
			requestBody: SubmitJobRequest{EpisodeID: "ep1", SourcePath: "/tmp/a.mp4", Priority: model.MaxPriority},
			setupMock: func(m *mockSubmissionService) {
				m.submitFn = func(ctx context.Context, input usecase.SubmitInput) (*usecase.SubmitOutput, error) {
					return &usecase.SubmitOutput{JobID: "video-ep1-1", SourcePath: "/videos/ep1/original.mp4"}, nil
				}
			},
			wantStatusCode: http.StatusAccepted,
		},
		{
			name:        "invalid input from service",
			requestBody: SubmitJobRequest{EpisodeID: "../etc", SourcePath: "/tmp/a.mp4"},
			setupMock: func(m *mockSubmissionService) {
				m.submitFn = func(ctx context.Context, input usecase.SubmitInput) (*usecase.SubmitOutput, error) {
					return nil, fmt.Errorf("%w: %w", usecase.ErrInvalidInput, artifact.ErrInvalidEpisodeID)
				}
			},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:        "unknown episode",
			requestBody: SubmitJobRequest{EpisodeID: "ep404", SourcePath: "/tmp/a.mp4"},
			setupMock: func(m *mockSubmissionService) {
				m.submitFn = func(ctx context.Context, input usecase.SubmitInput) (*usecase.SubmitOutput, error) {
					return nil, fmt.Errorf("reset processing status: %w", repository.ErrRecordNotFound)
				}
			},
			wantStatusCode: http.StatusNotFound,
		},
		{
			name:        "job already pending",
			requestBody: SubmitJobRequest{EpisodeID: "ep1", SourcePath: "/tmp/a.mp4"},
			setupMock: func(m *mockSubmissionService) {
				m.submitFn = func(ctx context.Context, input usecase.SubmitInput) (*usecase.SubmitOutput, error) {
					return nil, repository.ErrDuplicateActiveJob
				}
			},
			wantStatusCode: http.StatusConflict,
		},
		{
			name:        "queue unavailable",
			requestBody: SubmitJobRequest{EpisodeID: "ep1", SourcePath: "/tmp/a.mp4"},
			setupMock: func(m *mockSubmissionService) {
				m.submitFn = func(ctx context.Context, input usecase.SubmitInput) (*usecase.SubmitOutput, error) {
					return nil, fmt.Errorf("%w: dial tcp: connection refused", repository.ErrQueueUnavailable)
				}
			},
			wantStatusCode: http.StatusServiceUnavailable,
		},
		{
			name:        "unexpected error",
			requestBody: SubmitJobRequest{EpisodeID: "ep1", SourcePath: "/tmp/a.mp4"},
			setupMock: func(m *mockSubmissionService) {
				m.submitFn = func(ctx context.Context, input usecase.SubmitInput) (*usecase.SubmitOutput, error) {
					return nil, errors.New("disk full")
				}
			},
			wantStatusCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockSubmissionService{}
			tt.setupMock(mock)
			r := newTestRouter(mock, &mockCanceller{}, &mockProgressService{})

			var body []byte
			switch v := tt.requestBody.(type) {
			case string:
				body = []byte(v)
			default:
				var err error
				body, err = json.Marshal(v)
				if err != nil {
					t.Fatalf("failed to marshal request body: %v", err)
				}
			}

			req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()

			r.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatusCode {
				t.Errorf("expected status %d, got %d", tt.wantStatusCode, rec.Code)
			}

			if tt.checkResponse != nil {
				tt.checkResponse(t, rec.Body.Bytes())
			}
		})
	}
}

func TestJobHandler_List(t *testing.T) {
	jobsByState := map[model.JobState][]*model.Job{
		model.JobWaiting: {{ID: "video-ep2-2", EpisodeID: "ep2", State: model.JobWaiting}},
		model.JobActive:  {{ID: "video-ep1-1", EpisodeID: "ep1", State: model.JobActive, Progress: 40}},
	}

	tests := []struct {
		name           string
		query          string
		listErr        error
		wantStatusCode int
		wantIDs        []string
	}{
		{
			name:           "single state",
			query:          "?state=active",
			wantStatusCode: http.StatusOK,
			wantIDs:        []string{"video-ep1-1"},
		},
		{
			name:           "all states",
			query:          "",
			wantStatusCode: http.StatusOK,
			wantIDs:        []string{"video-ep2-2", "video-ep1-1"},
		},
		{
			name:           "empty state",
			query:          "?state=failed",
			wantStatusCode: http.StatusOK,
			wantIDs:        []string{},
		},
		{
			name:           "invalid state",
			query:          "?state=paused",
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:           "queue unavailable",
			query:          "?state=waiting",
			listErr:        repository.ErrQueueUnavailable,
			wantStatusCode: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockSubmissionService{
				listJobsFn: func(ctx context.Context, state model.JobState) ([]*model.Job, error) {
					if tt.listErr != nil {
						return nil, tt.listErr
					}
					return jobsByState[state], nil
				},
			}
			r := newTestRouter(mock, &mockCanceller{}, &mockProgressService{})

			req := httptest.NewRequest(http.MethodGet, "/v1/jobs"+tt.query, nil)
			rec := httptest.NewRecorder()

			r.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatusCode {
				t.Fatalf("expected status %d, got %d", tt.wantStatusCode, rec.Code)
			}
			if tt.wantIDs == nil {
				return
			}

			var resp ListJobsResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if len(resp.Jobs) != len(tt.wantIDs) {
				t.Fatalf("expected %d jobs, got %d", len(tt.wantIDs), len(resp.Jobs))
			}
			for i, id := range tt.wantIDs {
				if resp.Jobs[i].ID != id {
					t.Errorf("jobs[%d].ID = %s, want %s", i, resp.Jobs[i].ID, id)
				}
			}
		})
	}
}

func TestJobHandler_Get(t *testing.T) {
	tests := []struct {
		name           string
		jobID          string
		wantStatusCode int
	}{
		{name: "existing job", jobID: "video-ep1-1", wantStatusCode: http.StatusOK},
		{name: "job not found", jobID: "video-ep9-9", wantStatusCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockSubmissionService{
				getJobFn: func(ctx context.Context, jobID string) (*model.Job, error) {
					if jobID != "video-ep1-1" {
						return nil, repository.ErrJobNotFound
					}
					return &model.Job{ID: jobID, EpisodeID: "ep1", State: model.JobFailed, LastError: "probe failed"}, nil
				},
			}
			r := newTestRouter(mock, &mockCanceller{}, &mockProgressService{})

			req := httptest.NewRequest(http.MethodGet, "/v1/jobs/"+tt.jobID, nil)
			rec := httptest.NewRecorder()

			r.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatusCode {
				t.Fatalf("expected status %d, got %d", tt.wantStatusCode, rec.Code)
			}
			if tt.wantStatusCode != http.StatusOK {
				return
			}

			var job model.Job
			if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if job.State != model.JobFailed || job.LastError != "probe failed" {
				t.Errorf("unexpected job %+v", job)
			}
		})
	}
}

func TestJobHandler_Cancel(t *testing.T) {
	tests := []struct {
		name           string
		episodeID      string
		cancelErr      error
		wantStatusCode int
	}{
		{name: "accepted", episodeID: "ep1", wantStatusCode: http.StatusAccepted},
		{
			name:           "invalid episode ID",
			episodeID:      "bad-id",
			cancelErr:      artifact.ErrInvalidEpisodeID,
			wantStatusCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			canceller := &mockCanceller{err: tt.cancelErr}
			r := newTestRouter(&mockSubmissionService{}, canceller, &mockProgressService{})

			req := httptest.NewRequest(http.MethodPost, "/v1/episodes/"+tt.episodeID+"/cancel", nil)
			rec := httptest.NewRecorder()

			r.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatusCode {
				t.Fatalf("expected status %d, got %d", tt.wantStatusCode, rec.Code)
			}
			if tt.wantStatusCode == http.StatusAccepted {
				if len(canceller.cancelled) != 1 || canceller.cancelled[0] != tt.episodeID {
					t.Errorf("cancelled = %v, want [%s]", canceller.cancelled, tt.episodeID)
				}
			}
		})
	}
}

func TestJobHandler_Progress(t *testing.T) {
	tests := []struct {
		name           string
		episodeID      string
		wantStatusCode int
		wantProgress   int
	}{
		{name: "processing episode", episodeID: "ep1", wantStatusCode: http.StatusOK, wantProgress: 45},
		{name: "unknown episode", episodeID: "ep404", wantStatusCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			progress := &mockProgressService{
				getProgressFn: func(ctx context.Context, episodeID string) (*model.ProgressEvent, error) {
					if episodeID != "ep1" {
						return nil, repository.ErrRecordNotFound
					}
					return &model.ProgressEvent{
						EpisodeID:    episodeID,
						JobID:        "video-ep1-1",
						Status:       model.StateProcessing,
						Progress:     45,
						CurrentStage: model.StageTranscoding,
					}, nil
				},
			}
			r := newTestRouter(&mockSubmissionService{}, &mockCanceller{}, progress)

			req := httptest.NewRequest(http.MethodGet, "/v1/episodes/"+tt.episodeID+"/progress", nil)
			rec := httptest.NewRecorder()

			r.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatusCode {
				t.Fatalf("expected status %d, got %d", tt.wantStatusCode, rec.Code)
			}
			if tt.wantStatusCode != http.StatusOK {
				return
			}

			var event model.ProgressEvent
			if err := json.Unmarshal(rec.Body.Bytes(), &event); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if event.Progress != tt.wantProgress || event.CurrentStage != model.StageTranscoding {
				t.Errorf("unexpected event %+v", event)
			}
		})
	}
}
