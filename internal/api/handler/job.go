package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hszk-dev/vodforge/internal/api/middleware"
	"github.com/hszk-dev/vodforge/internal/artifact"
	"github.com/hszk-dev/vodforge/internal/domain/model"
	"github.com/hszk-dev/vodforge/internal/domain/repository"
	"github.com/hszk-dev/vodforge/internal/usecase"
)

// Request/Response types

type SubmitJobRequest struct {
	EpisodeID  string `json:"episode_id"`
	SourcePath string `json:"source_path"`
	Priority   int    `json:"priority,omitempty"`
}

type SubmitJobResponse struct {
	JobID      string `json:"job_id"`
	EpisodeID  string `json:"episode_id"`
	SourcePath string `json:"source_path"`
}

type ListJobsResponse struct {
	Jobs []*model.Job `json:"jobs"`
}

type CancelResponse struct {
	EpisodeID string `json:"episode_id"`
	Status    string `json:"status"`
}

// Canceller starts the cancellation of an episode's processing.
type Canceller interface {
	CancelAsync(ctx context.Context, episodeID string) error
}

// JobHandler handles job and episode processing requests.
type JobHandler struct {
	jobs      usecase.SubmissionService
	canceller Canceller
	progress  usecase.ProgressService
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(jobs usecase.SubmissionService, canceller Canceller, progress usecase.ProgressService) *JobHandler {
	return &JobHandler{
		jobs:      jobs,
		canceller: canceller,
		progress:  progress,
	}
}

// Routes mounts the handler under /v1.
func (h *JobHandler) Routes(r chi.Router) {
	r.Post("/jobs", h.Submit)
	r.Get("/jobs", h.List)
	r.Get("/jobs/{id}", h.Get)
	r.Post("/episodes/{id}/cancel", h.Cancel)
	r.Get("/episodes/{id}/progress", h.Progress)
}

// Submit handles POST /v1/jobs
func (h *JobHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	if req.EpisodeID == "" {
		Error(w, http.StatusBadRequest, "invalid_episode_id", "Episode ID is required")
		return
	}
	if req.SourcePath == "" {
		Error(w, http.StatusBadRequest, "invalid_source_path", "Source path is required")
		return
	}
	if req.Priority < 0 || req.Priority > model.MaxPriority {
		Error(w, http.StatusBadRequest, "invalid_priority", fmt.Sprintf("Priority must be between 0 and %d", model.MaxPriority))
		return
	}

	output, err := h.jobs.Submit(r.Context(), usecase.SubmitInput{
		EpisodeID:  req.EpisodeID,
		SourcePath: req.SourcePath,
		Priority:   req.Priority,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	JSON(w, http.StatusAccepted, SubmitJobResponse{
		JobID:      output.JobID,
		EpisodeID:  req.EpisodeID,
		SourcePath: output.SourcePath,
	})
}

// List handles GET /v1/jobs?state=. Without a state every job is listed.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	states := model.JobStates
	if s := r.URL.Query().Get("state"); s != "" {
		state := model.JobState(s)
		if !state.IsValid() {
			Error(w, http.StatusBadRequest, "invalid_state", "State must be one of waiting, delayed, active, completed, failed")
			return
		}
		states = []model.JobState{state}
	}

	resp := ListJobsResponse{Jobs: []*model.Job{}}
	for _, state := range states {
		jobs, err := h.jobs.ListJobs(r.Context(), state)
		if err != nil {
			h.handleServiceError(w, r, err)
			return
		}
		resp.Jobs = append(resp.Jobs, jobs...)
	}

	JSON(w, http.StatusOK, resp)
}

// Get handles GET /v1/jobs/{id}
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	JSON(w, http.StatusOK, job)
}

// Cancel handles POST /v1/episodes/{id}/cancel. The cancellation runs in the background.
func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	episodeID := chi.URLParam(r, "id")

	if err := h.canceller.CancelAsync(r.Context(), episodeID); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	JSON(w, http.StatusAccepted, CancelResponse{
		EpisodeID: episodeID,
		Status:    "cancelling",
	})
}

// Progress handles GET /v1/episodes/{id}/progress
func (h *JobHandler) Progress(w http.ResponseWriter, r *http.Request) {
	episodeID := chi.URLParam(r, "id")
	if err := artifact.ValidateEpisodeID(episodeID); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	event, err := h.progress.GetProgress(r.Context(), episodeID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	JSON(w, http.StatusOK, event)
}

func (h *JobHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, usecase.ErrInvalidInput), errors.Is(err, artifact.ErrInvalidEpisodeID):
		Error(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, repository.ErrDuplicateActiveJob):
		Error(w, http.StatusConflict, "job_in_progress", "Episode already has a pending job")
	case errors.Is(err, repository.ErrQueueUnavailable):
		Error(w, http.StatusServiceUnavailable, "queue_unavailable", "Job queue is unavailable")
	case errors.Is(err, repository.ErrJobNotFound):
		Error(w, http.StatusNotFound, "job_not_found", "Job not found")
	case errors.Is(err, repository.ErrRecordNotFound):
		Error(w, http.StatusNotFound, "episode_not_found", "Episode not found")
	default:
		middleware.LoggerFrom(r.Context()).Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		Error(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
