package repository

import "errors"

var (
	// ErrDuplicateActiveJob is returned when an episode already has a waiting, delayed or active job.
	ErrDuplicateActiveJob = errors.New("episode already has an active job")

	// ErrQueueUnavailable is returned when the queue broker cannot be reached.
	ErrQueueUnavailable = errors.New("job queue unavailable")

	// ErrJobNotFound is returned when a job is not (or no longer) in the queue.
	ErrJobNotFound = errors.New("job not found")

	// ErrRecordNotFound is returned when an episode has no content record.
	ErrRecordNotFound = errors.New("content record not found")

	// ErrBucketNotFound is returned when the configured bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")
)
