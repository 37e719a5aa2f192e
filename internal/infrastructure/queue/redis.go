package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hszk-dev/vodforge/internal/domain/model"
	"github.com/hszk-dev/vodforge/internal/domain/repository"
	"github.com/hszk-dev/vodforge/internal/infrastructure/metrics"
)

// Config holds configuration for the Redis job queue.
type Config struct {
	KeyPrefix          string        // Prefix of every key, e.g. "vodforge:queue"
	MaxAttempts        int           // Attempts before a job fails terminally
	BackoffBase        time.Duration // Delay before the first retry; doubles per attempt
	CompletedRetention time.Duration // Age after which completed jobs are dropped
	CompletedKeep      int           // Maximum number of completed jobs kept
	FailedRetention    time.Duration // Age after which failed jobs are dropped
	AbortPollInterval  time.Duration // How often Abort re-signals and checks whether the job stopped
	ReservationTTL     time.Duration // How long a reserved episode waits for its job to be enqueued
}

// DefaultConfig returns a Config with the production retry and retention policy.
func DefaultConfig() Config {
	return Config{
		KeyPrefix:          "vodforge:queue",
		MaxAttempts:        3,
		BackoffBase:        5 * time.Second,
		CompletedRetention: 24 * time.Hour,
		CompletedKeep:      100,
		FailedRetention:    7 * 24 * time.Hour,
		AbortPollInterval:  100 * time.Millisecond,
		ReservationTTL:     10 * time.Minute,
	}
}

// RedisJobQueue implements the job queue, the worker lease and the abort
// channel on top of Redis sorted sets and pub/sub.
//
// Keys:
//
//	{prefix}:job:{id}          hash with the job fields
//	{prefix}:waiting           zset scored by priority then enqueue time
//	{prefix}:delayed           zset scored by retry time
//	{prefix}:active            zset scored by last heartbeat
//	{prefix}:completed         zset scored by finish time
//	{prefix}:failed            zset scored by finish time
//	{prefix}:episode:{id}      job ID holding the episode while reserved or pending
//	{prefix}:abort             pub/sub channel of job IDs to abort
type RedisJobQueue struct {
	client *redis.Client
	config Config
	now    func() time.Time

	mu   sync.Mutex
	subs map[*redis.PubSub]struct{}
}

var (
	_ repository.JobQueue     = (*RedisJobQueue)(nil)
	_ repository.JobLease     = (*RedisJobQueue)(nil)
	_ repository.AbortChannel = (*RedisJobQueue)(nil)
)

// NewRedisJobQueue creates a queue over an existing client. The client stays owned by the caller.
func NewRedisJobQueue(client *redis.Client, cfg Config) *RedisJobQueue {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.AbortPollInterval <= 0 {
		cfg.AbortPollInterval = DefaultConfig().AbortPollInterval
	}
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = DefaultConfig().ReservationTTL
	}
	return &RedisJobQueue{
		client: client,
		config: cfg,
		now:    time.Now,
		subs:   make(map[*redis.PubSub]struct{}),
	}
}

// Reserve takes the episode lock for a new job ID. The lock expires after
// ReservationTTL unless Enqueue makes it permanent.
func (q *RedisJobQueue) Reserve(ctx context.Context, episodeID string) (string, error) {
	id := model.NewJobID(episodeID, q.now())

	ok, err := q.client.SetNX(ctx, q.lockKey(episodeID), id, q.config.ReservationTTL).Result()
	if err != nil {
		q.observe(metrics.QueueOpReserve, metrics.QueueStatusError)
		return "", fmt.Errorf("%w: reserve: %w", repository.ErrQueueUnavailable, err)
	}
	if !ok {
		q.observe(metrics.QueueOpReserve, metrics.QueueStatusConflict)
		return "", repository.ErrDuplicateActiveJob
	}

	q.observe(metrics.QueueOpReserve, metrics.QueueStatusSuccess)
	return id, nil
}

// Unreserve releases the episode lock if jobID still holds it and was never enqueued.
func (q *RedisJobQueue) Unreserve(ctx context.Context, episodeID, jobID string) error {
	if err := unreserveScript.Run(ctx, q.client,
		[]string{q.lockKey(episodeID), q.jobKey(jobID)},
		jobID,
	).Err(); err != nil {
		return fmt.Errorf("unreserve: %w", err)
	}
	return nil
}

// Enqueue adds a waiting job under a reserved or free episode lock.
func (q *RedisJobQueue) Enqueue(ctx context.Context, jobID, episodeID, sourcePath string, priority int) error {
	if priority < 0 || priority > model.MaxPriority {
		return fmt.Errorf("priority %d out of range 0-%d", priority, model.MaxPriority)
	}

	created, err := enqueueScript.Run(ctx, q.client,
		[]string{q.lockKey(episodeID), q.jobKey(jobID), q.stateKey(model.JobWaiting)},
		jobID, episodeID, sourcePath, priority, q.config.MaxAttempts, q.now().UnixMilli(),
	).Int()
	if err != nil {
		q.observe(metrics.QueueOpEnqueue, metrics.QueueStatusError)
		return fmt.Errorf("%w: enqueue: %w", repository.ErrQueueUnavailable, err)
	}
	if created == 0 {
		q.observe(metrics.QueueOpEnqueue, metrics.QueueStatusConflict)
		return repository.ErrDuplicateActiveJob
	}

	q.observe(metrics.QueueOpEnqueue, metrics.QueueStatusSuccess)
	return nil
}

// FindByEpisode follows the episode lock to the job holding it.
// A reservation without a job, or a job that already settled, yields nil.
func (q *RedisJobQueue) FindByEpisode(ctx context.Context, episodeID string) (*model.Job, error) {
	id, err := findScript.Run(ctx, q.client,
		[]string{q.lockKey(episodeID)},
		q.jobKeyPrefix(),
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find job: %w", repository.ErrQueueUnavailable, err)
	}

	job, err := q.Get(ctx, id)
	if errors.Is(err, repository.ErrJobNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !job.State.IsPending() {
		return nil, nil
	}
	return job, nil
}

// Dequeue promotes due delayed jobs and claims the head of the waiting set.
func (q *RedisJobQueue) Dequeue(ctx context.Context, workerID string) (*model.Job, error) {
	id, err := claimScript.Run(ctx, q.client,
		[]string{q.stateKey(model.JobWaiting), q.stateKey(model.JobDelayed), q.stateKey(model.JobActive)},
		q.jobKeyPrefix(), q.now().UnixMilli(), workerID,
	).Text()
	if errors.Is(err, redis.Nil) {
		q.observe(metrics.QueueOpDequeue, metrics.QueueStatusEmpty)
		return nil, nil
	}
	if err != nil {
		q.observe(metrics.QueueOpDequeue, metrics.QueueStatusError)
		return nil, fmt.Errorf("%w: dequeue: %w", repository.ErrQueueUnavailable, err)
	}

	q.observe(metrics.QueueOpDequeue, metrics.QueueStatusSuccess)
	return q.Get(ctx, id)
}

// Ack moves an active job to completed history and frees its episode.
func (q *RedisJobQueue) Ack(ctx context.Context, jobID string) error {
	now := q.now()
	ok, err := ackScript.Run(ctx, q.client,
		[]string{q.stateKey(model.JobActive), q.stateKey(model.JobCompleted)},
		q.jobKeyPrefix(), q.lockKeyPrefix(), jobID, now.UnixMilli(),
	).Int()
	if err != nil {
		q.observe(metrics.QueueOpAck, metrics.QueueStatusError)
		return fmt.Errorf("ack: %w", err)
	}
	if ok == 0 {
		q.observe(metrics.QueueOpAck, metrics.QueueStatusEmpty)
		return repository.ErrJobNotFound
	}
	q.observe(metrics.QueueOpAck, metrics.QueueStatusSuccess)

	q.prune(ctx, model.JobCompleted, now.Add(-q.config.CompletedRetention), q.config.CompletedKeep)
	return nil
}

// Nack records a failed attempt and schedules the retry, or fails the job
// once MaxAttempts attempts have failed.
func (q *RedisJobQueue) Nack(ctx context.Context, jobID string, cause error) (repository.NackResult, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	now := q.now()
	vals, err := nackScript.Run(ctx, q.client,
		[]string{q.stateKey(model.JobActive), q.stateKey(model.JobDelayed), q.stateKey(model.JobFailed)},
		q.jobKeyPrefix(), q.lockKeyPrefix(), jobID, now.UnixMilli(), msg, q.config.BackoffBase.Milliseconds(),
	).Int64Slice()
	if errors.Is(err, redis.Nil) {
		q.observe(metrics.QueueOpNack, metrics.QueueStatusEmpty)
		return repository.NackResult{}, repository.ErrJobNotFound
	}
	if err != nil {
		q.observe(metrics.QueueOpNack, metrics.QueueStatusError)
		return repository.NackResult{}, fmt.Errorf("nack: %w", err)
	}
	if len(vals) != 3 {
		q.observe(metrics.QueueOpNack, metrics.QueueStatusError)
		return repository.NackResult{}, fmt.Errorf("nack: unexpected reply %v", vals)
	}
	q.observe(metrics.QueueOpNack, metrics.QueueStatusSuccess)

	result := repository.NackResult{
		Attempt:  int(vals[0]),
		Terminal: vals[1] == 1,
		RetryIn:  time.Duration(vals[2]) * time.Millisecond,
	}
	if result.Terminal {
		q.prune(ctx, model.JobFailed, now.Add(-q.config.FailedRetention), -1)
	}
	return result, nil
}

// Remove deletes the job from every state and publishes an abort signal,
// so a worker still running it stops.
func (q *RedisJobQueue) Remove(ctx context.Context, jobID string) error {
	ok, err := removeScript.Run(ctx, q.client, q.allStateKeys(),
		q.jobKeyPrefix(), q.lockKeyPrefix(), jobID,
	).Int()
	if err != nil {
		q.observe(metrics.QueueOpRemove, metrics.QueueStatusError)
		return fmt.Errorf("remove: %w", err)
	}
	if ok == 0 {
		q.observe(metrics.QueueOpRemove, metrics.QueueStatusEmpty)
		return repository.ErrJobNotFound
	}
	q.observe(metrics.QueueOpRemove, metrics.QueueStatusSuccess)

	if err := q.client.Publish(ctx, q.abortChannel(), jobID).Err(); err != nil {
		slog.Warn("failed to publish abort after remove",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// ListByState returns jobs in claim order for waiting, retry order for delayed,
// claim time for active and newest first for history.
func (q *RedisJobQueue) ListByState(ctx context.Context, state model.JobState) ([]*model.Job, error) {
	if !state.IsValid() {
		return nil, fmt.Errorf("unknown job state %q", state)
	}

	key := q.stateKey(state)
	var (
		ids []string
		err error
	)
	if state == model.JobCompleted || state == model.JobFailed {
		ids, err = q.client.ZRevRange(ctx, key, 0, -1).Result()
	} else {
		ids, err = q.client.ZRange(ctx, key, 0, -1).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", state, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	pipe := q.client.Pipeline()
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, q.jobKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("list %s: %w", state, err)
	}

	jobs := make([]*model.Job, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// removed between the two reads
			continue
		}
		job, err := parseJob(fields)
		if err != nil {
			slog.Warn("skipping unreadable job",
				slog.String("job_id", ids[i]),
				slog.String("error", err.Error()),
			)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Get returns a job by ID or repository.ErrJobNotFound.
func (q *RedisJobQueue) Get(ctx context.Context, jobID string) (*model.Job, error) {
	fields, err := q.client.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if len(fields) == 0 {
		return nil, repository.ErrJobNotFound
	}
	return parseJob(fields)
}

// Heartbeat renews the claim of an active job.
func (q *RedisJobQueue) Heartbeat(ctx context.Context, jobID string) error {
	ok, err := heartbeatScript.Run(ctx, q.client,
		[]string{q.stateKey(model.JobActive)},
		jobID, q.now().UnixMilli(),
	).Int()
	if err != nil {
		q.observe(metrics.QueueOpHeartbeat, metrics.QueueStatusError)
		return fmt.Errorf("heartbeat: %w", err)
	}
	if ok == 0 {
		q.observe(metrics.QueueOpHeartbeat, metrics.QueueStatusEmpty)
		return repository.ErrJobNotFound
	}
	q.observe(metrics.QueueOpHeartbeat, metrics.QueueStatusSuccess)
	return nil
}

// Release puts an active job back at its original place in the waiting set
// without counting an attempt.
func (q *RedisJobQueue) Release(ctx context.Context, jobID string) error {
	ids, err := requeueScript.Run(ctx, q.client,
		[]string{q.stateKey(model.JobActive), q.stateKey(model.JobWaiting)},
		q.jobKeyPrefix(), 0, jobID,
	).StringSlice()
	if err != nil {
		q.observe(metrics.QueueOpRelease, metrics.QueueStatusError)
		return fmt.Errorf("release: %w", err)
	}
	if len(ids) == 0 {
		q.observe(metrics.QueueOpRelease, metrics.QueueStatusEmpty)
		return repository.ErrJobNotFound
	}
	q.observe(metrics.QueueOpRelease, metrics.QueueStatusSuccess)
	return nil
}

// UpdateProgress raises the stored progress of an active job.
func (q *RedisJobQueue) UpdateProgress(ctx context.Context, jobID string, progress int) error {
	ok, err := progressScript.Run(ctx, q.client,
		[]string{q.stateKey(model.JobActive), q.jobKey(jobID)},
		jobID, progress,
	).Int()
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if ok == 0 {
		return repository.ErrJobNotFound
	}
	return nil
}

// RecoverStalled requeues active jobs whose last heartbeat is older than olderThan.
func (q *RedisJobQueue) RecoverStalled(ctx context.Context, olderThan time.Duration) ([]string, error) {
	cutoff := q.now().Add(-olderThan).UnixMilli()
	ids, err := requeueScript.Run(ctx, q.client,
		[]string{q.stateKey(model.JobActive), q.stateKey(model.JobWaiting)},
		q.jobKeyPrefix(), cutoff,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("recover stalled: %w", err)
	}
	for _, id := range ids {
		slog.Warn("recovered stalled job", slog.String("job_id", id))
	}
	return ids, nil
}

// Abort signals the worker holding jobID and waits until the job is no longer active.
// Pub/sub delivers at most once, so the signal is repeated on every poll
// until the worker lets go of the job.
func (q *RedisJobQueue) Abort(ctx context.Context, jobID string) error {
	ticker := time.NewTicker(q.config.AbortPollInterval)
	defer ticker.Stop()

	for {
		_, err := q.client.ZScore(ctx, q.stateKey(model.JobActive), jobID).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("check active job: %w", err)
		}

		if err := q.client.Publish(ctx, q.abortChannel(), jobID).Err(); err != nil {
			return fmt.Errorf("publish abort: %w", err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("abort %s: %w", jobID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// AbortSignals subscribes to abort requests. The channel closes when ctx is done.
func (q *RedisJobQueue) AbortSignals(ctx context.Context) (<-chan string, error) {
	sub := q.client.Subscribe(ctx, q.abortChannel())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe abort channel: %w", err)
	}

	q.mu.Lock()
	q.subs[sub] = struct{}{}
	q.mu.Unlock()

	out := make(chan string)
	go func() {
		defer close(out)
		defer q.closeSub(sub)

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close ends open abort subscriptions. The Redis client is left open.
func (q *RedisJobQueue) Close() error {
	q.mu.Lock()
	subs := make([]*redis.PubSub, 0, len(q.subs))
	for sub := range q.subs {
		subs = append(subs, sub)
	}
	q.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := q.closeSub(sub); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (q *RedisJobQueue) closeSub(sub *redis.PubSub) error {
	q.mu.Lock()
	_, open := q.subs[sub]
	delete(q.subs, sub)
	q.mu.Unlock()

	if !open {
		return nil
	}
	return sub.Close()
}

// prune applies the retention policy to a history set. Failures only delay cleanup.
func (q *RedisJobQueue) prune(ctx context.Context, state model.JobState, cutoff time.Time, keep int) {
	removed, err := pruneScript.Run(ctx, q.client,
		[]string{q.stateKey(state)},
		q.jobKeyPrefix(), cutoff.UnixMilli(), keep,
	).Int()
	if err != nil {
		slog.Warn("failed to prune job history",
			slog.String("state", state.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if removed > 0 {
		slog.Debug("pruned job history",
			slog.String("state", state.String()),
			slog.Int("removed", removed),
		)
	}
}

func (q *RedisJobQueue) observe(op, status string) {
	metrics.QueueOperationsTotal.WithLabelValues(op, status).Inc()
}

func (q *RedisJobQueue) jobKeyPrefix() string  { return q.config.KeyPrefix + ":job:" }
func (q *RedisJobQueue) lockKeyPrefix() string { return q.config.KeyPrefix + ":episode:" }
func (q *RedisJobQueue) abortChannel() string  { return q.config.KeyPrefix + ":abort" }

func (q *RedisJobQueue) jobKey(id string) string {
	return q.jobKeyPrefix() + id
}

func (q *RedisJobQueue) lockKey(episodeID string) string {
	return q.lockKeyPrefix() + episodeID
}

func (q *RedisJobQueue) stateKey(state model.JobState) string {
	return q.config.KeyPrefix + ":" + string(state)
}

func (q *RedisJobQueue) allStateKeys() []string {
	keys := make([]string, 0, len(model.JobStates))
	for _, state := range model.JobStates {
		keys = append(keys, q.stateKey(state))
	}
	return keys
}

// parseJob converts a job hash to a Job.
func parseJob(fields map[string]string) (*model.Job, error) {
	job := &model.Job{
		ID:         fields["id"],
		EpisodeID:  fields["episode_id"],
		SourcePath: fields["source_path"],
		State:      model.JobState(fields["state"]),
		LastError:  fields["last_error"],
		WorkerID:   fields["worker_id"],
	}
	if job.ID == "" {
		return nil, errors.New("job hash has no id")
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"priority", &job.Priority},
		{"attempt", &job.Attempt},
		{"max_attempts", &job.MaxAttempts},
		{"progress", &job.Progress},
	}
	for _, f := range ints {
		v, err := parseInt(fields[f.name])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.name, err)
		}
		*f.dst = int(v)
	}

	times := []struct {
		name string
		dst  *time.Time
	}{
		{"created_at", &job.CreatedAt},
		{"enqueued_at", &job.EnqueuedAt},
		{"started_at", &job.StartedAt},
		{"finished_at", &job.FinishedAt},
	}
	for _, f := range times {
		ms, err := parseInt(fields[f.name])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.name, err)
		}
		if ms > 0 {
			*f.dst = time.UnixMilli(ms)
		}
	}

	return job, nil
}

// parseInt accepts integers and the float form Lua may write.
func parseInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}
