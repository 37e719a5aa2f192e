package usecase

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hszk-dev/vodforge/internal/domain/model"
	"github.com/hszk-dev/vodforge/internal/domain/repository"
	"github.com/hszk-dev/vodforge/internal/transcoder"
)

// mockJobQueue provides a configurable mock for JobQueue.
type mockJobQueue struct {
	reserveFn       func(ctx context.Context, episodeID string) (string, error)
	unreserveFn     func(ctx context.Context, episodeID, jobID string) error
	enqueueFn       func(ctx context.Context, jobID, episodeID, sourcePath string, priority int) error
	findByEpisodeFn func(ctx context.Context, episodeID string) (*model.Job, error)
	dequeueFn       func(ctx context.Context, workerID string) (*model.Job, error)
	ackFn           func(ctx context.Context, jobID string) error
	nackFn          func(ctx context.Context, jobID string, cause error) (repository.NackResult, error)
	removeFn        func(ctx context.Context, jobID string) error
	listByStateFn   func(ctx context.Context, state model.JobState) ([]*model.Job, error)
	getFn           func(ctx context.Context, jobID string) (*model.Job, error)

	mu         sync.Mutex
	unreserved []string
}

func (m *mockJobQueue) Reserve(ctx context.Context, episodeID string) (string, error) {
	if m.reserveFn != nil {
		return m.reserveFn(ctx, episodeID)
	}
	return model.NewJobID(episodeID, time.Now()), nil
}

func (m *mockJobQueue) Unreserve(ctx context.Context, episodeID, jobID string) error {
	m.mu.Lock()
	m.unreserved = append(m.unreserved, jobID)
	m.mu.Unlock()
	if m.unreserveFn != nil {
		return m.unreserveFn(ctx, episodeID, jobID)
	}
	return nil
}

func (m *mockJobQueue) Enqueue(ctx context.Context, jobID, episodeID, sourcePath string, priority int) error {
	if m.enqueueFn != nil {
		return m.enqueueFn(ctx, jobID, episodeID, sourcePath, priority)
	}
	return nil
}

func (m *mockJobQueue) FindByEpisode(ctx context.Context, episodeID string) (*model.Job, error) {
	if m.findByEpisodeFn != nil {
		return m.findByEpisodeFn(ctx, episodeID)
	}
	return nil, nil
}

func (m *mockJobQueue) unreservedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.unreserved...)
}

func (m *mockJobQueue) Dequeue(ctx context.Context, workerID string) (*model.Job, error) {
	if m.dequeueFn != nil {
		return m.dequeueFn(ctx, workerID)
	}
	return nil, nil
}

func (m *mockJobQueue) Ack(ctx context.Context, jobID string) error {
	if m.ackFn != nil {
		return m.ackFn(ctx, jobID)
	}
	return nil
}

func (m *mockJobQueue) Nack(ctx context.Context, jobID string, cause error) (repository.NackResult, error) {
	if m.nackFn != nil {
		return m.nackFn(ctx, jobID, cause)
	}
	return repository.NackResult{}, nil
}

func (m *mockJobQueue) Remove(ctx context.Context, jobID string) error {
	if m.removeFn != nil {
		return m.removeFn(ctx, jobID)
	}
	return nil
}

func (m *mockJobQueue) ListByState(ctx context.Context, state model.JobState) ([]*model.Job, error) {
	if m.listByStateFn != nil {
		return m.listByStateFn(ctx, state)
	}
	return nil, nil
}

func (m *mockJobQueue) Get(ctx context.Context, jobID string) (*model.Job, error) {
	if m.getFn != nil {
		return m.getFn(ctx, jobID)
	}
	return nil, repository.ErrJobNotFound
}

func (m *mockJobQueue) Close() error {
	return nil
}

// pendingJob returns a findByEpisodeFn that reports job while its state is pending.
func pendingJob(job *model.Job) func(ctx context.Context, episodeID string) (*model.Job, error) {
	return func(_ context.Context, episodeID string) (*model.Job, error) {
		if job != nil && job.EpisodeID == episodeID && job.State.IsPending() {
			return job, nil
		}
		return nil, nil
	}
}

// jobsInState returns a listByStateFn that reports job in its own state only.
func jobsInState(job *model.Job) func(ctx context.Context, state model.JobState) ([]*model.Job, error) {
	return func(_ context.Context, state model.JobState) ([]*model.Job, error) {
		if job != nil && job.State == state {
			return []*model.Job{job}, nil
		}
		return nil, nil
	}
}

// mockJobLease provides a configurable mock for JobLease.
type mockJobLease struct {
	mu       sync.Mutex
	progress []int

	updateProgressFn func(ctx context.Context, jobID string, progress int) error
}

func (m *mockJobLease) Heartbeat(_ context.Context, _ string) error {
	return nil
}

func (m *mockJobLease) Release(_ context.Context, _ string) error {
	return nil
}

func (m *mockJobLease) UpdateProgress(ctx context.Context, jobID string, progress int) error {
	m.mu.Lock()
	m.progress = append(m.progress, progress)
	m.mu.Unlock()
	if m.updateProgressFn != nil {
		return m.updateProgressFn(ctx, jobID, progress)
	}
	return nil
}

func (m *mockJobLease) RecoverStalled(_ context.Context, _ time.Duration) ([]string, error) {
	return nil, nil
}

// mockAbortChannel provides a configurable mock for AbortChannel.
type mockAbortChannel struct {
	abortFn func(ctx context.Context, jobID string) error
}

func (m *mockAbortChannel) Abort(ctx context.Context, jobID string) error {
	if m.abortFn != nil {
		return m.abortFn(ctx, jobID)
	}
	return nil
}

func (m *mockAbortChannel) AbortSignals(ctx context.Context) (<-chan string, error) {
	ch := make(chan string)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

// memoryRecordStore is an in-memory ContentRecordStore.
type memoryRecordStore struct {
	mu      sync.Mutex
	records map[string]model.ContentRecord
	history []model.ContentRecord

	getErr    error
	updateErr error
	deleteErr error
}

func newMemoryRecordStore(episodeIDs ...string) *memoryRecordStore {
	s := &memoryRecordStore{records: make(map[string]model.ContentRecord)}
	for _, id := range episodeIDs {
		s.records[id] = model.ContentRecord{
			EpisodeID: id,
			Status:    model.StatePending,
			Stage:     model.StageUploading,
		}
	}
	return s
}

func (s *memoryRecordStore) Get(_ context.Context, episodeID string) (*model.ContentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	record, ok := s.records[episodeID]
	if !ok {
		return nil, repository.ErrRecordNotFound
	}
	return &record, nil
}

func (s *memoryRecordStore) UpdateProcessingStatus(_ context.Context, record *model.ContentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	if _, ok := s.records[record.EpisodeID]; !ok {
		return repository.ErrRecordNotFound
	}
	s.records[record.EpisodeID] = *record
	s.history = append(s.history, *record)
	return nil
}

func (s *memoryRecordStore) Delete(_ context.Context, episodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.records, episodeID)
	return nil
}

func (s *memoryRecordStore) put(record model.ContentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.EpisodeID] = record
}

func (s *memoryRecordStore) current(episodeID string) (model.ContentRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[episodeID]
	return record, ok
}

func (s *memoryRecordStore) stages() []model.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stages []model.Stage
	for _, r := range s.history {
		if len(stages) == 0 || stages[len(stages)-1] != r.Stage {
			stages = append(stages, r.Stage)
		}
	}
	return stages
}

// mockNotificationStore provides a configurable mock for NotificationStore.
type mockNotificationStore struct {
	deleted []string
	err     error
}

func (m *mockNotificationStore) DeleteUploadNotifications(_ context.Context, episodeID string) error {
	m.deleted = append(m.deleted, episodeID)
	return m.err
}

// recordingSink stores every published event.
type recordingSink struct {
	mu     sync.Mutex
	events []model.ProgressEvent
}

func (s *recordingSink) Publish(_ context.Context, event model.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) all() []model.ProgressEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ProgressEvent(nil), s.events...)
}

func (s *recordingSink) percents() []int {
	var out []int
	for _, e := range s.all() {
		out = append(out, e.Progress)
	}
	return out
}

// mockObjectStorage provides a configurable mock for ObjectStorage.
type mockObjectStorage struct {
	mu       sync.Mutex
	uploaded map[string]string

	uploadFn       func(ctx context.Context, key string, reader io.Reader, contentType string) error
	deletePrefixFn func(ctx context.Context, prefix string) error
}

func (m *mockObjectStorage) Upload(ctx context.Context, key string, reader io.Reader, contentType string) error {
	if m.uploadFn != nil {
		return m.uploadFn(ctx, key, reader, contentType)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploaded == nil {
		m.uploaded = make(map[string]string)
	}
	m.uploaded[key] = contentType
	return nil
}

func (m *mockObjectStorage) DeletePrefix(ctx context.Context, prefix string) error {
	if m.deletePrefixFn != nil {
		return m.deletePrefixFn(ctx, prefix)
	}
	return nil
}

// mockProgressCache provides a configurable mock for cache.ProgressCache.
type mockProgressCache struct {
	getFn    func(ctx context.Context, episodeID string) (*model.ProgressEvent, error)
	setFn    func(ctx context.Context, event *model.ProgressEvent, ttl time.Duration) error
	deleteFn func(ctx context.Context, episodeID string) error
}

func (m *mockProgressCache) Get(ctx context.Context, episodeID string) (*model.ProgressEvent, error) {
	if m.getFn != nil {
		return m.getFn(ctx, episodeID)
	}
	return nil, nil
}

func (m *mockProgressCache) Set(ctx context.Context, event *model.ProgressEvent, ttl time.Duration) error {
	if m.setFn != nil {
		return m.setFn(ctx, event, ttl)
	}
	return nil
}

func (m *mockProgressCache) Delete(ctx context.Context, episodeID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, episodeID)
	}
	return nil
}

// fakeRunner is a MediaToolRunner that writes placeholder outputs.
type fakeRunner struct {
	mu sync.Mutex

	info           *transcoder.SourceInfo
	probeErr       error
	frameErr       error
	subtitleErrs   map[int]error
	encodeErrs     map[string]error
	encodeHook     func(ctx context.Context, req transcoder.EncodeRequest) error
	encodedQuality []string
}

func (f *fakeRunner) Probe(_ context.Context, _ string) (*transcoder.SourceInfo, error) {
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	info := *f.info
	return &info, nil
}

func (f *fakeRunner) ExtractFrame(_ context.Context, _, destPath string, _ time.Duration) error {
	if f.frameErr != nil {
		return f.frameErr
	}
	return os.WriteFile(destPath, []byte("jpeg"), 0o644)
}

func (f *fakeRunner) ExtractSubtitleTrack(_ context.Context, _ string, ordinal int, destPath string) error {
	if err := f.subtitleErrs[ordinal]; err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(destPath, []byte("WEBVTT\n"), 0o644)
}

func (f *fakeRunner) EncodeRendition(ctx context.Context, req transcoder.EncodeRequest, onProgress transcoder.ProgressFunc) error {
	f.mu.Lock()
	f.encodedQuality = append(f.encodedQuality, req.Preset.Quality)
	f.mu.Unlock()

	onProgress(0.5)
	if f.encodeHook != nil {
		if err := f.encodeHook(ctx, req); err != nil {
			return err
		}
	}
	if err := f.encodeErrs[req.Preset.Quality]; err != nil {
		return err
	}
	if err := os.WriteFile(req.PlaylistPath, []byte("#EXTM3U\n"), 0o644); err != nil {
		return err
	}
	onProgress(1)
	return nil
}

func (f *fakeRunner) encoded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.encodedQuality...)
}
