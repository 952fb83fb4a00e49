package export

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cutroom/cutroom/internal/playback/playbacktest"
	"github.com/cutroom/cutroom/pkg/models"
)

type fakeStore struct {
	mu       sync.Mutex
	job      models.ExportJob
	snap     *models.Snapshot
	statuses []string
	progress []float64
}

func (s *fakeStore) GetExport(ctx context.Context, exportID string) (*models.ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exportID != s.job.ID {
		return nil, errors.New("export not found")
	}
	job := s.job
	return &job, nil
}

func (s *fakeStore) GetComposition(ctx context.Context, compositionID string) (*models.Snapshot, error) {
	if s.snap == nil {
		return nil, errors.New("composition not found")
	}
	return s.snap, nil
}

func (s *fakeStore) UpdateExport(ctx context.Context, job *models.ExportJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.job = *job
	if n := len(s.statuses); n == 0 || s.statuses[n-1] != job.Status {
		s.statuses = append(s.statuses, job.Status)
	}
	s.progress = append(s.progress, job.Progress)
	return nil
}

type fakeFinalizer struct {
	err    error
	req    *FinalizeRequest
	before func()
}

func (f *fakeFinalizer) Finalize(ctx context.Context, req FinalizeRequest) error {
	if f.before != nil {
		f.before()
	}
	f.req = &req
	return f.err
}

type fakeArtifacts struct {
	published []string
}

func (a *fakeArtifacts) PublishExport(ctx context.Context, exportID, path, container string) (string, error) {
	a.published = append(a.published, path)
	return "https://cdn.example.com/exports/" + exportID + "." + container, nil
}

type fakeCoordinator struct {
	busy     bool
	locked   []string
	released []string
	progress map[string]float64
}

func (c *fakeCoordinator) AcquireCompositionLock(ctx context.Context, compositionID, owner string, ttl time.Duration) (bool, error) {
	if c.busy {
		return false, nil
	}
	c.locked = append(c.locked, compositionID)
	return true, nil
}

func (c *fakeCoordinator) ReleaseCompositionLock(ctx context.Context, compositionID, owner string) error {
	c.released = append(c.released, compositionID)
	return nil
}

func (c *fakeCoordinator) SetExportProgress(ctx context.Context, exportID string, progress float64, ttl time.Duration) error {
	if c.progress == nil {
		c.progress = make(map[string]float64)
	}
	c.progress[exportID] = progress
	return nil
}

type fakeNotifier struct {
	events []string
	store  *fakeStore
	stored []string
}

func (n *fakeNotifier) NotifyExport(ctx context.Context, event string, job models.ExportJob) {
	n.events = append(n.events, event+":"+job.Status)
	if n.store != nil {
		n.store.mu.Lock()
		n.stored = append(n.stored, n.store.job.Status)
		n.store.mu.Unlock()
	}
}

type serviceFixture struct {
	notifier    *fakeNotifier
	store       *fakeStore
	finalizer   *fakeFinalizer
	artifacts   *fakeArtifacts
	coordinator *fakeCoordinator
	capture     *fakeCapture
	service     *Service
}

func newServiceFixture(t *testing.T, status string) *serviceFixture {
	t.Helper()

	f := &serviceFixture{
		store: &fakeStore{
			job:  models.ExportJob{ID: "exp-1", CompositionID: "comp", Status: status},
			snap: scenario(90),
		},
		finalizer:   &fakeFinalizer{},
		artifacts:   &fakeArtifacts{},
		coordinator: &fakeCoordinator{},
		capture:     &fakeCapture{},
		notifier:    &fakeNotifier{},
	}

	f.service = NewService(ServiceConfig{
		TempDir:       t.TempDir(),
		DefaultFormat: models.ExportFormat{Container: "mp4", Codec: "libx264", CRF: 23, Preset: "medium"},
	}, Dependencies{
		Pipeline: newTestPipeline(&playbacktest.Factory{}),
		NewCapture: func(dir string) Capture {
			f.capture.dir = dir
			return f.capture
		},
		Finalizer:   f.finalizer,
		Store:       f.store,
		Artifacts:   f.artifacts,
		Coordinator: f.coordinator,
		Notifier:    f.notifier,
	}, nil)

	return f
}

func TestProcessJobSuccess(t *testing.T) {
	f := newServiceFixture(t, models.ExportStatusQueued)

	require.NoError(t, f.service.ProcessJob(context.Background(), "exp-1"))

	job := f.store.job
	assert.Equal(t, models.ExportStatusDone, job.Status)
	assert.Equal(t, 1.0, job.Progress)
	assert.Equal(t, "https://cdn.example.com/exports/exp-1.mp4", job.URL)
	assert.Empty(t, job.ErrorMsg)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.CompletedAt)
	assert.Equal(t, []string{models.ExportStatusProcessing, models.ExportStatusDone}, f.store.statuses)

	for i := 1; i < len(f.store.progress); i++ {
		assert.GreaterOrEqual(t, f.store.progress[i], f.store.progress[i-1])
	}

	require.NotNil(t, f.finalizer.req)
	req := f.finalizer.req
	assert.Equal(t, "mp4", req.Format.Container)
	assert.Equal(t, "libx264", req.Format.Codec)
	assert.Equal(t, 90, req.Settings.DurationFrames)
	assert.Len(t, f.capture.frames, 90)
	require.Len(t, req.Cues, 1)
	assert.Equal(t, "B", req.Cues[0].ClipID)

	assert.Equal(t, []string{"comp"}, f.coordinator.locked)
	assert.Equal(t, []string{"comp"}, f.coordinator.released)
	assert.Equal(t, 1.0, f.coordinator.progress["exp-1"])
	assert.NotEmpty(t, f.service.WorkerID())
	assert.Equal(t, []string{"export.started:processing", "export.completed:done"}, f.notifier.events)
}

func TestProcessJobFinalizeFailure(t *testing.T) {
	f := newServiceFixture(t, models.ExportStatusQueued)
	f.finalizer.err = errors.New("no usable ffmpeg runtime")

	err := f.service.ProcessJob(context.Background(), "exp-1")
	require.Error(t, err)

	job := f.store.job
	assert.Equal(t, models.ExportStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMsg, "no usable ffmpeg runtime")
	assert.NotNil(t, job.CompletedAt)
	assert.Empty(t, job.URL)
	assert.Empty(t, f.artifacts.published)
	assert.Equal(t, []string{"comp"}, f.coordinator.released)
	assert.Equal(t, []string{"export.started:processing", "export.failed:failed"}, f.notifier.events)
}

func TestProcessJobCancelledStillRecordsFailure(t *testing.T) {
	f := newServiceFixture(t, models.ExportStatusQueued)
	f.notifier.store = f.store

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.finalizer.before = cancel
	f.finalizer.err = context.Canceled

	err := f.service.ProcessJob(ctx, "exp-1")
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, models.ExportStatusFailed, f.store.job.Status)
	assert.Contains(t, f.store.job.ErrorMsg, "finalization failed")
	assert.NotNil(t, f.store.job.CompletedAt)
	assert.Equal(t, []string{"export.started:processing", "export.failed:failed"}, f.notifier.events)
	assert.Equal(t, models.ExportStatusFailed, f.notifier.stored[len(f.notifier.stored)-1])
}

func TestProcessJobCaptureFormatFailure(t *testing.T) {
	f := newServiceFixture(t, models.ExportStatusQueued)
	f.capture.beginErr = ErrNoCaptureFormat

	err := f.service.ProcessJob(context.Background(), "exp-1")
	assert.ErrorIs(t, err, ErrNoCaptureFormat)
	assert.Equal(t, models.ExportStatusFailed, f.store.job.Status)
	assert.Contains(t, f.store.job.ErrorMsg, ErrNoCaptureFormat.Error())
	assert.Nil(t, f.finalizer.req)
}

func TestProcessJobMissingComposition(t *testing.T) {
	f := newServiceFixture(t, models.ExportStatusQueued)
	f.store.snap = nil

	require.Error(t, f.service.ProcessJob(context.Background(), "exp-1"))
	assert.Equal(t, models.ExportStatusFailed, f.store.job.Status)
	assert.Contains(t, f.store.job.ErrorMsg, "composition not found")
}

func TestProcessJobCompositionBusy(t *testing.T) {
	f := newServiceFixture(t, models.ExportStatusQueued)
	f.coordinator.busy = true

	err := f.service.ProcessJob(context.Background(), "exp-1")
	assert.ErrorIs(t, err, ErrCompositionBusy)
	assert.Equal(t, models.ExportStatusQueued, f.store.job.Status)
	assert.Empty(t, f.store.statuses)
	assert.Empty(t, f.capture.frames)
}

func TestProcessJobSkipsTerminalJobs(t *testing.T) {
	for _, status := range []string{models.ExportStatusDone, models.ExportStatusFailed} {
		t.Run(status, func(t *testing.T) {
			f := newServiceFixture(t, status)

			require.NoError(t, f.service.ProcessJob(context.Background(), "exp-1"))
			assert.Empty(t, f.store.statuses)
			assert.Empty(t, f.coordinator.locked)
			assert.Nil(t, f.finalizer.req)
		})
	}
}

func TestProcessJobUnknownExport(t *testing.T) {
	f := newServiceFixture(t, models.ExportStatusQueued)
	assert.Error(t, f.service.ProcessJob(context.Background(), "missing"))
}
