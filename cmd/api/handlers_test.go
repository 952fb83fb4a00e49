package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cutroom/cutroom/internal/database"
	"github.com/cutroom/cutroom/internal/logging"
	"github.com/cutroom/cutroom/pkg/models"
)

// MockRepo is a mock implementation of Repository
type MockRepo struct {
	mock.Mock
}

func (m *MockRepo) Health(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockRepo) CreateComposition(ctx context.Context, comp *models.Composition) error {
	args := m.Called(ctx, comp)
	if args.Error(0) == nil {
		comp.ID = "comp-new"
		comp.Version = 1
	}
	return args.Error(0)
}

func (m *MockRepo) GetCompositionRecord(ctx context.Context, id string) (*models.Composition, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Composition), args.Error(1)
}

func (m *MockRepo) CompositionVersion(ctx context.Context, id string) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}

func (m *MockRepo) ListCompositions(ctx context.Context, limit, offset int) ([]*models.Composition, error) {
	args := m.Called(ctx, limit, offset)
	return args.Get(0).([]*models.Composition), args.Error(1)
}

func (m *MockRepo) UpdateSettings(ctx context.Context, id string, settings models.Settings) error {
	return m.Called(ctx, id, settings).Error(0)
}

func (m *MockRepo) DeleteComposition(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockRepo) GetComposition(ctx context.Context, id string) (*models.Snapshot, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Snapshot), args.Error(1)
}

func (m *MockRepo) AddClip(ctx context.Context, n models.NewClip) (string, error) {
	args := m.Called(ctx, n)
	return args.String(0), args.Error(1)
}

func (m *MockRepo) GetClip(ctx context.Context, id string) (*models.Clip, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Clip), args.Error(1)
}

func (m *MockRepo) UpdateClip(ctx context.Context, clipID string, patch models.ClipPatch) (string, error) {
	args := m.Called(ctx, clipID, patch)
	return args.String(0), args.Error(1)
}

func (m *MockRepo) RemoveClip(ctx context.Context, clipID string) error {
	return m.Called(ctx, clipID).Error(0)
}

func (m *MockRepo) UpsertTrack(ctx context.Context, upsert models.TrackUpsert) (string, error) {
	args := m.Called(ctx, upsert)
	return args.String(0), args.Error(1)
}

func (m *MockRepo) QueueExport(ctx context.Context, compositionID string, format models.ExportFormat) (*models.ExportJob, error) {
	args := m.Called(ctx, compositionID, format)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ExportJob), args.Error(1)
}

func (m *MockRepo) GetExport(ctx context.Context, id string) (*models.ExportJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ExportJob), args.Error(1)
}

func (m *MockRepo) UpdateExport(ctx context.Context, job *models.ExportJob) error {
	return m.Called(ctx, job).Error(0)
}

func (m *MockRepo) ListExports(ctx context.Context, compositionID string) ([]models.ExportJob, error) {
	args := m.Called(ctx, compositionID)
	return args.Get(0).([]models.ExportJob), args.Error(1)
}

func (m *MockRepo) CreateSource(ctx context.Context, src *models.SourceMeta) error {
	return m.Called(ctx, src).Error(0)
}

func (m *MockRepo) EnsureSource(ctx context.Context, src *models.SourceMeta) error {
	return m.Called(ctx, src).Error(0)
}

func (m *MockRepo) GetSource(ctx context.Context, id string) (*models.SourceMeta, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SourceMeta), args.Error(1)
}

func (m *MockRepo) ListSources(ctx context.Context, limit, offset int) ([]*models.SourceMeta, error) {
	args := m.Called(ctx, limit, offset)
	return args.Get(0).([]*models.SourceMeta), args.Error(1)
}

// MockPublisher is a mock implementation of Publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishExport(ctx context.Context, job *models.ExportJob) error {
	return m.Called(ctx, job).Error(0)
}

// MockProber is a mock implementation of Prober
type MockProber struct {
	mock.Mock
}

func (m *MockProber) ProbeSource(ctx context.Context, url string) (*models.SourceMeta, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SourceMeta), args.Error(1)
}

// MockArtifacts is a mock implementation of ArtifactStore
type MockArtifacts struct {
	mock.Mock
}

func (m *MockArtifacts) DeleteExports(ctx context.Context, jobs []models.ExportJob) error {
	return m.Called(ctx, jobs).Error(0)
}

// memoryCache is an in-process Cache
type memoryCache struct {
	snapshots map[string]*models.Snapshot
	frames    map[string][]byte
	progress  map[string]float64
}

func newMemoryCache() *memoryCache {
	return &memoryCache{
		snapshots: make(map[string]*models.Snapshot),
		frames:    make(map[string][]byte),
		progress:  make(map[string]float64),
	}
}

func versionKey(id string, version int, extra ...int) string {
	b, _ := json.Marshal(append([]interface{}{id, version}, intsToIfaces(extra)...))
	return string(b)
}

func intsToIfaces(in []int) []interface{} {
	out := make([]interface{}, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

func (m *memoryCache) GetSnapshot(_ context.Context, id string, version int) (*models.Snapshot, error) {
	return m.snapshots[versionKey(id, version)], nil
}

func (m *memoryCache) SetSnapshot(_ context.Context, snap *models.Snapshot, _ time.Duration) error {
	m.snapshots[versionKey(snap.Composition.ID, snap.Composition.Version)] = snap
	return nil
}

func (m *memoryCache) GetFrame(_ context.Context, id string, version, frame int) ([]byte, error) {
	return m.frames[versionKey(id, version, frame)], nil
}

func (m *memoryCache) SetFrame(_ context.Context, id string, version, frame int, png []byte, _ time.Duration) error {
	m.frames[versionKey(id, version, frame)] = png
	return nil
}

func (m *memoryCache) DeleteSnapshots(_ context.Context, id string) error {
	for key, snap := range m.snapshots {
		if snap.Composition.ID == id {
			delete(m.snapshots, key)
		}
	}
	return nil
}

func (m *memoryCache) GetExportProgress(_ context.Context, id string) (float64, bool, error) {
	p, ok := m.progress[id]
	return p, ok, nil
}

// solidRenderer renders every frame as a 2x2 image and counts calls
type solidRenderer struct {
	calls int
}

func (r *solidRenderer) RenderFrame(_ context.Context, _ *models.Snapshot, _ int) (*image.RGBA, error) {
	r.calls++
	return image.NewRGBA(image.Rect(0, 0, 2, 2)), nil
}

type testEnv struct {
	api       *API
	repo      *MockRepo
	cache     *memoryCache
	publisher *MockPublisher
	prober    *MockProber
	renderer  *solidRenderer
	artifacts *MockArtifacts
	router    *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		repo:      new(MockRepo),
		cache:     newMemoryCache(),
		publisher: new(MockPublisher),
		prober:    new(MockProber),
		renderer:  &solidRenderer{},
		artifacts: new(MockArtifacts),
	}
	env.api = &API{
		repo:      env.repo,
		cache:     env.cache,
		queue:     env.publisher,
		prober:    env.prober,
		renderer:  env.renderer,
		artifacts: env.artifacts,
		opts: Options{
			DefaultFormat:    models.ExportFormat{Container: "mp4", Codec: "libx264", CRF: 23, Preset: "medium"},
			SnapshotCacheTTL: time.Minute,
			FrameCacheTTL:    time.Minute,
		},
		logger: logging.Nop(),
	}
	env.router = setupRouter(env.api, env.api.logger, nil, nil)
	return env
}

func (env *testEnv) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, _ := json.Marshal(b)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Owner-ID", "owner-1")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func testSnapshot() *models.Snapshot {
	return &models.Snapshot{
		Composition: models.Composition{ID: "comp-1", Name: "Trailer", Settings: models.DefaultSettings(), Version: 4},
		Clips: []models.Clip{
			{ID: "clip-a", CompositionID: "comp-1", SourceMediaID: "m1", SourceOutFrame: 90, Speed: 1, Opacity: 1, ZIndex: 1},
			{ID: "clip-b", CompositionID: "comp-1", SourceMediaID: "m1", SourceOutFrame: 60, TimelineStartFrame: 30, Speed: 1, Opacity: 1, ZIndex: 2},
		},
		Sources: map[string]models.SourceMeta{
			"m1": {ID: "m1", URL: "file:///media/a.mp4", Width: 1920, Height: 1080, FPS: 30, DurationFrames: 300},
		},
	}
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)
	env.repo.On("Health", mock.Anything).Return(nil).Once()
	env.repo.On("Health", mock.Anything).Return(errors.New("connection refused")).Once()

	assert.Equal(t, http.StatusOK, env.do("GET", "/health", nil).Code)

	w := env.do("GET", "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unhealthy", decode(t, w)["status"])
}

func TestCreateComposition(t *testing.T) {
	env := newTestEnv(t)
	env.repo.On("CreateComposition", mock.Anything, mock.MatchedBy(func(c *models.Composition) bool {
		return c.Name == "Trailer" && c.OwnerID == "owner-1" && c.Settings == models.DefaultSettings()
	})).Return(nil)

	w := env.do("POST", "/api/v1/compositions", map[string]interface{}{"name": "Trailer"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "comp-new", decode(t, w)["id"])
	env.repo.AssertExpectations(t)
}

func TestCreateComposition_Invalid(t *testing.T) {
	env := newTestEnv(t)

	w := env.do("POST", "/api/v1/compositions", map[string]interface{}{"name": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do("POST", "/api/v1/compositions", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.repo.AssertNotCalled(t, "CreateComposition", mock.Anything, mock.Anything)
}

func TestGetComposition_CachedByVersion(t *testing.T) {
	env := newTestEnv(t)
	env.repo.On("CompositionVersion", mock.Anything, "comp-1").Return(4, nil)
	env.repo.On("GetComposition", mock.Anything, "comp-1").Return(testSnapshot(), nil).Once()

	for i := 0; i < 3; i++ {
		w := env.do("GET", "/api/v1/compositions/comp-1", nil)
		require.Equal(t, http.StatusOK, w.Code)
	}

	// Only the first read reaches the repository
	env.repo.AssertNumberOfCalls(t, "GetComposition", 1)
}

func TestGetComposition_NotFound(t *testing.T) {
	env := newTestEnv(t)
	env.repo.On("CompositionVersion", mock.Anything, "missing").Return(0, database.ErrNotFound)

	w := env.do("GET", "/api/v1/compositions/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteComposition_RemovesArtifacts(t *testing.T) {
	env := newTestEnv(t)
	jobs := []models.ExportJob{{ID: "exp-1", Status: models.ExportStatusDone}}

	env.repo.On("ListExports", mock.Anything, "comp-1").Return(jobs, nil)
	env.repo.On("DeleteComposition", mock.Anything, "comp-1").Return(nil)
	env.artifacts.On("DeleteExports", mock.Anything, jobs).Return(errors.New("bucket unreachable"))

	w := env.do("DELETE", "/api/v1/compositions/comp-1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	env.repo.AssertExpectations(t)
	env.artifacts.AssertExpectations(t)
}

func TestDeleteComposition_NotFound(t *testing.T) {
	env := newTestEnv(t)
	env.repo.On("ListExports", mock.Anything, "missing").Return([]models.ExportJob(nil), nil)
	env.repo.On("DeleteComposition", mock.Anything, "missing").Return(database.ErrNotFound)

	w := env.do("DELETE", "/api/v1/compositions/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	env.artifacts.AssertNotCalled(t, "DeleteExports", mock.Anything, mock.Anything)
}

func TestAddClip(t *testing.T) {
	env := newTestEnv(t)
	env.repo.On("AddClip", mock.Anything, mock.MatchedBy(func(n models.NewClip) bool {
		return n.CompositionID == "comp-1" && n.SourceMediaID == "m1" && n.SourceOutFrame == 90
	})).Return("clip-new", nil)

	w := env.do("POST", "/api/v1/compositions/comp-1/clips", map[string]interface{}{
		"source_media_id":  "m1",
		"source_out_frame": 90,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "clip-new", decode(t, w)["id"])
}

func TestAddClip_RepositoryRejects(t *testing.T) {
	env := newTestEnv(t)
	env.repo.On("AddClip", mock.Anything, mock.Anything).Return("", database.ErrInvalid)

	w := env.do("POST", "/api/v1/compositions/comp-1/clips", map[string]interface{}{
		"source_media_id":  "m1",
		"source_out_frame": 90,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateClip_EmptyPatch(t *testing.T) {
	env := newTestEnv(t)

	w := env.do("PATCH", "/api/v1/clips/clip-a", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	env.repo.AssertNotCalled(t, "UpdateClip", mock.Anything, mock.Anything, mock.Anything)
}

func TestRemoveClip_LogsClipID(t *testing.T) {
	env := newTestEnv(t)
	var buf bytes.Buffer
	env.api.logger = logging.New(&buf, "info")
	env.repo.On("RemoveClip", mock.Anything, "clip-b").Return(nil)

	w := env.do("DELETE", "/api/v1/clips/clip-b", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, buf.String(), `"clip_id":"clip-b"`)
	assert.Contains(t, buf.String(), "Clip removed")
}

func TestRemoveClip_NotFound(t *testing.T) {
	env := newTestEnv(t)
	env.repo.On("RemoveClip", mock.Anything, "clip-x").Return(models.ErrClipNotFound)

	w := env.do("DELETE", "/api/v1/clips/clip-x", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetLanes(t *testing.T) {
	env := newTestEnv(t)
	env.repo.On("CompositionVersion", mock.Anything, "comp-1").Return(4, nil)
	env.repo.On("GetComposition", mock.Anything, "comp-1").Return(testSnapshot(), nil)

	w := env.do("GET", "/api/v1/compositions/comp-1/lanes", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Contains(t, body, "layout")
	assert.Equal(t, []interface{}{2.0, 1.0}, body["stack"])
	assert.Equal(t, map[string]interface{}{"2": 0.0, "1": 1.0}, body["lane_for_z"])
}

func TestRunCommand_Delete(t *testing.T) {
	env := newTestEnv(t)
	env.repo.On("CompositionVersion", mock.Anything, "comp-1").Return(4, nil)
	env.repo.On("GetComposition", mock.Anything, "comp-1").Return(testSnapshot(), nil)
	env.repo.On("RemoveClip", mock.Anything, "clip-b").Return(nil)

	w := env.do("POST", "/api/v1/compositions/comp-1/commands", map[string]interface{}{
		"op":               "delete",
		"selected_clip_id": "clip-b",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["applied"])
	env.repo.AssertExpectations(t)
}

func TestRunCommand_UnknownOp(t *testing.T) {
	env := newTestEnv(t)

	w := env.do("POST", "/api/v1/compositions/comp-1/commands", map[string]interface{}{"op": "explode"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetFrame(t *testing.T) {
	env := newTestEnv(t)
	env.repo.On("CompositionVersion", mock.Anything, "comp-1").Return(4, nil)
	env.repo.On("GetComposition", mock.Anything, "comp-1").Return(testSnapshot(), nil)

	w := env.do("GET", "/api/v1/compositions/comp-1/frames/10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	// Served from the frame cache the second time
	w = env.do("GET", "/api/v1/compositions/comp-1/frames/10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, env.renderer.calls)

	w = env.do("GET", "/api/v1/compositions/comp-1/frames/900", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do("GET", "/api/v1/compositions/comp-1/frames/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateExport(t *testing.T) {
	env := newTestEnv(t)
	job := &models.ExportJob{ID: "exp-1", JobID: "job-1", CompositionID: "comp-1", Status: models.ExportStatusQueued}

	env.repo.On("QueueExport", mock.Anything, "comp-1", models.ExportFormat{
		Container: "webm", Codec: "libx264", CRF: 23, Preset: "medium",
	}).Return(job, nil)
	env.publisher.On("PublishExport", mock.Anything, job).Return(nil)

	w := env.do("POST", "/api/v1/compositions/comp-1/exports", map[string]interface{}{"container": "webm"})
	require.Equal(t, http.StatusAccepted, w.Code)

	body := decode(t, w)
	assert.Equal(t, "exp-1", body["export_id"])
	assert.Equal(t, "job-1", body["job_id"])
	env.repo.AssertExpectations(t)
	env.publisher.AssertExpectations(t)
}

func TestCreateExport_EmptyBodyUsesDefaults(t *testing.T) {
	env := newTestEnv(t)
	job := &models.ExportJob{ID: "exp-1", JobID: "job-1", CompositionID: "comp-1", Status: models.ExportStatusQueued}

	env.repo.On("QueueExport", mock.Anything, "comp-1", env.api.opts.DefaultFormat).Return(job, nil)
	env.publisher.On("PublishExport", mock.Anything, job).Return(nil)

	w := env.do("POST", "/api/v1/compositions/comp-1/exports", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestCreateExport_InvalidFormat(t *testing.T) {
	env := newTestEnv(t)

	w := env.do("POST", "/api/v1/compositions/comp-1/exports", map[string]interface{}{"container": "gif"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do("POST", "/api/v1/compositions/comp-1/exports", map[string]interface{}{"crf": 70})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.repo.AssertNotCalled(t, "QueueExport", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateExport_PublishFailureMarksJobFailed(t *testing.T) {
	env := newTestEnv(t)
	job := &models.ExportJob{ID: "exp-1", JobID: "job-1", CompositionID: "comp-1", Status: models.ExportStatusQueued}

	env.repo.On("QueueExport", mock.Anything, "comp-1", mock.Anything).Return(job, nil)
	env.publisher.On("PublishExport", mock.Anything, job).Return(errors.New("channel closed"))
	env.repo.On("UpdateExport", mock.Anything, mock.MatchedBy(func(j *models.ExportJob) bool {
		return j.Status == models.ExportStatusFailed
	})).Return(nil)

	w := env.do("POST", "/api/v1/compositions/comp-1/exports", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	env.repo.AssertExpectations(t)
}

func TestGetExport_OverlaysProgress(t *testing.T) {
	env := newTestEnv(t)
	env.cache.progress["exp-1"] = 0.6
	env.repo.On("GetExport", mock.Anything, "exp-1").Return(&models.ExportJob{
		ID: "exp-1", Status: models.ExportStatusProcessing, Progress: 0.2,
	}, nil)
	env.repo.On("GetExport", mock.Anything, "exp-2").Return(&models.ExportJob{
		ID: "exp-2", Status: models.ExportStatusDone, Progress: 1,
	}, nil)
	env.cache.progress["exp-2"] = 0.5

	w := env.do("GET", "/api/v1/exports/exp-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 0.6, decode(t, w)["progress"], 1e-9)

	// Finished jobs report the stored progress
	w = env.do("GET", "/api/v1/exports/exp-2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 1.0, decode(t, w)["progress"], 1e-9)
}

func TestRegisterSource(t *testing.T) {
	env := newTestEnv(t)
	meta := &models.SourceMeta{ID: "src-1", URL: "https://cdn.example.com/a.mp4", Width: 1280, Height: 720, FPS: 25, DurationFrames: 250}

	env.prober.On("ProbeSource", mock.Anything, meta.URL).Return(meta, nil)
	env.repo.On("CreateSource", mock.Anything, meta).Return(nil)

	w := env.do("POST", "/api/v1/sources", map[string]interface{}{"url": meta.URL})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "src-1", decode(t, w)["id"])
}

func TestRegisterSource_ProbeFailure(t *testing.T) {
	env := newTestEnv(t)
	env.prober.On("ProbeSource", mock.Anything, "https://cdn.example.com/bad.mp4").Return(nil, errors.New("no video stream"))

	w := env.do("POST", "/api/v1/sources", map[string]interface{}{"url": "https://cdn.example.com/bad.mp4"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = env.do("POST", "/api/v1/sources", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	env.repo.AssertNotCalled(t, "CreateSource", mock.Anything, mock.Anything)
}

func TestExportProject(t *testing.T) {
	env := newTestEnv(t)
	env.repo.On("CompositionVersion", mock.Anything, "comp-1").Return(4, nil)
	env.repo.On("GetComposition", mock.Anything, "comp-1").Return(testSnapshot(), nil)

	w := env.do("GET", "/api/v1/compositions/comp-1/project", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/yaml", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "name: Trailer")
	assert.Contains(t, w.Body.String(), "clip-a")
}

func TestImportProject(t *testing.T) {
	env := newTestEnv(t)
	env.repo.On("CreateComposition", mock.Anything, mock.Anything).Return(nil)
	env.repo.On("EnsureSource", mock.Anything, mock.Anything).Return(nil)
	env.repo.On("AddClip", mock.Anything, mock.Anything).Return("clip-new", nil)

	doc := strings.Join([]string{
		"version: 1",
		"name: Imported",
		"settings:",
		"  width: 1280",
		"  height: 720",
		"  fps: 30",
		"  duration_frames: 300",
		"  background_color: \"#000000\"",
		"sources:",
		"  - id: m1",
		"    url: file:///media/a.mp4",
		"    width: 1920",
		"    height: 1080",
		"    fps: 30",
		"    duration_frames: 300",
		"clips:",
		"  - id: intro",
		"    source: m1",
		"    source_out: 90",
		"",
	}, "\n")

	w := env.do("POST", "/api/v1/projects", doc)
	require.Equal(t, http.StatusCreated, w.Code)

	body := decode(t, w)
	assert.Equal(t, map[string]interface{}{"intro": "clip-new"}, body["clip_ids"])
	env.repo.AssertExpectations(t)
}

func TestImportProject_Invalid(t *testing.T) {
	env := newTestEnv(t)

	w := env.do("POST", "/api/v1/projects", "version: 99\nname: x\n")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	env.repo.AssertNotCalled(t, "CreateComposition", mock.Anything, mock.Anything)
}
