package repository

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citycast/internal/artifacts"
	"citycast/internal/types"
)

// countingStore wraps a store and counts Open calls.
type countingStore struct {
	artifacts.Store
	opens atomic.Int64
}

func (s *countingStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	s.opens.Add(1)
	return s.Store.Open(ctx, name)
}

type recordedLoad struct {
	city   string
	result string
}

type fakeRecorder struct {
	mu    sync.Mutex
	loads []recordedLoad
}

func (f *fakeRecorder) RecordArtifactLoad(_ context.Context, city, result string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, recordedLoad{city: city, result: result})
}

func writeArtifact(t *testing.T, path string, a artifacts.Artifact) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, artifacts.Encode(f, a, false))
}

func writePair(t *testing.T, dir, city string) {
	t.Helper()
	coef := make([][]float64, types.VariableCount)
	for i := range coef {
		coef[i] = []float64{0.01, 0.02, 0.03}
	}
	writeArtifact(t, filepath.Join(dir, artifacts.ModelFileName(city)), &artifacts.LinearRegressor{
		Coef:      coef,
		Intercept: make([]float64, types.VariableCount),
	})
	writeArtifact(t, filepath.Join(dir, artifacts.ScalerFileName(city)), &artifacts.MinMaxScaler{
		DataMin: make([]float64, types.VariableCount),
		DataMax: []float64{40, 100, 20, 40, 10, 10, 30, 100},
	})
}

func newTestRepo(t *testing.T, dir string, opts ...Option) (*Repository, *countingStore) {
	t.Helper()
	store := &countingStore{Store: artifacts.NewFSStore(dir)}
	return New(store, nil, opts...), store
}

func TestDiscoverCities(t *testing.T) {
	dir := t.TempDir()
	writePair(t, dir, "Paris")
	writePair(t, dir, "Berlin")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Amsterdam_model.pkl"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Zurich_scaler.pkl"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "archive"), 0o755))
	writePair(t, filepath.Join(dir, "archive"), "Oslo")

	repo, _ := newTestRepo(t, dir)
	cities, err := repo.DiscoverCities(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"Amsterdam", "Berlin", "Paris"}, cities)
}

func TestDiscoverCities_SymlinkedArtifacts(t *testing.T) {
	shared := t.TempDir()
	writePair(t, shared, "Paris")
	dir := t.TempDir()
	for _, name := range []string{artifacts.ModelFileName("Paris"), artifacts.ScalerFileName("Paris")} {
		require.NoError(t, os.Symlink(filepath.Join(shared, name), filepath.Join(dir, name)))
	}

	repo, _ := newTestRepo(t, dir)
	cities, err := repo.DiscoverCities(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"Paris"}, cities)

	pair, err := repo.Load(t.Context(), "Paris")
	require.NoError(t, err)
	assert.Equal(t, "Paris", pair.City)
}

func TestDiscoverCities_MissingFolder(t *testing.T) {
	repo, _ := newTestRepo(t, filepath.Join(t.TempDir(), "city_models"))

	cities, err := repo.DiscoverCities(t.Context())
	require.NoError(t, err)
	assert.NotNil(t, cities)
	assert.Empty(t, cities)
}

func TestLoad_CachesPair(t *testing.T) {
	dir := t.TempDir()
	writePair(t, dir, "Paris")
	now := time.Date(2025, 10, 18, 9, 0, 0, 0, time.UTC)
	repo, store := newTestRepo(t, dir, WithClock(types.FixedClock(now)))

	first, err := repo.Load(t.Context(), "Paris")
	require.NoError(t, err)
	assert.Equal(t, "Paris", first.City)
	assert.Equal(t, now, first.LoadedAt)
	assert.Equal(t, int64(2), store.opens.Load())

	second, err := repo.Load(t.Context(), "Paris")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int64(2), store.opens.Load())
	assert.Equal(t, []string{"Paris"}, repo.Cached())
}

func TestLoad_CityIsCaseSensitive(t *testing.T) {
	dir := t.TempDir()
	writePair(t, dir, "Paris")
	repo, _ := newTestRepo(t, dir)

	_, err := repo.Load(t.Context(), "paris")
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundCityModel))
}

func TestLoad_MissingScaler(t *testing.T) {
	dir := t.TempDir()
	writePair(t, dir, "Paris")
	require.NoError(t, os.Remove(filepath.Join(dir, "Paris_scaler.pkl")))
	rec := &fakeRecorder{}
	repo, _ := newTestRepo(t, dir, WithLoadRecorder(rec))

	_, err := repo.Load(t.Context(), "Paris")
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundCityModel))
	assert.ErrorIs(t, err, ErrArtifactNotFound)
	assert.Empty(t, repo.Cached())
	assert.Equal(t, []recordedLoad{{city: "Paris", result: ResultNotFound}}, rec.loads)
}

func TestLoad_CorruptArtifact(t *testing.T) {
	dir := t.TempDir()
	writePair(t, dir, "Paris")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Paris_model.pkl"), []byte("\x80\x04\x95pickle"), 0o644))
	rec := &fakeRecorder{}
	repo, _ := newTestRepo(t, dir, WithLoadRecorder(rec))

	_, err := repo.Load(t.Context(), "Paris")
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrCodeInternalArtifactCorrupt))
	assert.ErrorIs(t, err, artifacts.ErrCorrupt)
	assert.Equal(t, []recordedLoad{{city: "Paris", result: ResultCorrupt}}, rec.loads)
}

func TestLoad_InvalidCity(t *testing.T) {
	repo, store := newTestRepo(t, t.TempDir())

	_, err := repo.Load(t.Context(), "../Paris")
	assert.True(t, types.HasCode(err, types.ErrCodeValidationInvalidCity))
	assert.Zero(t, store.opens.Load())
}

func TestInvalidateAll_ForcesReread(t *testing.T) {
	dir := t.TempDir()
	writePair(t, dir, "Paris")
	repo, store := newTestRepo(t, dir)

	first, err := repo.Load(t.Context(), "Paris")
	require.NoError(t, err)

	repo.InvalidateAll()
	assert.Empty(t, repo.Cached())

	second, err := repo.Load(t.Context(), "Paris")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, int64(4), store.opens.Load())
}

func TestInvalidateAll_PicksUpReplacedFiles(t *testing.T) {
	dir := t.TempDir()
	writePair(t, dir, "Paris")
	repo, _ := newTestRepo(t, dir)

	_, err := repo.Load(t.Context(), "Paris")
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "Paris_model.pkl")))

	// Still served from cache until invalidated.
	_, err = repo.Load(t.Context(), "Paris")
	require.NoError(t, err)

	repo.InvalidateAll()
	_, err = repo.Load(t.Context(), "Paris")
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundCityModel))
}

func TestLoad_ConcurrentFirstLoadsReadOnce(t *testing.T) {
	dir := t.TempDir()
	writePair(t, dir, "Paris")
	repo, store := newTestRepo(t, dir)

	var wg sync.WaitGroup
	pairs := make([]*artifacts.Pair, 16)
	for i := range pairs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := repo.Load(context.Background(), "Paris")
			assert.NoError(t, err)
			pairs[i] = p
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(2), store.opens.Load())
	for _, p := range pairs {
		assert.Same(t, pairs[0], p)
	}
}

func TestPreload(t *testing.T) {
	dir := t.TempDir()
	writePair(t, dir, "Berlin")
	writePair(t, dir, "Paris")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Rome_model.pkl"), []byte("garbage"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Rome_scaler.pkl"), []byte("garbage"), 0o644))
	repo, _ := newTestRepo(t, dir, WithPreloadConcurrency(2))

	loaded, err := repo.Preload(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)
	assert.Equal(t, []string{"Berlin", "Paris"}, repo.Cached())
}

func TestPreload_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	writePair(t, dir, "Paris")
	repo, _ := newTestRepo(t, dir)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := repo.Preload(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
