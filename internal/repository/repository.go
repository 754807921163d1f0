// Package repository discovers provisioned cities and loads their artifact
// pairs, caching each pair until the cache is explicitly invalidated.
package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"citycast/internal/artifacts"
	"citycast/internal/types"
)

// ErrArtifactNotFound is wrapped by the AppError returned when either file of
// a city's pair is missing.
var ErrArtifactNotFound = errors.New("city model artifacts not found")

// Load results reported to the LoadRecorder.
const (
	ResultLoaded   = "loaded"
	ResultNotFound = "not_found"
	ResultCorrupt  = "corrupt"
	ResultError    = "error"
)

// LoadRecorder observes artifact loads that reached the store.
type LoadRecorder interface {
	RecordArtifactLoad(ctx context.Context, city, result string, duration time.Duration)
}

// Option configures a Repository.
type Option func(*Repository)

// WithClock overrides the clock used to stamp loaded pairs.
func WithClock(c types.Clock) Option {
	return func(r *Repository) { r.clock = c }
}

// WithLoadRecorder reports store loads to rec.
func WithLoadRecorder(rec LoadRecorder) Option {
	return func(r *Repository) { r.recorder = rec }
}

// WithPreloadConcurrency bounds the number of concurrent loads in Preload.
func WithPreloadConcurrency(n int) Option {
	return func(r *Repository) {
		if n > 0 {
			r.preloadLimit = n
		}
	}
}

// Repository owns the city -> Pair cache. It is safe for concurrent use.
type Repository struct {
	store        artifacts.Store
	logger       *slog.Logger
	clock        types.Clock
	recorder     LoadRecorder
	preloadLimit int

	mu         sync.RWMutex
	cache      map[string]*artifacts.Pair
	generation uint64

	group singleflight.Group
}

// New creates a repository over store.
func New(store artifacts.Store, logger *slog.Logger, opts ...Option) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Repository{
		store:        store,
		logger:       logger,
		clock:        types.RealClock{},
		preloadLimit: 4,
		cache:        make(map[string]*artifacts.Pair),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store returns the underlying artifact store.
func (r *Repository) Store() artifacts.Store {
	return r.store
}

// DiscoverCities lists the cities that have a regressor file, sorted. Only
// the store root is scanned. A missing root yields an empty list.
func (r *Repository) DiscoverCities(ctx context.Context) ([]string, error) {
	names, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(names))
	cities := make([]string, 0, len(names))
	for _, name := range names {
		city, ok := artifacts.CityFromModelFile(name)
		if !ok {
			continue
		}
		if _, dup := seen[city]; dup {
			continue
		}
		seen[city] = struct{}{}
		cities = append(cities, city)
	}
	sort.Strings(cities)
	return cities, nil
}

// Load returns the cached pair for city, reading it from the store on first
// use. Concurrent first loads of the same city share one read.
func (r *Repository) Load(ctx context.Context, city string) (*artifacts.Pair, error) {
	if err := artifacts.ValidateCity(city); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidCity, err.Error(), err)
	}

	r.mu.RLock()
	pair, ok := r.cache[city]
	gen := r.generation
	r.mu.RUnlock()
	if ok {
		return pair, nil
	}

	v, err, _ := r.group.Do(city, func() (any, error) {
		r.mu.RLock()
		cached, ok := r.cache[city]
		r.mu.RUnlock()
		if ok {
			return cached, nil
		}

		loaded, err := r.read(ctx, city)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		// Drop results of loads that started before an invalidation.
		if r.generation == gen {
			r.cache[city] = loaded
		}
		r.mu.Unlock()
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*artifacts.Pair), nil
}

// InvalidateAll empties the cache. The next Load of every city reads the
// store again.
func (r *Repository) InvalidateAll() {
	r.mu.Lock()
	n := len(r.cache)
	r.cache = make(map[string]*artifacts.Pair)
	r.generation++
	r.mu.Unlock()

	r.logger.Info("artifact cache invalidated", "evicted", n)
}

// Cached returns the cities currently held in the cache, sorted.
func (r *Repository) Cached() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cities := make([]string, 0, len(r.cache))
	for c := range r.cache {
		cities = append(cities, c)
	}
	sort.Strings(cities)
	return cities
}

// Preload loads every discovered city. Individual failures are logged and
// skipped; only discovery errors and cancellation are returned.
func (r *Repository) Preload(ctx context.Context) (int, error) {
	cities, err := r.DiscoverCities(ctx)
	if err != nil {
		return 0, fmt.Errorf("discovering cities: %w", err)
	}

	var (
		mu     sync.Mutex
		loaded int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.preloadLimit)
	for _, city := range cities {
		g.Go(func() error {
			if _, err := r.Load(gctx, city); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				r.logger.WarnContext(gctx, "preload failed", "city", city, "error", err)
				return nil
			}
			mu.Lock()
			loaded++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return loaded, err
	}

	r.logger.InfoContext(ctx, "artifact cache preloaded", "cities", len(cities), "loaded", loaded)
	return loaded, nil
}

func (r *Repository) read(ctx context.Context, city string) (*artifacts.Pair, error) {
	start := time.Now()
	pair, err := r.readPair(ctx, city)
	r.record(ctx, city, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	r.logger.InfoContext(ctx, "artifact pair loaded", "city", city, "duration_ms", time.Since(start).Milliseconds())
	return pair, nil
}

func (r *Repository) readPair(ctx context.Context, city string) (*artifacts.Pair, error) {
	modelName := artifacts.ModelFileName(city)
	scalerName := artifacts.ScalerFileName(city)

	// Both files must exist before either is decoded.
	modelRC, err := r.open(ctx, city, modelName)
	if err != nil {
		return nil, err
	}
	defer modelRC.Close()

	scalerRC, err := r.open(ctx, city, scalerName)
	if err != nil {
		return nil, err
	}
	defer scalerRC.Close()

	model, err := artifacts.DecodeRegressor(modelRC)
	if err != nil {
		return nil, corruptError(city, modelName, err)
	}
	scaler, err := artifacts.DecodeScaler(scalerRC)
	if err != nil {
		return nil, corruptError(city, scalerName, err)
	}

	return &artifacts.Pair{
		City:     city,
		Model:    model,
		Scaler:   scaler,
		LoadedAt: r.clock.Now(),
	}, nil
}

func (r *Repository) open(ctx context.Context, city, name string) (io.ReadCloser, error) {
	rc, err := r.store.Open(ctx, name)
	if err == nil {
		return rc, nil
	}
	if errors.Is(err, artifacts.ErrNotExist) {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeNotFoundCityModel,
			fmt.Sprintf("model for %s not found", city),
			fmt.Errorf("%w: %s", ErrArtifactNotFound, name),
			map[string]any{"city": city, "missing": name},
		)
	}
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return nil, err
	}
	return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "reading artifact store failed", err)
}

func corruptError(city, name string, err error) error {
	return types.NewAppErrorWithDetails(
		types.ErrCodeInternalArtifactCorrupt,
		fmt.Sprintf("artifact %s for %s could not be decoded", name, city),
		err,
		map[string]any{"city": city, "file": name},
	)
}

func (r *Repository) record(ctx context.Context, city string, err error, d time.Duration) {
	if r.recorder == nil {
		return
	}
	result := ResultLoaded
	switch {
	case err == nil:
	case types.HasCode(err, types.ErrCodeNotFoundCityModel):
		result = ResultNotFound
	case types.HasCode(err, types.ErrCodeInternalArtifactCorrupt):
		result = ResultCorrupt
	default:
		result = ResultError
	}
	r.recorder.RecordArtifactLoad(ctx, city, result, d)
}
