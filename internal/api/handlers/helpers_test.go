package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"citycast/internal/artifacts"
	"citycast/internal/core"
	"citycast/internal/dashboard"
	"citycast/internal/forecasts"
	"citycast/internal/types"
)

// 2025-10-18 is a Saturday.
var testNow = time.Date(2025, 10, 18, 10, 30, 0, 0, time.UTC)

type constModel struct {
	values []float64
	err    error
}

func (m constModel) Predict([]float64) ([]float64, error) {
	if m.err != nil {
		return nil, m.err
	}
	return append([]float64(nil), m.values...), nil
}

type identityScaler struct{}

func (identityScaler) InverseTransform(v []float64) ([]float64, error) { return v, nil }

func sunnyPair(city string) *artifacts.Pair {
	return &artifacts.Pair{
		City:   city,
		Model:  constModel{values: []float64{25, 60, 15, 27, 0, 0, 12, 20}},
		Scaler: identityScaler{},
	}
}

type fakeRepo struct {
	mu          sync.Mutex
	cities      []string
	discoverErr error
	pairs       map[string]*artifacts.Pair
	loadErrs    map[string]error
	preloadN    int
	preloadErr  error
	invalidated int
	preloaded   int
}

func (f *fakeRepo) DiscoverCities(context.Context) ([]string, error) {
	if f.discoverErr != nil {
		return nil, f.discoverErr
	}
	return f.cities, nil
}

func (f *fakeRepo) Load(_ context.Context, city string) (*artifacts.Pair, error) {
	if err, ok := f.loadErrs[city]; ok {
		return nil, err
	}
	if p, ok := f.pairs[city]; ok {
		return p, nil
	}
	return nil, types.NewAppErrorWithDetails(types.ErrCodeNotFoundCityModel,
		"model for "+city+" not found", nil, map[string]any{"city": city})
}

func (f *fakeRepo) InvalidateAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated++
}

func (f *fakeRepo) Preload(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preloaded++
	return f.preloadN, f.preloadErr
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		cities: []string{"Chennai", "Mumbai"},
		pairs: map[string]*artifacts.Pair{
			"Chennai": sunnyPair("Chennai"),
			"Mumbai":  sunnyPair("Mumbai"),
		},
		loadErrs: map[string]error{},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(t *testing.T, repo CityRepository) http.Handler {
	t.Helper()
	logger := quietLogger()
	val := core.NewValidator(logger)
	predictor := forecasts.NewPredictor(logger, nil)
	clock := types.FixedClock(testNow)

	renderer, err := dashboard.NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}

	api := NewForecastHandler(repo, predictor, val, logger, clock, Window{})
	page := NewDashboardHandler(repo, predictor, renderer, val, logger, clock, Window{}, "city_models")

	r := chi.NewRouter()
	r.Route("/v1", api.RegisterRoutes)
	page.RegisterRoutes(r)
	return r
}

var errBoom = errors.New("boom")
