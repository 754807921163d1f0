// Package handlers implements the HTTP endpoints of citycast: the JSON API
// under /v1, the CSV and XLSX downloads, and the HTML dashboard.
package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"citycast/internal/artifacts"
	"citycast/internal/core"
	"citycast/internal/export"
	"citycast/internal/forecasts"
	"citycast/internal/types"
)

// CityRepository is the part of repository.Repository the handlers use.
type CityRepository interface {
	DiscoverCities(ctx context.Context) ([]string, error)
	Load(ctx context.Context, city string) (*artifacts.Pair, error)
	InvalidateAll()
	Preload(ctx context.Context) (int, error)
}

// SeriesPredictor produces a forecast series from a loaded pair.
type SeriesPredictor interface {
	PredictRange(ctx context.Context, pair *artifacts.Pair, start time.Time, days int) forecasts.Series
}

// Window bounds the requested day count.
type Window struct {
	DefaultDays int
	MaxDays     int
}

// ForecastResponse is the body of GET /v1/cities/{city}/forecast.
type ForecastResponse struct {
	City    string            `json:"city"`
	Start   string            `json:"start"`
	Days    []forecasts.Day   `json:"days"`
	Summary forecasts.Summary `json:"summary"`
}

// CitiesResponse is the body of GET /v1/cities.
type CitiesResponse struct {
	Cities []string `json:"cities"`
}

// RefreshRequest is the optional body of POST /v1/cache/refresh.
type RefreshRequest struct {
	Preload bool `json:"preload"`
}

// RefreshResponse reports what a cache refresh did.
type RefreshResponse struct {
	Invalidated bool `json:"invalidated"`
	Preloaded   int  `json:"preloaded"`
}

// ForecastHandler serves the forecast API and downloads.
type ForecastHandler struct {
	repo      CityRepository
	predictor SeriesPredictor
	validator *core.Validator
	logger    *slog.Logger
	clock     types.Clock
	window    Window
}

// NewForecastHandler wires the handler. A zero window uses 14 and 31 days.
func NewForecastHandler(
	repo CityRepository,
	predictor SeriesPredictor,
	val *core.Validator,
	logger *slog.Logger,
	clock types.Clock,
	window Window,
) *ForecastHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &ForecastHandler{
		repo:      repo,
		predictor: predictor,
		validator: val,
		logger:    logger,
		clock:     clock,
		window:    window.withDefaults(),
	}
}

// RegisterRoutes mounts the /v1 endpoints.
func (h *ForecastHandler) RegisterRoutes(r chi.Router) {
	r.Get("/cities", h.HandleListCities)
	r.Get("/cities/{city}/forecast", h.HandleGetForecast)
	r.Get("/cities/{city}/forecast.csv", h.HandleExportCSV)
	r.Get("/cities/{city}/forecast.xlsx", h.HandleExportXLSX)
	r.Post("/cache/refresh", h.HandleRefresh)
}

// HandleListCities handles GET /v1/cities.
func (h *ForecastHandler) HandleListCities(w http.ResponseWriter, r *http.Request) {
	cities, err := h.repo.DiscoverCities(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "city discovery failed", "error", err)
		core.Error(w, r, err)
		return
	}
	if len(cities) == 0 {
		core.Error(w, r, errNoCities)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: CitiesResponse{Cities: cities}})
}

// HandleGetForecast handles GET /v1/cities/{city}/forecast?start=&days=.
func (h *ForecastHandler) HandleGetForecast(w http.ResponseWriter, r *http.Request) {
	series, ok := h.series(w, r)
	if !ok {
		return
	}

	resp := core.APIResponse{Data: ForecastResponse{
		City:    series.City,
		Start:   series.Start.Format(time.DateOnly),
		Days:    series.Days(),
		Summary: forecasts.Summarize(series),
	}}
	if warnings := defaultedWarnings(series); len(warnings) > 0 {
		resp.Meta = &core.ResponseMeta{Warnings: warnings}
	}
	core.JSON(w, r, http.StatusOK, resp)
}

// HandleExportCSV handles GET /v1/cities/{city}/forecast.csv.
func (h *ForecastHandler) HandleExportCSV(w http.ResponseWriter, r *http.Request) {
	h.download(w, r, export.ContentTypeCSV, "csv", export.WriteCSV)
}

// HandleExportXLSX handles GET /v1/cities/{city}/forecast.xlsx.
func (h *ForecastHandler) HandleExportXLSX(w http.ResponseWriter, r *http.Request) {
	h.download(w, r, export.ContentTypeXLSX, "xlsx", export.WriteXLSX)
}

// HandleRefresh handles POST /v1/cache/refresh. The body is optional;
// {"preload": true} reloads every city after clearing the cache.
func (h *ForecastHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := core.DecodeJSON(w, r, &req, true); err != nil {
		core.Error(w, r, err)
		return
	}

	h.repo.InvalidateAll()
	resp := RefreshResponse{Invalidated: true}

	if req.Preload {
		n, err := h.repo.Preload(r.Context())
		if err != nil {
			h.logger.ErrorContext(r.Context(), "preload after refresh failed", "error", err)
			core.Error(w, r, err)
			return
		}
		resp.Preloaded = n
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: resp})
}

func (h *ForecastHandler) download(
	w http.ResponseWriter,
	r *http.Request,
	contentType, ext string,
	write func(io.Writer, forecasts.Series) error,
) {
	series, ok := h.series(w, r)
	if !ok {
		return
	}

	// Buffer so a failed encode still gets a proper error response.
	var buf bytes.Buffer
	if err := write(&buf, series); err != nil {
		h.logger.ErrorContext(r.Context(), "export failed",
			"city", series.City,
			"format", ext,
			"error", err,
		)
		core.Error(w, r, types.NewAppError(types.ErrCodeInternalExport, "failed to build export", err))
		return
	}

	filename := export.Filename(series.City, series.Start, ext)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// series parses the request, loads the pair and predicts. On failure the
// error response has already been written.
func (h *ForecastHandler) series(w http.ResponseWriter, r *http.Request) (forecasts.Series, bool) {
	city, err := cityParam(r)
	if err != nil {
		core.Error(w, r, err)
		return forecasts.Series{}, false
	}
	q := r.URL.Query()
	params, err := parseParams(h.validator, city, q.Get("start"), q.Get("days"), h.today(), h.window)
	if err != nil {
		core.Error(w, r, err)
		return forecasts.Series{}, false
	}

	series, err := buildSeries(r.Context(), h.repo, h.predictor, params)
	if err != nil {
		h.logLoadError(r.Context(), params.City, err)
		core.Error(w, r, err)
		return forecasts.Series{}, false
	}
	return series, true
}

func (h *ForecastHandler) today() time.Time {
	return types.CalendarDate(h.clock.Now())
}

func (h *ForecastHandler) logLoadError(ctx context.Context, city string, err error) {
	if types.HasCode(err, types.ErrCodeNotFoundCityModel) {
		h.logger.InfoContext(ctx, "artifacts not found", "city", city)
		return
	}
	h.logger.ErrorContext(ctx, "loading artifacts failed", "city", city, "error", err)
}

func buildSeries(ctx context.Context, repo CityRepository, predictor SeriesPredictor, p forecastParams) (forecasts.Series, error) {
	pair, err := repo.Load(ctx, p.City)
	if err != nil {
		return forecasts.Series{}, err
	}
	return predictor.PredictRange(ctx, pair, p.Start, p.Days), nil
}

func defaultedWarnings(s forecasts.Series) []string {
	var out []string
	for _, rec := range s.Records {
		if rec.Defaulted() {
			out = append(out, fmt.Sprintf("prediction failed for %s: %s", rec.Date.Format(time.DateOnly), rec.Reason))
		}
	}
	return out
}
