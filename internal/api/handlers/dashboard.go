package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"

	"citycast/internal/core"
	"citycast/internal/dashboard"
	"citycast/internal/types"
)

// PageRenderer renders a dashboard page.
type PageRenderer interface {
	Render(w io.Writer, page dashboard.Page) error
}

// DashboardHandler serves the HTML dashboard.
type DashboardHandler struct {
	repo      CityRepository
	predictor SeriesPredictor
	renderer  PageRenderer
	validator *core.Validator
	logger    *slog.Logger
	clock     types.Clock
	window    Window
	// folder is named in the "no models" panel.
	folder string

	// Location is the zone of the header clock. Nil shows UTC.
	Location *time.Location
}

// NewDashboardHandler wires the dashboard. folder is only used in messages.
func NewDashboardHandler(
	repo CityRepository,
	predictor SeriesPredictor,
	renderer PageRenderer,
	val *core.Validator,
	logger *slog.Logger,
	clock types.Clock,
	window Window,
	folder string,
) *DashboardHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &DashboardHandler{
		repo:      repo,
		predictor: predictor,
		renderer:  renderer,
		validator: val,
		logger:    logger,
		clock:     clock,
		window:    window.withDefaults(),
		folder:    folder,
	}
}

// RegisterRoutes mounts the page routes at the root.
func (h *DashboardHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.HandlePage)
	r.Post("/refresh", h.HandleRefresh)
}

// HandlePage handles GET /?city=&date=. Blocking problems are rendered as
// panels with a matching status code instead of a bare error.
func (h *DashboardHandler) HandlePage(w http.ResponseWriter, r *http.Request) {
	now := h.clock.Now()
	today := types.CalendarDate(now)
	page := dashboard.Page{
		Now:          now,
		Location:     h.Location,
		MinDate:      today.Format(time.DateOnly),
		SelectedDate: today.Format(time.DateOnly),
	}

	status := h.fill(r.Context(), &page, r.URL.Query(), today)
	h.render(w, r, status, page)
}

// HandleRefresh handles POST /refresh: it clears the artifact cache and sends
// the browser back to the page it came from.
func (h *DashboardHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	h.repo.InvalidateAll()
	h.logger.InfoContext(r.Context(), "artifact cache cleared from dashboard")

	target := "/"
	if err := r.ParseForm(); err == nil {
		q := url.Values{}
		if c := r.PostFormValue("city"); c != "" {
			q.Set("city", c)
		}
		if d := r.PostFormValue("date"); d != "" {
			q.Set("date", d)
		}
		if len(q) > 0 {
			target += "?" + q.Encode()
		}
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *DashboardHandler) fill(ctx context.Context, page *dashboard.Page, q url.Values, today time.Time) int {
	cities, err := h.repo.DiscoverCities(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "city discovery failed", "error", err)
		page.Panels = append(page.Panels, errorPanel("Model folder unavailable", panelMessage(err)))
		return statusOf(err)
	}
	if len(cities) == 0 {
		page.Panels = append(page.Panels, errorPanel("No city models found",
			fmt.Sprintf("No city models found in %q. Train and save models first.", h.folder)))
		return errNoCities.HTTPStatus()
	}
	page.Cities = cities

	city := q.Get("city")
	if city == "" {
		city = cities[0]
	}
	page.SelectedCity = city

	date := q.Get("date")
	params, err := parseParams(h.validator, city, date, "", today, h.window)
	if types.HasCode(err, types.ErrCodeValidationInvalidDate) {
		// Fall back to today like the date picker would.
		page.Panels = append(page.Panels, dashboard.Panel{
			Level:   "warning",
			Title:   "Invalid start date",
			Message: panelMessage(err) + "; showing the forecast from today.",
		})
		params, err = parseParams(h.validator, city, "", "", today, h.window)
	}
	if err != nil {
		page.Panels = append(page.Panels, errorPanel("Invalid city", panelMessage(err)))
		return statusOf(err)
	}
	page.SelectedDate = params.Start.Format(time.DateOnly)

	if !slices.Contains(cities, city) {
		page.Panels = append(page.Panels, errorPanel("Model not found",
			fmt.Sprintf("Model or scaler file not found for %s.", city)))
		return http.StatusNotFound
	}

	series, err := buildSeries(ctx, h.repo, h.predictor, params)
	if err != nil {
		if types.HasCode(err, types.ErrCodeNotFoundCityModel) {
			page.Panels = append(page.Panels, errorPanel("Model not found",
				fmt.Sprintf("Model or scaler file not found for %s.", city)))
		} else {
			h.logger.ErrorContext(ctx, "loading artifacts failed", "city", city, "error", err)
			page.Panels = append(page.Panels, errorPanel("Error loading model or scaler for "+city, panelMessage(err)))
		}
		return statusOf(err)
	}
	if series.Len() == 0 {
		page.Panels = append(page.Panels, errorPanel("Prediction failed", "The forecast is empty."))
		return http.StatusInternalServerError
	}

	view := dashboard.NewForecastView(series)
	query := url.Values{"start": {page.SelectedDate}, "days": {fmt.Sprint(params.Days)}}.Encode()
	base := "/v1/cities/" + url.PathEscape(city) + "/forecast"
	view.CSVURL = base + ".csv?" + query
	view.XLSXURL = base + ".xlsx?" + query
	page.Forecast = view
	return http.StatusOK
}

func (h *DashboardHandler) render(w http.ResponseWriter, r *http.Request, status int, page dashboard.Page) {
	var buf bytes.Buffer
	if err := h.renderer.Render(&buf, page); err != nil {
		h.logger.ErrorContext(r.Context(), "dashboard render failed", "error", err)
		core.Error(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func errorPanel(title, msg string) dashboard.Panel {
	return dashboard.Panel{Level: "error", Title: title, Message: msg}
}

// panelMessage shows AppError messages verbatim and hides anything else.
func panelMessage(err error) string {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "an unexpected error occurred"
}

func statusOf(err error) int {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}
