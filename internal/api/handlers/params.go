package handlers

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"citycast/internal/core"
	"citycast/internal/forecasts"
	"citycast/internal/types"
)

const defaultMaxDays = 31

var errNoCities = types.NewAppError(types.ErrCodeUnavailableNoCities, "no city models found", nil)

func (w Window) withDefaults() Window {
	if w.DefaultDays <= 0 {
		w.DefaultDays = forecasts.DefaultDays
	}
	if w.MaxDays <= 0 {
		w.MaxDays = defaultMaxDays
	}
	if w.DefaultDays > w.MaxDays {
		w.DefaultDays = w.MaxDays
	}
	return w
}

type forecastParams struct {
	City  string `query:"city" validate:"required,city" errcode:"validation_invalid_city"`
	Days  int    `query:"days" validate:"min=1" errcode:"validation_day_count_out_of_range"`
	Start time.Time
}

// parseParams validates the forecast inputs. Empty start means today and
// empty days means the window default. Start dates before today are rejected.
func parseParams(v *core.Validator, city, start, days string, today time.Time, win Window) (forecastParams, error) {
	p := forecastParams{City: city, Days: win.DefaultDays, Start: today}

	if days != "" {
		n, err := strconv.Atoi(days)
		if err != nil {
			return p, types.NewAppErrorWithDetails(types.ErrCodeValidationDayCount,
				"days must be a whole number", err, map[string]any{"field": "days"})
		}
		p.Days = n
	}

	if err := v.ValidateStruct(&p); err != nil {
		return p, err
	}
	if p.Days > win.MaxDays {
		return p, types.NewAppErrorWithDetails(types.ErrCodeValidationDayCount,
			fmt.Sprintf("days must be at most %d", win.MaxDays), nil,
			map[string]any{"field": "days", "rule": "max", "param": strconv.Itoa(win.MaxDays)})
	}

	if start != "" {
		d, err := time.Parse(time.DateOnly, start)
		if err != nil {
			return p, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidDate,
				"start must be a date in YYYY-MM-DD format", err, map[string]any{"field": "start"})
		}
		if d.Before(today) {
			return p, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidDate,
				"start must not be before "+today.Format(time.DateOnly), nil, map[string]any{"field": "start"})
		}
		p.Start = d
	}
	return p, nil
}

// cityParam returns the decoded {city} path segment. chi matches on the raw
// path, so escaped characters such as "%2C" arrive still encoded.
func cityParam(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "city")
	city, err := url.PathUnescape(raw)
	if err != nil {
		return "", types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidCity,
			"city is not a valid path segment", err, map[string]any{"city": raw})
	}
	return city, nil
}
