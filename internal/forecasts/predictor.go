// Package forecasts turns a loaded artifact pair into a day-by-day forecast
// series.
//
// A failed day never fails the series: the day is filled with the default
// record and marked as defaulted, and the failure is logged and counted.
package forecasts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"citycast/internal/artifacts"
	"citycast/internal/types"
)

// DefaultDays is the length of a dashboard forecast window.
const DefaultDays = 14

// Date label layouts shown next to each record.
const (
	dayNameLayout   = "Monday"
	dateLabelLayout = "Jan 02"
)

var errNoPair = errors.New("no artifact pair")

// DefaultRecorder is notified whenever a day falls back to the default record.
type DefaultRecorder interface {
	RecordPredictionDefaulted(ctx context.Context, city, reason string)
}

// Prediction is the result for a single date.
type Prediction struct {
	Metrics types.Metrics
	Outcome types.Outcome
	Reason  string
}

// Predictor runs the model and scaler of a pair for calendar dates.
type Predictor struct {
	logger   *slog.Logger
	recorder DefaultRecorder
}

// NewPredictor creates a predictor. recorder may be nil.
func NewPredictor(logger *slog.Logger, recorder DefaultRecorder) *Predictor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Predictor{logger: logger, recorder: recorder}
}

// PredictOne predicts the metrics for one date. It never fails: errors,
// panics, wrong output widths and non-finite values yield the default record.
func (p *Predictor) PredictOne(ctx context.Context, pair *artifacts.Pair, date time.Time) (pred Prediction) {
	defer func() {
		if r := recover(); r != nil {
			pred = p.fallback(ctx, pair, date, fmt.Sprintf("panic: %v", r))
		}
	}()

	m, err := predict(pair, date)
	if err != nil {
		return p.fallback(ctx, pair, date, err.Error())
	}
	return Prediction{Metrics: m, Outcome: types.OutcomePredicted}
}

// PredictRange predicts days consecutive dates starting at the calendar day
// of start. Records are in ascending date order.
func (p *Predictor) PredictRange(ctx context.Context, pair *artifacts.Pair, start time.Time, days int) Series {
	start = types.CalendarDate(start)
	if days < 0 {
		days = 0
	}

	series := Series{
		Start:   start,
		Records: make([]types.PredictionRecord, 0, days),
	}
	if pair != nil {
		series.City = pair.City
	}

	for i := 0; i < days; i++ {
		date := start.AddDate(0, 0, i)
		pred := p.PredictOne(ctx, pair, date)
		series.Records = append(series.Records, types.PredictionRecord{
			Metrics:   pred.Metrics,
			Date:      date,
			DayName:   date.Format(dayNameLayout),
			DateLabel: date.Format(dateLabelLayout),
			Outcome:   pred.Outcome,
			Reason:    pred.Reason,
		})
	}
	return series
}

func predict(pair *artifacts.Pair, date time.Time) (types.Metrics, error) {
	if pair == nil || pair.Model == nil || pair.Scaler == nil {
		return types.Metrics{}, errNoPair
	}

	scaled, err := pair.Model.Predict(types.NewFeatureVector(date).Row())
	if err != nil {
		return types.Metrics{}, fmt.Errorf("model: %w", err)
	}
	if len(scaled) != types.VariableCount {
		return types.Metrics{}, fmt.Errorf("model returned %d values, want %d", len(scaled), types.VariableCount)
	}

	values, err := pair.Scaler.InverseTransform(scaled)
	if err != nil {
		return types.Metrics{}, fmt.Errorf("scaler: %w", err)
	}
	m, err := types.MetricsFromValues(values)
	if err != nil {
		return types.Metrics{}, fmt.Errorf("scaler: %w", err)
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return types.Metrics{}, fmt.Errorf("%s is not finite", types.Variables[i])
		}
	}
	return m, nil
}

func (p *Predictor) fallback(ctx context.Context, pair *artifacts.Pair, date time.Time, reason string) Prediction {
	city := ""
	if pair != nil {
		city = pair.City
	}
	p.logger.WarnContext(ctx, "prediction defaulted",
		"city", city,
		"date", date.Format(time.DateOnly),
		"reason", reason,
	)
	if p.recorder != nil {
		p.recorder.RecordPredictionDefaulted(ctx, city, reason)
	}
	return Prediction{
		Metrics: types.DefaultMetrics(),
		Outcome: types.OutcomeDefaulted,
		Reason:  reason,
	}
}
