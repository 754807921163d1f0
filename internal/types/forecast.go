package types

import (
	"fmt"
	"time"
)

// Variable names a predicted weather metric. The string values are the
// column names used by the model artifacts and the tabular export.
type Variable string

// Canonical variable names.
const (
	VarTemperature         Variable = "temperature_2m"
	VarRelativeHumidity    Variable = "relative_humidity_2m"
	VarDewPoint            Variable = "dew_point_2m"
	VarApparentTemperature Variable = "apparent_temperature"
	VarPrecipitation       Variable = "precipitation"
	VarRain                Variable = "rain"
	VarWindSpeed           Variable = "wind_speed_10m"
	VarCloudCover          Variable = "cloud_cover"
)

// VariableCount is the width of a model output row.
const VariableCount = 8

// Variables is the positional order of a model output row. Model outputs carry
// no labels, so this order MUST match the order the artifacts were trained on.
var Variables = [VariableCount]Variable{
	VarTemperature,
	VarRelativeHumidity,
	VarDewPoint,
	VarApparentTemperature,
	VarPrecipitation,
	VarRain,
	VarWindSpeed,
	VarCloudCover,
}

// FeatureCount is the width of a model input row.
const FeatureCount = 3

// FeatureVector is the calendar-derived model input.
type FeatureVector struct {
	Day     int `json:"day"`
	Month   int `json:"month"`
	Weekday int `json:"dayofweek"` // 0 = Monday
}

// NewFeatureVector derives the model input for a calendar date.
func NewFeatureVector(date time.Time) FeatureVector {
	return FeatureVector{
		Day:     date.Day(),
		Month:   int(date.Month()),
		Weekday: (int(date.Weekday()) + 6) % 7,
	}
}

// Row returns the vector in model column order: day, month, dayofweek.
func (f FeatureVector) Row() []float64 {
	return []float64{float64(f.Day), float64(f.Month), float64(f.Weekday)}
}

// Metrics holds one day of predicted values in physical units
// (°C, %, mm, km/h).
type Metrics struct {
	Temperature         float64 `json:"temperature_2m"`
	RelativeHumidity    float64 `json:"relative_humidity_2m"`
	DewPoint            float64 `json:"dew_point_2m"`
	ApparentTemperature float64 `json:"apparent_temperature"`
	Precipitation       float64 `json:"precipitation"`
	Rain                float64 `json:"rain"`
	WindSpeed           float64 `json:"wind_speed_10m"`
	CloudCover          float64 `json:"cloud_cover"`
}

// MetricsFromValues zips an output row positionally with Variables.
func MetricsFromValues(values []float64) (Metrics, error) {
	if len(values) != VariableCount {
		return Metrics{}, fmt.Errorf("expected %d output values, got %d", VariableCount, len(values))
	}
	return Metrics{
		Temperature:         values[0],
		RelativeHumidity:    values[1],
		DewPoint:            values[2],
		ApparentTemperature: values[3],
		Precipitation:       values[4],
		Rain:                values[5],
		WindSpeed:           values[6],
		CloudCover:          values[7],
	}, nil
}

// Values returns the metrics in Variables order.
func (m Metrics) Values() [VariableCount]float64 {
	return [VariableCount]float64{
		m.Temperature,
		m.RelativeHumidity,
		m.DewPoint,
		m.ApparentTemperature,
		m.Precipitation,
		m.Rain,
		m.WindSpeed,
		m.CloudCover,
	}
}

// DefaultMetrics is substituted for a day whose prediction failed.
func DefaultMetrics() Metrics {
	return Metrics{
		Temperature:         20.0,
		RelativeHumidity:    70.0,
		DewPoint:            10.0,
		ApparentTemperature: 22.0,
		Precipitation:       0.0,
		Rain:                0.0,
		WindSpeed:           10.0,
		CloudCover:          50.0,
	}
}

// Outcome distinguishes a genuine prediction from a substituted default.
type Outcome string

const (
	OutcomePredicted Outcome = "predicted"
	OutcomeDefaulted Outcome = "defaulted"
)

// PredictionRecord is one day of a forecast series.
type PredictionRecord struct {
	Metrics
	Date      time.Time `json:"date"`
	DayName   string    `json:"day_name"`
	DateLabel string    `json:"date_str"`
	Outcome   Outcome   `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
}

// Defaulted reports whether the record carries substituted default values.
func (p PredictionRecord) Defaulted() bool {
	return p.Outcome == OutcomeDefaulted
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// FixedClock is a Clock pinned to a single instant.
type FixedClock time.Time

// Now returns the pinned instant.
func (c FixedClock) Now() time.Time { return time.Time(c) }

// CalendarDate truncates t to midnight UTC of its calendar day.
func CalendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
