package forecasts

import (
	"math"
	"time"

	"citycast/internal/conditions"
	"citycast/internal/types"
)

// simulatedLowOffset is subtracted from a day's temperature to show a low.
// The models predict a single daily temperature.
const simulatedLowOffset = 5.0

// Series is an ordered forecast for one city.
type Series struct {
	City    string                   `json:"city"`
	Start   time.Time                `json:"start"`
	Records []types.PredictionRecord `json:"records"`
}

// Len returns the number of days in the series.
func (s Series) Len() int { return len(s.Records) }

// DefaultedDays counts records that carry the default values.
func (s Series) DefaultedDays() int {
	n := 0
	for _, r := range s.Records {
		if r.Defaulted() {
			n++
		}
	}
	return n
}

// Day is a record decorated for display.
type Day struct {
	types.PredictionRecord
	Condition conditions.Condition `json:"condition"`
	High      float64              `json:"high"`
	Low       float64              `json:"low"`
	IsToday   bool                 `json:"is_today"`
}

// Days classifies every record. The first record is the "today" card.
func (s Series) Days() []Day {
	days := make([]Day, len(s.Records))
	for i, r := range s.Records {
		days[i] = Day{
			PredictionRecord: r,
			Condition:        conditions.Classify(r.Temperature, r.Precipitation, r.CloudCover),
			High:             r.Temperature,
			Low:              r.Temperature - simulatedLowOffset,
			IsToday:          i == 0,
		}
	}
	return days
}

// Summary aggregates a series.
type Summary struct {
	Days               int     `json:"days"`
	DefaultedDays      int     `json:"defaulted_days"`
	AvgTemperature     float64 `json:"avg_temperature"`
	MinTemperature     float64 `json:"min_temperature"`
	MaxTemperature     float64 `json:"max_temperature"`
	TemperatureRange   float64 `json:"temperature_range"`
	TotalPrecipitation float64 `json:"total_precipitation"`
	MaxWindSpeed       float64 `json:"max_wind_speed"`
}

// Summarize computes the summary statistics. An empty series yields zeros.
func Summarize(s Series) Summary {
	sum := Summary{Days: len(s.Records), DefaultedDays: s.DefaultedDays()}
	if len(s.Records) == 0 {
		return sum
	}

	total := 0.0
	sum.MinTemperature = math.Inf(1)
	sum.MaxTemperature = math.Inf(-1)
	sum.MaxWindSpeed = math.Inf(-1)
	for _, r := range s.Records {
		total += r.Temperature
		sum.MinTemperature = math.Min(sum.MinTemperature, r.Temperature)
		sum.MaxTemperature = math.Max(sum.MaxTemperature, r.Temperature)
		sum.MaxWindSpeed = math.Max(sum.MaxWindSpeed, r.WindSpeed)
		sum.TotalPrecipitation += r.Precipitation
	}
	sum.AvgTemperature = total / float64(len(s.Records))
	sum.TemperatureRange = sum.MaxTemperature - sum.MinTemperature
	return sum
}
