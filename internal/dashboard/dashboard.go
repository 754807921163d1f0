// Package dashboard renders the forecast dashboard page: a header, the
// current-conditions block, daily cards, summary statistics, and trend
// charts, or an error panel when no forecast can be shown.
package dashboard

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"time"

	"citycast/internal/forecasts"
)

//go:embed templates/*.html
var templateFS embed.FS

// HeaderTimeLayout formats the timestamp shown under the city name.
const HeaderTimeLayout = "Monday, January 02, 2006 • 03:04 PM"

// Panel is a message shown instead of (or above) the forecast.
type Panel struct {
	Level   string // "error", "warning" or "info"
	Title   string
	Message string
}

// ForecastView is the forecast part of the page.
type ForecastView struct {
	City     string
	Current  forecasts.Day
	Days     []forecasts.Day
	Summary  forecasts.Summary
	Charts   []Chart
	CSVURL   string
	XLSXURL  string
	Warnings []Panel
}

// Page is the full dashboard model.
type Page struct {
	Cities       []string
	SelectedCity string
	SelectedDate string
	MinDate      string
	Now          time.Time
	// Location is the header clock's zone. Nil means UTC.
	Location *time.Location
	Panels   []Panel
	Forecast *ForecastView
}

// HeaderTime returns the formatted header timestamp.
func (p Page) HeaderTime() string {
	now := p.Now.UTC()
	if p.Location != nil {
		now = now.In(p.Location)
	}
	return now.Format(HeaderTimeLayout)
}

// NewForecastView classifies the series and builds its charts.
func NewForecastView(s forecasts.Series) *ForecastView {
	days := s.Days()
	v := &ForecastView{
		City:    s.City,
		Days:    days,
		Summary: forecasts.Summarize(s),
		Charts:  buildCharts(days),
	}
	if len(days) > 0 {
		v.Current = days[0]
	}
	for _, d := range days {
		if d.Defaulted() {
			v.Warnings = append(v.Warnings, Panel{
				Level:   "warning",
				Title:   "Prediction failed for " + d.Date.Format(time.DateOnly),
				Message: d.Reason,
			})
		}
	}
	return v
}

func buildCharts(days []forecasts.Day) []Chart {
	n := len(days)
	labels := make([]string, n)
	temp := make([]float64, n)
	feels := make([]float64, n)
	precip := make([]float64, n)
	wind := make([]float64, n)
	humidity := make([]float64, n)
	for i, d := range days {
		labels[i] = d.DateLabel
		temp[i] = d.Temperature
		feels[i] = d.ApparentTemperature
		precip[i] = d.Precipitation
		wind[i] = d.WindSpeed
		humidity[i] = d.RelativeHumidity
	}

	return []Chart{
		{
			Title:  "Temperature Forecast",
			Labels: labels,
			Unit:   "°",
			Lines: []Line{
				{Name: "Temperature", Color: "#FF6B6B", Values: temp},
				{Name: "Feels Like", Color: "#FFA07A", Values: feels, Dashed: true},
			},
		},
		{
			Title:  "Precipitation Forecast",
			Labels: labels,
			Bars:   true,
			Unit:   "mm",
			Lines:  []Line{{Name: "Precipitation", Color: "#4A90E2", Values: precip}},
		},
		{
			Title:         "Wind Speed & Humidity",
			Labels:        labels,
			SecondaryUnit: "%",
			Lines: []Line{
				{Name: "Wind Speed", Color: "#50C878", Values: wind},
				{Name: "Humidity", Color: "#87CEEB", Values: humidity, Secondary: true},
			},
		},
		{
			Title:  fmt.Sprintf("%d-Day Temperature Overview", n),
			Labels: labels,
			Unit:   "°",
			Lines:  []Line{{Name: "Temperature", Color: "#1a73e8", Values: temp}},
		},
	}
}

// Renderer executes the embedded dashboard template.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer parses the embedded templates.
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.New("dashboard.html").Funcs(template.FuncMap{
		"f0": func(v float64) string { return fmt.Sprintf("%.0f", v) },
		"f1": func(v float64) string { return fmt.Sprintf("%.1f", v) },
	}).ParseFS(templateFS, "templates/dashboard.html")
	if err != nil {
		return nil, fmt.Errorf("dashboard: failed to parse templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render writes the page. The page is rendered to a buffer first so a
// template error never leaves a half-written response.
func (r *Renderer) Render(w io.Writer, page Page) error {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, page); err != nil {
		return fmt.Errorf("dashboard: failed to render: %w", err)
	}
	_, err := buf.WriteTo(w)
	return err
}
