package dashboard

import (
	"bytes"
	"fmt"
	"html/template"
	"math"
	"strings"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

const (
	chartWidth  = 960
	chartHeight = 320
	// maxTicks bounds the x labels drawn on long series.
	maxTicks = 14
)

// Line is one plotted series.
type Line struct {
	Name      string
	Color     string
	Values    []float64
	Secondary bool // plotted against the right-hand axis
	Dashed    bool
}

// Chart is a server-rendered SVG chart over a shared set of x labels.
type Chart struct {
	Title         string
	Labels        []string
	Lines         []Line
	Bars          bool
	Unit          string
	SecondaryUnit string
}

type axis struct {
	lo, hi float64
	used   bool
}

// SVG renders the chart for inline embedding. A chart without labels renders
// a placeholder instead of an empty plot.
func (c Chart) SVG() (template.HTML, error) {
	if len(c.Labels) == 0 || len(c.Lines) == 0 {
		return template.HTML(`<p class="empty">No data</p>`), nil
	}

	var buf bytes.Buffer
	var err error
	if c.Bars {
		err = c.barChart().Render(chart.SVG, &buf)
	} else {
		graph := c.lineChart()
		if len(graph.Series) == 0 {
			return template.HTML(`<p class="empty">No data</p>`), nil
		}
		graph.Elements = []chart.Renderable{chart.Legend(&graph)}
		err = graph.Render(chart.SVG, &buf)
	}
	if err != nil {
		return "", fmt.Errorf("dashboard: rendering chart %q: %w", c.Title, err)
	}
	return template.HTML(buf.String()), nil
}

func (c Chart) lineChart() chart.Chart {
	n := len(c.Labels)
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}

	primary, secondary := c.axis(false), c.axis(true)
	graph := chart.Chart{
		Width:  chartWidth,
		Height: chartHeight,
		Background: chart.Style{
			Padding: chart.Box{Top: 20, Left: 10, Right: 10, Bottom: 10},
		},
		XAxis: chart.XAxis{
			// Half a slot of margin keeps a one-day series off the edges.
			Range: &chart.ContinuousRange{Min: -0.5, Max: float64(n) - 0.5},
			Ticks: c.ticks(),
		},
		YAxis: chart.YAxis{
			Range:          &chart.ContinuousRange{Min: primary.lo, Max: primary.hi},
			ValueFormatter: unitFormatter(c.Unit),
		},
	}
	if secondary.used {
		graph.YAxisSecondary = chart.YAxis{
			Range:          &chart.ContinuousRange{Min: secondary.lo, Max: secondary.hi},
			ValueFormatter: unitFormatter(c.SecondaryUnit),
		}
	}

	for _, l := range c.Lines {
		values := l.Values
		if len(values) > n {
			values = values[:n]
		}
		if len(values) == 0 {
			continue
		}
		style := chart.Style{
			StrokeColor: color(l.Color),
			StrokeWidth: 2,
			DotColor:    color(l.Color),
			DotWidth:    3,
		}
		if l.Dashed {
			style.StrokeDashArray = []float64{6, 4}
		}
		series := chart.ContinuousSeries{
			Name:    plainText(l.Name),
			XValues: xs[:len(values)],
			YValues: values,
			Style:   style,
		}
		if l.Secondary {
			series.YAxis = chart.YAxisSecondary
		}
		graph.Series = append(graph.Series, series)
	}
	return graph
}

// barChart plots the first line as bars. Bar charts carry a single series.
func (c Chart) barChart() chart.BarChart {
	l := c.Lines[0]
	ax := c.axis(l.Secondary)
	step := tickStep(len(c.Labels))

	bars := make([]chart.Value, 0, len(c.Labels))
	for i, label := range c.Labels {
		v := 0.0
		if i < len(l.Values) {
			v = l.Values[i]
		}
		if i%step != 0 {
			label = ""
		}
		bars = append(bars, chart.Value{
			Label: plainText(label),
			Value: v,
			Style: chart.Style{FillColor: color(l.Color), StrokeColor: color(l.Color)},
		})
	}

	return chart.BarChart{
		Width:  chartWidth,
		Height: chartHeight,
		Background: chart.Style{
			Padding: chart.Box{Top: 20, Left: 10, Right: 10, Bottom: 10},
		},
		BarWidth: max(4, (chartWidth-120)/len(bars)*3/5),
		YAxis: chart.YAxis{
			Range:          &chart.ContinuousRange{Min: ax.lo, Max: ax.hi},
			ValueFormatter: unitFormatter(c.Unit),
		},
		Bars: bars,
	}
}

func (c Chart) ticks() []chart.Tick {
	step := tickStep(len(c.Labels))
	ticks := make([]chart.Tick, 0, maxTicks+1)
	for i, label := range c.Labels {
		if i%step != 0 {
			continue
		}
		ticks = append(ticks, chart.Tick{Value: float64(i), Label: plainText(label)})
	}
	return ticks
}

// axis returns the padded value range of the lines on one side. Bars always
// start at zero. A flat series is widened so the range is never empty.
func (c Chart) axis(secondary bool) axis {
	ax := axis{lo: math.Inf(1), hi: math.Inf(-1)}
	for _, l := range c.Lines {
		if l.Secondary != secondary {
			continue
		}
		for _, v := range l.Values {
			ax.lo = math.Min(ax.lo, v)
			ax.hi = math.Max(ax.hi, v)
			ax.used = true
		}
	}
	if !ax.used {
		return axis{lo: 0, hi: 1}
	}
	if c.Bars && ax.lo > 0 {
		ax.lo = 0
	}
	if ax.hi-ax.lo < 1e-9 {
		if c.Bars && ax.lo >= 0 {
			ax.hi = ax.lo + 1
		} else {
			ax.lo--
			ax.hi++
		}
	}
	pad := (ax.hi - ax.lo) * 0.05
	if !c.Bars || ax.lo < 0 {
		ax.lo -= pad
	}
	ax.hi += pad
	return ax
}

func tickStep(n int) int {
	if n <= maxTicks {
		return 1
	}
	return (n + maxTicks - 1) / maxTicks
}

func unitFormatter(unit string) chart.ValueFormatter {
	return func(v any) string {
		f, ok := v.(float64)
		if !ok {
			return ""
		}
		return fmt.Sprintf("%.0f%s", f, plainText(unit))
	}
}

func color(hex string) drawing.Color {
	return drawing.ColorFromHex(strings.TrimPrefix(hex, "#"))
}

// plainText drops markup characters from text drawn into the SVG.
func plainText(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', '&', '"':
			return -1
		}
		return r
	}, s)
}
