// Package export writes forecast series as downloadable tables.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"citycast/internal/forecasts"
	"citycast/internal/types"
)

// Content types of the supported formats.
const (
	ContentTypeCSV  = "text/csv; charset=utf-8"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Trailing non-metric columns.
const (
	ColumnDate      = "date"
	ColumnDayName   = "day_name"
	ColumnDateLabel = "date_str"
)

// Columns returns the header row: the eight metrics in model order followed
// by the date columns.
func Columns() []string {
	cols := make([]string, 0, types.VariableCount+3)
	for _, v := range types.Variables {
		cols = append(cols, string(v))
	}
	return append(cols, ColumnDate, ColumnDayName, ColumnDateLabel)
}

// Filename returns the download name for a series, e.g.
// "Chennai_forecast_2025-10-18.csv".
func Filename(city string, start time.Time, ext string) string {
	return fmt.Sprintf("%s_forecast_%s.%s", city, start.Format(time.DateOnly), ext)
}

// WriteCSV writes a header row and one row per record.
func WriteCSV(w io.Writer, s forecasts.Series) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns()); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for i, r := range s.Records {
		if err := cw.Write(row(r)); err != nil {
			return fmt.Errorf("writing csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return nil
}

func row(r types.PredictionRecord) []string {
	values := r.Values()
	out := make([]string, 0, len(values)+3)
	for _, v := range values {
		out = append(out, strconv.FormatFloat(v, 'f', -1, 64))
	}
	return append(out, r.Date.Format(time.DateOnly), r.DayName, r.DateLabel)
}
