package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"citycast/internal/forecasts"
)

const (
	forecastSheet = "Forecast"
	summarySheet  = "Summary"
)

// WriteXLSX writes a workbook with the forecast table on the "Forecast" sheet
// and the summary statistics on the "Summary" sheet.
func WriteXLSX(w io.Writer, s forecasts.Series) error {
	f := excelize.NewFile()
	defer f.Close()

	f.SetDocProps(&excelize.DocProperties{
		Title:       fmt.Sprintf("Forecast - %s", s.City),
		Subject:     "Daily weather forecast",
		Creator:     "citycast",
		Description: fmt.Sprintf("%d-day forecast for %s starting %s", s.Len(), s.City, s.Start.Format(time.DateOnly)),
	})

	if err := f.SetSheetName("Sheet1", forecastSheet); err != nil {
		return fmt.Errorf("renaming default sheet: %w", err)
	}
	if err := writeForecastSheet(f, s); err != nil {
		return fmt.Errorf("failed to create forecast sheet: %w", err)
	}
	if err := writeSummarySheet(f, forecasts.Summarize(s)); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeForecastSheet(f *excelize.File, s forecasts.Series) error {
	header := make([]any, 0, len(Columns()))
	for _, c := range Columns() {
		header = append(header, c)
	}
	if err := f.SetSheetRow(forecastSheet, "A1", &header); err != nil {
		return err
	}

	for i, r := range s.Records {
		values := r.Values()
		cells := make([]any, 0, len(values)+3)
		for _, v := range values {
			cells = append(cells, v)
		}
		cells = append(cells, r.Date.Format(time.DateOnly), r.DayName, r.DateLabel)

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(forecastSheet, cell, &cells); err != nil {
			return err
		}
	}

	return f.SetPanes(forecastSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func writeSummarySheet(f *excelize.File, sum forecasts.Summary) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return err
	}

	rows := [][]any{
		{"Statistic", "Value"},
		{"Days", sum.Days},
		{"Defaulted days", sum.DefaultedDays},
		{"Average temperature (°C)", sum.AvgTemperature},
		{"Minimum temperature (°C)", sum.MinTemperature},
		{"Maximum temperature (°C)", sum.MaxTemperature},
		{"Temperature range (°C)", sum.TemperatureRange},
		{"Total precipitation (mm)", sum.TotalPrecipitation},
		{"Maximum wind speed (km/h)", sum.MaxWindSpeed},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return err
		}
	}
	return f.SetColWidth(summarySheet, "A", "A", 28)
}
