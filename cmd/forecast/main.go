// Package main implements the forecast CLI. It loads a city's artifact pair
// from a local model folder and prints the predicted metrics.
//
// Usage:
//
//	go run ./cmd/forecast --city=Chennai --date=2025-10-18
//	go run ./cmd/forecast --city=Chennai --days=14 --csv=chennai.csv
//	go run ./cmd/forecast              # lists available cities
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"citycast/internal/artifacts"
	"citycast/internal/export"
	"citycast/internal/forecasts"
	"citycast/internal/repository"
	"citycast/internal/types"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr, types.RealClock{})
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	folder string
	city   string
	date   string
	days   int
	csv    string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("forecast", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.folder, "models", "city_models", "Folder holding the per-city model and scaler files")
	fs.StringVar(&o.city, "city", "", "City to forecast (lists cities when empty)")
	fs.StringVar(&o.date, "date", "", "Start date YYYY-MM-DD (default: today, UTC)")
	fs.IntVar(&o.days, "days", 1, "Number of days to forecast")
	fs.StringVar(&o.csv, "csv", "", "Also write the forecast as CSV to this path")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.days < 1 || o.days > 366 {
		return o, fmt.Errorf("--days must be between 1 and 366, got %d", o.days)
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, clock types.Clock) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	repo := repository.New(artifacts.NewFSStore(opts.folder), logger)

	if opts.city == "" {
		return listCities(ctx, repo, opts.folder, stdout)
	}
	if err := artifacts.ValidateCity(opts.city); err != nil {
		return err
	}

	start := types.CalendarDate(clock.Now())
	if opts.date != "" {
		start, err = time.Parse(time.DateOnly, opts.date)
		if err != nil {
			return fmt.Errorf("invalid --date %q: want YYYY-MM-DD", opts.date)
		}
	}

	pair, err := repo.Load(ctx, opts.city)
	if err != nil {
		return err
	}
	series := forecasts.NewPredictor(logger, nil).PredictRange(ctx, pair, start, opts.days)

	printSeries(stdout, series)

	if opts.csv != "" {
		if err := writeCSV(opts.csv, series); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "\nWrote %d rows to %s\n", series.Len(), opts.csv)
	}
	return nil
}

func listCities(ctx context.Context, repo *repository.Repository, folder string, w io.Writer) error {
	cities, err := repo.DiscoverCities(ctx)
	if err != nil {
		return err
	}
	if len(cities) == 0 {
		return fmt.Errorf("no city models found in %q", folder)
	}
	fmt.Fprintf(w, "Available cities (%d):\n", len(cities))
	for _, c := range cities {
		fmt.Fprintf(w, "  %s\n", c)
	}
	return nil
}

func printSeries(w io.Writer, s forecasts.Series) {
	for i, d := range s.Days() {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "Weather forecast for %s on %s (%s):\n", s.City, d.Date.Format(time.DateOnly), d.DayName)
		values := d.Values()
		for j, v := range types.Variables {
			fmt.Fprintf(w, "  %-24s %.2f\n", v+":", values[j])
		}
		fmt.Fprintf(w, "  %-24s %s %s\n", "condition:", d.Condition.Label, d.Condition.Icon)
		if d.Defaulted() {
			fmt.Fprintf(w, "  (defaulted: %s)\n", d.Reason)
		}
	}
}

func writeCSV(path string, s forecasts.Series) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return export.WriteCSV(f, s)
}
