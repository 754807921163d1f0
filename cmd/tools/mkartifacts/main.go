// Package main writes a demo artifact pair for one city so a fresh checkout
// can serve forecasts without a training pipeline.
//
// Usage:
//
//	go run ./cmd/tools/mkartifacts --city=Chennai --out=city_models
//	go run ./cmd/tools/mkartifacts --city=Mumbai --zstd
//
// The regressor is linear with a small seasonal slope on the month feature;
// the scaler is min-max over plausible tropical ranges.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"citycast/internal/artifacts"
	"citycast/internal/types"
)

func main() {
	err := run(os.Args[1:], os.Stdout, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// Plausible ranges per output column, in artifact column order.
var (
	demoMin = []float64{18, 40, 10, 18, 0, 0, 2, 0}
	demoMax = []float64{38, 95, 28, 44, 40, 38, 35, 100}
)

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("mkartifacts", flag.ContinueOnError)
	fs.SetOutput(stderr)
	city := fs.String("city", "", "City name [required]")
	out := fs.String("out", "city_models", "Output folder")
	compress := fs.Bool("zstd", false, "Wrap the envelopes in zstd frames")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *city == "" {
		fs.Usage()
		return fmt.Errorf("--city is required")
	}
	if err := artifacts.ValidateCity(*city); err != nil {
		return err
	}
	if err := os.MkdirAll(*out, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", *out, err)
	}

	model, scaler := demoPair()
	modelPath := filepath.Join(*out, artifacts.ModelFileName(*city))
	if err := writeArtifact(modelPath, model, *compress); err != nil {
		return err
	}
	scalerPath := filepath.Join(*out, artifacts.ScalerFileName(*city))
	if err := writeArtifact(scalerPath, scaler, *compress); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "wrote %s\nwrote %s\n", modelPath, scalerPath)
	return nil
}

func demoPair() (*artifacts.LinearRegressor, *artifacts.MinMaxScaler) {
	coef := make([][]float64, types.VariableCount)
	intercept := make([]float64, types.VariableCount)
	for i := range coef {
		// Columns: day, month, weekday.
		coef[i] = []float64{0, 0.02, 0}
		intercept[i] = 0.35
	}
	return &artifacts.LinearRegressor{Coef: coef, Intercept: intercept},
		&artifacts.MinMaxScaler{
			DataMin:      append([]float64(nil), demoMin...),
			DataMax:      append([]float64(nil), demoMax...),
			FeatureRange: [2]float64{0, 1},
		}
}

func writeArtifact(path string, a artifacts.Artifact, compress bool) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := artifacts.Encode(f, a, compress); err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return nil
}
