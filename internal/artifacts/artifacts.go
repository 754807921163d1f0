// Package artifacts defines the per-city model artifacts: the regressor and
// scaler capability interfaces, their on-disk envelope format, and the stores
// that hold the artifact files.
//
// Each provisioned city has two files in a store root:
//
//	<City>_model.pkl   regressor (3 calendar features -> 8 scaled outputs)
//	<City>_scaler.pkl  scaler (inverse-transforms the 8 outputs to physical units)
//
// The city prefix is an exact, case-sensitive key.
package artifacts

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// File name suffixes for the two artifacts of a city.
const (
	ModelSuffix  = "_model.pkl"
	ScalerSuffix = "_scaler.pkl"
)

var (
	// ErrNotExist is returned by stores when an artifact object is absent.
	ErrNotExist = errors.New("artifact does not exist")

	// ErrCorrupt marks artifacts that exist but cannot be decoded.
	ErrCorrupt = errors.New("artifact corrupt")
)

// Regressor maps one input row to one output row in scaled space.
type Regressor interface {
	Predict(features []float64) ([]float64, error)
}

// Scaler maps a scaled output row back to physical units.
type Scaler interface {
	InverseTransform(scaled []float64) ([]float64, error)
}

// Pair is the loaded model and scaler for one city. It is immutable once
// loaded and safe for concurrent use.
type Pair struct {
	City     string
	Model    Regressor
	Scaler   Scaler
	LoadedAt time.Time
}

// ModelFileName returns the regressor file name for a city.
func ModelFileName(city string) string {
	return city + ModelSuffix
}

// ScalerFileName returns the scaler file name for a city.
func ScalerFileName(city string) string {
	return city + ScalerSuffix
}

// CityFromModelFile extracts the city prefix from a regressor file name.
// It reports false for names that do not end in the model suffix or have an
// empty prefix.
func CityFromModelFile(name string) (string, bool) {
	if !strings.HasSuffix(name, ModelSuffix) {
		return "", false
	}
	city := strings.TrimSuffix(name, ModelSuffix)
	if city == "" {
		return "", false
	}
	return city, true
}

// ValidateCity rejects identifiers that cannot name a file in a flat store.
func ValidateCity(city string) error {
	switch {
	case city == "":
		return fmt.Errorf("city must not be empty")
	case strings.ContainsAny(city, `/\`):
		return fmt.Errorf("city %q must not contain path separators", city)
	case city == "." || city == "..":
		return fmt.Errorf("city %q is not a valid name", city)
	case strings.ContainsRune(city, 0):
		return fmt.Errorf("city must not contain NUL bytes")
	}
	return nil
}
