package artifacts

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"citycast/internal/types"
)

// LinearRegressor is a multi-output linear model: out[i] = Intercept[i] +
// sum_j Coef[i][j] * in[j].
type LinearRegressor struct {
	Coef      [][]float64 `json:"coef"`
	Intercept []float64   `json:"intercept"`
}

func (m *LinearRegressor) Kind() Kind { return KindLinear }

func (m *LinearRegressor) validate() error {
	if len(m.Coef) != types.VariableCount {
		return fmt.Errorf("coef has %d rows, want %d", len(m.Coef), types.VariableCount)
	}
	for i, row := range m.Coef {
		if len(row) != types.FeatureCount {
			return fmt.Errorf("coef row %d has %d columns, want %d", i, len(row), types.FeatureCount)
		}
	}
	if len(m.Intercept) != types.VariableCount {
		return fmt.Errorf("intercept has %d values, want %d", len(m.Intercept), types.VariableCount)
	}
	return nil
}

// Predict applies the linear map to one feature row.
func (m *LinearRegressor) Predict(features []float64) ([]float64, error) {
	if len(features) != types.FeatureCount {
		return nil, fmt.Errorf("linear: got %d features, want %d", len(features), types.FeatureCount)
	}
	out := make([]float64, len(m.Intercept))
	for i, row := range m.Coef {
		sum := m.Intercept[i]
		for j, c := range row {
			sum += c * features[j]
		}
		out[i] = sum
	}
	return out, nil
}

// KNNRegressor averages the targets of the K training rows nearest to the
// query by Euclidean distance. Equidistant rows keep their training order.
type KNNRegressor struct {
	K       int         `json:"k"`
	Inputs  [][]float64 `json:"inputs"`
	Targets [][]float64 `json:"targets"`
}

func (m *KNNRegressor) Kind() Kind { return KindKNN }

func (m *KNNRegressor) validate() error {
	if m.K < 1 {
		return errors.New("k must be at least 1")
	}
	if len(m.Inputs) == 0 {
		return errors.New("no training rows")
	}
	if len(m.Inputs) != len(m.Targets) {
		return fmt.Errorf("%d inputs but %d targets", len(m.Inputs), len(m.Targets))
	}
	if m.K > len(m.Inputs) {
		return fmt.Errorf("k=%d exceeds %d training rows", m.K, len(m.Inputs))
	}
	for i := range m.Inputs {
		if len(m.Inputs[i]) != types.FeatureCount {
			return fmt.Errorf("input row %d has %d columns, want %d", i, len(m.Inputs[i]), types.FeatureCount)
		}
		if len(m.Targets[i]) != types.VariableCount {
			return fmt.Errorf("target row %d has %d columns, want %d", i, len(m.Targets[i]), types.VariableCount)
		}
	}
	return nil
}

// Predict returns the mean target of the nearest K training rows.
func (m *KNNRegressor) Predict(features []float64) ([]float64, error) {
	if len(features) != types.FeatureCount {
		return nil, fmt.Errorf("knn: got %d features, want %d", len(features), types.FeatureCount)
	}

	type neighbor struct {
		index    int
		distance float64
	}
	neighbors := make([]neighbor, len(m.Inputs))
	for i, row := range m.Inputs {
		sum := 0.0
		for j := range row {
			diff := row[j] - features[j]
			sum += diff * diff
		}
		neighbors[i] = neighbor{index: i, distance: math.Sqrt(sum)}
	}
	sort.SliceStable(neighbors, func(i, j int) bool {
		return neighbors[i].distance < neighbors[j].distance
	})

	out := make([]float64, types.VariableCount)
	for _, n := range neighbors[:m.K] {
		for j, v := range m.Targets[n.index] {
			out[j] += v
		}
	}
	for j := range out {
		out[j] /= float64(m.K)
	}
	return out, nil
}
