package artifacts

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"citycast/internal/types"
)

// MinMaxScaler inverts a fitted min-max scaling. A feature whose fitted
// data range is zero is treated as having a data range of one.
type MinMaxScaler struct {
	DataMin      []float64  `json:"data_min"`
	DataMax      []float64  `json:"data_max"`
	FeatureRange [2]float64 `json:"feature_range"`
}

func (s *MinMaxScaler) Kind() Kind { return KindMinMax }

func (s *MinMaxScaler) validate() error {
	if len(s.DataMin) != types.VariableCount || len(s.DataMax) != types.VariableCount {
		return fmt.Errorf("data_min/data_max must have %d values, got %d/%d",
			types.VariableCount, len(s.DataMin), len(s.DataMax))
	}
	if s.FeatureRange == [2]float64{} {
		s.FeatureRange = [2]float64{0, 1}
	}
	if s.FeatureRange[1] <= s.FeatureRange[0] {
		return fmt.Errorf("feature_range %v is empty", s.FeatureRange)
	}
	for i := range s.DataMin {
		if s.DataMax[i] < s.DataMin[i] {
			return fmt.Errorf("feature %d: data_max %v below data_min %v", i, s.DataMax[i], s.DataMin[i])
		}
	}
	return nil
}

// InverseTransform maps scaled values back with x = (y - min) / scale, where
// scale = (hi - lo) / (dataMax - dataMin) and min = lo - dataMin * scale.
func (s *MinMaxScaler) InverseTransform(scaled []float64) ([]float64, error) {
	if len(scaled) != len(s.DataMin) {
		return nil, fmt.Errorf("minmax: got %d values, want %d", len(scaled), len(s.DataMin))
	}
	lo := decimal.NewFromFloat(s.FeatureRange[0])
	hi := decimal.NewFromFloat(s.FeatureRange[1])

	out := make([]float64, len(scaled))
	for i, v := range scaled {
		y, err := toDecimal(v, i)
		if err != nil {
			return nil, err
		}
		dmin := decimal.NewFromFloat(s.DataMin[i])
		span := decimal.NewFromFloat(s.DataMax[i]).Sub(dmin)
		if span.IsZero() {
			span = decimal.NewFromInt(1)
		}
		scale := hi.Sub(lo).Div(span)
		offset := lo.Sub(dmin.Mul(scale))
		out[i] = y.Sub(offset).Div(scale).InexactFloat64()
	}
	return out, nil
}

// StandardScaler inverts a fitted standardization: x = y * scale + mean.
// A zero scale is treated as one.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func (s *StandardScaler) Kind() Kind { return KindStandard }

func (s *StandardScaler) validate() error {
	if len(s.Mean) != types.VariableCount || len(s.Scale) != types.VariableCount {
		return fmt.Errorf("mean/scale must have %d values, got %d/%d",
			types.VariableCount, len(s.Mean), len(s.Scale))
	}
	return nil
}

// InverseTransform maps standardized values back to physical units.
func (s *StandardScaler) InverseTransform(scaled []float64) ([]float64, error) {
	if len(scaled) != len(s.Mean) {
		return nil, fmt.Errorf("standard: got %d values, want %d", len(scaled), len(s.Mean))
	}
	out := make([]float64, len(scaled))
	for i, v := range scaled {
		y, err := toDecimal(v, i)
		if err != nil {
			return nil, err
		}
		scale := decimal.NewFromFloat(s.Scale[i])
		if scale.IsZero() {
			scale = decimal.NewFromInt(1)
		}
		out[i] = y.Mul(scale).Add(decimal.NewFromFloat(s.Mean[i])).InexactFloat64()
	}
	return out, nil
}

// toDecimal rejects values decimal cannot represent; NewFromFloat panics on them.
func toDecimal(v float64, index int) (decimal.Decimal, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Decimal{}, fmt.Errorf("value %d is not finite: %v", index, v)
	}
	return decimal.NewFromFloat(v), nil
}
