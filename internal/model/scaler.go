// Package model implements the anomaly-detection model for Kestrel: a
// standard scaler and an isolation forest, plus the store that owns
// their train-or-load lifecycle.
package model

import (
	"fmt"
	"math"
)

// StandardScaler standardizes features to zero mean and unit variance.
// Fitted once on training data and reapplied unchanged at inference.
type StandardScaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// NewStandardScaler creates an unfitted scaler.
func NewStandardScaler() *StandardScaler {
	return &StandardScaler{}
}

// Fit computes per-feature mean and standard deviation.
func (s *StandardScaler) Fit(data [][]float64) error {
	if len(data) == 0 {
		return fmt.Errorf("cannot fit scaler on empty data")
	}

	dims := len(data[0])
	s.Mean = make([]float64, dims)
	s.Std = make([]float64, dims)

	n := float64(len(data))
	for _, row := range data {
		if len(row) != dims {
			return fmt.Errorf("inconsistent row width: expected %d, got %d", dims, len(row))
		}
		for j, v := range row {
			s.Mean[j] += v
		}
	}
	for j := range s.Mean {
		s.Mean[j] /= n
	}

	for _, row := range data {
		for j, v := range row {
			d := v - s.Mean[j]
			s.Std[j] += d * d
		}
	}
	for j := range s.Std {
		s.Std[j] = math.Sqrt(s.Std[j] / n)
		// Constant features pass through unscaled
		if s.Std[j] == 0 {
			s.Std[j] = 1
		}
	}

	return nil
}

// Transform standardizes a batch in place-safe fashion and returns the
// standardized copy.
func (s *StandardScaler) Transform(data [][]float64) ([][]float64, error) {
	out := make([][]float64, len(data))
	for i, row := range data {
		t, err := s.TransformOne(row)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

// TransformOne standardizes a single sample.
func (s *StandardScaler) TransformOne(row []float64) ([]float64, error) {
	if len(s.Mean) == 0 {
		return nil, fmt.Errorf("scaler is not fitted")
	}
	if len(row) != len(s.Mean) {
		return nil, fmt.Errorf("expected %d features, got %d", len(s.Mean), len(row))
	}

	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - s.Mean[j]) / s.Std[j]
	}
	return out, nil
}

// FitTransform fits the scaler and returns the standardized data.
func (s *StandardScaler) FitTransform(data [][]float64) ([][]float64, error) {
	if err := s.Fit(data); err != nil {
		return nil, err
	}
	return s.Transform(data)
}
