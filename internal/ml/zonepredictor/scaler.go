package zonepredictor

import "math"

// Scaler standardizes features to zero mean and unit variance
type Scaler struct {
	Means []float64 `json:"means"`
	Stds  []float64 `json:"stds"`
}

// FitScaler computes per-column mean and population standard deviation.
// A constant column gets a deviation of 1 so it scales to zero.
func FitScaler(x [][]float64) Scaler {
	if len(x) == 0 {
		return Scaler{}
	}
	cols := len(x[0])
	s := Scaler{Means: make([]float64, cols), Stds: make([]float64, cols)}
	n := float64(len(x))

	for j := 0; j < cols; j++ {
		sum := 0.0
		for i := range x {
			sum += x[i][j]
		}
		mean := sum / n

		ss := 0.0
		for i := range x {
			d := x[i][j] - mean
			ss += d * d
		}
		std := math.Sqrt(ss / n)
		if std == 0 {
			std = 1
		}
		s.Means[j], s.Stds[j] = mean, std
	}
	return s
}

// Transform scales one feature vector
func (s Scaler) Transform(v []float64) []float64 {
	out := make([]float64, len(v))
	for j := range v {
		out[j] = (v[j] - s.Means[j]) / s.Stds[j]
	}
	return out
}

// TransformAll scales a feature matrix
func (s Scaler) TransformAll(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i := range x {
		out[i] = s.Transform(x[i])
	}
	return out
}
