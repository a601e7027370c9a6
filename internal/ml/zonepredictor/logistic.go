package zonepredictor

import (
	"math"

	"liqzones/pkg/errors"
)

const (
	regularizationC = 1.0
	maxIterations   = 1000
	tolerance       = 1e-8
)

// Logistic is an L2-regularized binary logistic regression.
// The intercept is not penalized.
type Logistic struct {
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`
}

// FitLogistic minimizes sum(logloss) + ||w||^2 / (2C) with Newton-Raphson.
// The objective is strictly convex in w, so Newton converges in a handful of steps.
func FitLogistic(x [][]float64, y []int, c float64) (Logistic, error) {
	if len(x) == 0 || len(x) != len(y) {
		return Logistic{}, errors.Wrapf(errors.ErrInvalidInput, "logistic: %d rows, %d labels", len(x), len(y))
	}

	features := len(x[0])
	dim := features + 1 // last slot is the intercept
	theta := make([]float64, dim)
	lambda := 1 / c

	for iter := 0; iter < maxIterations; iter++ {
		grad := make([]float64, dim)
		hess := make([][]float64, dim)
		for i := range hess {
			hess[i] = make([]float64, dim)
		}

		for i, row := range x {
			p := sigmoid(dot(theta, row))
			r := p - float64(y[i])
			w := p * (1 - p)
			for a := 0; a < dim; a++ {
				xa := at(row, a)
				grad[a] += r * xa
				for b := a; b < dim; b++ {
					hess[a][b] += w * xa * at(row, b)
				}
			}
		}
		for a := 0; a < dim; a++ {
			for b := 0; b < a; b++ {
				hess[a][b] = hess[b][a]
			}
		}
		for a := 0; a < features; a++ {
			grad[a] += lambda * theta[a]
			hess[a][a] += lambda
		}

		step, err := solve(hess, grad)
		if err != nil {
			return Logistic{}, errors.Wrap(err, "logistic: newton step")
		}

		maxStep := 0.0
		for a := range theta {
			theta[a] -= step[a]
			maxStep = math.Max(maxStep, math.Abs(step[a]))
		}
		if maxStep < tolerance {
			break
		}
	}

	return Logistic{Weights: theta[:features], Intercept: theta[features]}, nil
}

// Probability returns P(hold) for a scaled feature vector
func (l Logistic) Probability(v []float64) float64 {
	z := l.Intercept
	for j, w := range l.Weights {
		z += w * v[j]
	}
	return sigmoid(z)
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// at reads a row with an implicit trailing 1 for the intercept
func at(row []float64, i int) float64 {
	if i == len(row) {
		return 1
	}
	return row[i]
}

func dot(theta, row []float64) float64 {
	s := theta[len(row)]
	for j, v := range row {
		s += theta[j] * v
	}
	return s
}

// solve returns x with a*x = b using Gaussian elimination with partial pivoting
func solve(a [][]float64, b []float64) ([]float64, error) {
	n := len(b)
	m := make([][]float64, n)
	for i := range a {
		m[i] = append(append(make([]float64, 0, n+1), a[i]...), b[i])
	}

	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(m[r][col]) > math.Abs(m[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(m[pivot][col]) < 1e-12 {
			return nil, errors.Wrap(errors.ErrInternal, "singular hessian")
		}
		m[col], m[pivot] = m[pivot], m[col]

		for r := col + 1; r < n; r++ {
			f := m[r][col] / m[col][col]
			for k := col; k <= n; k++ {
				m[r][k] -= f * m[col][k]
			}
		}
	}

	out := make([]float64, n)
	for r := n - 1; r >= 0; r-- {
		s := m[r][n]
		for k := r + 1; k < n; k++ {
			s -= m[r][k] * out[k]
		}
		out[r] = s / m[r][r]
	}
	return out, nil
}
