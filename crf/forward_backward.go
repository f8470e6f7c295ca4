package crf

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// ForwardBackwardResult holds log-domain forward-backward quantities.
type ForwardBackwardResult struct {
	LogZ      float64     // log partition function
	Marginals [][]float64 // [T][K] P(y_t=k|x)
	LogAlpha  [][]float64 // [T][K]
	LogBeta   [][]float64 // [T][K]
}

// ForwardBackward runs the sum-product recursion over the same potentials the
// decoder maximizes, treating them as log-potentials.
func ForwardBackward(unary, trans [][]float64) ForwardBackwardResult {
	T := len(unary)
	if T == 0 {
		return ForwardBackwardResult{}
	}
	K := len(unary[0])

	alpha := make([][]float64, T)
	beta := make([][]float64, T)
	buf := make([]float64, K)

	alpha[0] = append([]float64(nil), unary[0]...)
	for t := 1; t < T; t++ {
		alpha[t] = make([]float64, K)
		for y := range K {
			for yp := range K {
				buf[yp] = alpha[t-1][yp] + trans[yp][y]
			}
			alpha[t][y] = floats.LogSumExp(buf) + unary[t][y]
		}
	}

	beta[T-1] = make([]float64, K)
	for t := T - 2; t >= 0; t-- {
		beta[t] = make([]float64, K)
		for y := range K {
			for yn := range K {
				buf[yn] = trans[y][yn] + unary[t+1][yn] + beta[t+1][yn]
			}
			beta[t][y] = floats.LogSumExp(buf)
		}
	}

	logZ := floats.LogSumExp(alpha[T-1])

	marginals := make([][]float64, T)
	for t := range T {
		marginals[t] = make([]float64, K)
		for y := range K {
			marginals[t][y] = math.Exp(alpha[t][y] + beta[t][y] - logZ)
		}
	}

	return ForwardBackwardResult{
		LogZ:      logZ,
		Marginals: marginals,
		LogAlpha:  alpha,
		LogBeta:   beta,
	}
}

// Marginals returns per-position label probabilities for one example.
func (m *Model) Marginals(features [][]float64) ([][]float64, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	unary, err := m.UnaryScores(features)
	if err != nil {
		return nil, err
	}
	return ForwardBackward(unary, m.Transitions()).Marginals, nil
}
