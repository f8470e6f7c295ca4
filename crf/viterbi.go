package crf

import (
	"fmt"
	"math"
)

// Viterbi finds the best label sequence using the Viterbi algorithm (log-domain).
// Ties go to the lowest label index. Shapes are not checked; use a Decoder for
// validated input.
func Viterbi(unary, trans [][]float64) ([]int, float64) {
	return viterbi(unary, trans, nil, 0)
}

// viterbi adds lossWeight to every non-gold unary score when gold is non-nil.
func viterbi(unary, trans [][]float64, gold []int, lossWeight float64) ([]int, float64) {
	T := len(unary)
	if T == 0 {
		return []int{}, 0
	}
	L := len(unary[0])

	score := func(t, y int) float64 {
		if gold != nil && y != gold[t] {
			return unary[t][y] + lossWeight
		}
		return unary[t][y]
	}

	// delta holds the best score ending at the current position with label y,
	// psi[t][y] the best previous label for backtracking.
	delta := make([]float64, L)
	next := make([]float64, L)
	psi := make([][]int, T)

	for y := range L {
		delta[y] = score(0, y)
	}

	for t := 1; t < T; t++ {
		psi[t] = make([]int, L)
		for y := range L {
			bestScore := math.Inf(-1)
			bestPrev := 0
			for yp := range L {
				s := delta[yp] + trans[yp][y]
				if s > bestScore {
					bestScore = s
					bestPrev = yp
				}
			}
			next[y] = bestScore + score(t, y)
			psi[t][y] = bestPrev
		}
		delta, next = next, delta
	}

	bestScore := math.Inf(-1)
	bestLabel := 0
	for y := range L {
		if delta[y] > bestScore {
			bestScore = delta[y]
			bestLabel = y
		}
	}

	path := make([]int, T)
	path[T-1] = bestLabel
	for t := T - 1; t > 0; t-- {
		path[t-1] = psi[t][path[t]]
	}
	return path, bestScore
}

// Decoder runs validated MAP inference for a fixed number of labels.
type Decoder struct {
	NumLabels int
	// DisallowEmpty makes zero-length sequences an error instead of an
	// empty result with score 0.
	DisallowEmpty bool
}

// NewDecoder creates a decoder for K labels.
func NewDecoder(numLabels int) *Decoder {
	return &Decoder{NumLabels: numLabels}
}

// Decode returns the label sequence maximizing the sum of unary scores and
// transition scores between consecutive labels, together with that score.
func (d *Decoder) Decode(unary, trans [][]float64) ([]int, float64, error) {
	if err := d.check(unary, trans); err != nil {
		return nil, 0, err
	}
	path, score := viterbi(unary, trans, nil, 0)
	return path, score, nil
}

// DecodeLossAugmented returns the sequence maximizing score plus lossWeight
// times its Hamming distance to gold. The returned score includes the margin.
func (d *Decoder) DecodeLossAugmented(unary, trans [][]float64, gold []int, lossWeight float64) ([]int, float64, error) {
	if err := d.check(unary, trans); err != nil {
		return nil, 0, err
	}
	if len(gold) != len(unary) {
		return nil, 0, &ShapeError{What: "gold sequence", Got: len(gold), Want: len(unary)}
	}
	for _, y := range gold {
		if y < 0 || y >= d.NumLabels {
			return nil, 0, &ShapeError{What: "gold label", Got: y, Want: d.NumLabels}
		}
	}
	path, score := viterbi(unary, trans, gold, lossWeight)
	return path, score, nil
}

func (d *Decoder) check(unary, trans [][]float64) error {
	K := d.NumLabels
	if K <= 0 {
		return &ConfigError{Field: "NumLabels", Reason: fmt.Sprintf("must be positive, got %d", K)}
	}
	if len(unary) == 0 && d.DisallowEmpty {
		return ErrEmptySequence
	}
	for t, row := range unary {
		if len(row) != K {
			return &ShapeError{What: fmt.Sprintf("unary row %d", t), Got: len(row), Want: K}
		}
	}
	if len(trans) != K {
		return &ShapeError{What: "transition rows", Got: len(trans), Want: K}
	}
	for i, row := range trans {
		if len(row) != K {
			return &ShapeError{What: fmt.Sprintf("transition row %d", i), Got: len(row), Want: K}
		}
	}
	return nil
}

// Predict returns the best label sequence for one example.
func (m *Model) Predict(features [][]float64) ([]int, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	unary, err := m.UnaryScores(features)
	if err != nil {
		return nil, err
	}
	path, _, err := NewDecoder(m.NumLabels).Decode(unary, m.Transitions())
	return path, err
}

// PredictWord returns the best label sequence rendered through the model's
// alphabet.
func (m *Model) PredictWord(features [][]float64) (string, error) {
	path, err := m.Predict(features)
	if err != nil {
		return "", err
	}
	return m.Labels.Join(path), nil
}
