package crf

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// PredictAll decodes every example, running up to workers decodes at once.
// A non-positive workers value means GOMAXPROCS.
func (m *Model) PredictAll(examples [][][]float64, workers int) ([][]int, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	trans := m.Transitions()
	decoder := NewDecoder(m.NumLabels)
	out := make([][]int, len(examples))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, x := range examples {
		g.Go(func() error {
			unary, err := m.UnaryScores(x)
			if err != nil {
				return err
			}
			path, _, err := decoder.Decode(unary, trans)
			if err != nil {
				return err
			}
			out[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Score returns the fraction of correctly predicted labels, counted over all
// positions of all examples.
func (m *Model) Score(examples [][][]float64, gold [][]int) (float64, error) {
	if len(examples) != len(gold) {
		return 0, mismatch("%d examples for %d label sequences", len(examples), len(gold))
	}
	for i := range examples {
		if len(examples[i]) != len(gold[i]) {
			return 0, mismatch("example %d has %d positions for %d labels", i, len(examples[i]), len(gold[i]))
		}
	}
	pred, err := m.PredictAll(examples, 0)
	if err != nil {
		return 0, err
	}
	correct, total := Accuracy(pred, gold)
	if total == 0 {
		return 0, nil
	}
	return float64(correct) / float64(total), nil
}

// Accuracy counts matching labels between predicted and gold sequences.
func Accuracy(pred, gold [][]int) (correct, total int) {
	for i := range gold {
		for j, y := range gold[i] {
			if i < len(pred) && j < len(pred[i]) && pred[i][j] == y {
				correct++
			}
			total++
		}
	}
	return correct, total
}
