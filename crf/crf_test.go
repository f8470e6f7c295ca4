package crf

import (
	"errors"
	"math"
	"math/rand"
	"path/filepath"
	"testing"
)

func TestAlphabet(t *testing.T) {
	a := Letters()
	if len(a) != 26 {
		t.Fatalf("len = %d, want 26", len(a))
	}
	if a.Index("c") != 2 {
		t.Errorf("Index(c) = %d, want 2", a.Index("c"))
	}
	if a.Index("A") != -1 {
		t.Error("Index of missing label should return -1")
	}
	if got := a.Join([]int{2, 0, 19}); got != "cat" {
		t.Errorf("Join = %q, want %q", got, "cat")
	}
	if a.Name(26) != "?" {
		t.Errorf("Name(26) = %q, want ?", a.Name(26))
	}
}

func TestViterbiSimple(t *testing.T) {
	// 2 positions, 2 labels
	unary := [][]float64{
		{1.0, 0.5},
		{0.3, 2.0},
	}
	trans := [][]float64{
		{0.1, 0.2},
		{0.3, 0.1},
	}

	path, score := Viterbi(unary, trans)
	if len(path) != 2 {
		t.Fatalf("path length = %d, want 2", len(path))
	}

	// [0,1]: 1.0 + 0.2 + 2.0 = 3.2
	// [0,0]: 1.0 + 0.1 + 0.3 = 1.4
	// [1,0]: 0.5 + 0.3 + 0.3 = 1.1
	// [1,1]: 0.5 + 0.1 + 2.0 = 2.6
	if path[0] != 0 || path[1] != 1 {
		t.Errorf("path = %v, want [0, 1]", path)
	}
	if math.Abs(score-3.2) > 1e-10 {
		t.Errorf("score = %v, want 3.2", score)
	}
}

// bruteForce enumerates every label sequence and returns the best score.
func bruteForce(unary, trans [][]float64, gold []int, lossWeight float64) float64 {
	T := len(unary)
	K := len(unary[0])
	best := math.Inf(-1)
	path := make([]int, T)
	var rec func(pos int)
	rec = func(pos int) {
		if pos == T {
			var s float64
			for t, y := range path {
				s += unary[t][y]
				if gold != nil && y != gold[t] {
					s += lossWeight
				}
				if t > 0 {
					s += trans[path[t-1]][y]
				}
			}
			best = max(best, s)
			return
		}
		for y := range K {
			path[pos] = y
			rec(pos + 1)
		}
	}
	rec(0)
	return best
}

func randomMatrix(rng *rand.Rand, rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
		for j := range m[i] {
			m[i][j] = rng.NormFloat64()
		}
	}
	return m
}

func TestDecodeMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	d := NewDecoder(3)
	for trial := range 50 {
		T := 1 + trial%5
		unary := randomMatrix(rng, T, 3)
		trans := randomMatrix(rng, 3, 3)
		gold := make([]int, T)
		for i := range gold {
			gold[i] = rng.Intn(3)
		}

		_, score, err := d.Decode(unary, trans)
		if err != nil {
			t.Fatal(err)
		}
		if want := bruteForce(unary, trans, nil, 0); math.Abs(score-want) > 1e-9 {
			t.Errorf("trial %d: score = %v, want %v", trial, score, want)
		}

		_, aug, err := d.DecodeLossAugmented(unary, trans, gold, 1.5)
		if err != nil {
			t.Fatal(err)
		}
		if want := bruteForce(unary, trans, gold, 1.5); math.Abs(aug-want) > 1e-9 {
			t.Errorf("trial %d: augmented score = %v, want %v", trial, aug, want)
		}
	}
}

func TestLossAugmentedZeroWeightEqualsDecode(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	d := NewDecoder(4)
	for trial := range 30 {
		T := trial % 6
		unary := randomMatrix(rng, T, 4)
		trans := randomMatrix(rng, 4, 4)
		gold := make([]int, T)
		for i := range gold {
			gold[i] = rng.Intn(4)
		}

		path, score, err := d.Decode(unary, trans)
		if err != nil {
			t.Fatal(err)
		}
		augPath, augScore, err := d.DecodeLossAugmented(unary, trans, gold, 0)
		if err != nil {
			t.Fatal(err)
		}
		if score != augScore {
			t.Errorf("trial %d: score %v != %v", trial, score, augScore)
		}
		if len(path) != len(augPath) {
			t.Fatalf("trial %d: length %d != %d", trial, len(path), len(augPath))
		}
		for i := range path {
			if path[i] != augPath[i] {
				t.Errorf("trial %d: path %v != %v", trial, path, augPath)
				break
			}
		}
	}
}

func TestLossAugmentedPrefersWrongLabels(t *testing.T) {
	unary := [][]float64{{0.4, 0}, {0.4, 0}}
	trans := [][]float64{{0, 0}, {0, 0}}
	gold := []int{0, 0}

	path, score, err := NewDecoder(2).DecodeLossAugmented(unary, trans, gold, 1)
	if err != nil {
		t.Fatal(err)
	}
	if path[0] != 1 || path[1] != 1 {
		t.Errorf("path = %v, want [1 1]", path)
	}
	if math.Abs(score-2) > 1e-12 {
		t.Errorf("score = %v, want 2", score)
	}
}

func TestSinglePositionIgnoresTransitions(t *testing.T) {
	unary := [][]float64{{0.1, 0.9, 0.3}}
	trans := [][]float64{
		{100, -100, 100},
		{-100, -100, -100},
		{100, -100, 100},
	}
	path, score, err := NewDecoder(3).Decode(unary, trans)
	if err != nil {
		t.Fatal(err)
	}
	if len(path) != 1 || path[0] != 1 {
		t.Errorf("path = %v, want [1]", path)
	}
	if score != 0.9 {
		t.Errorf("score = %v, want 0.9", score)
	}
}

func TestTiesPickLowestLabel(t *testing.T) {
	tests := []struct {
		name  string
		unary [][]float64
		trans [][]float64
		want  []int
	}{
		{
			name:  "all zero",
			unary: [][]float64{{0, 0, 0}, {0, 0, 0}, {0, 0, 0}},
			trans: [][]float64{{0, 0, 0}, {0, 0, 0}, {0, 0, 0}},
			want:  []int{0, 0, 0},
		},
		{
			name:  "tie between one and two",
			unary: [][]float64{{0, 1, 1}},
			trans: [][]float64{{0, 0, 0}, {0, 0, 0}, {0, 0, 0}},
			want:  []int{1},
		},
		{
			name:  "tie in predecessor",
			unary: [][]float64{{0, 2, 2}, {0, 0, 5}},
			trans: [][]float64{{0, 0, 0}, {0, 0, 0}, {0, 0, 0}},
			want:  []int{1, 2},
		},
	}
	d := NewDecoder(3)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, _, err := d.Decode(tt.unary, tt.trans)
			if err != nil {
				t.Fatal(err)
			}
			for i := range tt.want {
				if path[i] != tt.want[i] {
					t.Fatalf("path = %v, want %v", path, tt.want)
				}
			}
		})
	}
}

func TestDecodeEmpty(t *testing.T) {
	d := NewDecoder(2)
	trans := [][]float64{{0, 0}, {0, 0}}
	path, score, err := d.Decode(nil, trans)
	if err != nil {
		t.Fatal(err)
	}
	if len(path) != 0 || score != 0 {
		t.Errorf("got %v, %v; want empty path with score 0", path, score)
	}

	d.DisallowEmpty = true
	if _, _, err := d.Decode(nil, trans); !errors.Is(err, ErrEmptySequence) {
		t.Errorf("err = %v, want ErrEmptySequence", err)
	}
}

func TestDecodeShapeErrors(t *testing.T) {
	d := NewDecoder(2)
	ok := [][]float64{{0, 0}, {0, 0}}
	tests := []struct {
		name  string
		unary [][]float64
		trans [][]float64
		gold  []int
	}{
		{"unary row too short", [][]float64{{0}}, ok, nil},
		{"transition rows", [][]float64{{0, 0}}, [][]float64{{0, 0}}, nil},
		{"transition columns", [][]float64{{0, 0}}, [][]float64{{0, 0}, {0}}, nil},
		{"gold length", [][]float64{{0, 0}}, ok, []int{0, 1}},
		{"gold label range", [][]float64{{0, 0}}, ok, []int{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.gold == nil {
				_, _, err = d.Decode(tt.unary, tt.trans)
			} else {
				_, _, err = d.DecodeLossAugmented(tt.unary, tt.trans, tt.gold, 1)
			}
			if !errors.Is(err, ErrInvalidShape) {
				t.Errorf("err = %v, want ErrInvalidShape", err)
			}
			var se *ShapeError
			if !errors.As(err, &se) {
				t.Errorf("err = %T, want *ShapeError", err)
			}
		})
	}
}

func TestJointFeature(t *testing.T) {
	m := NewModel(2, 2)
	features := [][]float64{{1, 2}, {3, 4}, {5, 6}}
	labels := []int{0, 1, 1}

	phi, err := m.JointFeature(features, labels)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{
		1, 2, // label 0: x0
		8, 10, // label 1: x1 + x2
		0, 1, // 0->0, 0->1
		0, 1, // 1->0, 1->1
	}
	for i := range want {
		if phi[i] != want[i] {
			t.Errorf("phi[%d] = %v, want %v", i, phi[i], want[i])
		}
	}

	// w·Φ(x, y) equals the decoder's score of y under w.
	rng := rand.New(rand.NewSource(3))
	for i := range m.Weights {
		m.Weights[i] = rng.NormFloat64()
	}
	unary, err := m.UnaryScores(features)
	if err != nil {
		t.Fatal(err)
	}
	trans := m.Transitions()
	var direct float64
	for i, y := range labels {
		direct += unary[i][y]
		if i > 0 {
			direct += trans[labels[i-1]][y]
		}
	}
	phi, _ = m.JointFeature(features, labels)
	var dot float64
	for i := range phi {
		dot += phi[i] * m.Weights[i]
	}
	if math.Abs(dot-direct) > 1e-9 {
		t.Errorf("w·phi = %v, want %v", dot, direct)
	}
}

func TestIndicatorWeightsDecodeBack(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	const K = 4
	for trial := range 20 {
		T := 1 + trial%7
		// One distinct one-hot feature per position.
		m := NewModel(K, T)
		features := make([][]float64, T)
		labels := make([]int, T)
		for i := range T {
			features[i] = make([]float64, T)
			features[i][i] = 1
			labels[i] = rng.Intn(K)
		}

		phi, err := m.JointFeature(features, labels)
		if err != nil {
			t.Fatal(err)
		}
		for i, v := range phi {
			if v > 0 {
				m.Weights[i] = 1
			}
		}

		got, err := m.Predict(features)
		if err != nil {
			t.Fatal(err)
		}
		for i := range labels {
			if got[i] != labels[i] {
				t.Fatalf("trial %d: decoded %v, want %v", trial, got, labels)
			}
		}
	}
}

func TestUnaryScoresDimension(t *testing.T) {
	m := NewModel(2, 3)
	if _, err := m.UnaryScores([][]float64{{1, 2}}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestForwardBackward(t *testing.T) {
	unary := [][]float64{
		{1.0, 0.5},
		{0.3, 2.0},
	}
	trans := [][]float64{
		{0.1, 0.2},
		{0.3, 0.1},
	}

	fb := ForwardBackward(unary, trans)

	if math.IsNaN(fb.LogZ) || math.IsInf(fb.LogZ, 0) {
		t.Errorf("LogZ = %v, expected finite", fb.LogZ)
	}

	for pos := range 2 {
		sum := fb.Marginals[pos][0] + fb.Marginals[pos][1]
		if math.Abs(sum-1.0) > 1e-9 {
			t.Errorf("marginals at pos=%d sum to %v, want 1.0", pos, sum)
		}
	}

	paths := [][]int{{0, 0}, {0, 1}, {1, 0}, {1, 1}}
	Z := 0.0
	first := 0.0
	for _, p := range paths {
		s := math.Exp(unary[0][p[0]] + unary[1][p[1]] + trans[p[0]][p[1]])
		Z += s
		if p[0] == 0 {
			first += s
		}
	}
	if math.Abs(fb.LogZ-math.Log(Z)) > 1e-9 {
		t.Errorf("LogZ = %v, expected %v", fb.LogZ, math.Log(Z))
	}
	if math.Abs(fb.Marginals[0][0]-first/Z) > 1e-9 {
		t.Errorf("P(y0=0) = %v, expected %v", fb.Marginals[0][0], first/Z)
	}
}

func TestTransitionProbabilities(t *testing.T) {
	m := NewModel(3, 1)
	copy(m.Weights[m.TransOffset():], []float64{
		1, 0, 2,
		0, 0, -1,
		3, 1, 0,
	})
	p := m.TransitionProbabilities()
	for j := range 3 {
		var sum float64
		for i := range 3 {
			sum += p.At(i, j)
		}
		if math.Abs(sum-1) > 1e-12 {
			t.Errorf("column %d sums to %v, want 1", j, sum)
		}
	}
	if p.At(2, 0) <= p.At(0, 0) {
		t.Errorf("P(2->0) = %v should exceed P(0->0) = %v", p.At(2, 0), p.At(0, 0))
	}
	if got := m.TransitionMatrix().At(0, 2); got != 2 {
		t.Errorf("T[0][2] = %v, want 2", got)
	}
}

func TestModelSaveLoad(t *testing.T) {
	model := NewModel(2, 1)
	model.Labels = Alphabet{"A", "B"}
	copy(model.Weights, []float64{1.0, -0.5, 0.3, 0.1, 0.2, -0.1})

	path := filepath.Join(t.TempDir(), "model.json")
	if err := SaveModel(model, path); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadModel(path)
	if err != nil {
		t.Fatal(err)
	}

	if loaded.NumLabels != model.NumLabels || loaded.NumFeatures != model.NumFeatures {
		t.Errorf("dims mismatch: %d×%d vs %d×%d", loaded.NumLabels, loaded.NumFeatures, model.NumLabels, model.NumFeatures)
	}
	if loaded.Labels.Join([]int{1, 0}) != "BA" {
		t.Errorf("labels = %v", loaded.Labels)
	}
	for i := range model.Weights {
		if loaded.Weights[i] != model.Weights[i] {
			t.Errorf("Weight[%d] mismatch: %v vs %v", i, loaded.Weights[i], model.Weights[i])
		}
	}
}

func TestUnmarshalModelRejectsBadWeights(t *testing.T) {
	data := []byte(`{"num_labels": 2, "num_features": 1, "weights": [1, 2, 3]}`)
	if _, err := UnmarshalModel(data); !errors.Is(err, ErrInvalidShape) {
		t.Errorf("err = %v, want ErrInvalidShape", err)
	}
}
