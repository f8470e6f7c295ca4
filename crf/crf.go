// Package crf implements a linear-chain CRF over dense feature vectors,
// trained as a structured SVM with block-coordinate Frank-Wolfe.
package crf

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Alphabet names the labels of a model, in label-ID order.
type Alphabet []string

// Letters returns the lowercase alphabet a..z.
func Letters() Alphabet {
	a := make(Alphabet, 26)
	for i := range a {
		a[i] = string(rune('a' + i))
	}
	return a
}

// Index returns the ID of label s, or -1 if not found.
func (a Alphabet) Index(s string) int {
	for i, l := range a {
		if l == s {
			return i
		}
	}
	return -1
}

// Name returns the label for id, the decimal id for an empty alphabet, or
// "?" when id is out of range.
func (a Alphabet) Name(id int) string {
	if len(a) == 0 {
		return strconv.Itoa(id)
	}
	if id < 0 || id >= len(a) {
		return "?"
	}
	return a[id]
}

// Join renders a label sequence as a single string.
func (a Alphabet) Join(ids []int) string {
	var sb strings.Builder
	for _, id := range ids {
		sb.WriteString(a.Name(id))
	}
	return sb.String()
}

// Model holds the chain CRF parameters.
type Model struct {
	Labels      Alphabet  `json:"labels,omitempty"`
	NumLabels   int       `json:"num_labels"`
	NumFeatures int       `json:"num_features"`
	Weights     []float64 `json:"weights"`
	// Weight layout: [unary K×D | transition K×K]
	// Unary index: labelID * numFeatures + featureID
	// Transition index: transOffset + fromLabelID * numLabels + toLabelID
}

// NewModel creates a zero-weight model with K labels and D features.
func NewModel(numLabels, numFeatures int) *Model {
	m := &Model{
		NumLabels:   numLabels,
		NumFeatures: numFeatures,
	}
	m.Weights = make([]float64, m.NumWeights())
	return m
}

// TransOffset returns the offset where transition weights start.
func (m *Model) TransOffset() int {
	return m.NumLabels * m.NumFeatures
}

// NumWeights returns the total number of weights.
func (m *Model) NumWeights() int {
	return m.TransOffset() + m.NumLabels*m.NumLabels
}

// UnaryIndex returns the weight index pairing a label with a feature.
func (m *Model) UnaryIndex(labelID, featureID int) int {
	return labelID*m.NumFeatures + featureID
}

// TransIndex returns the weight index for a transition.
func (m *Model) TransIndex(fromLabelID, toLabelID int) int {
	return m.TransOffset() + fromLabelID*m.NumLabels + toLabelID
}

// Clone returns a deep copy of the model.
func (m *Model) Clone() *Model {
	c := *m
	c.Labels = append(Alphabet(nil), m.Labels...)
	c.Weights = append([]float64(nil), m.Weights...)
	return &c
}

func (m *Model) validate() error {
	if m.NumLabels <= 0 || m.NumFeatures <= 0 {
		return &ConfigError{Field: "model", Reason: fmt.Sprintf("has K=%d D=%d", m.NumLabels, m.NumFeatures)}
	}
	if len(m.Weights) != m.NumWeights() {
		return &ShapeError{What: "weight vector", Got: len(m.Weights), Want: m.NumWeights()}
	}
	return nil
}

// UnaryScores computes U[i][k] = w_unary[k] · x_i for every position.
func (m *Model) UnaryScores(features [][]float64) ([][]float64, error) {
	return unaryScores(m.Weights, features, m.NumLabels, m.NumFeatures)
}

func unaryScores(w []float64, features [][]float64, K, D int) ([][]float64, error) {
	scores := make([][]float64, len(features))
	for i, x := range features {
		if len(x) != D {
			return nil, mismatch("position %d has %d features, want %d", i, len(x), D)
		}
		scores[i] = make([]float64, K)
		for k := range K {
			scores[i][k] = floats.Dot(w[k*D:(k+1)*D], x)
		}
	}
	return scores, nil
}

// Transitions returns the K×K transition score matrix. Rows alias the
// weight vector and must not be modified.
func (m *Model) Transitions() [][]float64 {
	return transitions(m.Weights, m.NumLabels, m.TransOffset())
}

func transitions(w []float64, K, offset int) [][]float64 {
	trans := make([][]float64, K)
	for i := range K {
		trans[i] = w[offset+i*K : offset+(i+1)*K]
	}
	return trans
}

// TransitionMatrix returns a copy of the transition weights as a gonum matrix,
// rows indexed by the previous label.
func (m *Model) TransitionMatrix() *mat.Dense {
	K := m.NumLabels
	data := make([]float64, K*K)
	copy(data, m.Weights[m.TransOffset():])
	return mat.NewDense(K, K, data)
}

// TransitionProbabilities normalizes exp(T) over the previous label, so that
// column j gives the distribution of labels preceding label j.
func (m *Model) TransitionProbabilities() *mat.Dense {
	K := m.NumLabels
	p := m.TransitionMatrix()
	col := make([]float64, K)
	for j := range K {
		mat.Col(col, j, p)
		lse := floats.LogSumExp(col)
		for i := range K {
			p.Set(i, j, math.Exp(col[i]-lse))
		}
	}
	return p
}
