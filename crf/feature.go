package crf

// JointFeature returns Φ(x, y): for each label k the sum of the feature
// vectors of the positions labeled k, followed by the count of every
// (label, next-label) pair in y.
func (m *Model) JointFeature(features [][]float64, labels []int) ([]float64, error) {
	if len(features) != len(labels) {
		return nil, mismatch("%d feature rows for %d labels", len(features), len(labels))
	}
	for i, x := range features {
		if len(x) != m.NumFeatures {
			return nil, mismatch("position %d has %d features, want %d", i, len(x), m.NumFeatures)
		}
		if labels[i] < 0 || labels[i] >= m.NumLabels {
			return nil, &ShapeError{What: "label", Got: labels[i], Want: m.NumLabels}
		}
	}
	phi := make([]float64, m.NumWeights())
	addJointFeature(phi, features, labels, 1, m.NumLabels, m.NumFeatures, true)
	return phi, nil
}

// addJointFeature adds scale·Φ(x, y) into dst. Inputs are assumed validated.
func addJointFeature(dst []float64, features [][]float64, labels []int, scale float64, K, D int, pairwise bool) {
	for i, x := range features {
		row := dst[labels[i]*D : (labels[i]+1)*D]
		for d, v := range x {
			row[d] += scale * v
		}
	}
	if !pairwise {
		return
	}
	offset := K * D
	for i := 1; i < len(labels); i++ {
		dst[offset+labels[i-1]*K+labels[i]] += scale
	}
}

// hamming counts positions where a and b differ.
func hamming(a, b []int) int {
	n := 0
	for i := range a {
		if a[i] != b[i] {
			n++
		}
	}
	return n
}
