// Package lettercrf recognizes presegmented handwritten words letter by
// letter with a chain CRF trained as a structured SVM.
//
// Each letter arrives as a feature vector (typically the 26 scores of a
// per-letter classifier); the chain model adds learned letter-to-letter
// transition weights on top.
//
//	t, _ := lettercrf.Load("model.json")
//	word, _ := t.PredictWord(features) // "ommanded"
package lettercrf

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/happyhackingspace/lettercrf/crf"
)

// Tagger wraps a trained chain CRF model.
type Tagger struct {
	model *crf.Model
}

// WordResult holds the prediction for a single word.
type WordResult struct {
	Word   string `json:"word"`
	Labels []int  `json:"labels"`
	Gold   string `json:"gold,omitempty"`
}

// New loads the tagger from "model.json", searching the current directory
// and parent directories up to the module root, then the model cache dir.
func New() (*Tagger, error) {
	path, err := findModel("model.json")
	if err != nil {
		return nil, fmt.Errorf("lettercrf: %w", err)
	}
	return Load(path)
}

// ModelDir returns the directory where downloaded models are cached.
func ModelDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "lettercrf")
}

func findModel(name string) (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		// Stop at module root
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	cached := filepath.Join(ModelDir(), name)
	if _, err := os.Stat(cached); err == nil {
		return cached, nil
	}
	return "", fmt.Errorf("%s not found", name)
}

// NewTagger wraps an existing model. Models without label names get a..z
// when they have 26 labels.
func NewTagger(model *crf.Model) *Tagger {
	if len(model.Labels) == 0 && model.NumLabels == 26 {
		model.Labels = crf.Letters()
	}
	return &Tagger{model: model}
}

// Load loads a trained tagger from a model file.
func Load(path string) (*Tagger, error) {
	model, err := crf.LoadModel(path)
	if err != nil {
		return nil, fmt.Errorf("lettercrf: %w", err)
	}
	return NewTagger(model), nil
}

// Save writes the tagger to a model file.
func (t *Tagger) Save(path string) error {
	if t.model == nil {
		return fmt.Errorf("lettercrf: tagger not initialized")
	}
	if err := crf.SaveModel(t.model, path); err != nil {
		return fmt.Errorf("lettercrf: %w", err)
	}
	return nil
}

// Model returns the underlying CRF model.
func (t *Tagger) Model() *crf.Model {
	return t.model
}

// PredictWord decodes one word and renders it through the label names.
func (t *Tagger) PredictWord(features [][]float64) (string, error) {
	if t.model == nil {
		return "", fmt.Errorf("lettercrf: tagger not initialized")
	}
	word, err := t.model.PredictWord(features)
	if err != nil {
		return "", fmt.Errorf("lettercrf: %w", err)
	}
	return word, nil
}

// PredictWords decodes a batch of words in parallel. gold may be nil; when
// given it is rendered next to each prediction.
func (t *Tagger) PredictWords(features [][][]float64, gold [][]int, workers int) ([]WordResult, error) {
	if t.model == nil {
		return nil, fmt.Errorf("lettercrf: tagger not initialized")
	}
	paths, err := t.model.PredictAll(features, workers)
	if err != nil {
		return nil, fmt.Errorf("lettercrf: %w", err)
	}
	out := make([]WordResult, len(paths))
	for i, p := range paths {
		out[i] = WordResult{
			Word:   t.model.Labels.Join(p),
			Labels: p,
		}
		if i < len(gold) && gold[i] != nil {
			out[i].Gold = t.model.Labels.Join(gold[i])
		}
	}
	return out, nil
}

// Marginals returns per-letter label probabilities keyed by label name.
func (t *Tagger) Marginals(features [][]float64) ([]map[string]float64, error) {
	if t.model == nil {
		return nil, fmt.Errorf("lettercrf: tagger not initialized")
	}
	marginals, err := t.model.Marginals(features)
	if err != nil {
		return nil, fmt.Errorf("lettercrf: %w", err)
	}
	out := make([]map[string]float64, len(marginals))
	for i, row := range marginals {
		out[i] = make(map[string]float64, len(row))
		for y, p := range row {
			out[i][t.model.Labels.Name(y)] = p
		}
	}
	return out, nil
}
