// Package storage reads featurized letter datasets for chain CRF training.
package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Storage wraps a dataset file.
type Storage struct {
	Path string
}

// NewStorage creates a Storage for the given dataset file.
func NewStorage(path string) *Storage {
	return &Storage{Path: path}
}

// Word is one presegmented word: a feature vector per letter and, for
// annotated data, the gold letter labels.
type Word struct {
	Features [][]float64 `json:"features"`
	Labels   []int       `json:"labels,omitempty"`
	Fold     int         `json:"fold"`
}

// Dataset is the document layout of a .json dataset file.
type Dataset struct {
	Labels      []string `json:"labels"`
	NumFeatures int      `json:"num_features"`
	Words       []Word   `json:"words"`
}

// header is the first line of a .jsonl dataset file.
type header struct {
	Labels      []string `json:"labels"`
	NumFeatures int      `json:"num_features"`
}

// IterOptions controls which words are returned.
type IterOptions struct {
	DropEmpty bool
	// Folds keeps only words from the listed folds; empty keeps all.
	Folds   []int
	Verbose bool
}

// DefaultIterOptions returns the default options for iterating words.
func DefaultIterOptions() IterOptions {
	return IterOptions{
		DropEmpty: true,
	}
}

// Load reads the whole dataset, picking the decoder by file extension.
func (s *Storage) Load() (*Dataset, error) {
	var (
		ds  *Dataset
		err error
	)
	switch strings.ToLower(filepath.Ext(s.Path)) {
	case ".jsonl", ".ndjson":
		ds, err = s.loadLines()
	default:
		ds, err = s.loadDocument()
	}
	if err != nil {
		return nil, err
	}
	if err := ds.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", s.Path, err)
	}
	return ds, nil
}

func (s *Storage) loadDocument() (*Dataset, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, err
	}
	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.Path, err)
	}
	return &ds, nil
}

func (s *Storage) loadLines() (*Dataset, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var ds Dataset
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if line == 1 {
			var h header
			if err := json.Unmarshal([]byte(text), &h); err != nil {
				return nil, fmt.Errorf("parse %s header: %w", s.Path, err)
			}
			ds.Labels, ds.NumFeatures = h.Labels, h.NumFeatures
			continue
		}
		var w Word
		if err := json.Unmarshal([]byte(text), &w); err != nil {
			return nil, fmt.Errorf("parse %s line %d: %w", s.Path, line, err)
		}
		ds.Words = append(ds.Words, w)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return &ds, nil
}

// Validate checks that every word has NumFeatures columns per letter and
// labels within the label set.
func (d *Dataset) Validate() error {
	if d.NumFeatures <= 0 {
		return fmt.Errorf("num_features must be positive, got %d", d.NumFeatures)
	}
	if len(d.Labels) == 0 {
		return fmt.Errorf("dataset has no labels")
	}
	for i, w := range d.Words {
		if w.Labels != nil && len(w.Labels) != len(w.Features) {
			return fmt.Errorf("word %d: %d labels for %d letters", i, len(w.Labels), len(w.Features))
		}
		for j, x := range w.Features {
			if len(x) != d.NumFeatures {
				return fmt.Errorf("word %d letter %d: %d features, want %d", i, j, len(x), d.NumFeatures)
			}
		}
		for _, y := range w.Labels {
			if y < 0 || y >= len(d.Labels) {
				return fmt.Errorf("word %d: label %d outside [0, %d)", i, y, len(d.Labels))
			}
		}
	}
	return nil
}

// IterWords returns the dataset header and the words selected by opts.
func (s *Storage) IterWords(opts IterOptions) (*Dataset, []Word, error) {
	ds, err := s.Load()
	if err != nil {
		return nil, nil, err
	}

	keep := make(map[int]bool, len(opts.Folds))
	for _, f := range opts.Folds {
		keep[f] = true
	}

	var words []Word
	dropped := 0
	for _, w := range ds.Words {
		if opts.DropEmpty && len(w.Features) == 0 {
			dropped++
			continue
		}
		if len(keep) > 0 && !keep[w.Fold] {
			continue
		}
		words = append(words, w)
	}
	if opts.Verbose {
		slog.Info("Loaded words", "path", s.Path, "kept", len(words), "dropped-empty", dropped)
	}
	return ds, words, nil
}

// Split separates words of trainFold from the rest, the way the letters
// benchmark is usually split.
func Split(words []Word, trainFold int) (train, test []Word) {
	for _, w := range words {
		if w.Fold == trainFold {
			train = append(train, w)
		} else {
			test = append(test, w)
		}
	}
	return train, test
}

// Unzip returns parallel feature and label slices referencing the words.
func Unzip(words []Word) ([][][]float64, [][]int) {
	features := make([][][]float64, len(words))
	labels := make([][]int, len(words))
	for i, w := range words {
		features[i] = w.Features
		labels[i] = w.Labels
	}
	return features, labels
}

// Save writes the dataset as a single JSON document.
func (d *Dataset) Save(path string) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
