package lettercrf

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/happyhackingspace/lettercrf/crf"
	"github.com/happyhackingspace/lettercrf/internal/storage"
)

func oneHot(label int) []float64 {
	x := make([]float64, 3)
	x[label] = 1
	return x
}

// writeDataset stores a three-letter dataset whose labels cycle a→b→c.
// Fold 1 hides a few letters behind an uninformative feature vector.
func writeDataset(t *testing.T) string {
	t.Helper()
	train := [][]int{{0, 1, 2, 0, 1}, {1, 2, 0, 1}, {2, 0, 1, 2}, {0, 1, 2}, {1, 2, 0, 1, 2, 0}}
	hidden := map[[2]int]bool{{0, 3}: true, {1, 1}: true, {2, 3}: true, {4, 4}: true}
	test := [][]int{{0, 1, 2}, {2, 0, 1, 2, 0}, {1, 2}}

	ds := &storage.Dataset{Labels: []string{"a", "b", "c"}, NumFeatures: 3}
	for i, y := range train {
		w := storage.Word{Labels: y, Fold: 1}
		for j, label := range y {
			if hidden[[2]int{i, j}] {
				w.Features = append(w.Features, []float64{1, 1, 1})
			} else {
				w.Features = append(w.Features, oneHot(label))
			}
		}
		ds.Words = append(ds.Words, w)
	}
	for _, y := range test {
		w := storage.Word{Labels: y, Fold: 2}
		for _, label := range y {
			w.Features = append(w.Features, oneHot(label))
		}
		ds.Words = append(ds.Words, w)
	}

	path := filepath.Join(t.TempDir(), "letters.json")
	if err := ds.Save(path); err != nil {
		t.Fatal(err)
	}
	return path
}

func testTrainerConfig() crf.TrainerConfig {
	config := crf.DefaultTrainerConfig()
	config.C = 1
	config.MaxIterations = 50
	config.Tol = 1e-4
	return config
}

func TestTrainAndPredict(t *testing.T) {
	path := writeDataset(t)

	tagger, err := Train(context.Background(), path, &TrainConfig{Trainer: testTrainerConfig(), TrainFold: 1})
	if err != nil {
		t.Fatal(err)
	}
	if got := tagger.Model().Labels; len(got) != 3 || got[0] != "a" {
		t.Fatalf("labels not carried into model: %v", got)
	}

	word, err := tagger.PredictWord([][]float64{oneHot(2), oneHot(0), oneHot(1)})
	if err != nil {
		t.Fatal(err)
	}
	if word != "cab" {
		t.Errorf("PredictWord = %q, want %q", word, "cab")
	}

	modelPath := filepath.Join(t.TempDir(), "model.json")
	if err := tagger.Save(modelPath); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(modelPath)
	if err != nil {
		t.Fatal(err)
	}
	results, err := loaded.PredictWords([][][]float64{{oneHot(0), oneHot(1)}}, [][]int{{0, 1}}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Word != "ab" || results[0].Gold != "ab" {
		t.Errorf("unexpected results: %+v", results)
	}

	marginals, err := loaded.Marginals([][]float64{oneHot(0), oneHot(1)})
	if err != nil {
		t.Fatal(err)
	}
	for i, row := range marginals {
		sum := 0.0
		for _, p := range row {
			sum += p
		}
		if sum < 0.999 || sum > 1.001 {
			t.Errorf("marginals at %d sum to %f", i, sum)
		}
	}
}

func TestEvaluate(t *testing.T) {
	path := writeDataset(t)

	result, err := Evaluate(context.Background(), path, &EvalConfig{
		Trainer:   testTrainerConfig(),
		TrainFold: 1,
		Baseline:  true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.TrainWords != 5 {
		t.Errorf("TrainWords = %d, want 5", result.TrainWords)
	}
	if result.LetterTotal != 10 || result.WordTotal != 3 {
		t.Errorf("totals = %d letters, %d words", result.LetterTotal, result.WordTotal)
	}
	if result.LetterAccuracy != 1 || result.WordAccuracy != 1 {
		t.Errorf("test accuracy = %.3f letters, %.3f words", result.LetterAccuracy, result.WordAccuracy)
	}
	if result.TrainAccuracy != 1 {
		t.Errorf("train accuracy = %.3f", result.TrainAccuracy)
	}
	if result.Passes == 0 {
		t.Error("expected at least one pass")
	}
	if result.BaselineCorrect > result.LetterTotal {
		t.Errorf("baseline correct %d exceeds total %d", result.BaselineCorrect, result.LetterTotal)
	}
}

func TestTrainCancelledKeepsModel(t *testing.T) {
	path := writeDataset(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tagger, err := Train(ctx, path, &TrainConfig{Trainer: testTrainerConfig(), TrainFold: 1})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if tagger == nil || len(tagger.Model().Labels) != 3 {
		t.Fatal("expected a usable tagger alongside the cancellation error")
	}
}

func TestEvaluateRequiresHeldOutFold(t *testing.T) {
	path := writeDataset(t)
	_, err := Evaluate(context.Background(), path, &EvalConfig{Trainer: testTrainerConfig(), TrainFold: 7})
	if err == nil {
		t.Error("expected error for empty training fold")
	}
}

func TestLoadNonExistent(t *testing.T) {
	_, err := Load("nonexistent.json")
	if err == nil {
		t.Error("expected error for nonexistent model")
	}
}

func TestTaggerNotInitialized(t *testing.T) {
	tagger := &Tagger{}
	if _, err := tagger.PredictWord([][]float64{{1}}); err == nil {
		t.Error("expected error for uninitialized tagger")
	}
	if err := tagger.Save(filepath.Join(t.TempDir(), "m.json")); err == nil {
		t.Error("expected error saving uninitialized tagger")
	}
}

func TestNewTaggerAssignsLetters(t *testing.T) {
	tagger := NewTagger(crf.NewModel(26, 2))
	if got := tagger.Model().Labels.Join([]int{7, 8}); got != "hi" {
		t.Errorf("Join = %q, want %q", got, "hi")
	}
}
