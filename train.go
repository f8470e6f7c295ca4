package lettercrf

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/happyhackingspace/lettercrf/crf"
	"github.com/happyhackingspace/lettercrf/internal/storage"
)

// TrainConfig holds configuration for training.
type TrainConfig struct {
	Trainer   crf.TrainerConfig
	TrainFold int // words of this fold are used; 0 or less uses every word
	Verbose   bool
}

// DefaultTrainConfig trains on fold 1, the usual split of the letters data.
func DefaultTrainConfig() *TrainConfig {
	return &TrainConfig{
		Trainer:   crf.DefaultTrainerConfig(),
		TrainFold: 1,
	}
}

// EvalConfig holds configuration for evaluation.
type EvalConfig struct {
	Trainer   crf.TrainerConfig
	TrainFold int
	// Baseline also trains a transition-free model for comparison.
	Baseline bool
	Verbose  bool
}

// EvalResult holds train/test split evaluation results.
type EvalResult struct {
	TrainAccuracy    float64
	LetterAccuracy   float64
	WordAccuracy     float64
	BaselineAccuracy float64
	LetterCorrect    int
	LetterTotal      int
	WordCorrect      int
	WordTotal        int
	BaselineCorrect  int
	TrainWords       int
	Passes           int
	Gap              float64
	Converged        bool
}

// Train trains a tagger on the words of a dataset file. If ctx ends during
// training, the best tagger so far is returned together with the context
// error.
func Train(ctx context.Context, dataPath string, config *TrainConfig) (*Tagger, error) {
	if config == nil {
		config = DefaultTrainConfig()
	}
	ds, train, err := loadTrainingWords(dataPath, config.TrainFold, config.Verbose)
	if err != nil {
		return nil, err
	}

	tc := config.Trainer
	tc.Verbose = tc.Verbose || config.Verbose
	model, _, err := fit(ctx, ds, train, tc)
	if model == nil {
		return nil, err
	}
	return NewTagger(model), err
}

// Evaluate trains on one fold and scores letters and whole words on the rest.
func Evaluate(ctx context.Context, dataPath string, config *EvalConfig) (*EvalResult, error) {
	if config == nil {
		config = &EvalConfig{Trainer: crf.DefaultTrainerConfig(), TrainFold: 1}
	}
	opts := storage.DefaultIterOptions()
	opts.Verbose = config.Verbose
	ds, words, err := storage.NewStorage(dataPath).IterWords(opts)
	if err != nil {
		return nil, fmt.Errorf("lettercrf: %w", err)
	}
	train, test := storage.Split(labeled(words), config.TrainFold)
	if len(train) == 0 {
		return nil, fmt.Errorf("lettercrf: no words in training fold %d", config.TrainFold)
	}
	if len(test) == 0 {
		return nil, fmt.Errorf("lettercrf: no words outside training fold %d", config.TrainFold)
	}

	tc := config.Trainer
	tc.Verbose = tc.Verbose || config.Verbose
	model, trainer, err := fit(ctx, ds, train, tc)
	if err != nil {
		return nil, err
	}

	result := &EvalResult{
		TrainWords: len(train),
		Passes:     len(trainer.History()),
		Gap:        trainer.Gap(),
		Converged:  trainer.State() == crf.StateConverged,
	}

	trainX, trainY := storage.Unzip(train)
	if result.TrainAccuracy, err = model.Score(trainX, trainY); err != nil {
		return nil, fmt.Errorf("lettercrf: %w", err)
	}

	testX, testY := storage.Unzip(test)
	pred, err := model.PredictAll(testX, tc.Workers)
	if err != nil {
		return nil, fmt.Errorf("lettercrf: %w", err)
	}
	result.LetterCorrect, result.LetterTotal = crf.Accuracy(pred, testY)
	for i := range testY {
		if sameLabels(pred[i], testY[i]) {
			result.WordCorrect++
		}
		result.WordTotal++
	}
	if result.LetterTotal > 0 {
		result.LetterAccuracy = float64(result.LetterCorrect) / float64(result.LetterTotal)
	}
	if result.WordTotal > 0 {
		result.WordAccuracy = float64(result.WordCorrect) / float64(result.WordTotal)
	}

	if config.Baseline {
		bc := tc
		bc.DisableTransitions = true
		baseline, _, err := fit(ctx, ds, train, bc)
		if err != nil {
			return nil, err
		}
		bpred, err := baseline.PredictAll(testX, tc.Workers)
		if err != nil {
			return nil, fmt.Errorf("lettercrf: %w", err)
		}
		result.BaselineCorrect, _ = crf.Accuracy(bpred, testY)
		if result.LetterTotal > 0 {
			result.BaselineAccuracy = float64(result.BaselineCorrect) / float64(result.LetterTotal)
		}
	}

	return result, nil
}

// --- private helpers ---

func loadTrainingWords(dataPath string, trainFold int, verbose bool) (*storage.Dataset, []storage.Word, error) {
	opts := storage.DefaultIterOptions()
	opts.Verbose = verbose
	if trainFold > 0 {
		opts.Folds = []int{trainFold}
	}
	ds, words, err := storage.NewStorage(dataPath).IterWords(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("lettercrf: %w", err)
	}
	words = labeled(words)
	if len(words) == 0 {
		return nil, nil, fmt.Errorf("lettercrf: no labeled words found in %s", dataPath)
	}
	return ds, words, nil
}

func fit(ctx context.Context, ds *storage.Dataset, words []storage.Word, config crf.TrainerConfig) (*crf.Model, *crf.Trainer, error) {
	trainer, err := crf.NewTrainer(len(ds.Labels), ds.NumFeatures, config)
	if err != nil {
		return nil, nil, fmt.Errorf("lettercrf: %w", err)
	}
	x, y := storage.Unzip(words)
	slog.Debug("Fitting chain CRF", "words", len(words), "labels", len(ds.Labels),
		"features", ds.NumFeatures, "transitions", !config.DisableTransitions)
	model, err := trainer.Fit(ctx, x, y)
	if model == nil {
		return nil, nil, fmt.Errorf("lettercrf: %w", err)
	}
	model.Labels = crf.Alphabet(ds.Labels)
	if err != nil {
		return model, trainer, fmt.Errorf("lettercrf: %w", err)
	}
	return model, trainer, nil
}

func labeled(words []storage.Word) []storage.Word {
	var out []storage.Word
	for _, w := range words {
		if w.Labels != nil {
			out = append(out, w)
		}
	}
	return out
}

func sameLabels(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
