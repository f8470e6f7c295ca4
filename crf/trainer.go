package crf

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"runtime"
	"time"

	"gonum.org/v1/gonum/floats"
	"golang.org/x/sync/errgroup"
)

// TrainerConfig holds structured SVM training hyperparameters.
type TrainerConfig struct {
	// C weighs the slack against the regularizer; larger fits harder.
	C float64 `yaml:"c"`
	// MaxIterations bounds the number of passes over the training set.
	MaxIterations int `yaml:"max_iter"`
	// Tol is the duality gap below which training stops.
	Tol float64 `yaml:"tol"`
	// LossWeight scales the Hamming margin of loss-augmented decoding.
	LossWeight float64 `yaml:"loss_weight"`

	Shuffle bool  `yaml:"shuffle"`
	Seed    int64 `yaml:"seed"`

	// LineSearch picks the closed-form step; otherwise steps follow 2n/(k+2n).
	LineSearch bool `yaml:"line_search"`
	// CheckDualEvery evaluates primal and dual objectives every that many
	// passes; 0 disables it.
	CheckDualEvery int `yaml:"check_dual_every"`
	// Workers bounds parallel decoding during evaluation; 0 means GOMAXPROCS.
	Workers int           `yaml:"workers"`
	Timeout time.Duration `yaml:"timeout"`

	// DisableTransitions freezes the transition weights at zero, which turns
	// the chain into independent per-position classifiers.
	DisableTransitions bool `yaml:"disable_transitions"`

	Verbose bool `yaml:"-"`
}

// DefaultTrainerConfig returns the settings used for the letters data.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		C:              0.1,
		MaxIterations:  20,
		Tol:            1e-3,
		LossWeight:     1,
		LineSearch:     true,
		CheckDualEvery: 1,
	}
}

// Validate checks hyperparameter ranges.
func (c TrainerConfig) Validate() error {
	switch {
	case !(c.C > 0):
		return &ConfigError{Field: "C", Reason: fmt.Sprintf("must be positive, got %v", c.C)}
	case c.MaxIterations <= 0:
		return &ConfigError{Field: "MaxIterations", Reason: fmt.Sprintf("must be positive, got %d", c.MaxIterations)}
	case c.Tol < 0 || math.IsNaN(c.Tol):
		return &ConfigError{Field: "Tol", Reason: fmt.Sprintf("must be non-negative, got %v", c.Tol)}
	case c.LossWeight < 0 || math.IsNaN(c.LossWeight):
		return &ConfigError{Field: "LossWeight", Reason: fmt.Sprintf("must be non-negative, got %v", c.LossWeight)}
	case c.CheckDualEvery < 0:
		return &ConfigError{Field: "CheckDualEvery", Reason: fmt.Sprintf("must be non-negative, got %d", c.CheckDualEvery)}
	case c.Workers < 0:
		return &ConfigError{Field: "Workers", Reason: fmt.Sprintf("must be non-negative, got %d", c.Workers)}
	case c.Timeout < 0:
		return &ConfigError{Field: "Timeout", Reason: fmt.Sprintf("must be non-negative, got %v", c.Timeout)}
	}
	return nil
}

func (c TrainerConfig) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// State is the trainer lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateTraining
	StateConverged
	StateMaxIterReached
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateTraining:
		return "training"
	case StateConverged:
		return "converged"
	case StateMaxIterReached:
		return "max-iter-reached"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// PassStats records the diagnostics of one pass over the training set.
type PassStats struct {
	Pass int
	// Gap is the sum of the block gaps met during the pass; it drives the
	// stopping rule.
	Gap float64
	// Primal, Dual and ExactGap are evaluated at the end-of-pass weights when
	// Evaluated is set.
	Primal    float64
	Dual      float64
	ExactGap  float64
	Evaluated bool
	Duration  time.Duration
}

// Trainer fits a Model with block-coordinate Frank-Wolfe on the structured
// SVM dual. The weight vector is the sum of one block per training example;
// each step moves a single block toward the most violated labeling of its
// example and applies the same delta to the global vector.
type Trainer struct {
	config  TrainerConfig
	decoder *Decoder
	model   *Model
	rng     *rand.Rand

	n      int
	blocks []float64 // block i is blocks[i*dim : (i+1)*dim]
	losses []float64
	loss   float64
	steps  int

	state   State
	history []PassStats
	result  *Model
	warning *ConvergenceWarning
}

// NewTrainer creates a trainer for K labels and D features per position.
func NewTrainer(numLabels, numFeatures int, config TrainerConfig) (*Trainer, error) {
	if numLabels <= 0 {
		return nil, &ConfigError{Field: "NumLabels", Reason: fmt.Sprintf("must be positive, got %d", numLabels)}
	}
	if numFeatures <= 0 {
		return nil, &ConfigError{Field: "NumFeatures", Reason: fmt.Sprintf("must be positive, got %d", numFeatures)}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Trainer{
		config:  config,
		decoder: NewDecoder(numLabels),
		model:   NewModel(numLabels, numFeatures),
		rng:     rand.New(rand.NewSource(config.Seed)),
	}, nil
}

// Train fits a model in one call.
func Train(ctx context.Context, examples [][][]float64, gold [][]int, numLabels, numFeatures int, config TrainerConfig) (*Model, error) {
	t, err := NewTrainer(numLabels, numFeatures, config)
	if err != nil {
		return nil, err
	}
	return t.Fit(ctx, examples, gold)
}

// Fit runs training passes until the duality gap drops below Tol or
// MaxIterations passes are done. Calling Fit again continues from the current
// weights with a fresh pass counter. If ctx ends first, the best model so far
// is returned along with the context error.
func (t *Trainer) Fit(ctx context.Context, examples [][][]float64, gold [][]int) (*Model, error) {
	if err := t.checkData(examples, gold); err != nil {
		return nil, err
	}
	n := len(examples)
	dim := t.model.NumWeights()
	if t.blocks == nil {
		t.n = n
		t.blocks = make([]float64, n*dim)
		t.losses = make([]float64, n)
	} else if t.n != n {
		return nil, mismatch("warm start with %d examples, trained on %d", n, t.n)
	}

	if t.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.Timeout)
		defer cancel()
	}

	t.state = StateTraining
	t.history = t.history[:0]
	t.result = nil
	t.warning = nil

	level := slog.LevelDebug
	if t.config.Verbose {
		level = slog.LevelInfo
	}

	var (
		best       []float64
		bestPrimal = math.Inf(1)
		order      = make([]int, n)
		diff       = make([]float64, dim)
		ws         = make([]float64, dim)
	)

	for pass := range t.config.MaxIterations {
		start := time.Now()
		for i := range order {
			order[i] = i
		}
		if t.config.Shuffle {
			t.rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
		}

		var gap float64
		for _, i := range order {
			if err := ctx.Err(); err != nil {
				return t.interrupt(best, err)
			}
			gap += t.step(i, examples[i], gold[i], ws, diff)
		}

		stats := PassStats{Pass: pass + 1, Gap: gap}
		if every := t.config.CheckDualEvery; every > 0 && pass%every == 0 {
			primal, dual, exact, err := t.evaluate(ctx, examples, gold)
			if err != nil {
				return t.interrupt(best, err)
			}
			stats.Primal, stats.Dual, stats.ExactGap, stats.Evaluated = primal, dual, exact, true
			if primal < bestPrimal {
				bestPrimal = primal
				best = append(best[:0], t.model.Weights...)
			}
		}
		stats.Duration = time.Since(start)
		t.history = append(t.history, stats)

		slog.Log(ctx, level, "SSVM training pass",
			"pass", stats.Pass, "gap", stats.Gap, "primal", stats.Primal,
			"dual", stats.Dual, "duration", stats.Duration)

		if gap < t.config.Tol {
			t.state = StateConverged
			slog.Debug("SSVM converged", "pass", stats.Pass, "gap", gap)
			t.result = t.snapshot(nil)
			return t.result.Clone(), nil
		}
	}

	t.state = StateMaxIterReached
	last := t.history[len(t.history)-1]
	t.warning = &ConvergenceWarning{Passes: last.Pass, Gap: last.Gap, Tol: t.config.Tol}
	slog.Warn("SSVM did not converge", "passes", last.Pass, "gap", last.Gap, "tol", t.config.Tol)
	t.result = t.snapshot(best)
	return t.result.Clone(), nil
}

// step performs one block update and returns the block's duality gap at the
// weights it was computed from.
func (t *Trainer) step(i int, x [][]float64, y []int, ws, diff []float64) float64 {
	var (
		K     = t.model.NumLabels
		D     = t.model.NumFeatures
		C     = t.config.C
		n     = float64(t.n)
		w     = t.model.Weights
		dim   = len(w)
		block = t.blocks[i*dim : (i+1)*dim]
	)

	// Inputs were validated by checkData, so neither call can fail.
	unary, _ := unaryScores(w, x, K, D)
	yhat, _, _ := t.decoder.DecodeLossAugmented(unary, transitions(w, K, t.model.TransOffset()), y, t.config.LossWeight)

	clear(ws)
	addJointFeature(ws, x, y, C, K, D, !t.config.DisableTransitions)
	addJointFeature(ws, x, yhat, -C, K, D, !t.config.DisableTransitions)
	ls := t.config.LossWeight * float64(hamming(y, yhat)) / n

	floats.SubTo(diff, block, ws)
	gap := floats.Dot(diff, w) - C*n*(t.losses[i]-ls)

	var gamma float64
	if t.config.LineSearch {
		gamma = gap / (floats.Dot(diff, diff) + 1e-15)
		gamma = max(0, min(1, gamma))
	} else {
		gamma = 2 * n / (float64(t.steps) + 2*n)
	}

	floats.AddScaled(block, -gamma, diff)
	floats.AddScaled(w, -gamma, diff)
	dl := gamma * (ls - t.losses[i])
	t.losses[i] += dl
	t.loss += dl
	t.steps++
	return gap
}

// evaluate computes the primal and dual objectives at the current weights.
// Loss-augmented decoding runs in parallel against a fixed weight snapshot;
// the reduction is sequential so the result does not depend on scheduling.
func (t *Trainer) evaluate(ctx context.Context, examples [][][]float64, gold [][]int) (primal, dual, gap float64, err error) {
	var (
		K     = t.model.NumLabels
		D     = t.model.NumFeatures
		C     = t.config.C
		w     = t.model.Weights
		trans = transitions(w, K, t.model.TransOffset())
		yhats = make([][]int, len(examples))
	)

	var g errgroup.Group
	g.SetLimit(t.config.workers())
	for i := range examples {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			unary, err := unaryScores(w, examples[i], K, D)
			if err != nil {
				return err
			}
			yhat, _, err := t.decoder.DecodeLossAugmented(unary, trans, gold[i], t.config.LossWeight)
			if err != nil {
				return err
			}
			yhats[i] = yhat
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, 0, err
	}

	ws := make([]float64, len(w))
	var ls float64
	for i, x := range examples {
		addJointFeature(ws, x, gold[i], C, K, D, !t.config.DisableTransitions)
		addJointFeature(ws, x, yhats[i], -C, K, D, !t.config.DisableTransitions)
		ls += t.config.LossWeight * float64(hamming(gold[i], yhats[i]))
	}

	rescaled := t.loss * float64(t.n) * C
	dual = -0.5*floats.Dot(w, w) + rescaled
	floats.SubTo(ws, w, ws)
	gap = floats.Dot(ws, w) - rescaled + ls*C
	return dual + gap, dual, gap, nil
}

// interrupt ends training early and hands back the best weights seen.
func (t *Trainer) interrupt(best []float64, cause error) (*Model, error) {
	t.state = StateMaxIterReached
	t.result = t.snapshot(best)
	slog.Warn("SSVM training interrupted", "passes", len(t.history), "error", cause)
	return t.result.Clone(), fmt.Errorf("ssvm training interrupted: %w", cause)
}

func (t *Trainer) snapshot(weights []float64) *Model {
	m := t.model.Clone()
	if weights != nil {
		copy(m.Weights, weights)
	}
	return m
}

func (t *Trainer) checkData(examples [][][]float64, gold [][]int) error {
	if len(examples) != len(gold) {
		return mismatch("%d examples for %d label sequences", len(examples), len(gold))
	}
	if len(examples) == 0 {
		return mismatch("no training examples")
	}
	for i, x := range examples {
		if len(x) != len(gold[i]) {
			return mismatch("example %d has %d positions for %d labels", i, len(x), len(gold[i]))
		}
		for j, row := range x {
			if len(row) != t.model.NumFeatures {
				return mismatch("example %d position %d has %d features, want %d", i, j, len(row), t.model.NumFeatures)
			}
			if y := gold[i][j]; y < 0 || y >= t.model.NumLabels {
				return &ShapeError{What: fmt.Sprintf("label of example %d position %d", i, j), Got: y, Want: t.model.NumLabels}
			}
		}
	}
	return nil
}

// State returns the trainer lifecycle state.
func (t *Trainer) State() State {
	return t.state
}

// History returns the statistics of every pass of the last Fit call.
func (t *Trainer) History() []PassStats {
	return append([]PassStats(nil), t.history...)
}

// Gap returns the block gap sum of the last completed pass, or +Inf before
// any pass has run.
func (t *Trainer) Gap() float64 {
	if len(t.history) == 0 {
		return math.Inf(1)
	}
	return t.history[len(t.history)-1].Gap
}

// Objective returns the most recently evaluated primal objective, or NaN if
// none was evaluated.
func (t *Trainer) Objective() float64 {
	for i := len(t.history) - 1; i >= 0; i-- {
		if t.history[i].Evaluated {
			return t.history[i].Primal
		}
	}
	return math.NaN()
}

// Warning returns the convergence warning of the last Fit, or nil if it
// converged.
func (t *Trainer) Warning() *ConvergenceWarning {
	return t.warning
}

// Model returns a copy of the model produced by the last Fit.
func (t *Trainer) Model() (*Model, error) {
	if t.result == nil {
		return nil, ErrNotTrained
	}
	return t.result.Clone(), nil
}

// Predict decodes every example with the trained weights.
func (t *Trainer) Predict(examples [][][]float64) ([][]int, error) {
	if t.result == nil {
		return nil, ErrNotTrained
	}
	return t.result.PredictAll(examples, t.config.workers())
}

// Score returns the fraction of correctly predicted labels over all positions.
func (t *Trainer) Score(examples [][][]float64, gold [][]int) (float64, error) {
	if t.result == nil {
		return 0, ErrNotTrained
	}
	return t.result.Score(examples, gold)
}
