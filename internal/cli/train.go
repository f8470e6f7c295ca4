package cli

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/happyhackingspace/lettercrf"
	"github.com/happyhackingspace/lettercrf/internal/config"
	"github.com/spf13/cobra"
)

// trainFlags are shared by train and evaluate. They override the config
// file only when set on the command line.
type trainFlags struct {
	configPath string
	data       string
	trainFold  int
	c          float64
	maxIter    int
	tol        float64
	lossWeight float64
	shuffle    bool
	seed       int64
	workers    int
	timeout    time.Duration
}

func (f *trainFlags) register(cmd *cobra.Command) {
	def := config.Default()
	cmd.Flags().StringVar(&f.configPath, "config", "", "YAML file with training settings")
	cmd.Flags().StringVar(&f.data, "data", def.Data, "Path to the letters dataset (.json or .jsonl)")
	cmd.Flags().IntVar(&f.trainFold, "train-fold", def.TrainFold, "Fold used for training")
	cmd.Flags().Float64Var(&f.c, "c", def.Trainer.C, "Regularization constant C")
	cmd.Flags().IntVar(&f.maxIter, "max-iter", def.Trainer.MaxIterations, "Maximum passes over the training set")
	cmd.Flags().Float64Var(&f.tol, "tol", def.Trainer.Tol, "Duality gap tolerance")
	cmd.Flags().Float64Var(&f.lossWeight, "loss-weight", def.Trainer.LossWeight, "Hamming loss weight")
	cmd.Flags().BoolVar(&f.shuffle, "shuffle", def.Trainer.Shuffle, "Visit words in random order each pass")
	cmd.Flags().Int64Var(&f.seed, "seed", def.Trainer.Seed, "Random seed for shuffling")
	cmd.Flags().IntVar(&f.workers, "workers", def.Trainer.Workers, "Parallel decoders during evaluation (0 = all CPUs)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Stop training after this long (0 = no limit)")
}

// resolve loads the config file, if any, and applies explicitly set flags.
func (f *trainFlags) resolve(cmd *cobra.Command) (config.File, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return cfg, err
		}
		slog.Debug("Loaded config", "path", f.configPath)
	}

	flags := cmd.Flags()
	if flags.Changed("data") || cfg.Data == "" {
		cfg.Data = f.data
	}
	if flags.Changed("train-fold") {
		cfg.TrainFold = f.trainFold
	}
	if flags.Changed("c") {
		cfg.Trainer.C = f.c
	}
	if flags.Changed("max-iter") {
		cfg.Trainer.MaxIterations = f.maxIter
	}
	if flags.Changed("tol") {
		cfg.Trainer.Tol = f.tol
	}
	if flags.Changed("loss-weight") {
		cfg.Trainer.LossWeight = f.lossWeight
	}
	if flags.Changed("shuffle") {
		cfg.Trainer.Shuffle = f.shuffle
	}
	if flags.Changed("seed") {
		cfg.Trainer.Seed = f.seed
	}
	if flags.Changed("workers") {
		cfg.Trainer.Workers = f.workers
	}
	if flags.Changed("timeout") {
		cfg.Trainer.Timeout = f.timeout
	}
	return cfg, cfg.Trainer.Validate()
}

func (c *CLI) newTrainCommand() *cobra.Command {
	var flags trainFlags

	cmd := &cobra.Command{
		Use:   "train <modelfile>",
		Short: "Train a chain CRF on a letters dataset",
		Args:  cobra.ExactArgs(1),
		Example: `  lettercrf train model.json --data letters.json
  lettercrf train model.json --config train.yaml --c 0.5 -v`,
		RunE: func(cmd *cobra.Command, args []string) error {
			modelPath := args[0]
			cfg, err := flags.resolve(cmd)
			if err != nil {
				return err
			}
			slog.Info("Training chain CRF", "data", cfg.Data, "fold", cfg.TrainFold, "C", cfg.Trainer.C, "output", modelPath)
			start := time.Now()
			tagger, err := lettercrf.Train(cmd.Context(), cfg.Data, &lettercrf.TrainConfig{
				Trainer:   cfg.Trainer,
				TrainFold: cfg.TrainFold,
				Verbose:   c.verbose,
			})
			if tagger == nil {
				return err
			}
			slog.Debug("Training completed", "duration", time.Since(start))
			if saveErr := tagger.Save(modelPath); saveErr != nil {
				return saveErr
			}
			slog.Info("Model saved", "path", modelPath)
			if errors.Is(err, context.DeadlineExceeded) {
				slog.Warn("Training stopped at the time limit", "timeout", cfg.Trainer.Timeout)
				return nil
			}
			return err
		},
	}

	flags.register(cmd)
	return cmd
}
