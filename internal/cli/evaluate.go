package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/happyhackingspace/lettercrf"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func (c *CLI) newEvaluateCommand() *cobra.Command {
	var flags trainFlags
	var baseline bool

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Train on one fold and report letter and word accuracy on the rest",
		Example: `  lettercrf evaluate --data letters.json
  lettercrf evaluate --data letters.json --train-fold 2 --baseline=false`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.resolve(cmd)
			if err != nil {
				return err
			}
			slog.Info("Evaluating", "data", cfg.Data, "train-fold", cfg.TrainFold, "baseline", baseline)
			start := time.Now()
			result, err := lettercrf.Evaluate(cmd.Context(), cfg.Data, &lettercrf.EvalConfig{
				Trainer:   cfg.Trainer,
				TrainFold: cfg.TrainFold,
				Baseline:  baseline,
				Verbose:   c.verbose,
			})
			if err != nil {
				return err
			}
			slog.Debug("Evaluation completed", "duration", time.Since(start))
			return printEvalResult(result, baseline)
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&baseline, "baseline", true, "Also train a model without transitions")
	return cmd
}

func printEvalResult(r *lettercrf.EvalResult, baseline bool) error {
	status := "max passes reached"
	if r.Converged {
		status = "converged"
	}
	data := pterm.TableData{
		{"metric", "value"},
		{"training words", fmt.Sprintf("%d", r.TrainWords)},
		{"passes", fmt.Sprintf("%d (%s)", r.Passes, status)},
		{"duality gap", fmt.Sprintf("%.5f", r.Gap)},
		{"train letter accuracy", percent(r.TrainAccuracy)},
		{"test letter accuracy", fmt.Sprintf("%s (%d/%d)", percent(r.LetterAccuracy), r.LetterCorrect, r.LetterTotal)},
		{"test word accuracy", fmt.Sprintf("%s (%d/%d)", percent(r.WordAccuracy), r.WordCorrect, r.WordTotal)},
	}
	if baseline {
		data = append(data, []string{"unary-only letter accuracy",
			fmt.Sprintf("%s (%d/%d)", percent(r.BaselineAccuracy), r.BaselineCorrect, r.LetterTotal)})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}
