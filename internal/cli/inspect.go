package cli

import (
	"fmt"
	"sort"

	"github.com/happyhackingspace/lettercrf"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"
)

type transitionPair struct {
	prev, next int
	weight     float64
	prob       float64
}

func (c *CLI) newInspectCommand() *cobra.Command {
	var top int
	var raw bool

	cmd := &cobra.Command{
		Use:   "inspect [modelfile]",
		Short: "Show the learned letter transitions of a model",
		Args:  cobra.MaximumNArgs(1),
		Example: `  lettercrf inspect model.json --top 20
  lettercrf inspect model.json --raw`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var modelPath string
			if len(args) == 1 {
				modelPath = args[0]
			}
			tagger, err := loadOrDownloadModel(modelPath)
			if err != nil {
				return err
			}
			return printTransitions(tagger, top, raw)
		},
	}

	cmd.Flags().IntVar(&top, "top", 15, "Number of strongest transitions to list")
	cmd.Flags().BoolVar(&raw, "raw", false, "Also print the full transition weight matrix")
	return cmd
}

func printTransitions(tagger *lettercrf.Tagger, top int, raw bool) error {
	model := tagger.Model()
	weights := model.TransitionMatrix()
	if raw {
		pterm.DefaultSection.Println("Transition weights (rows = previous letter)")
		fmt.Printf("%v\n\n", mat.Formatted(weights, mat.Squeeze()))
	}

	probs := model.TransitionProbabilities()
	K := model.NumLabels
	pairs := make([]transitionPair, 0, K*K)
	for i := range K {
		for j := range K {
			pairs = append(pairs, transitionPair{i, j, weights.At(i, j), probs.At(i, j)})
		}
	}
	sort.SliceStable(pairs, func(a, b int) bool { return pairs[a].prob > pairs[b].prob })
	if top > 0 && len(pairs) > top {
		pairs = pairs[:top]
	}

	pterm.DefaultSection.Println("Most likely preceding letters")
	data := pterm.TableData{{"pair", "weight", "P(prev | next)"}}
	for _, p := range pairs {
		data = append(data, []string{
			fmt.Sprintf("%s after %s", model.Labels.Name(p.next), model.Labels.Name(p.prev)),
			fmt.Sprintf("%.4f", p.weight),
			fmt.Sprintf("%.3f", p.prob),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
