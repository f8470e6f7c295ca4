package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/happyhackingspace/lettercrf"
	"github.com/happyhackingspace/lettercrf/internal/storage"
	"github.com/spf13/cobra"
)

const modelURL = "https://huggingface.co/datasets/happyhackingspace/lettercrf/resolve/main/model.json"

// runResult is one decoded word as printed by run.
type runResult struct {
	lettercrf.WordResult
	Proba []map[string]float64 `json:"proba,omitempty"`
}

func (c *CLI) newRunCommand() *cobra.Command {
	var dataPath string
	var fold int
	var limit int
	var threshold float64
	var proba bool

	cmd := &cobra.Command{
		Use:   "run [modelfile]",
		Short: "Decode the words of a dataset and print them",
		Args:  cobra.MaximumNArgs(1),
		Example: `  # Decode the test fold with a local model
  lettercrf run model.json --data letters.json --fold 2

  # Use the cached or downloaded model
  lettercrf run --data letters.json

  # Show per-letter probabilities
  lettercrf run model.json --data letters.json --proba --threshold 0.1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var modelPath string
			if len(args) == 1 {
				modelPath = args[0]
			}

			start := time.Now()
			tagger, err := loadOrDownloadModel(modelPath)
			if err != nil {
				return err
			}
			slog.Debug("Model loaded", "duration", time.Since(start))

			opts := storage.DefaultIterOptions()
			opts.Verbose = c.verbose
			if fold > 0 {
				opts.Folds = []int{fold}
			}
			_, words, err := storage.NewStorage(dataPath).IterWords(opts)
			if err != nil {
				return err
			}
			if limit > 0 && len(words) > limit {
				words = words[:limit]
			}
			if len(words) == 0 {
				fmt.Println("No words found.")
				return nil
			}

			start = time.Now()
			features, gold := storage.Unzip(words)
			decoded, err := tagger.PredictWords(features, gold, 0)
			if err != nil {
				return err
			}
			results := make([]runResult, len(decoded))
			for i, d := range decoded {
				results[i].WordResult = d
				if !proba {
					continue
				}
				marginals, err := tagger.Marginals(features[i])
				if err != nil {
					return err
				}
				results[i].Proba = filterProba(marginals, threshold)
			}
			slog.Debug("Decoding completed", "words", len(results), "duration", time.Since(start))

			output, _ := json.MarshalIndent(results, "", "  ")
			fmt.Println(string(output))
			return nil
		},
	}

	cmd.Flags().StringVar(&dataPath, "data", "letters.json", "Path to the letters dataset")
	cmd.Flags().IntVar(&fold, "fold", 0, "Only decode words of this fold (0 = all)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Decode at most this many words (0 = all)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0.05, "Minimum probability threshold")
	cmd.Flags().BoolVar(&proba, "proba", false, "Show per-letter probabilities")
	return cmd
}

func filterProba(marginals []map[string]float64, threshold float64) []map[string]float64 {
	out := make([]map[string]float64, len(marginals))
	for i, row := range marginals {
		out[i] = make(map[string]float64)
		for label, p := range row {
			if p >= threshold {
				out[i][label] = p
			}
		}
	}
	return out
}

func loadOrDownloadModel(modelPath string) (*lettercrf.Tagger, error) {
	if modelPath != "" {
		slog.Debug("Loading model", "path", modelPath)
		return lettercrf.Load(modelPath)
	}

	tagger, err := lettercrf.New()
	if err == nil {
		return tagger, nil
	}

	dest := filepath.Join(lettercrf.ModelDir(), "model.json")
	slog.Info("Model not found, downloading", "url", modelURL, "dest", dest)
	if err := download(modelURL, dest); err != nil {
		return nil, err
	}
	return lettercrf.Load(dest)
}

// download fetches url into dest, removing partial files on failure.
func download(url, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("download %s: %w", filepath.Base(dest), err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: HTTP %d", filepath.Base(dest), resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	written, err := io.Copy(f, resp.Body)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(dest)
		return fmt.Errorf("download %s: %w", filepath.Base(dest), err)
	}
	_ = f.Close()
	slog.Info("Downloaded", "file", dest, "size", fmt.Sprintf("%.1fMB", float64(written)/1024/1024))
	return nil
}
