package cli

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/happyhackingspace/lettercrf/internal/storage"
	"github.com/spf13/cobra"
)

const hfDataURL = "https://huggingface.co/datasets/happyhackingspace/lettercrf/resolve/main/letters.json"

func (c *CLI) newDataCommand() *cobra.Command {
	dataCmd := &cobra.Command{
		Use:   "data",
		Short: "Manage the letters dataset and model (download/upload via Hugging Face)",
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	var downloadFolder string
	downloadCmd := &cobra.Command{
		Use:   "download",
		Short: "Download the letters dataset and model from Hugging Face",
		Example: `  lettercrf data download
  lettercrf data download --data-folder data`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return dataDownload(downloadFolder)
		},
	}
	downloadCmd.Flags().StringVar(&downloadFolder, "data-folder", ".", "Destination folder")

	var uploadPath string
	uploadCmd := &cobra.Command{
		Use:     "upload",
		Short:   "Upload the letters dataset and model to Hugging Face",
		Example: `  lettercrf data upload --data letters.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return dataUpload(uploadPath)
		},
	}
	uploadCmd.Flags().StringVar(&uploadPath, "data", "letters.json", "Dataset file to upload")

	dataCmd.AddCommand(downloadCmd, uploadCmd)
	return dataCmd
}

func dataDownload(folder string) error {
	dataPath := filepath.Join(folder, "letters.json")
	if err := download(hfDataURL, dataPath); err != nil {
		return err
	}
	ds, err := storage.NewStorage(dataPath).Load()
	if err != nil {
		return fmt.Errorf("downloaded dataset is invalid: %w", err)
	}
	slog.Info("Dataset ready", "words", len(ds.Words), "labels", len(ds.Labels), "features", ds.NumFeatures)
	return download(modelURL, filepath.Join(folder, "model.json"))
}

func dataUpload(dataPath string) error {
	if _, err := exec.LookPath("huggingface-cli"); err != nil {
		return fmt.Errorf("huggingface-cli not found in PATH; install with: pip install huggingface_hub")
	}
	if _, err := storage.NewStorage(dataPath).Load(); err != nil {
		return fmt.Errorf("refusing to upload invalid dataset: %w", err)
	}

	uploads := [][2]string{{dataPath, "letters.json"}}
	if _, err := os.Stat("model.json"); err == nil {
		uploads = append(uploads, [2]string{"model.json", "model.json"})
	}
	for _, u := range uploads {
		slog.Info("Uploading", "file", u[0])
		cmd := exec.Command("huggingface-cli", "upload", "happyhackingspace/lettercrf", u[0], u[1], "--repo-type", "dataset")
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("upload %s: %w", u[0], err)
		}
	}
	slog.Info("Upload complete")
	return nil
}
