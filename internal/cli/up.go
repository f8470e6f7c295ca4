package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/creativeprojects/go-selfupdate"
	"github.com/happyhackingspace/lettercrf"
	"github.com/spf13/cobra"
)

func (c *CLI) newUpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Self-update to the latest version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.selfUpdate(cmd.Context())
		},
	}
}

func (c *CLI) selfUpdate(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	v := c.version
	if v == "dev" {
		v = "0.0.0"
	}

	updater, err := selfupdate.NewUpdater(selfupdate.Config{})
	if err != nil {
		return err
	}

	latest, found, err := updater.DetectLatest(ctx, selfupdate.ParseSlug("happyhackingspace/lettercrf"))
	if err != nil {
		return fmt.Errorf("detect latest version: %w", err)
	}
	if !found {
		return fmt.Errorf("no release found")
	}

	if latest.LessOrEqual(v) {
		fmt.Printf("Already up to date (%s)\n", c.version)
		return nil
	}

	slog.Info("Updating", "from", c.version, "to", latest.Version())

	exe, err := os.Executable()
	if err != nil {
		return err
	}

	if err := updater.UpdateTo(ctx, latest, exe); err != nil {
		return fmt.Errorf("update: %w", err)
	}

	fmt.Printf("Updated to %s\n", latest.Version())

	return refreshCachedModel()
}

// refreshCachedModel replaces the cached model only when the download
// loads as a valid model, so a bad file never shadows a working one.
func refreshCachedModel() error {
	dest := filepath.Join(lettercrf.ModelDir(), "model.json")
	if _, err := os.Stat(dest); err != nil {
		return nil
	}
	slog.Info("Updating cached model")
	tmp := dest + ".new"
	if err := download(modelURL, tmp); err != nil {
		slog.Warn("Model update failed", "error", err)
		return nil
	}
	if _, err := lettercrf.Load(tmp); err != nil {
		_ = os.Remove(tmp)
		slog.Warn("Downloaded model is invalid, keeping cached one", "error", err)
		return nil
	}
	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("replace cached model: %w", err)
	}
	slog.Info("Model updated", "path", dest)

	return nil
}
