package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aimikata/storyboard/internal/api"
	"github.com/aimikata/storyboard/internal/config"
	"github.com/aimikata/storyboard/internal/home"
	"github.com/aimikata/storyboard/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "storyboard",
	Short: "Batch image generation for comic and explainer scripts",
	Long: `Storyboard turns a page script into generated page images.

A script is a CSV or TSV file with one row per page: the page number, a
template name and the prompt. Bracketed names in a prompt, like [Alex],
attach the matching character image from ~/.storyboard/assets.

Storyboard can also:
  - Allocate page roles, volumes and chapters for a new script
  - Write page scripts from a brief, repairing truncated responses
  - Track the daily request count against free-tier ceilings`,
	Version:       version.GitRelease,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := api.ParseOutputFormat(outputFormat); err != nil {
			return err
		}
		api.SetOutputFormat(outputFormat)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.storyboard/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "storyboard home directory (default: ~/.storyboard)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "O", "yaml", "output format: yaml, json or text",
	)
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(versionCmd)
}

// newLogger returns the text logger shared by local commands and the server.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadEnv resolves the home directory, loads its .env file and builds the
// config manager. Config is searched in the working directory, then home.
func loadEnv() (*home.Dir, *config.Manager, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, nil, err
	}
	if err := config.LoadDotEnv(".env", h.EnvPath()); err != nil {
		return nil, nil, err
	}
	cm, err := config.NewManager(cfgFile, h.Path())
	if err != nil {
		return nil, nil, err
	}
	return h, cm, nil
}
