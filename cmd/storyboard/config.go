package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aimikata/storyboard/internal/api"
	"github.com/aimikata/storyboard/internal/config"
	"github.com/aimikata/storyboard/internal/home"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
	Long: `Configuration is read from ./config.yaml, then ~/.storyboard/config.yaml.
Any key can be overridden with an environment variable: dots become
underscores under the STORYBOARD_ prefix, e.g.
STORYBOARD_GENERATION_CONCURRENCY=1.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config to the home directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}
		if h.ConfigExists() && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", h.ConfigPath())
		}
		if err := config.WriteDefault(h.ConfigPath()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", h.ConfigPath())
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys [prefix]",
	Short: "List documented keys and their defaults",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix := ""
		if len(args) == 1 {
			prefix = args[0]
		}
		entries := make([]config.Entry, 0)
		for _, key := range config.Keys(prefix) {
			entries = append(entries, *config.GetDefault(key))
		}
		return api.Output(entries)
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the effective value of a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cm, err := loadEnv()
		if err != nil {
			return err
		}
		v, err := cm.Value(args[0])
		if err != nil {
			return err
		}
		return api.Output(v)
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file in use",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cm, err := loadEnv()
		if err != nil {
			return err
		}
		f := cm.ConfigFile()
		if f == "" {
			fmt.Fprintln(os.Stderr, "no config file found, using defaults")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), f)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configKeysCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}
