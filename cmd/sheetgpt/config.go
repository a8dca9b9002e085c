package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/maiteclab/sheetgpt/internal/api"
	"github.com/maiteclab/sheetgpt/internal/config"
	"github.com/maiteclab/sheetgpt/internal/home"
	"github.com/maiteclab/sheetgpt/internal/server/endpoints"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the sheetgpt configuration",
	Long: `Manage the sheetgpt configuration.

Settings are read from --config, ~/.sheetgpt/config.yaml or ./config.yaml,
then overridden by SHEETGPT_* environment variables (for example
SHEETGPT_RUN_WORKERS=4). API keys may reference environment variables
as ${OPENAI_API_KEY}.`,
}

var configInitForce bool

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config file with every default",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" {
			h, err := home.New(homeDir)
			if err != nil {
				return err
			}
			path = h.ConfigPath()
		}

		if _, err := os.Stat(path); err == nil && !configInitForce {
			return fmt.Errorf("%w: %s already exists (use --force to overwrite)", errUsage, path)
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the active configuration with API keys masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		cm, err := loadConfig()
		if err != nil {
			return err
		}
		return api.Output(endpoints.SettingsResponse{
			ConfigFile: cm.ConfigFileUsed(),
			Settings:   cm.Get().Redacted(),
		})
	},
}

// KeyInfo describes one configuration key.
type KeyInfo struct {
	Key         string `json:"key" yaml:"key"`
	Default     any    `json:"default" yaml:"default"`
	Description string `json:"description" yaml:"description"`
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List configuration keys with their defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		entries := config.DefaultEntries()
		keys := make([]KeyInfo, 0, len(entries))
		for _, e := range entries {
			keys = append(keys, KeyInfo{Key: e.Key, Default: e.Value, Description: e.Description})
		}
		return api.Output(keys)
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configKeysCmd)
	rootCmd.AddCommand(configCmd)
}
