package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/solsticeworks/scene-pilot/internal/config"
)

func init() {
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		// Never print the keys themselves.
		display := *cfg
		if display.OpenAI.APIKey != "" {
			display.OpenAI.APIKey = "(set)"
		}
		if display.Local.APIKey != "" {
			display.Local.APIKey = "(set)"
		}

		dir, err := config.GetConfigDir()
		if err == nil {
			fmt.Fprintf(os.Stderr, "# config dir: %s\n", dir)
		}
		out, err := yaml.Marshal(display)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}
