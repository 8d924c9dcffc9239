package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/solsticeworks/scene-pilot/internal/config"
)

var Version = "dev"

var (
	flagProvider string
	flagModel    string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagProvider, "provider", "", "Provider to use (openai, local)")
	rootCmd.PersistentFlags().StringVar(&flagModel, "model", "", "Model to use (openai provider only)")
}

var rootCmd = &cobra.Command{
	Use:   "scene-pilot",
	Short: "In-editor assistant for the scene authoring studio",
	Long: `scene-pilot is the conversational assistant core of the authoring studio.
It talks to an LLM, streams responses, and lets the model drive the editor
through configured tool servers.

Examples:
  scene-pilot chat                      # interactive assistant
  scene-pilot chat --resume 3f2a        # pick up a saved session
  scene-pilot tools list                # show configured tool servers
  scene-pilot sessions list             # list saved sessions`,
	Version:           Version,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.ApplyOverrides(flagProvider, flagModel)
	return cfg, nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
