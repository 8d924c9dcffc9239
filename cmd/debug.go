package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/solsticeworks/scene-pilot/internal/debuglog"
)

var (
	flagDebugVerbose bool
	flagDebugTail    int
)

func init() {
	debugCmd.Flags().BoolVarP(&flagDebugVerbose, "verbose", "v", false, "Print raw JSON entries")
	debugCmd.Flags().IntVar(&flagDebugTail, "tail", 0, "Only the last N entries")
	rootCmd.AddCommand(debugCmd)
}

var debugCmd = &cobra.Command{
	Use:   "debug [logfile]",
	Short: "Show the request/event debug log",
	Long: `Reads the JSONL debug log written when debug.log_file is configured.

Without an argument, the configured log file is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		} else {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path = cfg.Debug.LogFile
		}
		if path == "" {
			return fmt.Errorf("no debug log configured; set debug.log_file or pass a path")
		}

		entries, err := debuglog.ParseFile(path)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("Debug log is empty.")
			return nil
		}
		debuglog.Format(os.Stdout, entries, debuglog.FormatOptions{
			Verbose: flagDebugVerbose,
			Tail:    flagDebugTail,
		})
		return nil
	},
}
