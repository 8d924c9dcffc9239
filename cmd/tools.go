package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/solsticeworks/scene-pilot/internal/llm"
	"github.com/solsticeworks/scene-pilot/internal/toolserver"
)

func init() {
	toolsCmd.AddCommand(toolsListCmd)
	toolsCmd.AddCommand(toolsTestCmd)
	toolsCmd.AddCommand(toolsCallCmd)
	rootCmd.AddCommand(toolsCmd)
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Inspect and test the configured tool servers",
	Long: `Tool servers extend the assistant with editor capabilities.

Examples:
  scene-pilot tools list                       # configured servers
  scene-pilot tools test                       # start servers, list tools
  scene-pilot tools call scene_add '{"a":1}'   # invoke a tool directly`,
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured tool servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		tcfg, err := loadToolConfig()
		if err != nil {
			return err
		}
		if len(tcfg.Servers) == 0 {
			fmt.Println("No tool servers configured.")
			return nil
		}
		for _, name := range tcfg.ServerNames() {
			s := tcfg.Servers[name]
			switch s.TransportType() {
			case "http":
				fmt.Printf("%-20s http  %s\n", name, s.URL)
			default:
				fmt.Printf("%-20s stdio %s %v\n", name, s.Command, s.Args)
			}
		}
		return nil
	},
}

var toolsTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Start every server and list the discovered tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := loadToolManager()
		if err != nil {
			return err
		}
		defer manager.StopAll()

		ok, tools := manager.DiscoverTools(cmd.Context())
		for _, t := range tools {
			fmt.Printf("%-28s %s\n", t.Name, t.Description)
		}
		if !ok {
			return fmt.Errorf("one or more servers failed to start")
		}
		fmt.Printf("\n%d tools available\n", len(tools))
		return nil
	},
}

var toolsCallCmd = &cobra.Command{
	Use:   "call <tool> [json-args]",
	Short: "Invoke a tool directly",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		arguments := "{}"
		if len(args) == 2 {
			arguments = args[1]
		}
		if !json.Valid([]byte(arguments)) {
			return fmt.Errorf("arguments must be valid JSON")
		}

		manager, err := loadToolManager()
		if err != nil {
			return err
		}
		defer manager.StopAll()
		manager.DiscoverTools(cmd.Context())

		result := manager.ExecuteTool(cmd.Context(), llm.ToolCall{Name: args[0], Arguments: arguments})
		fmt.Println(result.Content)
		if result.IsError {
			os.Exit(1)
		}
		return nil
	},
}

func loadToolConfig() (*toolserver.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	installRoot, _ := os.Executable()
	installRoot = filepath.Dir(installRoot)
	workspace, _ := os.Getwd()
	return toolserver.LoadConfig(cfg.Tools.ServersFile, toolserver.DefaultVars(installRoot, workspace))
}

func loadToolManager() (*toolserver.Manager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	tcfg, err := loadToolConfig()
	if err != nil {
		return nil, err
	}
	if len(tcfg.Servers) == 0 {
		return nil, fmt.Errorf("no tool servers configured in %s", cfg.Tools.ServersFile)
	}
	return toolserver.NewManager(tcfg, time.Duration(cfg.Tools.CallTimeout)*time.Second), nil
}
