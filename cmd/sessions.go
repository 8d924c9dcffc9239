package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/solsticeworks/scene-pilot/internal/chat"
	"github.com/solsticeworks/scene-pilot/internal/config"
	"github.com/solsticeworks/scene-pilot/internal/session"
)

var flagSessionsLimit int

func init() {
	sessionsListCmd.Flags().IntVar(&flagSessionsLimit, "limit", 20, "Max sessions to show")
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsExportCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage saved assistant sessions",
	Long: `Saved sessions live in a local SQLite database.

Examples:
  scene-pilot sessions list
  scene-pilot sessions export 3f2a > scene-chat.json
  scene-pilot sessions delete 3f2a`,
}

func openStoreOrDie() session.Store {
	dataDir, err := config.GetDataDir()
	if err != nil {
		fatalf("%v", err)
	}
	store, err := session.NewSQLiteStore(filepath.Join(dataDir, "sessions.db"))
	if err != nil {
		fatalf("%v", err)
	}
	return store
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved sessions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := openStoreOrDie()
		defer store.Close()

		sessions, err := store.List(cmd.Context(), flagSessionsLimit)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No saved sessions.")
			return nil
		}
		for _, s := range sessions {
			name := s.Name
			if name == "" {
				name = s.Summary
			}
			fmt.Printf("%s  %s  %-10s %-14s turns=%-3d %s\n",
				s.ID[:8],
				s.UpdatedAt.Local().Format("2006-01-02 15:04"),
				s.Provider, s.Model, s.UserTurns, name)
		}
		return nil
	},
}

var sessionsExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export a session as a history JSON document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := openStoreOrDie()
		defer store.Close()

		record, err := store.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		msgs, err := store.Messages(cmd.Context(), record.ID)
		if err != nil {
			return err
		}
		data, err := chat.MarshalHistory(record.Model, msgs)
		if err != nil {
			return err
		}
		os.Stdout.Write(data)
		fmt.Println()
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a saved session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := openStoreOrDie()
		defer store.Close()

		record, err := store.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := store.Delete(cmd.Context(), record.ID); err != nil {
			return err
		}
		fmt.Printf("Deleted session %s (%s)\n", record.ID[:8], record.UpdatedAt.Local().Format(time.DateTime))
		return nil
	},
}
