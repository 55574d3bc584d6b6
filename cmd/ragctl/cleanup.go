package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/adapter/store"
	"github.com/arturoeanton/go-rag-chat-ollama/pkg/config"
)

var (
	cleanupDryRun    bool
	cleanupKeepChats bool
	cleanupDriver    string
	cleanupDSN       string
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete all stored fragments and, unless kept, chats",
	Long: `Purges the fragment store directly, bypassing the server. The store is
chosen like the server chooses it (STORE_DRIVER, DATABASE_URL, SQLITE_PATH)
unless --driver and --dsn are given.`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "only report what would be deleted")
	cleanupCmd.Flags().BoolVar(&cleanupKeepChats, "keep-chats", false, "keep chat transcripts")
	cleanupCmd.Flags().StringVar(&cleanupDriver, "driver", "", "store driver (memory, sqlite, postgres)")
	cleanupCmd.Flags().StringVar(&cleanupDSN, "dsn", "", "store location")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	driver, dsn := cleanupDriver, cleanupDSN
	if driver == "" {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		driver, dsn = cfg.StoreDriver, cfg.DatabaseURL
		if driver == "sqlite" {
			dsn = cfg.SQLitePath
		}
	}

	backend, err := store.Open(driver, dsn, 0)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer backend.Close()

	stats, err := backend.Purge(cmd.Context(), cleanupKeepChats, cleanupDryRun)
	if err != nil {
		return fmt.Errorf("purge: %w", err)
	}

	verb := "deleted"
	if cleanupDryRun {
		verb = "would delete"
	}
	cmd.Printf("%s %d fragments and %d chats\n", verb, stats.Fragments, stats.Chats)
	return nil
}
