package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file...]",
	Short: "Upload documents for retrieval",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	c := newClient()
	if err := ensureSession(cmd, c); err != nil {
		return err
	}

	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		out, err := c.Upload(cmd.Context(), filepath.Base(path), data)
		if err != nil {
			return err
		}
		cmd.Printf("%s: %d fragments\n", out.Pathname, out.Fragments)
	}
	return nil
}
