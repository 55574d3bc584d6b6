package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/arturoeanton/go-rag-chat-ollama/pkg/client"
)

var (
	serverURL string
	token     string
)

var rootCmd = &cobra.Command{
	Use:           "ragctl",
	Short:         "Command-line client for the RAG chat server",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("RAG_SERVER", "http://localhost:3001"), "server base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("RAG_TOKEN"), "session token (a new session is created when empty)")
}

func newClient(opts ...client.Option) *client.Client {
	if token != "" {
		opts = append(opts, client.WithToken(token))
	}
	return client.New(serverURL, opts...)
}

// ensureSession creates a session when no token was given and reports it
// so that later invocations can reuse it.
func ensureSession(cmd *cobra.Command, c *client.Client) error {
	if c.Token() != "" {
		return nil
	}
	sess, err := c.NewSession(cmd.Context())
	if err != nil {
		return err
	}
	cmd.PrintErrf("session %s (export RAG_TOKEN=%s)\n", sess.ID, sess.Token)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
