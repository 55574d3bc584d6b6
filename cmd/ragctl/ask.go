package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/domain"
	"github.com/arturoeanton/go-rag-chat-ollama/pkg/client"
)

var (
	askChatID  string
	askFiles   []string
	askAsync   bool
	askMaxWait time.Duration
	askSources bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question grounded in your uploaded files",
	Long: `Sends one chat turn. With --async the turn runs as a background job
and ragctl polls for it until it resolves or --max-wait elapses.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askChatID, "chat", "", "continue an existing chat")
	askCmd.Flags().StringSliceVarP(&askFiles, "file", "f", nil, "uploaded file names to search")
	askCmd.Flags().BoolVar(&askAsync, "async", false, "run as a background job")
	askCmd.Flags().DurationVar(&askMaxWait, "max-wait", client.DefaultMaxWait, "how long to wait for an async answer")
	askCmd.Flags().BoolVar(&askSources, "sources", false, "print the fragments the answer was grounded on")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	c := newClient(client.WithPolling(0, askMaxWait))
	if err := ensureSession(cmd, c); err != nil {
		return err
	}

	in := client.ChatInput{
		ChatID:        askChatID,
		Messages:      []domain.Message{{Role: domain.RoleUser, Content: domain.TextContent(strings.Join(args, " "))}},
		SelectedFiles: askFiles,
	}
	if cmd.Flags().Changed("async") {
		in.Async = &askAsync
	}

	out, err := c.Chat(cmd.Context(), in)
	if err != nil {
		return err
	}

	answer, sources := out.Response, out.Sources
	if out.JobID != "" {
		cmd.PrintErrf("job %s submitted\n", out.JobID)
		st, err := c.Await(cmd.Context(), out.JobID)
		if errors.Is(err, client.ErrStillProcessing) {
			return fmt.Errorf("job %s: %w (check with: ragctl jobs get %s)", out.JobID, err, out.JobID)
		}
		if err != nil {
			return err
		}
		if st.State == domain.JobFailed {
			return fmt.Errorf("job %s failed: %s", out.JobID, st.Error)
		}
		answer, sources = st.Result.Response, st.Result.Sources
	}

	cmd.Println(answer)
	if askSources {
		for i, s := range sources {
			origin := s.SourcePath
			if origin == "" {
				origin = "chat history"
			}
			cmd.Printf("  [%d] %s %s (%s %.3f)\n", i+1, s.FragmentID, origin, s.Policy, s.Score)
		}
	}
	cmd.PrintErrf("chat %s\n", out.ChatID)
	return nil
}
