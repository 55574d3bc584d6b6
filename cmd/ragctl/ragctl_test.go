package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/adapter/store"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/domain"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		cleanupDryRun, cleanupKeepChats, cleanupDriver, cleanupDSN = false, false, "", ""
		token, serverURL = "", ""
		askSources = false
	})
	err := rootCmd.Execute()
	return buf.String(), err
}

func seedSQLite(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rag.db")
	s, err := store.NewSQLiteStore(path, 0)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, []domain.Fragment{
		{ID: "a", Content: "alpha", Embedding: []float32{1, 0}, SourcePath: "u/a.txt"},
		{ID: "b", Content: "beta", Embedding: []float32{0, 1}, OwnerID: "u"},
	}))
	require.NoError(t, s.SaveChat(ctx, &domain.Chat{ID: "c1", Author: "u"}))
	require.NoError(t, s.Close())
	return path
}

func TestCleanupDryRunThenPurge(t *testing.T) {
	path := seedSQLite(t)

	out, err := execute(t, "cleanup", "--driver", "sqlite", "--dsn", path, "--dry-run", "--keep-chats")
	require.NoError(t, err)
	assert.Contains(t, out, "would delete 2 fragments and 0 chats")

	cleanupDryRun, cleanupKeepChats = false, false
	out, err = execute(t, "cleanup", "--driver", "sqlite", "--dsn", path)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 2 fragments and 1 chats")

	s, err := store.NewSQLiteStore(path, 0)
	require.NoError(t, err)
	defer s.Close()
	frags, err := s.GetByOwner(context.Background(), "u")
	require.NoError(t, err)
	assert.Empty(t, frags)
}

func TestJobsGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/chat/jobs/j1", r.URL.Path)
		json.NewEncoder(w).Encode(domain.JobStatus{ID: "j1", State: domain.JobFailed, Error: "worker failure: boom"})
	}))
	defer srv.Close()

	out, err := execute(t, "jobs", "get", "j1", "--server", srv.URL, "--token", "tok")
	require.NoError(t, err)
	assert.Contains(t, out, `"state": "failed"`)
	assert.Contains(t, out, "boom")
}

func TestAskSyncCreatesSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/session", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(domain.Session{ID: "s1", Token: "tok"})
	})
	mux.HandleFunc("POST /api/v1/chat", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"chat_id":  "c1",
			"response": "The answer is 42.",
			"sources":  []domain.SourceRef{{FragmentID: "s1/notes.txt#0", SourcePath: "s1/notes.txt", Score: 2, Policy: domain.PolicyLexical}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out, err := execute(t, "ask", "what", "is", "it?", "--server", srv.URL, "--sources")
	require.NoError(t, err)
	assert.Contains(t, out, "session s1")
	assert.Contains(t, out, "The answer is 42.")
	assert.Contains(t, out, "s1/notes.txt")
}
