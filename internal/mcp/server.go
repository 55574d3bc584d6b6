package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/domain"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/port"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/service"
)

// Server implements the Model Context Protocol (MCP) server.
// It exposes retrieval and the chat job lifecycle to external agents.
type Server struct {
	retrieval *service.RetrievalEngine
	chat      *service.ChatService
	jobs      *service.JobCoordinator
	sessions  *service.SessionService
	port      string
}

// NewServer creates a new MCP server.
func NewServer(retrieval *service.RetrievalEngine, chat *service.ChatService, jobs *service.JobCoordinator, sessions *service.SessionService, port string) *Server {
	return &Server{
		retrieval: retrieval,
		chat:      chat,
		jobs:      jobs,
		sessions:  sessions,
		port:      port,
	}
}

// Tool represents an MCP tool definition.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
	codeUnauthorized   = -32001
)

// Handler returns the MCP routes without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", s.handleRPC)
	mux.HandleFunc("/mcp/sse", s.handleSSE)
	return mux
}

// Start begins the MCP server on the configured port.
func (s *Server) Start() error {
	slog.Info("MCP server starting", "port", s.port)
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, nil, codeParseError, "parse error")
		return
	}

	var result any
	var err error

	switch req.Method {
	case "tools/list":
		result = s.listTools()
	case "tools/call":
		user, authErr := s.authenticate(r)
		if authErr != nil {
			writeError(w, req.ID, codeUnauthorized, authErr.Error())
			return
		}
		result, err = s.callTool(r.Context(), user, req.Params)
	case "initialize":
		result = map[string]any{
			"protocolVersion": "2024-11-05",
			"serverInfo": map[string]string{
				"name":    "go-rag-chat",
				"version": "1.0.0",
			},
			"capabilities": map[string]any{
				"tools": map[string]bool{"listChanged": false},
			},
		}
	default:
		writeError(w, req.ID, codeMethodNotFound, "method not found")
		return
	}

	if err != nil {
		code := codeInternal
		if errors.Is(err, port.ErrValidation) {
			code = codeInvalidParams
		}
		writeError(w, req.ID, code, err.Error())
		return
	}

	writeResult(w, req.ID, result)
}

// authenticate resolves the bearer token of a tools/call request.
func (s *Server) authenticate(r *http.Request) (*domain.UserContext, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return nil, port.ErrUnauthorized
	}
	return s.sessions.Authenticate(token)
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "event: endpoint\ndata: /mcp\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	<-r.Context().Done()
}

func (s *Server) listTools() map[string]any {
	tools := []Tool{
		{
			Name:        "retrieve_context",
			Description: "Rank the caller's document and history fragments against a query",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "description": "Search query"},
					"selected_files": {"type": "array", "items": {"type": "string"}, "description": "Uploaded file names to search"},
					"k": {"type": "integer", "description": "Maximum number of fragments"}
				},
				"required": ["query"]
			}`),
		},
		{
			Name:        "submit_chat",
			Description: "Submit a chat turn for background generation and return a job id",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"chat_id": {"type": "string", "description": "Existing chat id, empty for a new chat"},
					"message": {"type": "string", "description": "User message"},
					"selected_files": {"type": "array", "items": {"type": "string"}}
				},
				"required": ["message"]
			}`),
		},
		{
			Name:        "poll_job",
			Description: "Read the state of a submitted chat job",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"job_id": {"type": "string", "description": "Job id returned by submit_chat"}
				},
				"required": ["job_id"]
			}`),
		},
	}
	return map[string]any{"tools": tools}
}

func (s *Server) callTool(ctx context.Context, user *domain.UserContext, params json.RawMessage) (any, error) {
	var req struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("%w: invalid params: %w", port.ErrValidation, err)
	}

	switch req.Name {
	case "retrieve_context":
		var args struct {
			Query         string   `json:"query"`
			SelectedFiles []string `json:"selected_files"`
			K             int      `json:"k"`
		}
		if err := json.Unmarshal(req.Arguments, &args); err != nil {
			return nil, fmt.Errorf("%w: invalid arguments: %w", port.ErrValidation, err)
		}

		scope := domain.RetrievalScope{OwnerID: user.UserID}
		for _, name := range args.SelectedFiles {
			scope.Paths = append(scope.Paths, domain.DocumentPath(user.UserID, name))
		}
		ranked, err := s.retrieval.Retrieve(ctx, args.Query, scope, args.K)
		if err != nil {
			return nil, err
		}
		texts := make([]string, len(ranked))
		for i, r := range ranked {
			texts[i] = r.Content
		}
		return map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": strings.Join(texts, "\n\n")},
			},
			"sources": service.SourceRefs(ranked),
		}, nil

	case "submit_chat":
		var args struct {
			ChatID        string   `json:"chat_id"`
			Message       string   `json:"message"`
			SelectedFiles []string `json:"selected_files"`
		}
		if err := json.Unmarshal(req.Arguments, &args); err != nil {
			return nil, fmt.Errorf("%w: invalid arguments: %w", port.ErrValidation, err)
		}

		async := true
		resp, err := s.chat.Chat(ctx, service.ChatRequest{
			ChatID:        args.ChatID,
			OwnerID:       user.UserID,
			Messages:      []domain.Message{{Role: domain.RoleUser, Content: domain.TextContent(args.Message)}},
			SelectedFiles: args.SelectedFiles,
			Async:         &async,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": resp.Job.ID},
			},
			"job_id":  resp.Job.ID,
			"chat_id": resp.ChatID,
		}, nil

	case "poll_job":
		var args struct {
			JobID string `json:"job_id"`
		}
		if err := json.Unmarshal(req.Arguments, &args); err != nil {
			return nil, fmt.Errorf("%w: invalid arguments: %w", port.ErrValidation, err)
		}

		st, err := s.jobs.Poll(ctx, user.UserID, args.JobID)
		if err != nil {
			return nil, err
		}
		text := string(st.State)
		switch {
		case st.Result != nil:
			text = st.Result.Response
		case st.Error != "":
			text = st.Error
		}
		return map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": text},
			},
			"status": st,
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown tool: %s", port.ErrValidation, req.Name)
	}
}

func writeResult(w http.ResponseWriter, id any, result any) {
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, id any, code int, message string) {
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
