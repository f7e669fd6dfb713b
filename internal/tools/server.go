// ABOUTME: MCP tool server exposing the context store over stdio or streamable HTTP
// ABOUTME: Wraps every handler with request ids, logging and error classification

package tools

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/2389/coven-context/internal/auth"
	"github.com/2389/coven-context/internal/store"
)

// errForbidden is returned when an HTTP caller without the admin scope asks
// for a destructive tool.
var errForbidden = errors.New("admin scope required for destructive tools")

// Config holds configuration for the tool server.
type Config struct {
	Store   store.ContextStore
	Logger  *slog.Logger
	Version string
	Now     func() time.Time // defaults to time.Now
}

// Server binds context store operations to MCP tool calls.
type Server struct {
	store  store.ContextStore
	logger *slog.Logger
	now    func() time.Time
	mcp    *server.MCPServer
}

// NewServer creates the tool server and registers every tool.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		store:  cfg.Store,
		logger: logger.With("component", "tools"),
		now:    now,
	}
	s.mcp = server.NewMCPServer(
		"coven-context",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	for _, t := range s.tools() {
		s.mcp.AddTool(t.def, s.wrap(t.def.Name, t.destructive, t.handle))
	}
	return s, nil
}

// MCP returns the underlying protocol server.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// ServeStdio serves the tool protocol over in/out until ctx is done or in closes.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(&slogWriter{logger: s.logger}, "", 0))
	s.logger.Info("serving tools on stdio")
	err := stdio.Listen(ctx, in, out)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// RegisterRoutes mounts the streamable HTTP endpoint at /mcp behind bearer
// authentication, plus an unauthenticated /health endpoint.
func (s *Server) RegisterRoutes(mux *http.ServeMux, verifier auth.TokenVerifier) {
	streamable := server.NewStreamableHTTPServer(s.mcp,
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if a := auth.FromContext(r.Context()); a != nil {
				return auth.WithAuth(ctx, a)
			}
			return ctx
		}),
	)
	protected := auth.HTTPAuthMiddleware(verifier, s.logger)(streamable)
	mux.Handle("/mcp", protected)
	mux.Handle("/mcp/", protected)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
}

// handlerFunc is the shape of every tool implementation: decoded arguments in,
// plain-text report out.
type handlerFunc func(ctx context.Context, args arguments) (string, error)

// wrap adapts a handlerFunc to mcp-go. Classified store errors become tool
// error results; anything else is reported as a storage failure.
func (s *Server) wrap(name string, destructive func(arguments) bool, fn handlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		logger := s.logger.With("tool", name, "request_id", uuid.NewString())
		if a := auth.FromContext(ctx); a != nil {
			logger = logger.With("caller", a.Subject)
		}

		args := arguments(req.GetArguments())
		if args == nil {
			args = arguments{}
		}

		if destructive != nil && destructive(args) && !auth.AllowsDestructive(ctx) {
			logger.Warn("destructive tool refused")
			return mcp.NewToolResultError("[FORBIDDEN] " + errForbidden.Error()), nil
		}

		text, err := fn(ctx, args)
		if err != nil {
			level := slog.LevelInfo
			if !store.Recoverable(err) {
				level = slog.LevelError
			}
			logger.Log(ctx, level, "tool failed", "code", store.CodeOf(err), "error", err, "duration", time.Since(start))
			return mcp.NewToolResultError(FormatError(err)), nil
		}

		logger.Debug("tool completed", "duration", time.Since(start))
		return mcp.NewToolResultText(text), nil
	}
}

// slogWriter routes the stdio transport's error log into slog.
type slogWriter struct {
	logger *slog.Logger
}

func (w *slogWriter) Write(p []byte) (int, error) {
	w.logger.Warn("stdio transport", "message", string(p))
	return len(p), nil
}

const instructions = `coven-context stores project context for AI assistants.

Deletes are soft: deleted projects and context entries stay recoverable for 7 days
before an operator purges them. delete_project requires confirm: true and refuses
while any system has an active role on the project. cleanup_old_data previews by
default; pass dry_run: false to delete.`
