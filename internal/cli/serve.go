// ABOUTME: serve command: runs the MCP tool server over stdio or streamable HTTP
// ABOUTME: stdout is reserved for the protocol on stdio, so the banner goes to stderr

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-context/internal/auth"
	"github.com/2389/coven-context/internal/tools"
)

const banner = `
  ___ _____   _____ _ __         ___ ___  _ __ | |_ _____  _| |_
 / __/ _ \ \ / / _ \ '_ \ _____ / __/ _ \| '_ \| __/ _ \ \/ / __|
| (_| (_) \ V /  __/ | | |_____| (_| (_) | | | | ||  __/>  <| |_
 \___\___/ \_/ \___|_| |_|      \___\___/|_| |_|\__\___/_/\_\\__|
`

type serveOptions struct {
	transport string
	httpAddr  string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve context tools over MCP",
		Long: `Serve the context store as MCP tools.

The stdio transport (default) is meant to be launched by an assistant.
The http transport serves streamable HTTP at /mcp and requires a bearer
token signed with auth.jwt_secret (see the token command).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringVar(&opts.transport, "transport", "", "stdio or http (overrides config)")
	cmd.Flags().StringVar(&opts.httpAddr, "http-addr", "", "listen address for the http transport (overrides config)")
	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, rootOpts *RootOptions, opts *serveOptions) error {
	cfg := rootOpts.cfg
	if opts.transport != "" {
		cfg.Server.Transport = opts.transport
	}
	if opts.httpAddr != "" {
		cfg.Server.HTTPAddr = opts.httpAddr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	printBanner(cmd.ErrOrStderr(), rootOpts)

	sess, err := rootOpts.open(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer sess.Close()

	srv, err := tools.NewServer(tools.Config{
		Store:   sess.store,
		Logger:  sess.logger,
		Version: rootOpts.version,
	})
	if err != nil {
		return fmt.Errorf("creating tool server: %w", err)
	}

	sess.logger.Info("starting coven-context",
		"config", rootOpts.ConfigPath,
		"database", cfg.Database.Path,
		"transport", cfg.Server.Transport,
	)

	if cfg.Server.Transport == "stdio" {
		return srv.ServeStdio(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux, verifier)

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		sess.logger.Info("serving tools over http", "addr", cfg.Server.HTTPAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sess.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func printBanner(w io.Writer, rootOpts *RootOptions) {
	cfg := rootOpts.cfg
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)

	cyan.Fprint(w, banner)
	gray.Fprintf(w, "    version: %s\n\n", rootOpts.version)

	green.Fprint(w, "    ▶ ")
	fmt.Fprintf(w, "Config:    %s\n", rootOpts.ConfigPath)
	green.Fprint(w, "    ▶ ")
	fmt.Fprintf(w, "Database:  %s (%s)\n", cfg.Database.Path, cfg.Database.Driver)
	green.Fprint(w, "    ▶ ")
	if cfg.Server.Transport == "http" {
		fmt.Fprintf(w, "HTTP:      %s/mcp\n", cfg.Server.HTTPAddr)
	} else {
		fmt.Fprintln(w, "Transport: stdio")
	}
	fmt.Fprintln(w)
}
