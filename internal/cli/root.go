// ABOUTME: Root command and shared plumbing for the coven-context CLI
// ABOUTME: Loads config, sets up logging and opens the store for each subcommand

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-context/internal/config"
	"github.com/2389/coven-context/internal/logging"
	"github.com/2389/coven-context/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Database   string // overrides database.path
	NoColor    bool

	version string
	cfg     *config.Config
}

// NewRootCommand creates the root command for the coven-context CLI.
func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{version: version}

	cmd := &cobra.Command{
		Use:           "coven-context",
		Short:         "Project context store for AI assistants",
		Long:          "coven-context keeps project context in SQLite and serves it to assistants as MCP tools.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.NoColor {
				color.NoColor = true
			}
			path := opts.ConfigPath
			if path == "" {
				path = config.Path()
			}
			cfg, err := config.LoadOrDefault(path)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if opts.Database != "" {
				cfg.Database.Path = opts.Database
			}
			opts.ConfigPath = path
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default $XDG_CONFIG_HOME/coven/context.yaml)")
	cmd.PersistentFlags().StringVar(&opts.Database, "database", "", "database path (overrides config)")
	cmd.PersistentFlags().BoolVar(&opts.NoColor, "no-color", false, "disable colored output")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}

// session is an open store plus the logger built from config.
type session struct {
	store  *store.SQLiteStore
	logger *slog.Logger
	closer io.Closer
}

func (s *session) Close() {
	if s.store != nil {
		_ = s.store.Close()
	}
	_ = s.closer.Close()
}

// open sets up logging on the command's stderr and opens the store. With
// migrate false the schema is left untouched.
func (o *RootOptions) open(ctx context.Context, cmd *cobra.Command, migrate bool) (*session, error) {
	logger, closer, err := logging.Setup(o.cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return nil, fmt.Errorf("setting up logging: %w", err)
	}

	storeOpts := []store.Option{store.WithLogger(logger)}
	var st *store.SQLiteStore
	if migrate {
		st, err = store.Open(ctx, o.cfg.Database.Driver, o.cfg.Database.Path, storeOpts...)
	} else {
		st, err = store.OpenForMaintenance(o.cfg.Database.Driver, o.cfg.Database.Path, storeOpts...)
	}
	if err != nil {
		_ = closer.Close()
		return nil, err
	}
	return &session{store: st, logger: logger, closer: closer}, nil
}

// Exit codes by error class.
const (
	ExitOK             = 0
	ExitFailure        = 1
	ExitValidation     = 2
	ExitNotFound       = 3
	ExitAlreadyDeleted = 4
	ExitPrecondition   = 5
	ExitMigration      = 6
)

// ExitCode maps an error returned by a command to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var se *store.Error
	if !errors.As(err, &se) {
		return ExitFailure
	}
	switch se.Code {
	case store.CodeValidation:
		return ExitValidation
	case store.CodeNotFound:
		return ExitNotFound
	case store.CodeAlreadyDeleted:
		return ExitAlreadyDeleted
	case store.CodePreconditionFailed:
		return ExitPrecondition
	case store.CodeMigration:
		return ExitMigration
	default:
		return ExitFailure
	}
}
