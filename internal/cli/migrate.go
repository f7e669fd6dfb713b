// ABOUTME: migrate commands: apply pending steps, show status, roll back
// ABOUTME: Status and rollback open the store without migrating it first

package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-context/internal/store"
	"github.com/2389/coven-context/internal/tools"
)

// NewMigrateCommand creates the migrate command and its subcommands.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := rootOpts.open(cmd.Context(), cmd, false)
			if err != nil {
				return err
			}
			defer sess.Close()

			applied, err := sess.store.RunPendingMigrations(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(applied) == 0 {
				fmt.Fprintln(out, "Schema is up to date.")
				return nil
			}
			color.New(color.FgGreen).Fprintf(out, "Applied %d migration(s): %v\n", len(applied), applied)
			return nil
		},
	}

	cmd.AddCommand(newMigrateStatusCommand(rootOpts))
	cmd.AddCommand(newMigrateDownCommand(rootOpts))
	return cmd
}

func newMigrateStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := rootOpts.open(cmd.Context(), cmd, false)
			if err != nil {
				return err
			}
			defer sess.Close()

			st, err := sess.store.MigrationStatus(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), tools.RenderMigrationStatus(st))
			return nil
		},
	}
}

func newMigrateDownCommand(rootOpts *RootOptions) *cobra.Command {
	var target int
	var confirm bool

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll the schema back to a target version",
		Long: `Run down steps newest first until the schema is at --to.

Rolling back past the soft-delete step drops deletion metadata and the
deletion queue. Requires --confirm.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return store.NewError(store.CodeValidation, "rollback requires --confirm")
			}
			sess, err := rootOpts.open(cmd.Context(), cmd, false)
			if err != nil {
				return err
			}
			defer sess.Close()

			migrator, err := sess.store.Migrator()
			if err != nil {
				return err
			}
			reverted, err := migrator.Rollback(cmd.Context(), target)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(reverted) == 0 {
				fmt.Fprintf(out, "Schema already at or below version %d.\n", target)
				return nil
			}
			color.New(color.FgYellow).Fprintf(out, "Rolled back %d migration(s): %v\n", len(reverted), reverted)
			return nil
		},
	}

	cmd.Flags().IntVar(&target, "to", 0, "target schema version")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm the rollback")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
