// ABOUTME: delete commands: soft-delete a project or a context entry
// ABOUTME: The current system is recorded as the actor of every delete

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/2389/coven-context/internal/tools"
)

// NewDeleteCommand creates the delete command and its subcommands.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Soft-delete projects and context entries",
	}
	cmd.AddCommand(newDeleteProjectCommand(rootOpts))
	cmd.AddCommand(newDeleteContextCommand(rootOpts))
	return cmd
}

func newDeleteProjectCommand(rootOpts *RootOptions) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "project <name>",
		Short: "Delete a project with its contexts, handoffs and role assignments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := rootOpts.open(ctx, cmd, true)
			if err != nil {
				return err
			}
			defer sess.Close()

			actor, err := sess.store.CurrentSystemID(ctx)
			if err != nil {
				return err
			}
			res, err := sess.store.SoftDeleteProject(ctx, args[0], actor, confirm)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), tools.RenderProjectDeleted(res))
			return nil
		},
	}

	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm the deletion")
	return cmd
}

func newDeleteContextCommand(rootOpts *RootOptions) *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "context <key>",
		Short: "Delete a context entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := rootOpts.open(ctx, cmd, true)
			if err != nil {
				return err
			}
			defer sess.Close()

			actor, err := sess.store.CurrentSystemID(ctx)
			if err != nil {
				return err
			}
			res, err := sess.store.SoftDeleteContext(ctx, args[0], project, actor)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), tools.RenderContextDeleted(res, project))
			return nil
		},
	}

	cmd.Flags().StringVarP(&project, "project", "p", "", "project the entry belongs to")
	return cmd
}
