// ABOUTME: queue commands: inspect the deletion queue and purge due entries
// ABOUTME: Purging is the only path that permanently removes rows

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/coven-context/internal/store"
	"github.com/2389/coven-context/internal/tools"
)

// NewQueueCommand creates the queue command and its subcommands.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and purge the deletion queue",
	}
	cmd.AddCommand(newQueueListCommand(rootOpts))
	cmd.AddCommand(newQueuePurgeCommand(rootOpts))
	return cmd
}

func newQueueListCommand(rootOpts *RootOptions) *cobra.Command {
	var entityType string
	var all, due bool
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List soft-deleted entities awaiting purge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := rootOpts.open(ctx, cmd, true)
			if err != nil {
				return err
			}
			defer sess.Close()

			var entries []store.QueueEntry
			if due {
				entries, err = sess.store.DuePurges(ctx)
			} else {
				f := store.QueueFilter{IncludePurged: all, Limit: limit}
				if entityType != "" {
					et := store.EntityType(entityType)
					f.EntityType = &et
				}
				entries, err = sess.store.ListDeletionQueue(ctx, f)
			}
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), tools.RenderQueue(entries, time.Now()))
			return nil
		},
	}

	cmd.Flags().StringVar(&entityType, "type", "", "only project or context entries")
	cmd.Flags().BoolVar(&all, "all", false, "include entries already purged")
	cmd.Flags().BoolVar(&due, "due", false, "only entries past their retention window")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum entries (default 100)")
	return cmd
}

func newQueuePurgeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Permanently remove entities whose retention window has passed",
		Args:  cobra.NoArgs,
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
			res, err := sess.store.PurgeDue(ctx, actor)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), tools.RenderPurge(res))
			return nil
		},
	}
}
