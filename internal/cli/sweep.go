// ABOUTME: sweep command: soft-delete stale projects and standalone contexts
// ABOUTME: Dry run unless --dry-run=false or sweep.dry_run is false in config

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/2389/coven-context/internal/store"
	"github.com/2389/coven-context/internal/tools"
)

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	var olderThan string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete data not updated within a period",
		Long: `Soft-delete projects that are not active and standalone context
entries last updated before the given period, such as "30 days",
"6 months" or "1 year". Projects with an active role are skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			age, err := store.ParseAge(olderThan)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("dry-run") {
				dryRun = rootOpts.cfg.Sweep.DryRun
			}

			ctx := cmd.Context()
			sess, err := rootOpts.open(ctx, cmd, true)
			if err != nil {
				return err
			}
			defer sess.Close()

			var actor int64
			if !dryRun {
				if actor, err = sess.store.CurrentSystemID(ctx); err != nil {
					return err
				}
			}
			report, err := sess.store.Sweep(ctx, age, dryRun, actor)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), tools.RenderSweep(report))
			return nil
		},
	}

	cmd.Flags().StringVar(&olderThan, "older-than", "", `age threshold, e.g. "30 days"`)
	cmd.Flags().BoolVar(&dryRun, "dry-run", true, "only report what would be deleted")
	_ = cmd.MarkFlagRequired("older-than")
	return cmd
}
