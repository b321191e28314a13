package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Take one snapshot now and prune",
	Long: `Run one full cycle outside the scheduler: create today's snapshot folder,
copy the open items into it, prune expired snapshots and record last/next run.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "snapshot %q: %d/%d items saved", res.Name, res.Created, res.Items)
		if res.Failed > 0 {
			fmt.Fprintf(out, ", %d failed", res.Failed)
		}
		fmt.Fprintln(out)
		fmt.Fprintf(out, "pruned %d of %d snapshots\n", len(res.Pruned.Deleted), res.Pruned.Considered)
		fmt.Fprintf(out, "next run %s\n", res.RunState.NextRun.Local().Format(time.RFC3339))
		return nil
	},
}

var pruneFlags struct {
	dryRun bool
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete snapshot folders older than keep-for",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		plan, rep, err := a.Prune(cmd.Context(), pruneFlags.dryRun)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if pruneFlags.dryRun {
			for _, n := range plan {
				fmt.Fprintf(out, "would delete %s  %s  (%s)\n", n.ID, n.Title, n.CreatedAt.Local().Format(time.RFC3339))
			}
			fmt.Fprintf(out, "%d snapshot(s) would be deleted\n", len(plan))
			return nil
		}
		fmt.Fprintf(out, "deleted %d of %d snapshots", len(rep.Deleted), rep.Considered)
		if len(rep.Failed) > 0 {
			fmt.Fprintf(out, ", %d failed", len(rep.Failed))
		}
		fmt.Fprintln(out)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show settings, last/next run and snapshot count",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		if _, err := a.Settings().Reload(ctx, a.Store()); err != nil {
			return err
		}
		st, err := a.Status(ctx)
		if err != nil {
			return err
		}
		s := st.Settings
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "interval:    %s\n", s.Interval)
		fmt.Fprintf(out, "keep for:    %s\n", s.KeepFor)
		fmt.Fprintf(out, "naming:      %s<date>%s (year=%s month=%s)\n", s.Prefix, s.Suffix, s.Format.Year, s.Format.Month)
		fmt.Fprintf(out, "container:   %s\n", s.ContainerName)
		if s.Debug.Enabled {
			fmt.Fprintf(out, "debug:       %d bits, radix %d\n", s.Debug.EntropyBits, s.Debug.Radix)
		}
		fmt.Fprintf(out, "last run:    %s\n", fmtTime(st.RunState.LastRun))
		fmt.Fprintf(out, "next run:    %s\n", fmtTime(st.RunState.NextRun))
		fmt.Fprintf(out, "snapshots:   %d\n", st.Snapshots)
		return nil
	},
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format(time.RFC3339)
}

func init() {
	rootCmd.AddCommand(snapshotCmd, pruneCmd, statusCmd)
	pruneCmd.Flags().BoolVar(&pruneFlags.dryRun, "dry-run", false, "list what would be deleted without deleting")
}
