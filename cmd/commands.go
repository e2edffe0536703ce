package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/sidecar-translator/internal/service"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), ctx)
		},
	}
}

func newScanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scan [path...]",
		Short: "Scan once, translate what is missing and exit",
		Long: "Scan the configured media directories, or only the given files and\n" +
			"directories, and wait until every resulting translation job has finished.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := service.NewApp(cmd.Context(), ctx.config())
			if err != nil {
				return err
			}
			defer app.Close()

			report, err := app.ScanOnce(cmd.Context(), args)
			if err != nil {
				return err
			}
			stats := app.Status().Jobs
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "files=%d skipped=%d enqueued=%d unresolved=%d errors=%d pruned=%d\n",
				report.Files, report.Skipped, report.Enqueued, report.Unresolved, report.Errors, report.Pruned)
			fmt.Fprintf(out, "succeeded=%d failed=%d\n", stats.Succeeded, stats.Failed)
			if report.Errors > 0 || stats.Failed > 0 {
				return fmt.Errorf("scan finished with %d file errors and %d failed jobs", report.Errors, stats.Failed)
			}
			return nil
		},
	}
}

func newCleanupCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove sidecars whose media file no longer exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := service.NewApp(cmd.Context(), ctx.config())
			if err != nil {
				return err
			}
			defer app.Close()

			removed, err := app.Cleanup(cmd.Context(), dryRun)
			if err != nil {
				return err
			}
			verb := "removed"
			if dryRun {
				verb = "would remove"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d orphaned sidecars\n", verb, removed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Only report orphaned sidecars")
	return cmd
}

func newConfigCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), ctx.config().String())
			return nil
		},
	}
}
