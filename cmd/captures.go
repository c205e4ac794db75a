package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/capture"
	"github.com/kozaktomas/face-attendance/internal/config"
)

var capturesCmd = &cobra.Command{
	Use:   "captures",
	Short: "Manage stored capture images",
}

var capturesCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete capture images older than the retention period",
	Args:  cobra.NoArgs,
	RunE:  runCapturesCleanup,
}

func init() {
	rootCmd.AddCommand(capturesCmd)
	capturesCmd.AddCommand(capturesCleanupCmd)

	capturesCleanupCmd.Flags().Int("days", 0, "Retention in days (overrides CAPTURE_RETENTION_DAYS)")
}

func runCapturesCleanup(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	days := cfg.Capture.RetentionDays
	if d := mustGetInt(cmd, "days"); d > 0 {
		days = d
	}

	files, err := capture.NewFileStore(cfg.Capture.Dir)
	if err != nil {
		return err
	}
	n, err := cleanupCaptures(files, days)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d capture images older than %d days from %s\n", n, days, filepath.Join(files.Root(), "captures"))
	return nil
}
