package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/database/mariadb"
	"github.com/kozaktomas/face-attendance/internal/roster"
)

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Manage course rosters",
}

var rosterSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Import students and courses from the student information system",
	Long: `Import active courses, students and their enrollments from the SIS
MariaDB database given by SIS_DATABASE_URL. Existing photos and templates are
kept; memberships of imported students are replaced.`,
	Args: cobra.NoArgs,
	RunE: runRosterSync,
}

func init() {
	rootCmd.AddCommand(rosterCmd)
	rosterCmd.AddCommand(rosterSyncCmd)

	rosterSyncCmd.Flags().Bool("json", false, "Output as JSON instead of progress bar")
}

func runRosterSync(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	ctx := context.Background()

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.SIS.DatabaseURL == "" {
		return errors.New("SIS_DATABASE_URL environment variable is required")
	}
	sis, err := mariadb.NewPool(a.cfg.SIS.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to SIS: %w", err)
	}
	defer sis.Close()

	res, err := roster.NewSyncer(sis, a.repos.Students, a.repos.Courses).Sync(ctx, !jsonOutput)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(res)
	}

	fmt.Printf("\nCourses:     %d\n", res.Courses)
	fmt.Printf("Created:     %d\n", res.Created)
	fmt.Printf("Updated:     %d\n", res.Updated)
	fmt.Printf("Unchanged:   %d\n", res.Unchanged)
	fmt.Printf("Skipped:     %d\n", res.Skipped)
	fmt.Printf("Memberships: %d\n", res.Memberships)
	return nil
}
