package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List attendance records",
	Long: `List attendance records newest first.

Examples:
  face-attendance records --course CS101 --date 2026-03-09
  face-attendance records --status pending`,
	Args: cobra.NoArgs,
	RunE: runRecords,
}

func init() {
	rootCmd.AddCommand(recordsCmd)

	recordsCmd.Flags().String("course", "", "Course identifier")
	recordsCmd.Flags().String("date", "", "Day (YYYY-MM-DD)")
	recordsCmd.Flags().String("status", "", "Status (present, absent, late, unknown, pending)")
	recordsCmd.Flags().Int("limit", constants.DefaultHandlerPageSize, "Maximum number of records")
	recordsCmd.Flags().Bool("json", false, "Output as JSON")
}

func runRecords(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	filter := database.RecordFilter{Limit: mustGetInt(cmd, "limit")}

	if v := mustGetString(cmd, "date"); v != "" {
		day, err := time.Parse(constants.DateLayout, v)
		if err != nil {
			return fmt.Errorf("invalid --date %q, expected YYYY-MM-DD", v)
		}
		filter.From, filter.To = day, day
	}
	if v := mustGetString(cmd, "status"); v != "" {
		st, err := database.ParseStatus(v)
		if err != nil {
			return err
		}
		filter.Status = st
	}

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if v := mustGetString(cmd, "course"); v != "" {
		course, err := a.repos.Courses.GetCourseByIdentifier(ctx, v)
		if err != nil {
			return fmt.Errorf("course %s: %w", v, err)
		}
		filter.CourseID = course.ID
	}

	records, err := a.repos.Attendance.ListRecords(ctx, filter)
	if err != nil {
		return err
	}
	counts, err := a.repos.Attendance.CountByStatus(ctx, filter)
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		return printJSON(map[string]any{"records": records, "stats": counts})
	}

	if len(records) == 0 {
		fmt.Println("No records found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tTIME\tCOURSE\tSTUDENT\tSTATUS\tCONFIDENCE")
	fmt.Fprintln(w, "--\t----\t----\t------\t-------\t------\t----------")
	for _, r := range records {
		student := "-"
		if r.StudentID != nil {
			student = fmt.Sprintf("%s (%s)", r.StudentName, r.StudentExternal)
		}
		confidence := "-"
		if r.Confidence != nil {
			confidence = fmt.Sprintf("%.2f", *r.Confidence)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Date.Format(constants.DateLayout), r.Time.Format("15:04:05"),
			r.CourseIdentifier, student, r.Status, confidence)
	}
	w.Flush()

	fmt.Println()
	for _, st := range database.Statuses {
		fmt.Printf("%-8s %d\n", st, counts[st])
	}
	return nil
}
