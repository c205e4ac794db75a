package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/database"
)

var overrideCmd = &cobra.Command{
	Use:   "override <record-id>",
	Short: "Correct an attendance record by hand",
	Long: `Set the student and status of a record.

Examples:
  # Assign an unknown capture to a student
  face-attendance override 42 --student 2024001 --status present

  # Mark a student late
  face-attendance override 43 --status late

  # Detach a wrongly matched student
  face-attendance override 44 --clear-student --status unknown`,
	Args: cobra.ExactArgs(1),
	RunE: runOverride,
}

func init() {
	rootCmd.AddCommand(overrideCmd)

	overrideCmd.Flags().String("student", "", "Student number to assign")
	overrideCmd.Flags().Bool("clear-student", false, "Remove the student from the record")
	overrideCmd.Flags().String("status", "", "New status (present, absent, late, unknown, pending)")
	_ = overrideCmd.MarkFlagRequired("status")
	overrideCmd.MarkFlagsMutuallyExclusive("student", "clear-student")
}

func runOverride(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid record id %q", args[0])
	}
	status, err := database.ParseStatus(mustGetString(cmd, "status"))
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.repos.Attendance.GetRecord(ctx, id)
	if err != nil {
		return fmt.Errorf("record %d: %w", id, err)
	}

	studentID := rec.StudentID
	if number := mustGetString(cmd, "student"); number != "" {
		s, err := a.repos.Students.GetStudentByExternalID(ctx, number)
		if err != nil {
			return fmt.Errorf("student %s: %w", number, err)
		}
		studentID = &s.ID
	}
	if mustGetBool(cmd, "clear-student") {
		studentID = nil
	}

	updated, err := a.reconciler.Override(ctx, id, studentID, status)
	if errors.Is(err, database.ErrAlreadyMarked) {
		return errors.New("that student already has a record for this course and day")
	}
	if err != nil {
		return err
	}

	student := "no student"
	if updated.StudentID != nil {
		student = updated.StudentName
	}
	fmt.Printf("Record %d: %s, %s\n", updated.ID, student, updated.Status)
	return nil
}
