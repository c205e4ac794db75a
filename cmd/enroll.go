package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/constants"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <student-number> <photo>",
	Short: "Enroll a student from a reference photo",
	Long: `Verify a reference photo and store it as the face template of a student.
The photo must contain exactly one face that is large enough.

A running server picks up the new template on its next template reload
(TEMPLATE_RELOAD_INTERVAL, default 5m).

Examples:
  face-attendance enroll 2024001 alice.jpg
  face-attendance enroll rebuild --concurrency 8`,
	Args: cobra.ExactArgs(2),
	RunE: runEnroll,
}

var enrollRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Re-encode the templates of all students from their stored photos",
	Long: `Re-encode every student that has a stored photo. Use this after switching
the embedding model. Photos with several faces keep the largest one.
A running server picks up the templates on its next template reload.`,
	Args: cobra.NoArgs,
	RunE: runEnrollRebuild,
}

func init() {
	rootCmd.AddCommand(enrollCmd)
	enrollCmd.AddCommand(enrollRebuildCmd)

	enrollRebuildCmd.Flags().Int("concurrency", constants.WorkerPoolSize, "Number of parallel workers")
	enrollRebuildCmd.Flags().Bool("json", false, "Output as JSON instead of progress bar")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	photo, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("failed to read photo: %w", err)
	}

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	student, err := a.repos.Students.GetStudentByExternalID(ctx, args[0])
	if err != nil {
		return fmt.Errorf("student %s: %w", args[0], err)
	}

	res, err := a.enroller.Enroll(ctx, student.ID, photo)
	if err != nil {
		if res != nil && res.Verification.Message != "" {
			fmt.Printf("Photo rejected: %s\n", res.Verification.Message)
		}
		return err
	}
	fmt.Printf("Enrolled %s (%s), photo stored as %s\n", student.Name, student.ExternalID, res.PhotoRef)
	return nil
}

func runEnrollRebuild(cmd *cobra.Command, args []string) error {
	concurrency := mustGetInt(cmd, "concurrency")
	jsonOutput := mustGetBool(cmd, "json")
	ctx := context.Background()

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.enroller.Rebuild(ctx, concurrency, !jsonOutput)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(res)
	}

	fmt.Printf("\nEncoded %d of %d students", res.Encoded, res.Total)
	if res.Warnings > 0 {
		fmt.Printf(", %d with several faces", res.Warnings)
	}
	fmt.Printf("\nSkipped %d students without a photo, %d failed\n", res.Skipped, res.Failed)
	if res.Failed > 0 {
		return fmt.Errorf("%d students could not be encoded", res.Failed)
	}
	return nil
}
