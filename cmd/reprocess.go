package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var reprocessCmd = &cobra.Command{
	Use:   "reprocess",
	Short: "Resolve pending captures once",
	Long: `Match the stored images of pending attendance records against the
current templates. Matched records become present, the rest unknown.`,
	Args: cobra.NoArgs,
	RunE: runReprocess,
}

func init() {
	rootCmd.AddCommand(reprocessCmd)

	reprocessCmd.Flags().Bool("json", false, "Output as JSON")
}

func runReprocess(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	ctx := context.Background()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.reprocessor().RunOnce(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(res)
	}

	fmt.Printf("Processed %d pending records\n", res.Processed)
	fmt.Printf("  Resolved:  %d\n", res.Resolved)
	fmt.Printf("  Unknown:   %d\n", res.Unknown)
	fmt.Printf("  Conflicts: %d\n", res.Conflicts)
	fmt.Printf("  Errors:    %d\n", res.Errors)
	return nil
}
