package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the default courses on an empty database",
	Long: `Create the courses listed in the seed file (SEED_FILE, or the built-in
list) when the database has no course yet.`,
	Args: cobra.NoArgs,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := seedCourses(ctx, a.repos.Courses, a.cfg.SeedFile)
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Println("Courses already exist, nothing to do.")
		return nil
	}
	fmt.Printf("Created %d courses\n", n)
	return nil
}
