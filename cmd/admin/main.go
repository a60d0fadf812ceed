package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "grader-admin",
		Short: "Maintenance tasks for the grader",
	}

	var file string
	var importCmd = &cobra.Command{
		Use:   "import",
		Short: "Import a TOML course file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read course file: %w", err)
			}
			app, err := bootstrap()
			if err != nil {
				return err
			}
			defer app.close()

			summary, err := app.importer.Import(cmd.Context(), data)
			if err != nil {
				return err
			}
			return printJSON(summary)
		},
	}
	importCmd.Flags().StringVarP(&file, "file", "f", "", "Course file path (required)")
	importCmd.MarkFlagRequired("file")

	var nodeID, userID uint
	var recomputeCmd = &cobra.Command{
		Use:   "recompute",
		Short: "Rebuild the score subtree below a node",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap()
			if err != nil {
				return err
			}
			defer app.close()

			return app.recompute(cmd.Context(), nodeID, userID)
		},
	}
	recomputeCmd.Flags().UintVarP(&nodeID, "node", "n", 0, "Root node id (required)")
	recomputeCmd.Flags().UintVarP(&userID, "user", "u", 0, "Only rebuild the scores of this user")
	recomputeCmd.MarkFlagRequired("node")

	var activityID uint
	var force bool
	var validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Revalidate the answer keys of an activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap()
			if err != nil {
				return err
			}
			defer app.close()

			keys, err := app.answerKeys.ValidateActivity(cmd.Context(), activityID, force)
			if err != nil {
				return err
			}
			return printJSON(keys)
		},
	}
	validateCmd.Flags().UintVarP(&activityID, "activity", "a", 0, "Activity id (required)")
	validateCmd.Flags().BoolVar(&force, "force", false, "Run the reference solutions even when nothing changed")
	validateCmd.MarkFlagRequired("activity")

	rootCmd.AddCommand(importCmd, recomputeCmd, validateCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printJSON(value interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
