package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/caflow/cma-engine/internal/model"
	"github.com/caflow/cma-engine/internal/pipeline"
)

var processFlags struct {
	firmID           string
	startFrom        string
	skipReview       bool
	skipValidation   bool
	forceReprocess   bool
	autoApproveAbove float64
}

var processCmd = &cobra.Command{
	Use:   "process <project-id>",
	Short: "Run the preparation pipeline for one project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("process"); err != nil {
			return err
		}

		e, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		result, err := e.Pipeline.Run(cmd.Context(), processFlags.firmID, args[0], pipeline.Options{
			StartFrom:        model.StepName(processFlags.startFrom),
			SkipReview:       processFlags.skipReview,
			SkipValidation:   processFlags.skipValidation,
			ForceReprocess:   processFlags.forceReprocess,
			AutoApproveAbove: processFlags.autoApproveAbove,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	processCmd.Flags().StringVar(&processFlags.firmID, "firm", "", "firm ID (required)")
	processCmd.Flags().StringVar(&processFlags.startFrom, "start-from", "", "step to start from (extract|classify|review|validate|generate)")
	processCmd.Flags().BoolVar(&processFlags.skipReview, "skip-review", false, "auto-approve review suggestions instead of pausing")
	processCmd.Flags().BoolVar(&processFlags.skipValidation, "skip-validation", false, "bypass the validation gate")
	processCmd.Flags().BoolVar(&processFlags.forceReprocess, "force", false, "re-run from extract regardless of status")
	processCmd.Flags().Float64Var(&processFlags.autoApproveAbove, "auto-approve-above", 0, "auto-approve queued items at or above this confidence")
	processCmd.MarkFlagRequired("firm")
	rootCmd.AddCommand(processCmd)
}
