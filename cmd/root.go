package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caflow/cma-engine/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "cma-engine",
	Short: "CMA package preparation pipeline",
	Long:  "Extracts financial documents, classifies line items onto the CMA form, routes low-confidence mappings to CA review, validates, and generates the bank-ready workbook.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
