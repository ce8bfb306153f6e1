package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/herdline/breeding-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "breeding-cli",
	Short: "Semen inventory allocation for breeding herds",
	Long:  "Builds cow x bull candidate matrices from herd tables and allocates limited semen inventory into up to three ranked choices per cow and class.",
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
