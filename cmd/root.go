package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/competitor-intel/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "compintel",
	Short: "Competitor intelligence: master profile matching and multi-provider analysis",
	Long:  "Matches company names against a deduplicated profile catalogue and runs analysis sessions that query Anthropic, Perplexity and Gemini per competitor with live progress.",
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
