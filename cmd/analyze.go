package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/competitor-intel/internal/model"
	"github.com/sells-group/competitor-intel/internal/session"
)

var (
	analyzeProviders []string
	analyzeModels    map[string]string
	analyzeIndustry  string
	analyzeQuiet     bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <competitor>...",
	Short: "Run an analysis session synchronously, printing progress",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initAnalysis(ctx, cfg, "analyze")
		if err != nil {
			return err
		}
		defer env.Close()

		req := session.StartRequest{
			Competitors:       args,
			ProvidersSelected: analyzeProviders,
			Models:            analyzeModels,
			Industry:          analyzeIndustry,
		}
		sess, err := env.Orchestrator.Start(ctx, req)
		if err != nil {
			return err
		}

		if !analyzeQuiet {
			cancel, err := env.Tracker.Subscribe(ctx, sess.SessionID, printProgress)
			if err != nil {
				zap.L().Warn("progress subscription failed", zap.Error(err))
			} else {
				defer cancel()
			}
		}

		results, runErr := env.Orchestrator.Run(ctx, sess)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		status := model.SessionCompleted
		if runErr != nil {
			status = model.SessionFailed
		}
		if err := enc.Encode(session.AnalysisOutcome{SessionID: sess.SessionID, Status: status, Results: results}); err != nil {
			return err
		}
		return runErr
	},
}

func printProgress(rec model.ProgressRecord) {
	cur := "-"
	if rec.CurrentCompetitor != nil {
		cur = *rec.CurrentCompetitor
	}
	line := fmt.Sprintf("[%3d%%] %d/%d %s current=%s",
		rec.ProgressPercentage, rec.CompletedCompetitors, rec.TotalCompetitors, rec.Status, cur)
	if rec.ErrorMessage != nil {
		line += " error=" + *rec.ErrorMessage
	}
	fmt.Fprintln(os.Stderr, line)
}

func init() {
	analyzeCmd.Flags().StringSliceVar(&analyzeProviders, "providers", []string{"anthropic"},
		"providers to query: anthropic, perplexity, gemini")
	analyzeCmd.Flags().StringToStringVar(&analyzeModels, "model", nil, "model override per provider, e.g. anthropic=claude-opus-4-6")
	analyzeCmd.Flags().StringVar(&analyzeIndustry, "industry", "", "industry context for prompts and new profiles")
	analyzeCmd.Flags().BoolVarP(&analyzeQuiet, "quiet", "q", false, "do not print progress")
	rootCmd.AddCommand(analyzeCmd)
}
