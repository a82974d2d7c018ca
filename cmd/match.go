package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/competitor-intel/internal/matching"
	"github.com/sells-group/competitor-intel/internal/model"
)

var (
	matchWebsite   string
	matchIndustry  string
	matchAlgorithm string
)

var matchCmd = &cobra.Command{
	Use:   "match <company name>",
	Short: "Match a company against the master profile catalogue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("match"); err != nil {
			return err
		}
		env, err := initMatching(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Matcher.Match(ctx, matching.MatchRequest{
			CompanyName: args[0],
			Website:     matchWebsite,
			Industry:    matchIndustry,
			Algorithm:   model.MatchAlgorithm(matchAlgorithm),
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"success": true, "match": res})
	},
}

func init() {
	matchCmd.Flags().StringVar(&matchWebsite, "website", "", "company website or domain")
	matchCmd.Flags().StringVar(&matchIndustry, "industry", "", "industry hint")
	matchCmd.Flags().StringVar(&matchAlgorithm, "algorithm", string(model.AlgorithmStandard), "standard or ai_enhanced")
	rootCmd.AddCommand(matchCmd)
}
