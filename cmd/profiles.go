package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/competitor-intel/internal/catalog"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage the master profile catalogue",
}

var profilesImportCmd = &cobra.Command{
	Use:   "import <csv>",
	Short: "Upsert profiles from a CSV export (name, domain, industry columns)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		env, err := initMatching(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := catalog.ImportCSV(ctx, env.Store, args[0])
		if err != nil {
			return eris.Wrap(err, "import csv")
		}
		cmd.Printf("imported %d profiles\n", n)
		return nil
	},
}

func init() {
	profilesCmd.AddCommand(profilesImportCmd)
	rootCmd.AddCommand(profilesCmd)
}
