package main

import (
	"bufio"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/competitor-intel/internal/credential"
	"github.com/sells-group/competitor-intel/internal/provider"
)

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Store provider API keys in the OS keychain",
}

var credentialsSetCmd = &cobra.Command{
	Use:   "set <provider>",
	Short: "Read an API key from stdin and store it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := provider.ParseName(args[0])
		if err != nil {
			return err
		}
		secret, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && secret == "" {
			return eris.Wrap(err, "read secret from stdin")
		}
		if err := credential.NewKeyring().Set(string(name), strings.TrimSpace(secret)); err != nil {
			return err
		}
		cmd.Printf("stored %s credential\n", name)
		return nil
	},
}

var credentialsGetCmd = &cobra.Command{
	Use:   "get <provider>",
	Short: "Report whether a credential is available, and from where",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := provider.ParseName(args[0])
		if err != nil {
			return err
		}
		secret, err := credentialStore(cfg).GetCredential(cmd.Context(), string(name))
		if err != nil {
			return err
		}
		cmd.Printf("%s: %s\n", name, mask(secret))
		return nil
	},
}

var credentialsDeleteCmd = &cobra.Command{
	Use:   "delete <provider>",
	Short: "Remove a stored API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := provider.ParseName(args[0])
		if err != nil {
			return err
		}
		return credential.NewKeyring().Delete(string(name))
	},
}

// mask keeps the last four characters of a secret.
func mask(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

func init() {
	credentialsCmd.AddCommand(credentialsSetCmd, credentialsGetCmd, credentialsDeleteCmd)
	rootCmd.AddCommand(credentialsCmd)
}
