package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/feesync/internal/domain/model"
)

func credentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "credentials",
		Aliases: []string{"creds"},
		Short:   "Manage provider credentials",
	}
	cmd.AddCommand(credentialsSetCmd(), credentialsShowCmd(), credentialsDeleteCmd())
	return cmd
}

func credentialsSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store an API key or OAuth tokens for an account",
		Long: `Store the credential an organizer's payments are fetched with.

Pass --api-key for a static key, or --access-token with --refresh-token and
--expires-in for an OAuth connection. Credentials are encrypted with
FEESYNC_SECRET_KEY.`,
		Args: cobra.NoArgs,
		RunE: runCredentialsSet,
	}

	cmd.Flags().StringP("provider", "p", "", "Provider (mollie or sumup)")
	cmd.Flags().StringP("account", "a", "", "Account (organizer) the credential belongs to")
	cmd.Flags().String("api-key", "", "Static API key")
	cmd.Flags().String("access-token", "", "OAuth access token")
	cmd.Flags().String("refresh-token", "", "OAuth refresh token")
	cmd.Flags().Duration("expires-in", time.Hour, "OAuth access token lifetime")
	cmd.Flags().Bool("test-mode", false, "Use the provider's test mode (default from FEESYNC_<PROVIDER>_TEST_MODE)")
	_ = cmd.MarkFlagRequired("provider")
	_ = cmd.MarkFlagRequired("account")
	cmd.MarkFlagsMutuallyExclusive("api-key", "access-token")
	cmd.MarkFlagsOneRequired("api-key", "access-token")

	return cmd
}

func runCredentialsSet(cmd *cobra.Command, _ []string) error {
	providerName, _ := cmd.Flags().GetString("provider")
	account, _ := cmd.Flags().GetString("account")
	apiKey, _ := cmd.Flags().GetString("api-key")
	accessToken, _ := cmd.Flags().GetString("access-token")
	refreshToken, _ := cmd.Flags().GetString("refresh-token")
	expiresIn, _ := cmd.Flags().GetDuration("expires-in")

	provider, ok := model.ParseProvider(providerName)
	if !ok {
		return fmt.Errorf("unknown provider %q", providerName)
	}
	account = strings.TrimSpace(account)
	if account == "" {
		return fmt.Errorf("--account must not be empty")
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	now := time.Now().UTC()
	cred := model.Credential{
		Provider:  provider,
		Account:   account,
		UpdatedAt: now,
	}
	switch provider {
	case model.ProviderMollie:
		cred.TestMode = a.cfg.Mollie.TestMode
	case model.ProviderSumUp:
		cred.TestMode = a.cfg.SumUp.TestMode
	}
	if cmd.Flags().Changed("test-mode") {
		cred.TestMode, _ = cmd.Flags().GetBool("test-mode")
	}

	if apiKey != "" {
		cred.Mode = model.AuthModeAPIKey
		cred.KeyMaterial = apiKey
	} else {
		if expiresIn <= 0 {
			return fmt.Errorf("--expires-in must be positive")
		}
		cred.Mode = model.AuthModeOAuth
		cred.KeyMaterial = accessToken
		cred.RefreshToken = refreshToken
		cred.TokenExpiry = now.Add(expiresIn)
	}

	if err := a.credentials.Put(cmd.Context(), cred); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stored %s credential for %s\n", cred.Mode, cred.Key())
	return nil
}

func credentialsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "List stored credentials with masked secrets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			creds, err := a.credentials.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(creds) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No credentials stored")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PROVIDER\tACCOUNT\tMODE\tKEY\tEXPIRES\tTEST\tUPDATED")
			for _, c := range creds {
				expires := "-"
				if c.Mode == model.AuthModeOAuth {
					expires = c.TokenExpiry.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
					c.Provider, c.Account, c.Mode, maskSecret(c.KeyMaterial),
					expires, c.TestMode, c.UpdatedAt.UTC().Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func credentialsDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove the credential of an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			providerName, _ := cmd.Flags().GetString("provider")
			account, _ := cmd.Flags().GetString("account")

			provider, ok := model.ParseProvider(providerName)
			if !ok {
				return fmt.Errorf("unknown provider %q", providerName)
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.credentials.Delete(cmd.Context(), provider, account); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted credential for %s\n", model.AccountKey(provider, account))
			return nil
		},
	}
	cmd.Flags().StringP("provider", "p", "", "Provider (mollie or sumup)")
	cmd.Flags().StringP("account", "a", "", "Account the credential belongs to")
	_ = cmd.MarkFlagRequired("provider")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

// maskSecret keeps the recognizable prefix of a key ("live_", "test_",
// "access_") and the last four characters.
func maskSecret(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	prefix := ""
	if i := strings.IndexByte(s, '_'); i > 0 && i < 8 {
		prefix = s[:i+1]
	}
	return prefix + "****" + s[len(s)-4:]
}
