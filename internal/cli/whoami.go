package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/spotwalk/internal/api"
	"github.com/SmitUplenchwar2687/spotwalk/internal/config"
)

func newWhoamiCmd(root *rootOptions) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show who the API token belongs to and when it expires",
		Long: `Decodes the API token locally. The signature is not checked; only
the backend can tell whether the token is still accepted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := root.load(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("token") {
				cfg.API.Token = token
			}
			cfg.ResolveToken()
			if cfg.API.Token == "" {
				return fmt.Errorf("no API token: pass --token, set api.token in the config file or $%s", config.TokenEnv)
			}

			info, err := api.InspectToken(cfg.API.Token)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			subject := info.Subject
			if subject == "" {
				subject = "(none)"
			}
			fmt.Fprintf(out, "Subject:  %s\n", subject)

			now := time.Now()
			switch {
			case info.ExpiresAt.IsZero():
				fmt.Fprintln(out, "Expires:  never")
			case info.Expired(now):
				fmt.Fprintf(out, "Expires:  %s (expired)\n", info.ExpiresAt.UTC().Format(time.RFC3339))
			default:
				fmt.Fprintf(out, "Expires:  %s (in %s)\n", info.ExpiresAt.UTC().Format(time.RFC3339), info.ExpiresAt.Sub(now).Round(time.Minute))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "API bearer token (default $"+config.TokenEnv+")")
	return cmd
}
