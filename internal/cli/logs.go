package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/spotwalk/internal/api"
	"github.com/SmitUplenchwar2687/spotwalk/internal/config"
)

func newLogsCmd(root *rootOptions) *cobra.Command {
	var (
		token      string
		baseURL    string
		limit      int
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "List your most recent logs",
		Example: `  spotwalk logs --limit 20
  spotwalk logs --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("token") {
				cfg.API.Token = token
			}
			if cmd.Flags().Changed("base-url") {
				cfg.API.BaseURL = baseURL
			}
			cfg.ResolveToken()
			if cfg.API.Token == "" {
				return fmt.Errorf("no API token: pass --token, set api.token in the config file or $%s", config.TokenEnv)
			}

			client, err := api.New(cfg.API.BaseURL, cfg.API.Token, api.WithTimeout(cfg.API.Timeout), api.WithLogger(logger))
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.API.Timeout)
			defer cancel()

			logs, err := client.MyLogs(ctx, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if outputJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(logs)
			}
			if len(logs) == 0 {
				fmt.Fprintln(out, "No logs yet.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSPOT\tKIND\tXP\tCLAIMS\tDISTANCE\tTIME")
			for _, l := range logs {
				kind := "manual"
				if l.IsAuto {
					kind = "auto"
				}
				fmt.Fprintf(tw, "%d\t%d\t%s\t%d\t%d\t%.1f m\t%s\n",
					l.ID, l.SpotID, kind, l.XPGained, l.ClaimPoints, l.Distance, l.Timestamp.Format(time.DateTime))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "API bearer token (default $"+config.TokenEnv+")")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "backend base URL")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of logs to list")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output logs as JSON")

	return cmd
}
