package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

const redacted = "****"

func newConfigCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			shown := *cfg
			for _, s := range []*string{&shown.ERP.Token, &shown.Auth.AnonKey, &shown.Redis.Password, &shown.Webhook.Secret} {
				if *s != "" {
					*s = redacted
				}
			}
			return opts.write(cmd.OutOrStdout(), shown, func(w io.Writer) {
				fmt.Fprintf(w, "dry_run:        %t\n", shown.App.DryRun)
				fmt.Fprintf(w, "erp:            %s (token %s, timeout %s)\n", shown.ERP.BaseURL, orNone(shown.ERP.Token), shown.ERP.Timeout)
				fmt.Fprintf(w, "ledger:         %s (ttl %s)\n", shown.Ledger.Backend, shown.Ledger.TTL)
				fmt.Fprintf(w, "orders table:   %s\n", shown.Tables.Orders)
				fmt.Fprintf(w, "orders queue:   %s\n", orNone(shown.Queue.OrdersURL))
				fmt.Fprintf(w, "metrics:        %s\n", orNone(shown.Metrics.Namespace))
				fmt.Fprintf(w, "webhook secret: %s\n", orNone(shown.Webhook.Secret))
			})
		},
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
