// Package cli implements orderctl, the operator CLI.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/olie-orders/internal/app"
	"github.com/imrishuroy/olie-orders/internal/aws"
	"github.com/imrishuroy/olie-orders/internal/config"
	"github.com/imrishuroy/olie-orders/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string // "json" | "text"

	// Clients builds the AWS clients; replaced in tests.
	Clients func(ctx context.Context) (*aws.AWSClients, error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the orderctl root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{Clients: aws.NewAWSClients})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orderctl",
		Short: "Operate the Olie order engine",
		Long:  "orderctl inspects the webhook transition table and drives reconciliation and sandbox checkout against the configured stores.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML config file (env vars override it)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newTransitionsCommand(opts))
	cmd.AddCommand(newReconcileCommand(opts))
	cmd.AddCommand(newCheckoutCommand(opts))
	cmd.AddCommand(newConfigCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// loadConfig reads and validates the configuration.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// build wires the services the store-backed commands need.
func (o *RootOptions) build(ctx context.Context) (*app.App, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.App.LogLevel)
	if err != nil {
		return nil, err
	}
	clients, err := o.Clients(ctx)
	if err != nil {
		return nil, fmt.Errorf("init aws clients: %w", err)
	}
	return app.New(ctx, cfg, clients, log)
}

// write prints v as indented JSON or through text.
func (o *RootOptions) write(w io.Writer, v interface{}, text func(io.Writer)) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
