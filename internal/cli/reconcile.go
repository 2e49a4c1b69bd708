package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/olie-orders/internal/reconcile"
)

func newReconcileCommand(opts *RootOptions) *cobra.Command {
	var ev reconcile.Event

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Apply one webhook event to an order",
		Long: `Apply one webhook event exactly as the webhook endpoint would.

Example:
  orderctl reconcile --topic payments --event paid --event-id evt-1 --order OLIE-000123`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.build(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			out, err := a.Reconciler.Reconcile(cmd.Context(), ev)
			if err != nil {
				return err
			}
			return opts.write(cmd.OutOrStdout(), out, func(w io.Writer) {
				switch {
				case out.Duplicate:
					fmt.Fprintf(w, "duplicate: %s already processed\n", ev.DedupeKey())
				case !out.Applied:
					fmt.Fprintf(w, "acknowledged: %s/%s changed nothing on %s\n", ev.Topic, ev.Event, ev.OrderNumber)
				case out.Transitioned:
					fmt.Fprintf(w, "applied: %s %s -> %s\n", ev.OrderNumber, out.From, out.To)
				default:
					fmt.Fprintf(w, "applied: %s status unchanged\n", ev.OrderNumber)
				}
			})
		},
	}

	cmd.Flags().StringVar(&ev.Topic, "topic", "", "webhook topic (payments|fiscal|logistics|orders)")
	cmd.Flags().StringVar(&ev.Event, "event", "", "webhook event name")
	cmd.Flags().StringVar(&ev.EventID, "event-id", "", "sender event id")
	cmd.Flags().StringVar(&ev.ProviderRef, "provider-ref", "", "provider reference")
	cmd.Flags().StringVar(&ev.OrderNumber, "order", "", "order number")
	_ = cmd.MarkFlagRequired("topic")
	_ = cmd.MarkFlagRequired("event")
	_ = cmd.MarkFlagRequired("order")

	return cmd
}
