package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/olie-orders/internal/reconcile"
)

type transitionRow struct {
	Topic    string `json:"topic"`
	Event    string `json:"event"`
	Mutation string `json:"mutation"`
	Target   string `json:"target,omitempty"`
}

func newTransitionsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "transitions",
		Short: "Print the webhook transition table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := make([]transitionRow, 0)
			for _, r := range reconcile.DefaultTable().Rules() {
				event := r.Event
				if event == reconcile.AnyEvent {
					event = "*"
				}
				rows = append(rows, transitionRow{Topic: r.Topic, Event: event, Mutation: r.Description, Target: string(r.Target)})
			}
			return opts.write(cmd.OutOrStdout(), rows, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TOPIC\tEVENT\tMUTATION\tSTATUS")
				for _, r := range rows {
					target := "-"
					if r.Target != "" {
						target = "-> " + r.Target
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Topic, r.Event, r.Mutation, target)
				}
				_ = tw.Flush()
			})
		},
	}
}
