package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/olie-orders/internal/auth"
	"github.com/imrishuroy/olie-orders/internal/validation"
)

func newCheckoutCommand(opts *RootOptions) *cobra.Command {
	var cartID, userID string

	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Run the sandbox checkout for a cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.build(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			res, err := a.Checkout.Checkout(cmd.Context(), &auth.Identity{UserID: userID}, validation.CheckoutRequest{CartID: cartID})
			if err != nil {
				return err
			}
			return opts.write(cmd.OutOrStdout(), res, func(w io.Writer) {
				fmt.Fprintf(w, "order %s (%s) total %s: %d tasks, %d reservations\n",
					res.OrderNumber, res.OrderID, res.Total.StringFixed(2), res.Tasks, res.Reservations)
			})
		},
	}

	cmd.Flags().StringVar(&cartID, "cart", "", "cart id")
	cmd.Flags().StringVar(&userID, "user", "", "owner of the cart")
	_ = cmd.MarkFlagRequired("cart")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
