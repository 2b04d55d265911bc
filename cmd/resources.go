package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	statusadapter "github.com/bnema/possync/internal/adapters/render/status"
	"github.com/bnema/possync/internal/domain"
	"github.com/spf13/cobra"
)

// newListCmd builds a read command that fetches items behind a spinner and
// prints them as a table or JSON.
func newListCmd[T any](c *cli, use, short, label string, load func(*cli, context.Context) (T, error), render func(*cli, T) (string, error)) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var items T
			err := withSpinner(cmd, "Fetching "+label+"...", func(ctx context.Context) error {
				var err error
				items, err = load(c, ctx)
				return err
			})
			if err != nil {
				return explain(err)
			}

			if asJSON {
				return writeJSON(cmd, items)
			}
			rendered, err := render(c, items)
			return writeRendered(cmd, rendered, err)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")

	return cmd
}

func (c *cli) renderOptions() statusadapter.RenderOptions {
	return statusadapter.RenderOptions{Now: c.app.now()}
}

func newProductsCmd(c *cli) *cobra.Command {
	cmd := newListCmd(c, "products", "List products", "products",
		func(c *cli, ctx context.Context) ([]domain.Product, error) { return c.app.retail.Products(ctx) },
		func(_ *cli, items []domain.Product) (string, error) { return statusadapter.Products(items) },
	)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := c.app.retail.Products(ctx); err != nil {
				return explain(err)
			}
			if err := c.app.retail.DeleteProduct(ctx, args[0]); err != nil {
				return explain(err)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Deleted product %s\n", args[0])
			return err
		},
	})

	return cmd
}

func newSalesCmd(c *cli) *cobra.Command {
	return newListCmd(c, "sales", "List sales", "sales",
		func(c *cli, ctx context.Context) ([]domain.Sale, error) { return c.app.retail.Sales(ctx) },
		func(c *cli, items []domain.Sale) (string, error) {
			return statusadapter.Sales(items, c.renderOptions())
		},
	)
}

func newOrdersCmd(c *cli) *cobra.Command {
	cmd := newListCmd(c, "orders", "List purchase orders", "purchase orders",
		func(c *cli, ctx context.Context) ([]domain.PurchaseOrder, error) {
			return c.app.retail.PurchaseOrders(ctx)
		},
		func(c *cli, items []domain.PurchaseOrder) (string, error) {
			return statusadapter.PurchaseOrders(items, c.renderOptions())
		},
	)

	cmd.AddCommand(&cobra.Command{
		Use:   "set-status <id> <status>",
		Short: "Move a purchase order to pending|approved|received|cancelled",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := domain.ParsePurchaseOrderStatus(strings.ToLower(args[1]))
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if _, err := c.app.retail.PurchaseOrders(ctx); err != nil {
				return explain(err)
			}
			if err := c.app.retail.UpdatePurchaseOrderStatus(ctx, args[0], status); err != nil {
				return explain(err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Purchase order %s is now %s\n", args[0], status)
			return err
		},
	})

	return cmd
}

func newCreditsCmd(c *cli) *cobra.Command {
	cmd := newListCmd(c, "credits", "List customer credits", "credits",
		func(c *cli, ctx context.Context) ([]domain.Credit, error) { return c.app.retail.Credits(ctx) },
		func(_ *cli, items []domain.Credit) (string, error) { return statusadapter.Credits(items) },
	)

	cmd.AddCommand(&cobra.Command{
		Use:   "pay <id> <amount>",
		Short: "Record a payment against a credit, amount in currency units (12.50)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cents, err := parseAmount(args[1])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if _, err := c.app.retail.Credits(ctx); err != nil {
				return explain(err)
			}
			if err := c.app.retail.RecordCreditPayment(ctx, args[0], cents); err != nil {
				return explain(err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Recorded payment of %s on credit %s\n", domain.FormatCents(cents), args[0])
			return err
		},
	})

	return cmd
}

func newDepositsCmd(c *cli) *cobra.Command {
	return newListCmd(c, "deposits", "List deposits", "deposits",
		func(c *cli, ctx context.Context) ([]domain.Deposit, error) { return c.app.retail.Deposits(ctx) },
		func(c *cli, items []domain.Deposit) (string, error) {
			return statusadapter.Deposits(items, c.renderOptions())
		},
	)
}

func newSummaryCmd(c *cli) *cobra.Command {
	var all bool

	cmd := newListCmd(c, "summary", "Show the dashboard summary", "dashboard",
		func(c *cli, ctx context.Context) (domain.DashboardSummary, error) {
			if all {
				if err := c.app.retail.RefreshDashboard(ctx); err != nil {
					return domain.DashboardSummary{}, err
				}
				return c.app.retail.SummaryView(), nil
			}
			return c.app.retail.Summary(ctx)
		},
		func(_ *cli, summary domain.DashboardSummary) (string, error) { return statusadapter.Summary(summary) },
	)

	cmd.Flags().BoolVar(&all, "all", false, "Reload every collection together with the summary")

	return cmd
}

// parseAmount reads "12.50" or "12" as cents.
func parseAmount(raw string) (int64, error) {
	whole, frac, hasFrac := strings.Cut(strings.TrimSpace(raw), ".")
	if hasFrac && (len(frac) == 0 || len(frac) > 2) {
		return 0, fmt.Errorf("invalid amount %q", raw)
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units < 0 {
		return 0, fmt.Errorf("invalid amount %q", raw)
	}

	cents := units * 100
	if hasFrac {
		if len(frac) == 1 {
			frac += "0"
		}
		f, err := strconv.ParseUint(frac, 10, 8)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q", raw)
		}
		cents += int64(f)
	}
	if cents <= 0 {
		return 0, fmt.Errorf("amount must be positive, got %q", raw)
	}
	return cents, nil
}
