package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"

	"github.com/bnema/possync/internal/domain"
	"github.com/bnema/possync/internal/ports"
)

const (
	EndpointProducts       = "/products/"
	EndpointSales          = "/sales/"
	EndpointPurchaseOrders = "/purchase-orders/"
	EndpointCredits        = "/credits/"
	EndpointDeposits       = "/deposits/"
	EndpointSummary        = "/dashboard/summary/"
)

// RetailEndpoints lists every cached collection, summary last.
var RetailEndpoints = []string{
	EndpointProducts,
	EndpointSales,
	EndpointPurchaseOrders,
	EndpointCredits,
	EndpointDeposits,
	EndpointSummary,
}

func resourceEndpoint(collection, id string) string {
	return collection + url.PathEscape(id) + "/"
}

// RetailService reads the retail collections through the orchestrator and
// keeps the view state that optimistic mutations act on.
type RetailService struct {
	orchestrator *Orchestrator
	clock        ports.Clock

	products *State[[]domain.Product]
	orders   *State[[]domain.PurchaseOrder]
	credits  *State[[]domain.Credit]
	summary  *State[domain.DashboardSummary]
}

func NewRetailService(orchestrator *Orchestrator, opts ...Option) *RetailService {
	o := buildOptions(opts)
	return &RetailService{
		orchestrator: orchestrator,
		clock:        o.clock,
		products:     NewState[[]domain.Product](nil, slices.Clone[[]domain.Product]),
		orders:       NewState[[]domain.PurchaseOrder](nil, slices.Clone[[]domain.PurchaseOrder]),
		credits:      NewState[[]domain.Credit](nil, slices.Clone[[]domain.Credit]),
		summary:      NewState(domain.DashboardSummary{}, nil),
	}
}

func (s *RetailService) Products(ctx context.Context) ([]domain.Product, error) {
	return FetchInto(ctx, s.orchestrator, "products", EndpointProducts, s.products.Set)
}

func (s *RetailService) Sales(ctx context.Context) ([]domain.Sale, error) {
	return FetchJSON[[]domain.Sale](ctx, s.orchestrator, "sales", EndpointSales)
}

func (s *RetailService) PurchaseOrders(ctx context.Context) ([]domain.PurchaseOrder, error) {
	return FetchInto(ctx, s.orchestrator, "purchase-orders", EndpointPurchaseOrders, s.orders.Set)
}

func (s *RetailService) Credits(ctx context.Context) ([]domain.Credit, error) {
	return FetchInto(ctx, s.orchestrator, "credits", EndpointCredits, s.credits.Set)
}

func (s *RetailService) Deposits(ctx context.Context) ([]domain.Deposit, error) {
	return FetchJSON[[]domain.Deposit](ctx, s.orchestrator, "deposits", EndpointDeposits)
}

func (s *RetailService) Summary(ctx context.Context) (domain.DashboardSummary, error) {
	return FetchInto(ctx, s.orchestrator, "summary", EndpointSummary, s.summary.Set)
}

// Local views, possibly ahead of the server while a mutation is in flight.

func (s *RetailService) ProductsView() []domain.Product             { return s.products.Get() }
func (s *RetailService) PurchaseOrdersView() []domain.PurchaseOrder { return s.orders.Get() }
func (s *RetailService) CreditsView() []domain.Credit               { return s.credits.Get() }
func (s *RetailService) SummaryView() domain.DashboardSummary       { return s.summary.Get() }

type orderStatusPatch struct {
	Status domain.PurchaseOrderStatus `json:"status"`
}

func (s *RetailService) UpdatePurchaseOrderStatus(ctx context.Context, id string, status domain.PurchaseOrderStatus) error {
	endpoint := resourceEndpoint(EndpointPurchaseOrders, id)
	return Mutate(ctx, s.orchestrator, s.orders, Mutation[[]domain.PurchaseOrder]{
		Entity:   "purchase-order:" + id,
		Rollback: restoreEntry(id, func(o domain.PurchaseOrder) string { return o.ID }),
		Apply: func(orders []domain.PurchaseOrder) ([]domain.PurchaseOrder, error) {
			idx := slices.IndexFunc(orders, func(o domain.PurchaseOrder) bool { return o.ID == id })
			if idx < 0 {
				return nil, fmt.Errorf("purchase order %s: %w", id, domain.ErrResourceNotLoaded)
			}
			if !orders[idx].Status.CanTransitionTo(status) {
				return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidStatusTransition, orders[idx].Status, status)
			}
			orders[idx].Status = status
			orders[idx].UpdatedAt = s.clock.Now()
			return orders, nil
		},
		Remote: func(ctx context.Context) error {
			_, err := s.orchestrator.Call(ctx, Request{Method: http.MethodPatch, Path: endpoint, Body: orderStatusPatch{Status: status}})
			return err
		},
		Invalidate: []string{EndpointPurchaseOrders, EndpointSummary},
		Refetch:    []func(context.Context) error{s.refetchSummary},
	})
}

type creditPaymentRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

func (s *RetailService) RecordCreditPayment(ctx context.Context, creditID string, amountCents int64) error {
	if amountCents <= 0 {
		return errors.New("payment amount must be positive")
	}
	endpoint := resourceEndpoint(EndpointCredits, creditID) + "payments/"
	return Mutate(ctx, s.orchestrator, s.credits, Mutation[[]domain.Credit]{
		Entity:   "credit:" + creditID,
		Rollback: restoreEntry(creditID, func(c domain.Credit) string { return c.ID }),
		Apply: func(credits []domain.Credit) ([]domain.Credit, error) {
			idx := slices.IndexFunc(credits, func(c domain.Credit) bool { return c.ID == creditID })
			if idx < 0 {
				return nil, fmt.Errorf("credit %s: %w", creditID, domain.ErrResourceNotLoaded)
			}
			if amountCents > credits[idx].BalanceCents {
				return nil, fmt.Errorf("payment %s exceeds balance %s", domain.FormatCents(amountCents), domain.FormatCents(credits[idx].BalanceCents))
			}
			credits[idx].BalanceCents -= amountCents
			return credits, nil
		},
		Remote: func(ctx context.Context) error {
			_, err := s.orchestrator.Call(ctx, Request{Method: http.MethodPost, Path: endpoint, Body: creditPaymentRequest{AmountCents: amountCents}})
			return err
		},
		Invalidate: []string{EndpointCredits, EndpointSummary},
		Refetch:    []func(context.Context) error{s.refetchSummary},
	})
}

func (s *RetailService) DeleteProduct(ctx context.Context, id string) error {
	endpoint := resourceEndpoint(EndpointProducts, id)
	return Mutate(ctx, s.orchestrator, s.products, Mutation[[]domain.Product]{
		Entity:   "product:" + id,
		Rollback: restoreEntry(id, func(p domain.Product) string { return p.ID }),
		Apply: func(products []domain.Product) ([]domain.Product, error) {
			idx := slices.IndexFunc(products, func(p domain.Product) bool { return p.ID == id })
			if idx < 0 {
				return nil, fmt.Errorf("product %s: %w", id, domain.ErrResourceNotLoaded)
			}
			return slices.Delete(products, idx, idx+1), nil
		},
		Remote: func(ctx context.Context) error {
			_, err := s.orchestrator.Call(ctx, Request{Method: http.MethodDelete, Path: endpoint})
			return err
		},
		Invalidate: []string{EndpointProducts, EndpointSummary},
		Refetch:    []func(context.Context) error{s.refetchSummary},
	})
}

// RefreshDashboard drops every cached collection and reloads them together.
func (s *RetailService) RefreshDashboard(ctx context.Context) error {
	return s.orchestrator.ForceRefresh(ctx, RetailEndpoints,
		func(ctx context.Context) error { _, err := s.Products(ctx); return err },
		func(ctx context.Context) error { _, err := s.Sales(ctx); return err },
		func(ctx context.Context) error { _, err := s.PurchaseOrders(ctx); return err },
		func(ctx context.Context) error { _, err := s.Credits(ctx); return err },
		func(ctx context.Context) error { _, err := s.Deposits(ctx); return err },
		s.refetchSummary,
	)
}

func (s *RetailService) refetchSummary(ctx context.Context) error {
	_, err := s.Summary(ctx)
	return err
}

// restoreEntry rolls back the entry with id to its value in previous and
// leaves every other entry as it is now. A deleted entry is put back at its
// old position.
func restoreEntry[E any](id string, idOf func(E) string) func(current, previous []E) []E {
	return func(current, previous []E) []E {
		match := func(e E) bool { return idOf(e) == id }
		was := slices.IndexFunc(previous, match)
		now := slices.IndexFunc(current, match)
		switch {
		case was < 0 && now < 0:
			return current
		case was < 0:
			return slices.Delete(current, now, now+1)
		case now >= 0:
			current[now] = previous[was]
			return current
		default:
			return slices.Insert(current, min(was, len(current)), previous[was])
		}
	}
}
