package domain

import (
	"fmt"
	"time"
)

type Product struct {
	ID         string `json:"id"`
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Stock      int    `json:"stock"`
}

type Sale struct {
	ID         string    `json:"id"`
	ProductID  string    `json:"product_id"`
	Quantity   int       `json:"quantity"`
	TotalCents int64     `json:"total_cents"`
	SoldAt     time.Time `json:"sold_at"`
}

type PurchaseOrderStatus string

const (
	OrderPending   PurchaseOrderStatus = "pending"
	OrderApproved  PurchaseOrderStatus = "approved"
	OrderReceived  PurchaseOrderStatus = "received"
	OrderCancelled PurchaseOrderStatus = "cancelled"
)

var orderTransitions = map[PurchaseOrderStatus][]PurchaseOrderStatus{
	OrderPending:  {OrderApproved, OrderCancelled},
	OrderApproved: {OrderReceived, OrderCancelled},
}

func ParsePurchaseOrderStatus(raw string) (PurchaseOrderStatus, error) {
	status := PurchaseOrderStatus(raw)
	switch status {
	case OrderPending, OrderApproved, OrderReceived, OrderCancelled:
		return status, nil
	default:
		return "", fmt.Errorf("unsupported purchase order status %q", raw)
	}
}

func (s PurchaseOrderStatus) CanTransitionTo(next PurchaseOrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type PurchaseOrder struct {
	ID         string              `json:"id"`
	Supplier   string              `json:"supplier"`
	Status     PurchaseOrderStatus `json:"status"`
	TotalCents int64               `json:"total_cents"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

type Credit struct {
	ID           string `json:"id"`
	CustomerName string `json:"customer_name"`
	BalanceCents int64  `json:"balance_cents"`
}

type Deposit struct {
	ID          string    `json:"id"`
	AmountCents int64     `json:"amount_cents"`
	DepositedAt time.Time `json:"deposited_at"`
}

type DashboardSummary struct {
	SalesTodayCents    int64 `json:"sales_today_cents"`
	OpenOrders         int   `json:"open_orders"`
	OutstandingCredits int64 `json:"outstanding_credits_cents"`
	LowStockProducts   int   `json:"low_stock_products"`
}

func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
