package order

import (
	"context"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// MaxObservationLength bounds the free-text note attached to a line item.
const MaxObservationLength = 255

// MaxQuantity is the largest quantity a line item can be stored with.
const MaxQuantity = math.MaxInt32

// PaymentMethod is the closed set of billing documents an order can request.
type PaymentMethod string

const (
	// PaymentReceipt issues a plain receipt.
	PaymentReceipt PaymentMethod = "receipt"
	// PaymentInvoice issues a company invoice and needs billing details.
	PaymentInvoice PaymentMethod = "invoice"
)

// PaymentInfo carries the payment method and, for invoices, billing fields.
type PaymentInfo struct {
	Method      PaymentMethod
	RUC         string
	CompanyName string
	Address     string
}

// Order is a customer order bound to a single branch.
type Order struct {
	ID         string
	CustomerID string
	BranchID   string
	Items      []Item
	Total      decimal.Decimal
	Payment    PaymentInfo
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time

	// IdempotencyKey is the client-supplied key the order was created with, if any.
	IdempotencyKey string
}

// Item is a line of an order. Product fields are copied at creation time so
// later catalog edits never alter historical orders.
type Item struct {
	ID          string
	ProductID   string
	Name        string
	UnitPrice   decimal.Decimal
	PromoPrice  decimal.NullDecimal
	Description string
	Image       string
	Quantity    int
	Observation string
}

// EffectivePrice is the promotional price when present, the unit price otherwise.
func (i Item) EffectivePrice() decimal.Decimal {
	if i.PromoPrice.Valid {
		return i.PromoPrice.Decimal
	}
	return i.UnitPrice
}

// Subtotal is the effective price times quantity.
func (i Item) Subtotal() decimal.Decimal {
	return i.EffectivePrice().Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ComputeTotal sums item subtotals, rounded to cents.
func ComputeTotal(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total.Round(2)
}

// Active reports whether the order still belongs in a live queue.
func (o *Order) Active() bool {
	return !o.Status.Terminal()
}

// Clone returns a deep copy so callers can hand orders to concurrent readers.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]Item(nil), o.Items...)
	return &c
}

// Filter selects orders for Store.ListOrders. Empty fields match everything.
type Filter struct {
	BranchID        string
	CustomerID      string
	ExcludeStatuses []Status
}

// Store is the durable source of truth for orders. Every method is atomic at
// single-order granularity.
type Store interface {
	// CreateOrderWithItems persists the order and all of its items as one unit.
	CreateOrderWithItems(ctx context.Context, o *Order) (string, error)
	// GetOrder returns ErrOrderNotFound when no order has the given id.
	GetOrder(ctx context.Context, id string) (*Order, error)
	// GetOrderByIdempotencyKey returns ErrOrderNotFound when the customer never used key.
	GetOrderByIdempotencyKey(ctx context.Context, customerID, key string) (*Order, error)
	UpdateStatus(ctx context.Context, id string, status Status, updatedAt time.Time) error
	// ListOrders returns matching orders ordered by creation time, oldest first.
	ListOrders(ctx context.Context, f Filter) ([]Order, error)
}
