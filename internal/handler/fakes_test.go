package handler

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/comanda/internal/domain/auth"
	"github.com/xenking/comanda/internal/domain/branch"
	"github.com/xenking/comanda/internal/domain/order"
	"github.com/xenking/comanda/internal/gateway"
)

type fakeOrders struct {
	mu sync.Mutex

	created  []gateway.CreateOrderRequest
	changed  []order.Status
	expected []order.Status
	orders   map[string]*order.Order
	byBranch map[string][]order.Order
	err      error
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{
		orders:   map[string]*order.Order{},
		byBranch: map[string][]order.Order{},
	}
}

func (f *fakeOrders) CreateOrder(_ context.Context, req gateway.CreateOrderRequest) (*order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	if f.err != nil {
		return nil, f.err
	}
	o := sampleOrder("o-new", "miraflores", req.CustomerID, order.StatusPending)
	return &o, nil
}

func (f *fakeOrders) ChangeStatusFrom(_ context.Context, _ auth.Identity, orderID string, expected, requested order.Status) (*order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changed = append(f.changed, requested)
	f.expected = append(f.expected, expected)
	if f.err != nil {
		return nil, f.err
	}
	o, ok := f.orders[orderID]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	o.Status = requested
	return o.Clone(), nil
}

func (f *fakeOrders) GetOrder(_ context.Context, _ auth.Identity, orderID string) (*order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	o, ok := f.orders[orderID]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (f *fakeOrders) ListActiveOrders(_ context.Context, branchID string) ([]order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]order.Order(nil), f.byBranch[branchID]...), nil
}

func (f *fakeOrders) ListCustomerOrders(_ context.Context, customerID string) ([]order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []order.Order
	for _, list := range f.byBranch {
		for _, o := range list {
			if o.CustomerID == customerID {
				out = append(out, o)
			}
		}
	}
	return out, nil
}

type fakeBranches map[string]*branch.Branch

func (f fakeBranches) Get(_ context.Context, id string) (*branch.Branch, error) {
	b, ok := f[id]
	if !ok {
		return nil, branch.ErrNotFound
	}
	return b, nil
}

type fakeAuth map[string]auth.Identity

func (f fakeAuth) Authenticate(_ context.Context, credential string) (auth.Identity, error) {
	id, ok := f[credential]
	if !ok {
		return auth.Identity{}, auth.ErrUnauthenticated
	}
	return id, nil
}

var identities = fakeAuth{
	"customer-key": {UserID: "cust-1", Role: auth.RoleCustomer},
	"staff-key":    {UserID: "cook-1", Role: auth.RoleStaff, BranchID: "miraflores"},
	"admin-key":    {UserID: "boss", Role: auth.RoleAdmin},
}

func sampleOrder(id, branchID, customerID string, status order.Status) order.Order {
	created := time.Date(2026, 10, 12, 13, 0, 0, 0, time.UTC)
	items := []order.Item{{
		ID:        "it-1",
		ProductID: "lomo",
		Name:      "Lomo saltado",
		UnitPrice: decimal.RequireFromString("10.00"),
		Quantity:  2,
	}}
	return order.Order{
		ID:         id,
		CustomerID: customerID,
		BranchID:   branchID,
		Items:      items,
		Total:      order.ComputeTotal(items),
		Payment:    order.PaymentInfo{Method: order.PaymentReceipt},
		Status:     status,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}
