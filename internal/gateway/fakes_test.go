package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/comanda/internal/broadcast"
	"github.com/xenking/comanda/internal/domain/order"
	"github.com/xenking/comanda/internal/domain/product"
)

type memStore struct {
	mu     sync.Mutex
	orders map[string]*order.Order
	seq    []string

	createErr error
	updateErr error
	// release, when set, blocks CreateOrderWithItems until closed.
	release chan struct{}
}

func newMemStore() *memStore {
	return &memStore{orders: make(map[string]*order.Order)}
}

func (s *memStore) CreateOrderWithItems(_ context.Context, o *order.Order) (string, error) {
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return "", s.createErr
	}
	s.orders[o.ID] = o.Clone()
	s.seq = append(s.seq, o.ID)
	return o.ID, nil
}

func (s *memStore) GetOrder(_ context.Context, id string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (s *memStore) GetOrderByIdempotencyKey(_ context.Context, customerID, key string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.CustomerID == customerID && o.IdempotencyKey == key {
			return o.Clone(), nil
		}
	}
	return nil, order.ErrOrderNotFound
}

func (s *memStore) UpdateStatus(_ context.Context, id string, status order.Status, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	o, ok := s.orders[id]
	if !ok {
		return order.ErrOrderNotFound
	}
	o.Status = status
	o.UpdatedAt = updatedAt
	return nil
}

func (s *memStore) ListOrders(_ context.Context, f order.Filter) ([]order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []order.Order
	for _, id := range s.seq {
		o := s.orders[id]
		if f.BranchID != "" && o.BranchID != f.BranchID {
			continue
		}
		if f.CustomerID != "" && o.CustomerID != f.CustomerID {
			continue
		}
		excluded := false
		for _, st := range f.ExcludeStatuses {
			if o.Status == st {
				excluded = true
			}
		}
		if !excluded {
			out = append(out, *o.Clone())
		}
	}
	return out, nil
}

func (s *memStore) put(o order.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o.Clone()
	s.seq = append(s.seq, o.ID)
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *memStore) status(id string) order.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id].Status
}

type memProducts struct {
	items map[string]product.Product
	err   error
}

func (m *memProducts) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.items[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type recorder struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (r *recorder) Publish(_ context.Context, ev broadcast.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []broadcast.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]broadcast.Event(nil), r.events...)
}

var errConnRefused = errors.New("dial tcp: connection refused")

func catalog() *memProducts {
	return &memProducts{items: map[string]product.Product{
		"lomo": {
			ID: "lomo", BranchID: "miraflores", Name: "Lomo saltado",
			Price: decimal.RequireFromString("10.00"),
		},
		"chicha": {
			ID: "chicha", BranchID: "miraflores", Name: "Chicha morada",
			Price:      decimal.RequireFromString("6.00"),
			PromoPrice: decimal.NewNullDecimal(decimal.RequireFromString("4.50")),
		},
		"ceviche": {
			ID: "ceviche", BranchID: "barranco", Name: "Ceviche",
			Price: decimal.RequireFromString("18.00"),
		},
	}}
}
