// Package broadcast fans order lifecycle events out to connected viewers.
//
// A Registry maps viewer sessions to the branch they watch and to the customer
// whose own orders they follow. A Bus resolves the sessions interested in an
// event through the Registry and pushes a pre-encoded frame to each of them
// without waiting on slow consumers.
package broadcast

import (
	"time"

	"github.com/xenking/comanda/internal/domain/order"
)

// Wire names of the published events.
const (
	NameOrderCreated       = "order.created"
	NameOrderStatusChanged = "order.status_changed"
)

// Event is one of OrderCreated or OrderStatusChanged.
type Event interface {
	Name() string
	route() route
}

type route struct {
	orderID    string
	branchID   string
	customerID string
}

// OrderCreated announces a freshly persisted order.
type OrderCreated struct {
	Order order.Order
}

func (OrderCreated) Name() string { return NameOrderCreated }

func (e OrderCreated) route() route {
	return route{orderID: e.Order.ID, branchID: e.Order.BranchID, customerID: e.Order.CustomerID}
}

// OrderStatusChanged announces a persisted status transition.
type OrderStatusChanged struct {
	OrderID    string
	BranchID   string
	CustomerID string
	OldStatus  order.Status
	NewStatus  order.Status
	ChangedAt  time.Time
}

func (OrderStatusChanged) Name() string { return NameOrderStatusChanged }

func (e OrderStatusChanged) route() route {
	return route{orderID: e.OrderID, branchID: e.BranchID, customerID: e.CustomerID}
}

// Delivery is what a Subscriber receives: the typed event for local state
// and the encoded frame to forward over the wire.
type Delivery struct {
	Event Event
	Frame []byte
}

// Subscriber is a connected viewer able to accept deliveries.
type Subscriber interface {
	SessionID() string
	// Deliver must not block. An error marks the delivery as dropped.
	Deliver(d Delivery) error
}
