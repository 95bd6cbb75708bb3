package order

import (
	"github.com/xenking/comanda/internal/domain/auth"
)

// Status is the lifecycle state of an order.
//
//	PENDING ──> PREPARING ──> DRIVER ──> DELIVERED
//	   │            │
//	   └────────────┴──> CANCELLED
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPreparing Status = "PREPARING"
	StatusDriver    Status = "DRIVER"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
)

// TerminalStatuses lists the states from which no transition is allowed.
var TerminalStatuses = []Status{StatusDelivered, StatusCancelled}

var edges = map[Status][]Status{
	StatusPending:   {StatusPreparing, StatusCancelled},
	StatusPreparing: {StatusDriver, StatusCancelled},
	StatusDriver:    {StatusDelivered},
}

// ParseStatus validates a status received from outside the process.
func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	switch st {
	case StatusPending, StatusPreparing, StatusDriver, StatusDelivered, StatusCancelled:
		return st, true
	default:
		return "", false
	}
}

// Terminal reports whether s accepts no further transitions.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

func (s Status) String() string {
	return string(s)
}

// CanTransition reports whether role may change order statuses at all.
func CanTransition(role auth.Role) bool {
	return role == auth.RoleStaff || role == auth.RoleAdmin
}

// Transition validates moving from current to requested on behalf of role.
// It has no side effects; callers persist the returned status.
//
// Role is checked first, so a customer is always rejected with ErrForbidden
// regardless of the edge. Terminal orders fail with ErrAlreadyTerminal, every
// other edge outside the graph with ErrInvalidTransition.
func Transition(current, requested Status, role auth.Role) (Status, error) {
	if !CanTransition(role) {
		return current, newTransitionError(ErrForbidden, current, requested, role)
	}
	if current.Terminal() {
		return current, newTransitionError(ErrAlreadyTerminal, current, requested, role)
	}
	for _, next := range edges[current] {
		if next == requested {
			return requested, nil
		}
	}
	return current, newTransitionError(ErrInvalidTransition, current, requested, role)
}
