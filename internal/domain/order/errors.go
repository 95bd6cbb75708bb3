package order

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/comanda/internal/domain/auth"
)

// Sentinel errors. Typed errors below unwrap to one of these so callers can
// classify with errors.Is and still extract details with errors.As.
var (
	ErrValidation        = errors.New("validation failed")
	ErrEmptyItems        = fmt.Errorf("%w: items required", ErrValidation)
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyTerminal   = errors.New("order already in terminal status")
	ErrForbidden         = errors.New("role may not change order status")
	ErrBranchMismatch    = errors.New("order belongs to another branch")
	ErrOrderNotFound     = errors.New("order not found")
	ErrStorage           = errors.New("storage failure")
	ErrTimeout           = errors.New("operation timed out")
)

// InvalidQuantityError indicates a line item quantity outside 1..MaxQuantity.
type InvalidQuantityError struct {
	ProductID string
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be between 1 and %d for product %s, got %d", MaxQuantity, e.ProductID, e.Quantity)
}

func (e *InvalidQuantityError) Unwrap() error { return ErrValidation }

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

func (e *ProductNotFoundError) Unwrap() error { return ErrValidation }

// ObservationTooLongError indicates an item note exceeds MaxObservationLength.
type ObservationTooLongError struct {
	ProductID string
	Length    int
}

func (e *ObservationTooLongError) Error() string {
	return fmt.Sprintf("observation for product %s is %d characters, max %d",
		e.ProductID, e.Length, MaxObservationLength)
}

func (e *ObservationTooLongError) Unwrap() error { return ErrValidation }

// MixedBranchError indicates the items come from products of several branches.
type MixedBranchError struct {
	BranchIDs []string
}

func (e *MixedBranchError) Error() string {
	return fmt.Sprintf("items belong to multiple branches: %s", strings.Join(e.BranchIDs, ", "))
}

func (e *MixedBranchError) Unwrap() error { return ErrValidation }

// IncompleteInvoiceError lists billing fields missing from an invoice request.
type IncompleteInvoiceError struct {
	Missing []string
}

func (e *IncompleteInvoiceError) Error() string {
	return fmt.Sprintf("invoice requires %s", strings.Join(e.Missing, ", "))
}

func (e *IncompleteInvoiceError) Unwrap() error { return ErrValidation }

// InvalidPaymentMethodError indicates a payment method outside the closed set.
type InvalidPaymentMethodError struct {
	Method string
}

func (e *InvalidPaymentMethodError) Error() string {
	return fmt.Sprintf("unknown payment method %q", e.Method)
}

func (e *InvalidPaymentMethodError) Unwrap() error { return ErrValidation }

// TransitionError describes a rejected status change.
type TransitionError struct {
	Kind      error
	Current   Status
	Requested Status
	Role      auth.Role
}

func newTransitionError(kind error, current, requested Status, role auth.Role) *TransitionError {
	return &TransitionError{Kind: kind, Current: current, Requested: requested, Role: role}
}

func (e *TransitionError) Error() string {
	if e.Current == "" {
		return fmt.Sprintf("%s: -> %s (role %s)", e.Kind, e.Requested, e.Role)
	}
	return fmt.Sprintf("%s: %s -> %s (role %s)", e.Kind, e.Current, e.Requested, e.Role)
}

func (e *TransitionError) Unwrap() error { return e.Kind }

// BranchMismatchError is returned when staff act on an order of another branch.
type BranchMismatchError struct {
	OrderID     string
	OrderBranch string
	ActorBranch string
}

func (e *BranchMismatchError) Error() string {
	return fmt.Sprintf("order %s belongs to branch %s, actor is bound to %s",
		e.OrderID, e.OrderBranch, e.ActorBranch)
}

func (e *BranchMismatchError) Unwrap() error { return ErrBranchMismatch }

// StorageError wraps a failure of the order store. Its message carries the
// cause for logs; transports must render a generic message instead.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is makes every StorageError match ErrStorage.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }
