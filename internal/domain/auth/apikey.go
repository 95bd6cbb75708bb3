// Package auth defines the verified caller identity consumed by the order
// pipeline. Credential verification itself lives in the transport layer.
package auth

import (
	"context"

	"github.com/go-faster/errors"
)

// Role is the claim that decides which operations a caller may perform.
type Role string

const (
	// RoleCustomer places orders and watches its own orders.
	RoleCustomer Role = "cliente"
	// RoleStaff works the kitchen of exactly one branch.
	RoleStaff Role = "personal"
	// RoleAdmin may act on any branch.
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleStaff, RoleAdmin:
		return true
	default:
		return false
	}
}

var (
	// ErrUnauthenticated is returned when no valid credential was presented.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrUnauthorized is returned when the credential is valid but its claims
	// do not allow the requested scope.
	ErrUnauthorized = errors.New("unauthorized")
)

// Identity is the verified caller: user, role and, for staff, the branch the
// caller is bound to.
type Identity struct {
	UserID   string
	Role     Role
	BranchID string
}

// APIKeyInfo holds the identity bound to a stored API key.
type APIKeyInfo struct {
	ID       string
	KeyHash  string
	Name     string
	UserID   string
	Role     Role
	BranchID string
}

// Identity returns the caller identity carried by the key.
func (i *APIKeyInfo) Identity() Identity {
	return Identity{UserID: i.UserID, Role: i.Role, BranchID: i.BranchID}
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// Authenticator turns a raw credential into a verified Identity.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (Identity, error)
}
