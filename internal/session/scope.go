package session

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/comanda/internal/domain/auth"
	"github.com/xenking/comanda/internal/domain/branch"
)

// ScopeKind selects which audience a viewer joins.
type ScopeKind string

const (
	// ScopeBranch follows every order of one branch (kitchen view).
	ScopeBranch ScopeKind = "branch"
	// ScopeCustomer follows the orders of one customer.
	ScopeCustomer ScopeKind = "customer"
)

// Scope is the audience of a viewer: a branch or a customer.
type Scope struct {
	Kind ScopeKind
	Key  string
}

// ErrBranchRequired is returned when an admin connects without choosing a branch.
var ErrBranchRequired = errors.New("branch required")

// ResolveScope decides what id may watch. Staff are pinned to their branch,
// admins pick any existing branch and customers follow their own orders.
func ResolveScope(ctx context.Context, id auth.Identity, requestedBranch string, branches branch.Repository) (Scope, error) {
	switch id.Role {
	case auth.RoleStaff:
		if id.BranchID == "" {
			return Scope{}, errors.Wrap(auth.ErrUnauthorized, "staff without branch")
		}
		if requestedBranch != "" && requestedBranch != id.BranchID {
			return Scope{}, errors.Wrapf(auth.ErrUnauthorized, "staff of %s cannot watch %s", id.BranchID, requestedBranch)
		}
		return Scope{Kind: ScopeBranch, Key: id.BranchID}, nil
	case auth.RoleAdmin:
		if requestedBranch == "" {
			return Scope{}, ErrBranchRequired
		}
		if _, err := branches.Get(ctx, requestedBranch); err != nil {
			return Scope{}, errors.Wrap(err, "get branch")
		}
		return Scope{Kind: ScopeBranch, Key: requestedBranch}, nil
	case auth.RoleCustomer:
		if requestedBranch != "" {
			return Scope{}, errors.Wrap(auth.ErrUnauthorized, "customers cannot watch a branch")
		}
		return Scope{Kind: ScopeCustomer, Key: id.UserID}, nil
	default:
		return Scope{}, auth.ErrUnauthorized
	}
}
