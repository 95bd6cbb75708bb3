package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/comanda/internal/domain/auth"
	"github.com/xenking/comanda/internal/domain/branch"
	"github.com/xenking/comanda/internal/domain/order"
	"github.com/xenking/comanda/internal/session"
)

// errBadRequest marks malformed request bodies and parameters.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return errors.Wrapf(errBadRequest, format, args...)
}

// writeError maps a domain error to an HTTP status and a {code, message} body.
// Typed errors add their details as extra fields.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request error", zap.Error(err))
		message = "internal error"
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Str(code)
	e.FieldStart("message")
	e.Str(message)
	writeDetails(&e, err)
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, order.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, order.ErrBranchMismatch):
		return http.StatusForbidden, "branch_mismatch"
	case errors.Is(err, order.ErrOrderNotFound), errors.Is(err, branch.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, errBadRequest), errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, session.ErrBranchRequired):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, order.ErrValidation):
		return http.StatusUnprocessableEntity, "validation_error"
	case errors.Is(err, order.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, order.ErrAlreadyTerminal):
		return http.StatusConflict, "already_terminal"
	case errors.Is(err, order.ErrTimeout):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeDetails(e *jx.Encoder, err error) {
	var (
		transition *order.TransitionError
		mismatch   *order.BranchMismatchError
		invoice    *order.IncompleteInvoiceError
		mixed      *order.MixedBranchError
		missing    *order.ProductNotFoundError
	)
	switch {
	case errors.As(err, &transition):
		if transition.Current != "" {
			e.FieldStart("current")
			e.Str(transition.Current.String())
		}
		e.FieldStart("requested")
		e.Str(transition.Requested.String())
		e.FieldStart("role")
		e.Str(string(transition.Role))
	case errors.As(err, &mismatch):
		e.FieldStart("order_branch")
		e.Str(mismatch.OrderBranch)
		e.FieldStart("actor_branch")
		e.Str(mismatch.ActorBranch)
	case errors.As(err, &invoice):
		e.FieldStart("missing")
		writeStrings(e, invoice.Missing)
	case errors.As(err, &mixed):
		e.FieldStart("branches")
		writeStrings(e, mixed.BranchIDs)
	case errors.As(err, &missing):
		e.FieldStart("product_id")
		e.Str(missing.ProductID)
	}
}

func writeStrings(e *jx.Encoder, values []string) {
	e.ArrStart()
	for _, v := range values {
		e.Str(v)
	}
	e.ArrEnd()
}
