// Package gateway is the single entry point for order mutations: it validates
// requests, persists through the order store and publishes lifecycle events
// once the write is durable.
package gateway

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/moby/locker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/comanda/internal/broadcast"
	"github.com/xenking/comanda/internal/domain/auth"
	"github.com/xenking/comanda/internal/domain/order"
	"github.com/xenking/comanda/internal/domain/product"
)

// DefaultTimeout bounds a mutating operation when Options.Timeout is zero.
const DefaultTimeout = 5 * time.Second

// Publisher receives lifecycle events after they are persisted.
type Publisher interface {
	Publish(ctx context.Context, ev broadcast.Event)
}

// Options tune a Gateway. Zero values select defaults.
type Options struct {
	Timeout time.Duration
	Clock   clockwork.Clock
	Tracer  trace.Tracer
}

// ItemRequest is one requested line of a new order.
type ItemRequest struct {
	ProductID   string
	Quantity    int
	Observation string
}

// CreateOrderRequest holds the input for placing an order. Prices are never
// taken from the caller.
type CreateOrderRequest struct {
	CustomerID     string
	Items          []ItemRequest
	Payment        order.PaymentInfo
	IdempotencyKey string
}

// Gateway validates, persists and publishes order changes. All mutations of
// one order run under that order's lock, so events of an order are published
// in the order they were applied.
type Gateway struct {
	store    order.Store
	products product.Repository
	pub      Publisher

	clock   clockwork.Clock
	tracer  trace.Tracer
	timeout time.Duration

	locks    *locker.Locker
	inflight sync.WaitGroup
}

// New creates a Gateway.
func New(store order.Store, products product.Repository, pub Publisher, opts Options) *Gateway {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Tracer == nil {
		opts.Tracer = tracenoop.NewTracerProvider().Tracer("")
	}
	return &Gateway{
		store:    store,
		products: products,
		pub:      pub,
		clock:    opts.Clock,
		tracer:   opts.Tracer,
		timeout:  opts.Timeout,
		locks:    locker.New(),
	}
}

// CreateOrder validates req, snapshots product data into the items, computes
// the total, persists order and items atomically and publishes OrderCreated.
//
// A repeated IdempotencyKey of the same customer returns the order created the
// first time and publishes nothing.
func (g *Gateway) CreateOrder(ctx context.Context, req CreateOrderRequest) (*order.Order, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return g.run(ctx, "order.create", func(ctx context.Context) (*order.Order, error) {
		if req.IdempotencyKey != "" {
			unlock := g.lock("idem:" + req.CustomerID + "\x00" + req.IdempotencyKey)
			defer unlock()

			existing, err := g.store.GetOrderByIdempotencyKey(ctx, req.CustomerID, req.IdempotencyKey)
			switch {
			case err == nil:
				zctx.From(ctx).Info("Idempotent replay",
					zap.String("order_id", existing.ID),
					zap.String("customer_id", req.CustomerID),
				)
				return existing, nil
			case !errors.Is(err, order.ErrOrderNotFound):
				return nil, storageErr("get order by idempotency key", err)
			}
		}

		o, err := g.buildOrder(ctx, req)
		if err != nil {
			return nil, err
		}

		unlock := g.lock(o.ID)
		defer unlock()

		if _, err := g.store.CreateOrderWithItems(ctx, o); err != nil {
			zctx.From(ctx).Error("Create order failed", zap.String("order_id", o.ID), zap.Error(err))
			return nil, storageErr("create order", err)
		}
		g.pub.Publish(ctx, broadcast.OrderCreated{Order: *o.Clone()})

		zctx.From(ctx).Info("Order created",
			zap.String("order_id", o.ID),
			zap.String("branch_id", o.BranchID),
			zap.String("customer_id", o.CustomerID),
			zap.String("total", o.Total.StringFixed(2)),
		)
		return o, nil
	})
}

func validateRequest(req CreateOrderRequest) error {
	if len(req.Items) == 0 {
		return order.ErrEmptyItems
	}
	for _, it := range req.Items {
		if it.Quantity <= 0 || it.Quantity > order.MaxQuantity {
			return &order.InvalidQuantityError{ProductID: it.ProductID, Quantity: it.Quantity}
		}
		if n := len([]rune(it.Observation)); n > order.MaxObservationLength {
			return &order.ObservationTooLongError{ProductID: it.ProductID, Length: n}
		}
	}

	p := req.Payment
	switch p.Method {
	case order.PaymentReceipt:
	case order.PaymentInvoice:
		var missing []string
		if p.RUC == "" {
			missing = append(missing, "ruc")
		}
		if p.CompanyName == "" {
			missing = append(missing, "company_name")
		}
		if p.Address == "" {
			missing = append(missing, "address")
		}
		if len(missing) > 0 {
			return &order.IncompleteInvoiceError{Missing: missing}
		}
	default:
		return &order.InvalidPaymentMethodError{Method: string(p.Method)}
	}
	return nil
}

// buildOrder resolves products in one batch and assembles a PENDING order.
func (g *Gateway) buildOrder(ctx context.Context, req CreateOrderRequest) (*order.Order, error) {
	ids := make([]string, 0, len(req.Items))
	for _, it := range req.Items {
		if !slices.Contains(ids, it.ProductID) {
			ids = append(ids, it.ProductID)
		}
	}

	fetched, err := g.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, storageErr("get products", err)
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	var branches []string
	items := make([]order.Item, 0, len(req.Items))
	for _, it := range req.Items {
		p, ok := byID[it.ProductID]
		if !ok {
			return nil, &order.ProductNotFoundError{ProductID: it.ProductID}
		}
		if !slices.Contains(branches, p.BranchID) {
			branches = append(branches, p.BranchID)
		}
		items = append(items, order.Item{
			ID:          uuid.NewString(),
			ProductID:   p.ID,
			Name:        p.Name,
			UnitPrice:   p.Price,
			PromoPrice:  p.PromoPrice,
			Description: p.Description,
			Image:       p.Image,
			Quantity:    it.Quantity,
			Observation: it.Observation,
		})
	}
	if len(branches) > 1 {
		sort.Strings(branches)
		return nil, &order.MixedBranchError{BranchIDs: branches}
	}

	now := g.clock.Now().UTC()
	return &order.Order{
		ID:             uuid.NewString(),
		CustomerID:     req.CustomerID,
		BranchID:       branches[0],
		Items:          items,
		Total:          order.ComputeTotal(items),
		Payment:        req.Payment,
		Status:         order.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
		IdempotencyKey: req.IdempotencyKey,
	}, nil
}

// ChangeStatus moves an order to requested on behalf of actor. The new status
// is persisted before OrderStatusChanged is published; a rejected change
// leaves the order untouched and publishes nothing.
func (g *Gateway) ChangeStatus(ctx context.Context, actor auth.Identity, orderID string, requested order.Status) (*order.Order, error) {
	return g.ChangeStatusFrom(ctx, actor, orderID, "", requested)
}

// ChangeStatusFrom is ChangeStatus guarded by the status the caller last saw.
// When expected is set and the order has moved on, the change fails with
// ErrInvalidTransition carrying the actual current status. An empty expected
// skips the check.
func (g *Gateway) ChangeStatusFrom(ctx context.Context, actor auth.Identity, orderID string, expected, requested order.Status) (*order.Order, error) {
	if !order.CanTransition(actor.Role) {
		_, err := order.Transition("", requested, actor.Role)
		return nil, err
	}
	return g.run(ctx, "order.change_status", func(ctx context.Context) (*order.Order, error) {
		unlock := g.lock(orderID)
		defer unlock()

		o, err := g.store.GetOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, order.ErrOrderNotFound) {
				return nil, err
			}
			return nil, storageErr("get order", err)
		}
		if actor.Role != auth.RoleAdmin && o.BranchID != actor.BranchID {
			return nil, &order.BranchMismatchError{
				OrderID:     o.ID,
				OrderBranch: o.BranchID,
				ActorBranch: actor.BranchID,
			}
		}

		next, err := order.Transition(o.Status, requested, actor.Role)
		if err != nil {
			return nil, err
		}
		if expected != "" && expected != o.Status {
			return nil, &order.TransitionError{
				Kind:      order.ErrInvalidTransition,
				Current:   o.Status,
				Requested: requested,
				Role:      actor.Role,
			}
		}

		now := g.clock.Now().UTC()
		if err := g.store.UpdateStatus(ctx, o.ID, next, now); err != nil {
			zctx.From(ctx).Error("Update status failed", zap.String("order_id", o.ID), zap.Error(err))
			return nil, storageErr("update status", err)
		}

		prev := o.Status
		o.Status = next
		o.UpdatedAt = now
		g.pub.Publish(ctx, broadcast.OrderStatusChanged{
			OrderID:    o.ID,
			BranchID:   o.BranchID,
			CustomerID: o.CustomerID,
			OldStatus:  prev,
			NewStatus:  next,
			ChangedAt:  now,
		})

		zctx.From(ctx).Info("Order status changed",
			zap.String("order_id", o.ID),
			zap.String("branch_id", o.BranchID),
			zap.Stringer("from", prev),
			zap.Stringer("to", next),
			zap.String("actor", actor.UserID),
		)
		return o, nil
	})
}

// ListActiveOrders returns the branch's non-terminal orders, oldest first.
func (g *Gateway) ListActiveOrders(ctx context.Context, branchID string) ([]order.Order, error) {
	return g.list(ctx, order.Filter{BranchID: branchID, ExcludeStatuses: order.TerminalStatuses})
}

// ListCustomerOrders returns the customer's non-terminal orders, oldest first.
func (g *Gateway) ListCustomerOrders(ctx context.Context, customerID string) ([]order.Order, error) {
	return g.list(ctx, order.Filter{CustomerID: customerID, ExcludeStatuses: order.TerminalStatuses})
}

func (g *Gateway) list(ctx context.Context, f order.Filter) ([]order.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	orders, err := g.store.ListOrders(ctx, f)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errors.Wrap(order.ErrTimeout, "list orders")
		}
		return nil, storageErr("list orders", err)
	}
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	return orders, nil
}

// GetOrder returns a single order visible to actor. Customers only see their
// own orders and get ErrOrderNotFound for anything else.
func (g *Gateway) GetOrder(ctx context.Context, actor auth.Identity, orderID string) (*order.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	o, err := g.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			return nil, err
		}
		return nil, storageErr("get order", err)
	}

	switch actor.Role {
	case auth.RoleAdmin:
	case auth.RoleStaff:
		if o.BranchID != actor.BranchID {
			return nil, &order.BranchMismatchError{OrderID: o.ID, OrderBranch: o.BranchID, ActorBranch: actor.BranchID}
		}
	default:
		if o.CustomerID != actor.UserID {
			return nil, order.ErrOrderNotFound
		}
	}
	return o, nil
}

// Wait blocks until every started operation has finished, including those
// whose callers already gave up, or until ctx is done.
func (g *Gateway) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type result struct {
	order *order.Order
	err   error
}

// run executes fn detached from the caller's cancellation. The caller waits at
// most g.timeout and gets ErrTimeout after that, while fn still runs to
// completion so the store and the published events stay consistent.
func (g *Gateway) run(ctx context.Context, name string, fn func(context.Context) (*order.Order, error)) (*order.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opCtx, span := g.tracer.Start(context.WithoutCancel(ctx), name)
	done := make(chan result, 1)

	g.inflight.Add(1)
	go func() {
		defer g.inflight.Done()
		defer span.End()

		o, err := fn(opCtx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.String("order.id", o.ID),
				attribute.String("order.status", o.Status.String()),
			)
		}
		done <- result{order: o, err: err}
	}()

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		return r.order.Clone(), nil
	case <-timer.C:
	case <-ctx.Done():
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ctx.Err()
		}
	}
	zctx.From(ctx).Warn("Operation timed out, completing in background",
		zap.String("operation", name),
		zap.Duration("timeout", g.timeout),
	)
	return nil, errors.Wrapf(order.ErrTimeout, "%s", name)
}

// storageErr wraps err as a StorageError unless it already is one.
func storageErr(op string, err error) error {
	if errors.Is(err, order.ErrStorage) {
		return err
	}
	return &order.StorageError{Op: op, Err: err}
}
