package session

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/comanda/internal/domain/order"
)

// Server runs viewers and tracks the live ones.
type Server struct {
	source Source
	subs   Subscriptions
	cfg    Config

	active metric.Int64UpDownCounter
	acks   metric.Int64Counter

	mu      sync.Mutex
	viewers map[string]*Viewer
}

// NewServer creates a Server hydrating from source and subscribing through subs.
func NewServer(source Source, subs Subscriptions, cfg Config, meter metric.Meter) (*Server, error) {
	s := &Server{
		source:  source,
		subs:    subs,
		cfg:     cfg.withDefaults(),
		viewers: make(map[string]*Viewer),
	}

	var err error
	if s.active, err = meter.Int64UpDownCounter("comanda.sessions.active",
		metric.WithDescription("Connected live order viewers"),
	); err != nil {
		return nil, errors.Wrap(err, "active sessions counter")
	}
	if s.acks, err = meter.Int64Counter("comanda.sessions.acks",
		metric.WithDescription("Order acknowledgements received from viewers"),
	); err != nil {
		return nil, errors.Wrap(err, "acks counter")
	}
	return s, nil
}

// Serve runs a viewer on conn until the client disconnects, ctx is done or the
// server is closed. The viewer subscribes before fetching its snapshot so no
// event published in between is lost.
func (s *Server) Serve(ctx context.Context, conn Conn, scope Scope) error {
	id := uuid.NewString()
	lg := zctx.From(ctx).With(
		zap.String("session", id),
		zap.String("scope", string(scope.Kind)),
		zap.String("scope_key", scope.Key),
	)
	v := newViewer(id, scope, conn, s.cfg, lg)
	attrs := metric.WithAttributes(attribute.String("scope", string(scope.Kind)))
	v.onAck = func(string) { s.acks.Add(context.Background(), 1, attrs) }

	s.track(v)
	s.active.Add(ctx, 1, attrs)
	defer func() {
		s.untrack(v)
		s.active.Add(context.WithoutCancel(ctx), -1, attrs)
	}()

	switch scope.Kind {
	case ScopeBranch:
		s.subs.SubscribeBranch(v, scope.Key)
	case ScopeCustomer:
		s.subs.SubscribeCustomer(v, scope.Key)
	default:
		_ = conn.Close()
		return errors.Errorf("unknown scope %q", scope.Kind)
	}
	defer s.subs.Unsubscribe(v)

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		v.writePump()
	}()
	defer func() {
		v.Close()
		<-pumpDone
	}()

	snapshot, err := s.snapshot(ctx, scope)
	if err != nil {
		v.enqueue(errorFrame("failed to load orders"))
		return errors.Wrap(err, "snapshot")
	}
	if err := v.hydrate(snapshot); err != nil {
		return errors.Wrap(err, "hydrate")
	}
	lg.Info("Viewer connected", zap.Int("orders", len(snapshot)))

	stop := context.AfterFunc(ctx, v.Close)
	defer stop()

	err = v.readPump()
	lg.Info("Viewer disconnected")
	return err
}

func (s *Server) snapshot(ctx context.Context, scope Scope) ([]order.Order, error) {
	if scope.Kind == ScopeCustomer {
		return s.source.ListCustomerOrders(ctx, scope.Key)
	}
	return s.source.ListActiveOrders(ctx, scope.Key)
}

// Len returns the number of connected viewers.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.viewers)
}

// Close disconnects every viewer.
func (s *Server) Close() {
	s.mu.Lock()
	viewers := make([]*Viewer, 0, len(s.viewers))
	for _, v := range s.viewers {
		viewers = append(viewers, v)
	}
	s.mu.Unlock()

	for _, v := range viewers {
		v.Close()
	}
}

func (s *Server) track(v *Viewer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewers[v.id] = v
}

func (s *Server) untrack(v *Viewer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.viewers, v.id)
}
