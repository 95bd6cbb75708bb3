package broadcast

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Delivery failures reported by subscribers. They are logged and counted,
// never returned to publishers.
var (
	ErrSlowConsumer  = errors.New("subscriber buffer full")
	ErrSessionClosed = errors.New("session closed")
)

// Bus is the single publication point for order lifecycle events.
type Bus struct {
	registry *Registry
	lg       *zap.Logger

	published metric.Int64Counter
	delivered metric.Int64Counter
	dropped   metric.Int64Counter
}

// NewBus creates a Bus resolving targets through registry.
func NewBus(registry *Registry, lg *zap.Logger, meter metric.Meter) (*Bus, error) {
	b := &Bus{registry: registry, lg: lg}

	var err error
	if b.published, err = meter.Int64Counter("comanda.events.published",
		metric.WithDescription("Order events published"),
	); err != nil {
		return nil, errors.Wrap(err, "published counter")
	}
	if b.delivered, err = meter.Int64Counter("comanda.events.delivered",
		metric.WithDescription("Order event frames handed to sessions"),
	); err != nil {
		return nil, errors.Wrap(err, "delivered counter")
	}
	if b.dropped, err = meter.Int64Counter("comanda.events.dropped",
		metric.WithDescription("Order event frames a session could not accept"),
	); err != nil {
		return nil, errors.Wrap(err, "dropped counter")
	}
	return b, nil
}

// Publish pushes ev to every session watching the event's branch and to every
// session following the owning customer. It never blocks on a session and
// never fails: a session that cannot accept the frame just misses it.
//
// Per-destination order follows publication order, so callers must publish
// events of one order from a serialized section.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	rt := ev.route()
	attrs := metric.WithAttributes(attribute.String("event", ev.Name()))
	b.published.Add(ctx, 1, attrs)

	targets := b.resolve(rt)
	if len(targets) == 0 {
		return
	}
	d := Delivery{Event: ev, Frame: EncodeEvent(ev)}

	for _, s := range targets {
		if err := s.Deliver(d); err != nil {
			b.dropped.Add(ctx, 1, attrs)
			b.lg.Debug("Delivery failed",
				zap.String("session", s.SessionID()),
				zap.String("event", ev.Name()),
				zap.String("order_id", rt.orderID),
				zap.Error(err),
			)
			continue
		}
		b.delivered.Add(ctx, 1, attrs)
	}
}

// resolve merges branch and customer audiences, each session once.
func (b *Bus) resolve(rt route) []Subscriber {
	branch := b.registry.BranchSessions(rt.branchID)
	customer := b.registry.CustomerSessions(rt.customerID)
	if len(customer) == 0 {
		return branch
	}

	seen := make(map[string]struct{}, len(branch)+len(customer))
	out := make([]Subscriber, 0, len(branch)+len(customer))
	for _, list := range [][]Subscriber{branch, customer} {
		for _, s := range list {
			if _, ok := seen[s.SessionID()]; ok {
				continue
			}
			seen[s.SessionID()] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
