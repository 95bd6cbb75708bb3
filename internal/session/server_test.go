package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xenking/comanda/internal/broadcast"
	"github.com/xenking/comanda/internal/domain/order"
)

type stubSource struct {
	mu       sync.Mutex
	branch   map[string][]order.Order
	customer map[string][]order.Order
	// during runs inside the snapshot read, after subscription.
	during func()
}

func (s *stubSource) ListActiveOrders(_ context.Context, branchID string) ([]order.Order, error) {
	if s.during != nil {
		s.during()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]order.Order(nil), s.branch[branchID]...), nil
}

func (s *stubSource) ListCustomerOrders(_ context.Context, customerID string) ([]order.Order, error) {
	if s.during != nil {
		s.during()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]order.Order(nil), s.customer[customerID]...), nil
}

type harness struct {
	registry *broadcast.Registry
	bus      *broadcast.Bus
	server   *Server
	logs     *observer.ObservedLogs
	ctx      context.Context
}

func newHarness(t *testing.T, src Source) *harness {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	lg := zap.New(core)

	registry := broadcast.NewRegistry()
	meter := noop.NewMeterProvider().Meter("test")
	bus, err := broadcast.NewBus(registry, lg, meter)
	require.NoError(t, err)
	server, err := NewServer(src, registry, Config{SendBuffer: 8}, meter)
	require.NoError(t, err)

	return &harness{
		registry: registry,
		bus:      bus,
		server:   server,
		logs:     logs,
		ctx:      zctx.Base(context.Background(), lg),
	}
}

func (h *harness) serve(t *testing.T, conn Conn, scope Scope) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- h.server.Serve(h.ctx, conn, scope) }()
	return done
}

func readFrame(t *testing.T, c *pipeConn) map[string]any {
	t.Helper()
	select {
	case data := <-c.out:
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("no frame received")
		return nil
	}
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop")
		return nil
	}
}

func TestServer_BranchViewerLifecycle(t *testing.T) {
	src := &stubSource{branch: map[string][]order.Order{
		"A": {testOrder("o1", order.StatusPending, t0)},
	}}
	h := newHarness(t, src)
	conn := newPipeConn()
	done := h.serve(t, conn, Scope{Kind: ScopeBranch, Key: "A"})

	snap := readFrame(t, conn)
	assert.Equal(t, "orders.snapshot", snap["type"])
	assert.Equal(t, "A", snap["key"])
	assert.Len(t, snap["orders"], 1)
	assert.Equal(t, 1, h.server.Len())
	assert.Len(t, h.registry.BranchSessions("A"), 1)

	h.bus.Publish(h.ctx, broadcast.OrderStatusChanged{
		OrderID: "o1", BranchID: "A", CustomerID: "c1",
		OldStatus: order.StatusPending, NewStatus: order.StatusPreparing, ChangedAt: t0,
	})
	ev := readFrame(t, conn)
	assert.Equal(t, "order.status_changed", ev["type"])
	assert.Equal(t, "PREPARING", ev["new_status"])

	// Other branches never reach this viewer.
	h.bus.Publish(h.ctx, broadcast.OrderCreated{Order: order.Order{ID: "x", BranchID: "B", Status: order.StatusPending}})

	conn.in <- []byte(`{"type":"ping"}`)
	assert.Equal(t, "pong", readFrame(t, conn)["type"])

	conn.in <- []byte(`{"type":"ack","order_id":"o1"}`)
	conn.in <- []byte(`{"type":"dance"}`)
	errFrame := readFrame(t, conn)
	assert.Equal(t, "error", errFrame["type"])
	assert.Equal(t, 1, h.logs.FilterMessage("Order acknowledged").Len())

	require.NoError(t, conn.Close())
	assert.NoError(t, waitDone(t, done))

	assert.Zero(t, h.registry.Len(), "unsubscribed on disconnect")
	assert.Zero(t, h.server.Len())
	assert.Equal(t, 1, h.logs.FilterMessage("Viewer disconnected").Len())
}

func TestServer_CustomerViewer(t *testing.T) {
	src := &stubSource{customer: map[string][]order.Order{
		"c1": {testOrder("o1", order.StatusDriver, t0)},
	}}
	h := newHarness(t, src)
	conn := newPipeConn()
	done := h.serve(t, conn, Scope{Kind: ScopeCustomer, Key: "c1"})

	snap := readFrame(t, conn)
	assert.Equal(t, "customer", snap["scope"])

	h.bus.Publish(h.ctx, broadcast.OrderStatusChanged{
		OrderID: "o1", BranchID: "A", CustomerID: "c1",
		OldStatus: order.StatusDriver, NewStatus: order.StatusDelivered, ChangedAt: t0,
	})
	assert.Equal(t, "DELIVERED", readFrame(t, conn)["new_status"])

	h.server.Close()
	assert.NoError(t, waitDone(t, done))
	assert.True(t, conn.isClosed())
	assert.Zero(t, h.registry.Len())
}

func TestServer_NoGapBetweenSnapshotAndStream(t *testing.T) {
	src := &stubSource{branch: map[string][]order.Order{
		"A": {testOrder("o1", order.StatusPending, t0)},
	}}
	h := newHarness(t, src)
	src.during = func() {
		h.bus.Publish(h.ctx, broadcast.OrderCreated{Order: testOrder("o2", order.StatusPending, t0.Add(time.Minute))})
	}
	conn := newPipeConn()
	done := h.serve(t, conn, Scope{Kind: ScopeBranch, Key: "A"})

	snap := readFrame(t, conn)
	orders := snap["orders"].([]any)
	require.Len(t, orders, 2)
	assert.Equal(t, "o2", orders[1].(map[string]any)["id"])

	require.NoError(t, conn.Close())
	assert.NoError(t, waitDone(t, done))
}

func TestServer_ContextCancelStopsViewer(t *testing.T) {
	h := newHarness(t, &stubSource{})
	ctx, cancel := context.WithCancel(h.ctx)
	conn := newPipeConn()

	done := make(chan error, 1)
	go func() { done <- h.server.Serve(ctx, conn, Scope{Kind: ScopeBranch, Key: "A"}) }()
	readFrame(t, conn)

	cancel()
	assert.NoError(t, waitDone(t, done))
	assert.Zero(t, h.registry.Len())
}
