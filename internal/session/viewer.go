// Package session implements live order views over WebSocket. A Viewer
// hydrates from a snapshot, keeps a local cache of active orders and forwards
// every bus event that changes that cache.
package session

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xenking/comanda/internal/broadcast"
	"github.com/xenking/comanda/internal/domain/order"
)

const maxClientMessage = 4096

// Conn is the subset of *websocket.Conn used by a Viewer.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Source provides hydration snapshots.
type Source interface {
	ListActiveOrders(ctx context.Context, branchID string) ([]order.Order, error)
	ListCustomerOrders(ctx context.Context, customerID string) ([]order.Order, error)
}

// Subscriptions is the registry a Viewer joins while connected.
type Subscriptions interface {
	SubscribeBranch(s broadcast.Subscriber, branchID string)
	SubscribeCustomer(s broadcast.Subscriber, customerID string)
	Unsubscribe(s broadcast.Subscriber) bool
}

// Config tunes connection handling.
type Config struct {
	SendBuffer   int           `default:"64"`
	WriteTimeout time.Duration `default:"10s"`
	PongTimeout  time.Duration `default:"60s"`
	PingInterval time.Duration `default:"54s"`
}

func (c Config) withDefaults() Config {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongTimeout {
		c.PingInterval = c.PongTimeout * 9 / 10
	}
	return c
}

// Viewer is one connected live view.
type Viewer struct {
	id    string
	scope Scope
	conn  Conn
	cfg   Config
	lg    *zap.Logger
	onAck func(orderID string)

	mu       sync.Mutex
	hydrated bool
	overflow bool
	closed   bool
	pending  []broadcast.Event
	cache    []order.Order
	send     chan []byte
}

func newViewer(id string, scope Scope, conn Conn, cfg Config, lg *zap.Logger) *Viewer {
	return &Viewer{
		id:    id,
		scope: scope,
		conn:  conn,
		cfg:   cfg,
		lg:    lg,
		// One slot on top of the buffer for the snapshot frame.
		send: make(chan []byte, cfg.SendBuffer+1),
	}
}

// SessionID implements broadcast.Subscriber.
func (v *Viewer) SessionID() string { return v.id }

// Deliver implements broadcast.Subscriber. Before hydration completes events
// are buffered; afterwards an event is forwarded only when it changes the
// cache. A viewer that cannot keep up is closed so the client reconnects and
// hydrates again.
func (v *Viewer) Deliver(d broadcast.Delivery) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return broadcast.ErrSessionClosed
	}
	if !v.hydrated {
		if len(v.pending) >= v.cfg.SendBuffer {
			v.overflow = true
			return broadcast.ErrSlowConsumer
		}
		v.pending = append(v.pending, d.Event)
		return nil
	}
	if !v.apply(d.Event) {
		return nil
	}
	select {
	case v.send <- d.Frame:
		return nil
	default:
		v.closeLocked()
		return broadcast.ErrSlowConsumer
	}
}

// Orders returns a copy of the cached active orders, oldest first.
func (v *Viewer) Orders() []order.Order {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]order.Order, len(v.cache))
	for i := range v.cache {
		out[i] = *v.cache[i].Clone()
	}
	return out
}

// hydrate installs the snapshot, replays events buffered since subscription
// and queues the resulting state as the first frame.
func (v *Viewer) hydrate(snapshot []order.Order) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return broadcast.ErrSessionClosed
	}
	if v.overflow {
		return broadcast.ErrSlowConsumer
	}

	v.cache = v.cache[:0]
	for _, o := range snapshot {
		if o.Active() {
			v.cache = append(v.cache, o)
		}
	}
	for _, ev := range v.pending {
		v.apply(ev)
	}
	v.pending = nil
	v.hydrated = true

	v.send <- broadcast.EncodeSnapshot(string(v.scope.Kind), v.scope.Key, v.cache)
	return nil
}

// apply folds ev into the cache and reports whether anything changed. Events
// already reflected in the cache are ignored.
func (v *Viewer) apply(ev broadcast.Event) bool {
	switch ev := ev.(type) {
	case broadcast.OrderCreated:
		if v.index(ev.Order.ID) >= 0 || !ev.Order.Active() {
			return false
		}
		o := *ev.Order.Clone()
		at, _ := slices.BinarySearchFunc(v.cache, o.CreatedAt, func(c order.Order, t time.Time) int {
			if c.CreatedAt.After(t) {
				return 1
			}
			return -1
		})
		v.cache = slices.Insert(v.cache, at, o)
		return true
	case broadcast.OrderStatusChanged:
		i := v.index(ev.OrderID)
		if i < 0 || v.cache[i].Status != ev.OldStatus {
			return false
		}
		if ev.NewStatus.Terminal() {
			v.cache = slices.Delete(v.cache, i, i+1)
			return true
		}
		v.cache[i].Status = ev.NewStatus
		v.cache[i].UpdatedAt = ev.ChangedAt
		return true
	default:
		return false
	}
}

func (v *Viewer) index(orderID string) int {
	return slices.IndexFunc(v.cache, func(o order.Order) bool { return o.ID == orderID })
}

// enqueue queues a reply frame generated by the session itself.
func (v *Viewer) enqueue(frame []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	select {
	case v.send <- frame:
	default:
		v.closeLocked()
	}
}

// Close stops the viewer. It is safe to call more than once.
func (v *Viewer) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closeLocked()
}

func (v *Viewer) closeLocked() {
	if v.closed {
		return
	}
	v.closed = true
	close(v.send)
}

// writePump drains the send queue and keeps the connection alive with pings.
func (v *Viewer) writePump() {
	ticker := time.NewTicker(v.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = v.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-v.send:
			_ = v.conn.SetWriteDeadline(time.Now().Add(v.cfg.WriteTimeout))
			if !ok {
				_ = v.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := v.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				v.lg.Debug("Write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = v.conn.SetWriteDeadline(time.Now().Add(v.cfg.WriteTimeout))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles client frames until the connection fails.
func (v *Viewer) readPump() error {
	v.conn.SetReadLimit(maxClientMessage)
	_ = v.conn.SetReadDeadline(time.Now().Add(v.cfg.PongTimeout))
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(v.cfg.PongTimeout))
	})

	for {
		_, data, err := v.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return errors.Wrap(err, "read")
			}
			return nil
		}
		v.handleMessage(data)
	}
}

type clientMessage struct {
	Type    string
	OrderID string
}

func decodeClientMessage(data []byte) (clientMessage, error) {
	var m clientMessage
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "type":
			m.Type, err = d.Str()
		case "order_id":
			m.OrderID, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return m, err
}

func (v *Viewer) handleMessage(data []byte) {
	msg, err := decodeClientMessage(data)
	if err != nil {
		v.enqueue(errorFrame("malformed message"))
		return
	}
	switch msg.Type {
	case "ping":
		v.enqueue(pongFrame())
	case "ack":
		if msg.OrderID == "" {
			v.enqueue(errorFrame("ack requires order_id"))
			return
		}
		v.lg.Info("Order acknowledged", zap.String("order_id", msg.OrderID))
		if v.onAck != nil {
			v.onAck(msg.OrderID)
		}
	default:
		v.enqueue(errorFrame("unknown message type: " + msg.Type))
	}
}

func pongFrame() []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("type")
	e.Str("pong")
	e.ObjEnd()
	return e.Bytes()
}

func errorFrame(message string) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("type")
	e.Str("error")
	e.FieldStart("message")
	e.Str(message)
	e.ObjEnd()
	return e.Bytes()
}
