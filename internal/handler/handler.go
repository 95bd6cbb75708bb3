// Package handler exposes the order pipeline over HTTP and WebSocket.
package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/xenking/comanda/internal/domain/auth"
	"github.com/xenking/comanda/internal/domain/branch"
	"github.com/xenking/comanda/internal/domain/order"
	"github.com/xenking/comanda/internal/gateway"
	"github.com/xenking/comanda/internal/session"
)

// APIKeyHeader carries the caller's API key. WebSocket clients that cannot set
// headers pass it as the api_key query parameter instead.
const APIKeyHeader = "api_key"

// Orders is the order gateway as seen by the transport.
type Orders interface {
	CreateOrder(ctx context.Context, req gateway.CreateOrderRequest) (*order.Order, error)
	ChangeStatusFrom(ctx context.Context, actor auth.Identity, orderID string, expected, requested order.Status) (*order.Order, error)
	GetOrder(ctx context.Context, actor auth.Identity, orderID string) (*order.Order, error)
	ListActiveOrders(ctx context.Context, branchID string) ([]order.Order, error)
	ListCustomerOrders(ctx context.Context, customerID string) ([]order.Order, error)
}

// Sessions runs live viewers on upgraded connections.
type Sessions interface {
	Serve(ctx context.Context, conn session.Conn, scope session.Scope) error
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// AllowedOrigins restricts browser WebSocket origins. Empty or "*"
	// accepts any origin.
	AllowedOrigins []string
	// MaxBodyBytes bounds request bodies.
	MaxBodyBytes int64
	// Location is the zone branch schedules are written in.
	Location *time.Location
}

// Handler serves the REST and WebSocket endpoints.
type Handler struct {
	orders   Orders
	branches branch.Repository
	sessions Sessions
	authn    auth.Authenticator
	clock    clockwork.Clock

	upgrader     websocket.Upgrader
	maxBodyBytes int64
	location     *time.Location
}

// New constructs a Handler with the required dependencies.
func New(
	cfg Config,
	orders Orders,
	branches branch.Repository,
	sessions Sessions,
	authn auth.Authenticator,
	clk clockwork.Clock,
) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Handler{
		orders:       orders,
		branches:     branches,
		sessions:     sessions,
		authn:        authn,
		clock:        clk,
		maxBodyBytes: cfg.MaxBodyBytes,
		location:     cfg.Location,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
	}
}

// Register mounts all routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("POST /api/orders", h.authed(h.createOrder))
	mux.Handle("GET /api/orders/{id}", h.authed(h.getOrder))
	mux.Handle("POST /api/orders/{id}/status", h.authed(h.changeStatus))
	mux.Handle("GET /api/branches/{id}", h.authed(h.getBranch))
	mux.Handle("GET /api/branches/{id}/orders", h.authed(h.listBranchOrders))
	mux.Handle("GET /api/customers/me/orders", h.authed(h.listMyOrders))
	mux.HandleFunc("GET /api/ws", h.serveWS)
}

type authedFunc func(w http.ResponseWriter, r *http.Request, id auth.Identity)

// authed authenticates the api_key header and passes the identity on. The
// request logger is tagged with the caller so gateway logs carry it.
func (h *Handler) authed(fn authedFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := h.authn.Authenticate(r.Context(), r.Header.Get(APIKeyHeader))
		if err != nil {
			writeError(w, r, err)
			return
		}
		r = r.WithContext(zctx.With(r.Context(),
			zap.String("user_id", id.UserID),
			zap.String("role", string(id.Role)),
		))
		fn(w, r, id)
	})
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.ToLower(o)] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}
