package app

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/comanda/internal/broadcast"
	"github.com/xenking/comanda/internal/gateway"
	"github.com/xenking/comanda/internal/handler"
	"github.com/xenking/comanda/internal/session"
	"github.com/xenking/comanda/internal/storage/postgres"
	"github.com/xenking/comanda/pkg/health"
	"github.com/xenking/comanda/pkg/httpmiddleware"
)

const serviceName = "comanda"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))
	ctx = zctx.Base(ctx, lg)

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	svc, err := newServices(ctx, lg, m.TracerProvider(), m.MeterProvider(), cfg, pool)
	if err != nil {
		return err
	}
	svc.health.Start(ctx, 10*time.Second)
	svc.health.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Orders.OperationTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           svc.handler,
		// Requests inherit the base logger but not the shutdown signal.
		BaseContext: func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		// Graceful shutdown: wait for cancellation, drain, then stop.
		<-gctx.Done()
		svc.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Graceful.ShutdownTimeout)
		defer cancel()
		defer svc.health.Stop()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := svc.shutdown(shutdownCtx, server); err != nil {
			lg.Error("Shutdown error", zap.Error(err))
			return err
		}
		return nil
	})
	return g.Wait()
}

// services is the process-scoped object graph behind the HTTP server.
type services struct {
	gateway  *gateway.Gateway
	sessions *session.Server
	health   *health.Health
	handler  http.Handler
}

func newServices(
	ctx context.Context,
	lg *zap.Logger,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
	cfg *Config,
	pool *pgxpool.Pool,
) (*services, error) {
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return nil, errors.Wrap(err, "load time zone")
	}
	meter := mp.Meter(serviceName)

	// Repositories.
	orderStore := postgres.NewOrderStore(pool)
	productRepo := postgres.NewProductRepository(pool)
	branchRepo := postgres.NewBranchRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Event fan-out.
	registry := broadcast.NewRegistry()
	bus, err := broadcast.NewBus(registry, lg.Named("bus"), meter)
	if err != nil {
		return nil, errors.Wrap(err, "create bus")
	}

	gw := gateway.New(orderStore, productRepo, bus, gateway.Options{
		Timeout: cfg.Orders.OperationTimeout,
		Clock:   clockwork.NewRealClock(),
		Tracer:  tp.Tracer(serviceName),
	})

	sessions, err := session.NewServer(gw, registry, cfg.Sessions, meter)
	if err != nil {
		return nil, errors.Wrap(err, "create session server")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddReadinessCheck("sessions", time.Second, health.CapacityCheck("sessions", sessions.Len, cfg.MaxSessions))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000+4*cfg.MaxSessions))
	healthSvc.AddLivenessCheck("gc", time.Second, health.GCMaxPauseCheck(time.Second))

	// HTTP handlers.
	h := handler.New(
		handler.Config{AllowedOrigins: cfg.CORS.Origins, Location: loc},
		gw,
		branchRepo,
		sessions,
		handler.NewSecurityHandler(apikeyRepo, []byte(cfg.APIKeyPepper)),
		clockwork.NewRealClock(),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

	return &services{
		gateway:  gw,
		sessions: sessions,
		health:   healthSvc,
		handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", handler.APIKeyHeader, handler.IdempotencyKeyHeader},
				ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Remaining"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.AddressMax,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				KeyFunc: httpmiddleware.CredentialKey(handler.APIKeyHeader),
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Instrument(serviceName, tp, mp, "/livez", "/readyz"),
			httpmiddleware.LogRequests(),
		),
	}, nil
}

// shutdown closes live viewers (hijacked connections are not tracked by
// http.Server), stops accepting requests and waits for detached order
// operations to land.
func (s *services) shutdown(ctx context.Context, server *http.Server) error {
	zctx.From(ctx).Info("Closing viewers", zap.Int("sessions", s.sessions.Len()))
	s.sessions.Close()

	var shutdownErr error
	if server != nil {
		shutdownErr = server.Shutdown(ctx)
	}
	if err := s.gateway.Wait(ctx); err != nil {
		return errors.Wrap(err, "drain order operations")
	}
	if shutdownErr != nil {
		return errors.Wrap(shutdownErr, "server shutdown")
	}
	return nil
}
