package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sudo-init-do/meterhub/internal/admin"
	"github.com/sudo-init-do/meterhub/internal/config"
	"github.com/sudo-init-do/meterhub/internal/db"
	"github.com/sudo-init-do/meterhub/internal/invoke"
	"github.com/sudo-init-do/meterhub/internal/marketplace"
	mware "github.com/sudo-init-do/meterhub/internal/middleware"
	"github.com/sudo-init-do/meterhub/internal/payment"
)

type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	db       db.Adapter
	rdb      *redis.Client
	repo     *marketplace.Repository
	gateway  echo.MiddlewareFunc
	sweeper  *payment.Sweeper
	invoker  invoke.Invoker
	registry *prometheus.Registry
	echo     *echo.Echo
}

// newApp opens the store, warms the repository cache and wires the gateway.
// On error everything opened so far is closed.
func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if a.db, err = db.Open(ctx, cfg.Database); err != nil {
		return nil, err
	}
	if err = a.db.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize store: %w", err)
	}

	a.repo = marketplace.NewRepository(a.db, marketplace.WithLogger(log.With().Str("component", "repository").Logger()))
	if err = a.repo.Initialize(ctx); err != nil {
		return nil, err
	}

	if cfg.Payment.Ledger == config.LedgerRedis {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err = a.rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
	}

	ledger, err := payment.NewLedger(cfg.Payment.Ledger, a.db, a.rdb)
	if err != nil {
		return nil, err
	}
	authorizer, err := payment.NewAuthorizer(cfg.Payment, ledger)
	if err != nil {
		return nil, err
	}
	metrics := payment.NewMetrics(a.registry)
	gwLog := log.With().Str("component", "gateway").Logger()
	a.gateway = payment.Middleware(payment.MiddlewareConfig{
		Authorizer: authorizer,
		Resolve:    invoke.Resolver(a.repo),
		Metrics:    metrics,
		Logger:     gwLog,
	})
	if a.sweeper, err = payment.NewSweeper(ledger, cfg.Payment.SweepSchedule, gwLog, metrics); err != nil {
		return nil, err
	}

	a.invoker = invoke.NewMux(invoke.NewHTTPForwarder(
		cfg.Invoke.Timeout, rate.Limit(cfg.Invoke.PerHostRate), cfg.Invoke.Burst))

	a.echo = a.routes()
	log.Info().
		Str("backend", string(a.db.Backend())).
		Str("strategy", authorizer.Name()).
		Str("ledger", cfg.Payment.Ledger).
		Msg("meterhub initialized")
	return a, nil
}

func (a *app) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			ev := a.log.Info()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				ev = a.log.Error().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	}))
	if a.cfg.Server.RateLimit > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(a.cfg.Server.RateLimit))))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})
	e.GET("/ready", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := a.db.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "not_ready", "error": "db unreachable"})
		}
		if a.rdb != nil {
			if err := a.rdb.Ping(ctx).Err(); err != nil {
				return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "not_ready", "error": "redis unreachable"})
			}
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ready"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))

	mh := marketplace.NewHandler(a.repo, a.log)
	ih := invoke.NewHandler(a.repo, a.invoker, a.log.With().Str("component", "invoke").Logger())

	// Public routes
	m := e.Group("/marketplace")
	m.GET("/services", mh.SearchServices)
	m.GET("/services/:id", mh.GetService)
	m.GET("/services/:id/ratings", mh.ListServiceRatings)

	// Metered routes run only once the gateway has recorded the claim
	m.POST("/services/:id/invoke", ih.Invoke, invoke.RequirePayload, a.gateway)

	// Actor-identified routes
	m.POST("/services", mh.CreateService, mware.RequireActor)
	m.PATCH("/services/:id", mh.UpdateService, mware.RequireActor)
	m.DELETE("/services/:id", mh.DeleteService, mware.RequireActor)
	m.GET("/transactions", mh.GetUserTransactions, mware.RequireActor)
	m.GET("/transactions/:id", mh.GetTransaction, mware.RequireActor)
	m.POST("/transactions/:id/rating", mh.RateTransaction, mware.RequireActor)

	// Operator routes
	ah := admin.NewHandler(a.repo, a.log.With().Str("component", "admin").Logger())
	g := e.Group("/admin")
	g.Use(mware.OperatorGuard(a.cfg.Operator.KeyHash))
	g.GET("/stats", ah.Stats)
	g.GET("/services/deleted", ah.ListDeleted)
	g.GET("/services/:id", ah.GetService)
	g.POST("/services/:id/suspend", ah.SuspendService)
	g.POST("/services/:id/restore", ah.RestoreService)
	g.DELETE("/services/:id/purge", ah.PurgeService)
	g.GET("/audit/:id", ah.ServiceAudit)

	return e
}

// run serves until ctx is cancelled, then drains in-flight requests.
func (a *app) run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         net.JoinHostPort(a.cfg.Server.Host, strconv.Itoa(a.cfg.Server.Port)),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	a.sweeper.Start()
	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := a.echo.StartServer(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}

	a.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	a.sweeper.Stop(shutdownCtx)
	if err := a.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (a *app) close() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close redis")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close store")
		}
	}
}
