package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/navimed/navimed/internal/config"
	"github.com/navimed/navimed/internal/domain/appointment"
	"github.com/navimed/navimed/internal/platform/csrf"
	"github.com/navimed/navimed/internal/platform/db"
	"github.com/navimed/navimed/internal/platform/health"
	"github.com/navimed/navimed/internal/platform/metrics"
	"github.com/navimed/navimed/internal/platform/middleware"
	"github.com/navimed/navimed/internal/platform/websocket"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "navimed-server",
		Short: "NaviMED API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(appointmentsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := migrator()
			if err != nil {
				return err
			}
			if err := m.Up(cmd.Context()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Println("Migrations applied successfully.")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := migrator()
			if err != nil {
				return err
			}
			return m.Status(cmd.Context())
		},
	})

	return cmd
}

func migrator() (*db.Migrator, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required to run migrations")
	}
	return db.NewMigrator(cfg.DatabaseURL, newLogger(cfg.Env)), nil
}

func appointmentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "appointments",
		Short: "Manage appointment logs",
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every appointment of a tenant from all backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			if !middleware.ValidTenantID(tenant) {
				return fmt.Errorf("--tenant must be a valid tenant identifier, got %q", tenant)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := newLogger(cfg.Env)

			ctx := cmd.Context()
			infra, err := connect(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer infra.close()

			registry, stop, err := newRegistry(ctx, cfg, infra, logger)
			if err != nil {
				return err
			}
			defer stop()

			if err := registry.ForTenant(tenant).ClearAll(ctx); err != nil {
				return fmt.Errorf("clear appointments: %w", err)
			}
			fmt.Printf("Cleared appointments for tenant %s\n", tenant)
			return nil
		},
	}
	clearCmd.Flags().String("tenant", "", "Tenant identifier")

	cmd.AddCommand(clearCmd)
	return cmd
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// postgres is satisfied by *pgxpool.Pool.
type postgres interface {
	db.Pinger
	appointment.PgxPool
}

// infra holds the optional shared services. Nil fields are not configured.
type infra struct {
	pg    postgres
	redis *redis.Client

	closers []func()
}

func (i *infra) close() {
	for j := len(i.closers) - 1; j >= 0; j-- {
		i.closers[j]()
	}
}

func connect(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*infra, error) {
	in := &infra{}

	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, logger)
		if err != nil {
			return nil, err
		}
		in.pg = pool
		in.closers = append(in.closers, pool.Close)
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			in.close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			in.close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		in.redis = client
		in.closers = append(in.closers, func() { _ = client.Close() })
		logger.Info().Str("addr", opts.Addr).Msg("connected to redis")
	}

	return in, nil
}

func buildBackends(names []string, in *infra) ([]appointment.Backend, error) {
	backends := make([]appointment.Backend, 0, len(names))
	for _, name := range names {
		switch name {
		case config.BackendMemory, config.BackendSession:
			backends = append(backends, appointment.NewMemoryBackend(name))
		case config.BackendRedis:
			if in.redis == nil {
				return nil, errors.New("redis backend requested without a redis connection")
			}
			backends = append(backends, appointment.NewRedisBackend(in.redis))
		case config.BackendPostgres:
			if in.pg == nil {
				return nil, errors.New("postgres backend requested without a database connection")
			}
			backends = append(backends, appointment.NewPostgresBackend(in.pg))
		default:
			return nil, fmt.Errorf("unknown appointment backend %q", name)
		}
	}
	return backends, nil
}

// newRegistry wires the backends and notifiers. The returned stop function
// detaches the stores and closes the Redis subscription.
func newRegistry(ctx context.Context, cfg *config.Config, in *infra, logger zerolog.Logger) (*appointment.Registry, func(), error) {
	backends, err := buildBackends(cfg.AppointmentBackends, in)
	if err != nil {
		return nil, nil, err
	}

	origin := uuid.NewString()
	notifiers := []appointment.Notifier{appointment.NewBus()}
	var redisNotifier *appointment.RedisNotifier
	if in.redis != nil {
		redisNotifier, err = appointment.NewRedisNotifier(ctx, in.redis, origin, logger)
		if err != nil {
			return nil, nil, err
		}
		notifiers = append(notifiers, redisNotifier)
	}

	registry := appointment.NewRegistry(appointment.Options{
		Backends:  backends,
		Notifiers: notifiers,
		Origin:    origin,
		Logger:    logger,
	})

	stop := func() {
		registry.Close()
		if redisNotifier != nil {
			if err := redisNotifier.Close(); err != nil {
				logger.Warn().Err(err).Msg("failed to close redis notifier")
			}
		}
	}
	return registry, stop, nil
}

func newGuard(cfg *config.Config, in *infra, logger zerolog.Logger) (*csrf.Guard, error) {
	var store csrf.TokenStore
	if in.redis != nil {
		store = csrf.NewRedisStore(in.redis, cfg.CSRFTokenTTL)
	} else {
		mem, err := csrf.NewMemoryStore(cfg.CSRFMaxSessions)
		if err != nil {
			return nil, err
		}
		store = mem
	}

	var sessionKey csrf.SessionKeyFunc = csrf.FingerprintSessionKey
	if cfg.CSRFSessionMode == config.SessionModeCookie {
		secret, err := cfg.SessionSecret()
		if err != nil {
			return nil, err
		}
		sessionKey, err = csrf.SignedCookieSessionKey(secret, cfg.IsProduction())
		if err != nil {
			return nil, err
		}
	}

	return csrf.New(csrf.Config{
		Store:       store,
		SessionKey:  sessionKey,
		TTL:         cfg.CSRFTokenTTL,
		PublicPaths: cfg.CSRFPublicPaths,
		Logger:      logger,
	})
}

// app is a fully wired server.
type app struct {
	echo     *echo.Echo
	guard    *csrf.Guard
	hub      *websocket.Hub
	registry *appointment.Registry
	stop     func()
}

func newApp(ctx context.Context, cfg *config.Config, in *infra, logger zerolog.Logger) (*app, error) {
	registry, stopRegistry, err := newRegistry(ctx, cfg, in, logger)
	if err != nil {
		return nil, err
	}

	guard, err := newGuard(cfg, in, logger)
	if err != nil {
		stopRegistry()
		return nil, err
	}

	hub := websocket.NewHub(logger)
	var unsubs []func()
	for _, n := range registry.Notifiers() {
		unsubs = append(unsubs, appointment.ForwardToHub(n, hub, logger))
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	// The guard runs ahead of CORS so preflights and every other response,
	// including rejections further down the chain, carry a fresh token.
	e.Use(guard.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:     []string{"Content-Type", middleware.RequestIDHeader, middleware.TenantHeader, csrf.HeaderName},
		ExposeHeaders:    []string{csrf.HeaderName, middleware.RequestIDHeader},
		AllowCredentials: true,
	}))

	api := e.Group("/api")
	health.NewHandler(nil).RegisterRoutes(api)
	api.GET("/csrf-token", guard.TokenHandler())
	if in.pg != nil {
		api.GET("/health/db", db.HealthHandler(in.pg))
	}
	e.GET("/metrics", metrics.Handler())

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		MaxClients:        middleware.DefaultRateLimitConfig().MaxClients,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(middleware.Sanitize(logger))
	apiV1.Use(middleware.Tenant(cfg.DefaultTenant))
	apiV1.Use(middleware.BodyLimit("1M"))
	apiV1.Use(middleware.RequestTimeout(30 * time.Second))
	apiV1.Use(middleware.Audit(logger))

	appointments := apiV1.Group("/appointments")
	appointment.NewHandler(registry).RegisterRoutes(appointments)
	websocket.NewHandler(hub, appointment.TenantTopic, cfg.CORSOrigins).RegisterRoutes(appointments)

	return &app{
		echo:     e,
		guard:    guard,
		hub:      hub,
		registry: registry,
		stop: func() {
			for _, u := range unsubs {
				u()
			}
			stopRegistry()
		},
	}, nil
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	in, err := connect(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to backing services")
	}
	defer in.close()

	a, err := newApp(ctx, cfg, in, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}
	defer a.stop()

	a.guard.StartSweeper(ctx, cfg.CSRFSweepInterval)

	addr := ":" + cfg.Port
	go func() {
		logger.Info().
			Str("addr", addr).
			Strs("appointment_backends", cfg.AppointmentBackends).
			Msg("starting server")
		if err := a.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := a.echo.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// *pgxpool.Pool backs both the database health check and the Postgres backend.
var _ postgres = (*pgxpool.Pool)(nil)
