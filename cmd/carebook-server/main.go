package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/carebook/carebook/internal/config"
	"github.com/carebook/carebook/internal/domain/scheduling"
	"github.com/carebook/carebook/internal/platform/auth"
	"github.com/carebook/carebook/internal/platform/calendar"
	"github.com/carebook/carebook/internal/platform/db"
	"github.com/carebook/carebook/internal/platform/lock"
	"github.com/carebook/carebook/internal/platform/meeting"
	"github.com/carebook/carebook/internal/platform/middleware"
	"github.com/carebook/carebook/internal/platform/notification"
	"github.com/carebook/carebook/internal/platform/telemetry"
	"github.com/carebook/carebook/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "carebook-server",
		Short: "Practitioner appointment scheduling API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduling API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			fixtures, _ := cmd.Flags().GetString("fixtures")
			return runServer(fixtures)
		},
	}
	cmd.Flags().String("fixtures", "", "JSON fixtures to seed the in-memory store (STORE_BACKEND=memory only)")
	return cmd
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
			return withPool(func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Println("---------- ---------------------------------------- ---------- --------------------")
				for _, s := range statuses {
					status := "pending"
					appliedAt := ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	})

	return cmd
}

func withPool(fn func(ctx context.Context, m *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for migrations")
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, db.NewMigrator(pool, migrations.FS))
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.ServiceName).Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// storeDeps is the storage backend selected by STORE_BACKEND.
type storeDeps struct {
	store  scheduling.Store
	health echo.HandlerFunc
	close  func()
}

func buildStore(ctx context.Context, cfg *config.Config, fixtures string, logger zerolog.Logger) (*storeDeps, error) {
	if cfg.StoreBackend == "memory" {
		mem := scheduling.NewMemoryStore()
		if fixtures != "" {
			data, err := os.ReadFile(fixtures)
			if err != nil {
				return nil, fmt.Errorf("read fixtures: %w", err)
			}
			if err := mem.LoadFixtures(data); err != nil {
				return nil, err
			}
			logger.Info().Str("file", fixtures).Msg("loaded fixtures into memory store")
		}
		logger.Warn().Msg("using in-memory store; data is lost on restart")
		return &storeDeps{
			store:  mem,
			health: db.HealthHandler(alwaysUp{}, nil),
			close:  func() {},
		}, nil
	}

	if fixtures != "" {
		return nil, errors.New("--fixtures requires STORE_BACKEND=memory")
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("connected to database")
	return &storeDeps{
		store:  scheduling.NewPGStore(pool),
		health: db.HealthHandler(pool, func() *db.PoolStats { return db.GetPoolStats(pool) }),
		close:  pool.Close,
	}, nil
}

type alwaysUp struct{}

func (alwaysUp) Ping(context.Context) error { return nil }

func buildLocker(cfg *config.Config) (lock.Locker, func(), error) {
	if cfg.LockBackend != "redis" {
		return lock.NewKeyedMutex(), func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	return lock.NewRedisLocker(client, "carebook:lock:", cfg.LockTTL), func() { _ = client.Close() }, nil
}

func buildSender(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (notification.EmailSender, error) {
	switch cfg.EmailProvider {
	case "ses":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return notification.NewSESSender(sesv2.NewFromConfig(awsCfg), cfg.EmailFrom, cfg.EmailFromName, logger), nil
	case "sendgrid":
		return notification.NewSendGridSender(cfg.SendGridAPIKey, cfg.EmailFrom, cfg.EmailFromName, logger), nil
	default:
		return notification.NewLogSender(logger), nil
	}
}

func buildMeetings(cfg *config.Config, logger zerolog.Logger) meeting.Provisioner {
	if cfg.MeetingAPIURL != "" {
		return meeting.NewHTTPProvisioner(cfg.MeetingAPIURL, cfg.MeetingAPIKey, cfg.MeetingAPISecret)
	}
	if cfg.IsDev() {
		logger.Warn().Msg("MEETING_API_URL not set; remote bookings get placeholder meeting links")
		return &meeting.MockProvisioner{}
	}
	logger.Warn().Msg("MEETING_API_URL not set; remote bookings will be rejected")
	return nil
}

// app holds everything the HTTP server routes to.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	registry *prometheus.Registry
	metrics  *telemetry.Metrics
	handler  *scheduling.Handler
	dbHealth echo.HandlerFunc
}

func newEcho(a *app) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(a.logger)

	// Global middleware
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(telemetry.TracingMiddleware(otel.GetTracerProvider()))
	e.Use(a.metrics.Middleware())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(a.cfg.BodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Infrastructure endpoints
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", a.dbHealth)
	e.GET("/metrics", telemetry.Handler(a.registry))

	apiV1 := e.Group("/api/v1")
	if a.cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     a.cfg.AuthIssuer,
			Audience:   a.cfg.AuthAudience,
			JWKSURL:    a.cfg.AuthJWKSURL,
			SigningKey: []byte(a.cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: a.cfg.RateLimitRPS,
		BurstSize:         a.cfg.RateLimitBurst,
	}))
	apiV1.Use(middleware.RequestTimeout(a.cfg.RequestTimeout))
	a.handler.RegisterRoutes(apiV1)

	return e
}

func runServer(fixtures string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	cal, err := cfg.Calendar()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		logger.Warn().Err(err).Msg("tracing disabled")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(registry)

	st, err := buildStore(ctx, cfg, fixtures, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialise store")
		return err
	}
	defer st.close()

	locker, closeLocker, err := buildLocker(cfg)
	if err != nil {
		return err
	}
	defer closeLocker()

	sender, err := buildSender(ctx, cfg, logger)
	if err != nil {
		return err
	}
	dispatcher := notification.NewDispatcher(sender, notification.NewTemplateEngine(), logger, metrics, cfg.NotifyQueueSize)
	dispatcher.Start(cfg.NotifyWorkers)
	defer dispatcher.Close()

	authz := auth.OwnershipAuthorizer{}
	clock := calendar.SystemClock{}
	coordinator := scheduling.NewBookingCoordinator(scheduling.CoordinatorDeps{
		Store:      st.store,
		Calendar:   cal,
		Authorizer: authz,
		Locker:     locker,
		Meetings:   buildMeetings(cfg, logger),
		Notifier:   dispatcher,
		Clock:      clock,
		Metrics:    metrics,
		Logger:     logger.With().Str("component", "booking").Logger(),
		TxTimeout:  cfg.BookingTxTimeout,
		LeadTime:   cfg.ModificationLeadTime,
	})
	query := scheduling.NewQuery(st.store, cal, clock, metrics)
	handler := scheduling.NewHandler(coordinator, query, scheduling.NewAvailabilityManager(st.store, authz))

	e := newEcho(&app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  metrics,
		handler:  handler,
		dbHealth: st.health,
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("calendar", cal.Location().String()).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
