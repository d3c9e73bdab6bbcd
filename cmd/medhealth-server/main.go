package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medhealth/telemetry/internal/config"
	"github.com/medhealth/telemetry/internal/domain/device"
	"github.com/medhealth/telemetry/internal/domain/identity"
	"github.com/medhealth/telemetry/internal/domain/telemetry"
	"github.com/medhealth/telemetry/internal/platform/audit"
	"github.com/medhealth/telemetry/internal/platform/auth"
	"github.com/medhealth/telemetry/internal/platform/cache"
	"github.com/medhealth/telemetry/internal/platform/db"
	"github.com/medhealth/telemetry/internal/platform/metrics"
	"github.com/medhealth/telemetry/internal/platform/middleware"
	"github.com/medhealth/telemetry/internal/platform/stream"
)

const (
	migrationsDir   = "./migrations"
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
	poolStatsPeriod = 15 * time.Second
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "medhealth-server",
		Short: "Medical telemetry ingestion and streaming API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the telemetry API server",
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

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConnections, cfg.Database.MinConnections)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", migrationsDir, "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConnections, cfg.Database.MinConnections)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
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
		},
	}
	statusCmd.Flags().String("dir", migrationsDir, "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

// newLogger builds the service logger at the configured level. In
// development the output is pretty-printed for the terminal.
func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	logger := zerolog.New(os.Stdout)
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return logger.Level(lvl).With().Timestamp().Logger()
}

func runServer() error {
	logger := newLogger("info")

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger = newLogger(cfg.Logging.Level)

	if cfg.Server.Workers > 0 {
		runtime.GOMAXPROCS(cfg.Server.Workers)
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConnections, cfg.Database.MinConnections)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Migrations run at boot so a fresh deployment is self-contained.
	migrator := db.NewMigrator(pool, migrationsDir)
	applied, err := migrator.Up(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}
	if applied > 0 {
		logger.Info().Int("applied", applied).Msg("migrations applied")
	}

	// Redis
	cacheClient, err := cache.New(cfg.Redis.URL, cfg.Redis.PoolSize)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid redis configuration")
	}
	defer cacheClient.Close()
	if err := cacheClient.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	logger.Info().Msg("connected to redis")

	// Platform services
	m := metrics.New()
	tokens := auth.NewTokenService(cfg.JWT.Secret, cfg.JWT.ExpirationHours)
	revocations := auth.NewRevocationStore(pool, logger)
	defer revocations.Close()
	broadcaster := stream.NewBroadcaster()

	// Audit trail: entries always reach the structured log; when a path is
	// configured they are mirrored to the append-only audit file as well.
	auditLogger := logger
	if cfg.Logging.AuditLogPath != "" {
		auditFile, err := audit.OpenLog(cfg.Logging.AuditLogPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.Logging.AuditLogPath).Msg("failed to open audit log")
		}
		defer auditFile.Close()
		auditLogger = logger.Output(zerolog.MultiLevelWriter(os.Stdout, auditFile))
	}
	recorder := audit.NewRecorder(auditLogger, pool)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization, echo.HeaderAccept},
		AllowCredentials: true,
		MaxAge:           3600,
	}))
	e.Use(middleware.BodyLimit("64K"))
	e.Use(m.Middleware())
	e.Use(middleware.AuditTrail(logger, recorder))
	e.Use(middleware.RequestTimeout(requestTimeout))

	// Health and metrics
	e.GET("/health", db.HealthHandler(pool, cacheClient))
	e.GET("/metrics", m.Handler())

	// Identity domain
	userRepo := identity.NewUserRepoPG(pool)
	identitySvc := identity.NewService(userRepo, tokens, revocations, cfg.Auth.MaxFailedLogins, cfg.Auth.LockoutMinutes)
	identityHandler := identity.NewHandler(identitySvc, m)
	authGroup := e.Group("/auth", middleware.RateLimit(middleware.DefaultRateLimitConfig()))
	identityHandler.RegisterRoutes(authGroup)

	// Telemetry domain. The /api group requires a bearer token; the device
	// group authenticates with per-request HMAC signatures instead.
	deviceRepo := device.NewDeviceRepoPG(pool)
	verifier := device.NewVerifier(deviceRepo, cfg.Device.Secret, cfg.Device.ReplayWindowSeconds)

	readingRepo := telemetry.NewReadingRepoPG(pool, m)
	analyzer := telemetry.NewAnalyzer(cfg.ML)
	projector := telemetry.NewProjector(cfg.FHIR.BaseURL, cfg.FHIR.OrganizationID)
	telemetrySvc := telemetry.NewService(readingRepo, deviceRepo, verifier, analyzer, projector,
		cacheClient, broadcaster, m, logger)
	telemetryHandler := telemetry.NewHandler(telemetrySvc, broadcaster, m)

	api := e.Group("/api", auth.Middleware(tokens, revocations))
	deviceGroup := e.Group("/api/device")
	telemetryHandler.RegisterRoutes(api, deviceGroup)

	// Pool gauge sampling
	statsDone := make(chan struct{})
	defer close(statsDone)
	go m.SamplePoolStats(func() int32 { return pool.Stat().AcquiredConns() }, poolStatsPeriod, statsDone)

	// Graceful shutdown
	go func() {
		logger.Info().Str("addr", cfg.Server.BindAddr).Msg("starting server")
		if err := e.Start(cfg.Server.BindAddr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	broadcaster.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
