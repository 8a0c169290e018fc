package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nhcx/fhir-converter/internal/config"
	"github.com/nhcx/fhir-converter/internal/domain/conversion"
	"github.com/nhcx/fhir-converter/internal/mapping"
	"github.com/nhcx/fhir-converter/internal/platform/auth"
	"github.com/nhcx/fhir-converter/internal/platform/db"
	"github.com/nhcx/fhir-converter/internal/platform/hl7v2"
	"github.com/nhcx/fhir-converter/internal/platform/middleware"
	"github.com/nhcx/fhir-converter/internal/platform/telemetry"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "nhcx-server",
		Short: "HL7 v2 to FHIR coverage eligibility converter",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(convertCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the converter API server",
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
			pool, err := db.NewPool(ctx, db.PoolConfig{
				URL:      cfg.DatabaseURL,
				MaxConns: cfg.DBMaxConns,
				MinConns: cfg.DBMinConns,
			})
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
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
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
			pool, err := db.NewPool(ctx, db.PoolConfig{
				URL:      cfg.DatabaseURL,
				MaxConns: cfg.DBMaxConns,
				MinConns: cfg.DBMinConns,
			})
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
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

// convertCmd converts a single message from a file (or stdin) and prints the
// resulting bundle. It runs against an in-memory store, so no database is
// needed; useful for trying out mapping changes against captured messages.
func convertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "convert [file]",
		Short: "Convert one HL7 v2 message from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw []byte
			var err error
			if len(args) == 1 {
				raw, err = os.ReadFile(args[0])
			} else {
				raw, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("read message: %w", err)
			}

			logger := zerolog.New(io.Discard)
			svc := conversion.NewService(conversion.NewMemoryRepo(), logger)

			doc, err := svc.Convert(context.Background(), string(raw))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), doc)
			return nil
		},
	}
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Mapping profile: loaded once, checked against the compiled extraction
	// rules. A profile that disagrees with the binary is a deployment error.
	profile, err := mapping.Load(cfg.MappingProfile)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.MappingProfile).Msg("failed to load mapping profile")
	}
	if err := mapping.Validate(profile, conversion.Rules()); err != nil {
		logger.Fatal().Err(err).Msg("mapping profile does not match compiled rules")
	}
	logger.Info().Str("profile", profile.Profile).Str("version", profile.Version).Msg("mapping profile loaded")

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Telemetry
	tele := telemetry.NewTelemetryProvider(telemetry.TelemetryConfig{
		ServiceName:    "nhcx-fhir-converter",
		ServiceVersion: version,
		Environment:    cfg.Env,
	})
	defer tele.Shutdown(ctx)

	// Conversion service
	repo := conversion.NewRepoPG(pool)
	svc := conversion.NewService(repo, logger)
	svc.SetTelemetry(tele)

	// Background gauge sampler: pool utilization and stored record count.
	go func() {
		ticker := time.NewTicker(tele.Interval())
		defer ticker.Stop()
		for {
			select {
			case <-tele.Done():
				return
			case <-ticker.C:
				collectHealthMetrics(ctx, pool, repo, tele)
			}
		}
	}()

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.Sanitize())
	e.Use(tele.MetricsMiddleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-API-Key"},
	}))

	// Auth middleware
	switch cfg.AuthMode {
	case "apikey":
		e.Use(auth.APIKeyMiddleware(cfg.APIKeys))
	case "jwt":
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Secret: []byte(cfg.JWTSecret),
			Issuer: cfg.JWTIssuer,
		}))
	default:
		e.Use(auth.DevAuthMiddleware())
	}

	e.Use(middleware.Audit(logger))

	// API group
	api := e.Group("/api")
	api.Use(middleware.BodyLimit(cfg.BodyLimit))
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	api.Use(middleware.RateLimit(rateLimitCfg))
	api.Use(middleware.RequestTimeout(30 * time.Second))

	handler := conversion.NewHandler(svc, profile)
	handler.RegisterRoutes(api)

	// Infrastructure endpoints
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", tele.PrometheusHandler())

	// HL7v2 MLLP TCP listener (optional, started when MLLP_ADDR is set).
	// Messages arriving over MLLP run through the same Convert path as the
	// HTTP API, so dedup and audit records behave identically.
	if cfg.MLLPEnabled() {
		mllpServer := hl7v2.NewMLLPServer(cfg.MLLPAddr, mllpHandler(svc, tele), logger)
		if err := mllpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("MLLP server failed to start")
		}
		defer mllpServer.Stop()
		logger.Info().Str("addr", cfg.MLLPAddr).Msg("MLLP server started")
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// mllpHandler feeds MLLP payloads through the same Convert path as the HTTP
// API and counts each delivery by its ACK outcome.
func mllpHandler(svc *conversion.Service, tele *telemetry.TelemetryProvider) hl7v2.MessageHandler {
	return func(raw []byte) error {
		if _, err := svc.Convert(context.Background(), string(raw)); err != nil {
			tele.MLLPMessageCounter("rejected")
			return err
		}
		tele.MLLPMessageCounter("accepted")
		return nil
	}
}

// collectHealthMetrics samples the connection pool and the stored record
// count into the health gauges. A nil pool skips the pool gauges.
func collectHealthMetrics(ctx context.Context, pool *pgxpool.Pool, repo conversion.Repository, tele *telemetry.TelemetryProvider) {
	hm := tele.HealthMetrics()
	if pool != nil {
		stats := db.GetPoolStats(pool)
		hm.SetDBPoolActive(int64(stats.AcquiredConns))
		hm.SetDBPoolIdle(int64(stats.IdleConns))
	}
	if _, total, err := repo.List(ctx, 1, 0); err == nil {
		hm.SetConversionRecordsTotal(int64(total))
	}
}
