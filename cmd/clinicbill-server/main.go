package main

import (
	"context"
	"fmt"
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

	"github.com/ehr/clinicbill/internal/config"
	"github.com/ehr/clinicbill/internal/domain/billing"
	"github.com/ehr/clinicbill/internal/domain/discharge"
	"github.com/ehr/clinicbill/internal/domain/medrecord"
	"github.com/ehr/clinicbill/internal/domain/visit"
	"github.com/ehr/clinicbill/internal/platform/apperr"
	"github.com/ehr/clinicbill/internal/platform/auth"
	"github.com/ehr/clinicbill/internal/platform/db"
	"github.com/ehr/clinicbill/internal/platform/middleware"
	"github.com/ehr/clinicbill/internal/platform/validation"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinicbill-server",
		Short: "Clinic visit lifecycle and billing API server",
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

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withPool(cmd.Context(), func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				count, err := db.NewMigrator(pool, migrationsDir(dir, cfg)).Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withPool(cmd.Context(), func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				statuses, err := db.NewMigrator(pool, migrationsDir(dir, cfg)).Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}

				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Println("---------- ---------------------------------------- ---------- --------------------")
				for _, s := range statuses {
					state, at := "pending", ""
					if s.Applied {
						state = "applied"
						if s.AppliedAt != nil {
							at = s.AppliedAt.Format(time.RFC3339)
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, state, at)
				}
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func migrationsDir(flag string, cfg *config.Config) string {
	if flag != "" {
		return flag
	}
	return cfg.MigrationsDir
}

func withPool(ctx context.Context, fn func(context.Context, *config.Config, *pgxpool.Pool) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	e := newServer(cfg, pool, logger)

	addr := ":" + cfg.Port
	go func() {
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
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

func newServer(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.ErrorHandler(logger)
	e.Validator = validation.New()

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	tx := db.NewTxManager(pool, cfg.LockTimeout)

	// Visit lifecycle
	visitSvc := visit.NewService(visit.NewRepo(pool), tx, logger)
	visit.NewHandler(visitSvc).RegisterRoutes(apiV1)

	// Medical records
	recordSvc := medrecord.NewService(medrecord.NewRepo(pool), tx, visitSvc, cfg.RecordUnlockRoles, logger)
	medrecord.NewHandler(recordSvc).RegisterRoutes(apiV1)

	// Billing
	billingRepo := billing.NewRepo(pool)
	sources := billing.DefaultSources(billing.NewChargeReader(pool), cfg.Fee())
	aggregator := billing.NewAggregator(billingRepo, tx, visitSvc, recordSvc, sources, logger)
	payments := billing.NewPaymentProcessor(billingRepo, tx, visitSvc, cfg.AllowOverpayment, logger)
	billing.NewHandler(aggregator, payments).RegisterRoutes(apiV1)

	// Discharge and checkout. The gate also decides whether an inpatient
	// record may be locked into ready_for_billing and whether a visit with a
	// bill may be cancelled.
	gate := discharge.NewGate(visitSvc, billingRepo, recordSvc)
	recordSvc.SetBillingReadiness(gate)
	visitSvc.SetSettlementChecker(gate)
	dischargeSvc := discharge.NewService(discharge.NewRepo(pool), tx, visitSvc, gate, logger)
	discharge.NewHandler(dischargeSvc).RegisterRoutes(apiV1)

	logger.Info().
		Str("consultation_fee", cfg.Fee().StringFixed(billing.MoneyScale)).
		Bool("allow_overpayment", cfg.AllowOverpayment).
		Strs("record_unlock_roles", cfg.RecordUnlockRoles).
		Msg("billing policy loaded")

	return e
}
