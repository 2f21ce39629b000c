package main

import (
	"context"
	crypto_rand "crypto/rand"
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
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinicsync/clinicsync/internal/config"
	"github.com/clinicsync/clinicsync/internal/domain/appointment"
	"github.com/clinicsync/clinicsync/internal/domain/cases"
	"github.com/clinicsync/clinicsync/internal/domain/credential"
	"github.com/clinicsync/clinicsync/internal/domain/patient"
	"github.com/clinicsync/clinicsync/internal/domain/syncrun"
	"github.com/clinicsync/clinicsync/internal/platform/auth"
	"github.com/clinicsync/clinicsync/internal/platform/db"
	"github.com/clinicsync/clinicsync/internal/platform/middleware"
	"github.com/clinicsync/clinicsync/internal/platform/notification"
	"github.com/clinicsync/clinicsync/internal/platform/secrets"
	"github.com/clinicsync/clinicsync/internal/pms"
	"github.com/clinicsync/clinicsync/internal/quota"
	syncengine "github.com/clinicsync/clinicsync/internal/sync"

	// Vendor adapters register themselves with the pms registry.
	_ "github.com/clinicsync/clinicsync/internal/pms/cliniko"
	_ "github.com/clinicsync/clinicsync/internal/pms/nookal"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinicsync-server",
		Short: "Clinic session quota sync server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(syncCmd())

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
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
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
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
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

// syncCmd runs one sync cycle from the command line, for cron jobs that talk
// to the database directly instead of hitting the trigger endpoint.
func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle across all active credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			forceFull, _ := cmd.Flags().GetBool("force-full")
			clinicFlag, _ := cmd.Flags().GetString("clinic")
			vendorFlag, _ := cmd.Flags().GetString("vendor")

			opts := syncengine.TriggerOptions{ForceFull: forceFull}
			if clinicFlag != "" {
				clinicID, err := uuid.Parse(clinicFlag)
				if err != nil {
					return fmt.Errorf("invalid --clinic: %w", err)
				}
				opts.ClinicID = clinicID
			}
			if vendorFlag != "" {
				vendor, err := pms.ParseVendor(vendorFlag)
				if err != nil {
					return fmt.Errorf("invalid --vendor: %w", err)
				}
				opts.Vendor = vendor
			}

			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			app, err := buildApp(cfg, pool, logger)
			if err != nil {
				return err
			}

			results := app.orch.Trigger(ctx, opts)
			for _, r := range results {
				fmt.Printf("%s %s: %s patients=%d appointments=%d cases=%d/%d issues=%d %s\n",
					r.ClinicID, r.Vendor, r.Status, r.PatientsProcessed, r.AppointmentsProcessed,
					r.CasesCreated, r.CasesUpdated, r.Issues, r.Error)
			}
			return nil
		},
	}
	cmd.Flags().Bool("force-full", false, "Discard cursors and re-sync everything")
	cmd.Flags().String("clinic", "", "Limit the cycle to one clinic ID")
	cmd.Flags().String("vendor", "", "Limit the cycle to one vendor")
	return cmd
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

// app bundles the wired services shared by the server and the sync command.
type app struct {
	credSvc    *credential.Service
	patientSvc *patient.Service
	apptSvc    *appointment.Service
	caseSvc    *cases.Service
	runs       syncrun.Repository
	orch       *syncengine.Orchestrator
}

func buildApp(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*app, error) {
	key := cfg.EncryptionKey()
	if key == nil {
		if !cfg.IsDev() {
			return nil, fmt.Errorf("no credential encryption key configured")
		}
		// Ephemeral dev key: stored credentials do not survive a restart.
		key = make([]byte, 32)
		if _, err := crypto_rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating dev encryption key: %w", err)
		}
		logger.Warn().Msg("using ephemeral credential encryption key")
	}
	cipher, err := secrets.NewCipher(key)
	if err != nil {
		return nil, err
	}

	credSvc := credential.NewService(credential.NewRepoPG(pool), cipher)
	patientSvc := patient.NewService(patient.NewRepoPG(pool))
	apptSvc := appointment.NewService(appointment.NewRepoPG(pool))

	caseRepo := cases.NewRepoPG(pool)
	caseSvc := cases.NewService(caseRepo)
	calc := quota.NewCalculator(apptSvc, logger)
	deriver := cases.NewDeriver(calc, caseRepo, patientSvc, apptSvc, logger)

	runs := syncrun.NewRepoPG(pool)
	notifier := notification.NewManager(&notification.LogSender{Logger: logger}, logger)

	opts := pms.Options{
		PageSize: cfg.SyncPageSize,
		Timeout:  time.Duration(cfg.SyncAdapterTimeoutSecs) * time.Second,
	}
	orch := syncengine.NewOrchestrator(credSvc, patientSvc, apptSvc, runs, deriver, notifier, opts, logger)

	return &app{
		credSvc:    credSvc,
		patientSvc: patientSvc,
		apptSvc:    apptSvc,
		caseSvc:    caseSvc,
		runs:       runs,
		orch:       orch,
	}, nil
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	application, err := buildApp(cfg, pool, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to wire services")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(middleware.RequestTimeout(30 * time.Second))
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}))
	}

	syncHandler := syncengine.NewHandler(application.orch, application.runs, application.credSvc)

	credential.NewHandler(application.credSvc).RegisterRoutes(apiV1)
	patient.NewHandler(application.patientSvc).RegisterRoutes(apiV1)
	appointment.NewHandler(application.apptSvc).RegisterRoutes(apiV1)
	cases.NewHandler(application.caseSvc).RegisterRoutes(apiV1)
	syncHandler.RegisterRoutes(apiV1)

	// Scheduler-facing surface, shared secret instead of JWT.
	trigger := e.Group("/api/v1/internal", middleware.SharedSecret(cfg.SyncSharedSecret))
	syncHandler.RegisterTriggerRoutes(trigger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server starting")
		if err := e.StartServer(srv); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	return nil
}
