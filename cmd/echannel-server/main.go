package main

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/echannel/echannel/internal/config"
	"github.com/echannel/echannel/internal/domain/booking"
	"github.com/echannel/echannel/internal/domain/identity"
	"github.com/echannel/echannel/internal/domain/pharmacy"
	"github.com/echannel/echannel/internal/domain/scheduling"
	"github.com/echannel/echannel/internal/platform/auth"
	"github.com/echannel/echannel/internal/platform/db"
	"github.com/echannel/echannel/internal/platform/middleware"
	"github.com/echannel/echannel/internal/platform/notification"
	"github.com/echannel/echannel/internal/platform/realtime"
)

// doctorDirectoryAdapter adapts the identity service to the directory
// interfaces of the scheduling and booking domains, translating the identity
// sentinels into each domain's own, avoiding circular imports.
type doctorDirectoryAdapter struct {
	svc *identity.Service
}

func (a *doctorDirectoryAdapter) DoctorExists(ctx context.Context, id uuid.UUID) error {
	if _, err := a.svc.GetDoctor(ctx, id); err != nil {
		if err == identity.ErrDoctorNotFound {
			return scheduling.ErrDoctorNotFound
		}
		return err
	}
	return nil
}

func (a *doctorDirectoryAdapter) GetDoctor(ctx context.Context, id uuid.UUID) (*booking.Person, error) {
	d, err := a.svc.GetDoctor(ctx, id)
	if err != nil {
		if err == identity.ErrDoctorNotFound {
			return nil, booking.ErrDoctorNotFound
		}
		return nil, err
	}
	return &booking.Person{ID: d.ID, Name: d.Name, Email: d.Email}, nil
}

type patientDirectoryAdapter struct {
	svc *identity.Service
}

func (a *patientDirectoryAdapter) GetPatient(ctx context.Context, id uuid.UUID) (*booking.Person, error) {
	p, err := a.svc.GetPatient(ctx, id)
	if err != nil {
		if err == identity.ErrPatientNotFound {
			return nil, booking.ErrPatientNotFound
		}
		return nil, err
	}
	return &booking.Person{ID: p.ID, Name: p.Name, Email: p.Email}, nil
}

type pharmacyPatientAdapter struct {
	svc *identity.Service
}

func (a *pharmacyPatientAdapter) GetPatient(ctx context.Context, id uuid.UUID) (*pharmacy.Patient, error) {
	p, err := a.svc.GetPatient(ctx, id)
	if err != nil {
		if err == identity.ErrPatientNotFound {
			return nil, pharmacy.ErrPatientNotFound
		}
		return nil, err
	}
	out := &pharmacy.Patient{ID: p.ID, Name: p.Name, Email: p.Email}
	if p.Address != nil {
		out.Address = *p.Address
	}
	return out, nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "echannel-server",
		Short: "Hospital e-channeling API server",
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
		Short: "Start the e-channeling API server",
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

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s).\n", count)
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

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("migration status: %w", err)
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

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		// Dev convenience only; tokens do not survive restarts.
		buf := make([]byte, 32)
		if _, err := cryptorand.Read(buf); err != nil {
			logger.Fatal().Err(err).Msg("failed to generate dev JWT secret")
		}
		jwtSecret = hex.EncodeToString(buf)
		logger.Warn().Msg("JWT_SECRET not set; generated an ephemeral dev secret")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	txManager := db.NewTxManager(pool)
	tokens := auth.NewTokenIssuer([]byte(jwtSecret), cfg.JWTIssuer, cfg.JWTTTL)
	mailer := notification.NewManager(notification.NewLogSender(logger), notification.NewTemplateEngine())

	// Live queue updates fan out to connected websocket clients and, when
	// Redis is configured, to other instances through pub/sub.
	hub := realtime.NewHub(logger)
	var publisher realtime.Publisher = hub
	if cfg.RedisURL != "" {
		redisClient, err := realtime.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		publisher = realtime.Fanout{hub, realtime.NewRedisPublisher(redisClient)}
		logger.Info().Msg("redis queue update publishing enabled")
	}

	// Repositories
	patientRepo := identity.NewPatientRepoPG(pool)
	doctorRepo := identity.NewDoctorRepoPG(pool)
	scheduleRepo := scheduling.NewScheduleRepoPG(pool)
	apptRepo := booking.NewAppointmentRepoPG(pool)
	queueRepo := booking.NewQueueRepoPG(pool)
	scheduleStore := booking.NewScheduleStorePG(pool)
	prescriptionRepo := pharmacy.NewPrescriptionRepoPG(pool)
	orderRepo := pharmacy.NewOrderRepoPG(pool)

	// Services, wired through the directory adapters above.
	var identitySvc *identity.Service
	doctorDir := &doctorDirectoryAdapter{}
	patientDir := &patientDirectoryAdapter{}
	pharmacyPatients := &pharmacyPatientAdapter{}

	bookingSvc := booking.NewService(apptRepo, queueRepo, scheduleStore, patientDir, doctorDir,
		txManager, mailer, publisher, logger)
	schedulingSvc := scheduling.NewService(scheduleRepo, doctorDir, bookingSvc, txManager, logger)
	identitySvc = identity.NewService(patientRepo, doctorRepo, schedulingSvc, bookingSvc,
		txManager, tokens, mailer, logger)
	pharmacySvc := pharmacy.NewService(prescriptionRepo, orderRepo, pharmacyPatients, txManager, mailer, logger)

	doctorDir.svc = identitySvc
	patientDir.svc = identitySvc
	pharmacyPatients.svc = identitySvc

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	e.GET("/health", db.HealthHandler(pool))

	public := e.Group("/api/v1")
	api := e.Group("/api/v1", auth.Middleware([]byte(jwtSecret), cfg.JWTIssuer))

	identity.NewHandler(identitySvc).RegisterRoutes(public, api)
	scheduling.NewHandler(schedulingSvc).RegisterRoutes(public, api)
	booking.NewHandler(bookingSvc).RegisterRoutes(api)
	pharmacy.NewHandler(pharmacySvc).RegisterRoutes(api)
	realtime.NewHandler(hub).RegisterRoutes(public)

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()
	logger.Info().Str("port", cfg.Port).Msg("server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
