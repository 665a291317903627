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
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medscribe/medscribe/internal/config"
	"github.com/medscribe/medscribe/internal/domain/chat"
	"github.com/medscribe/medscribe/internal/domain/prescription"
	"github.com/medscribe/medscribe/internal/domain/referral"
	"github.com/medscribe/medscribe/internal/platform/assistant"
	"github.com/medscribe/medscribe/internal/platform/auth"
	"github.com/medscribe/medscribe/internal/platform/db"
	"github.com/medscribe/medscribe/internal/platform/events"
	"github.com/medscribe/medscribe/internal/platform/middleware"
	"github.com/medscribe/medscribe/internal/platform/notification"
	"github.com/medscribe/medscribe/internal/platform/telemetry"
	"github.com/medscribe/medscribe/internal/platform/websocket"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "medscribe-server",
		Short: "MedScribe clinical workflow API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(referralsCmd())

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

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// connect loads the config and opens the pool for one-shot commands.
func connect(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
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
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, db.MigrationSource(dir))
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	upCmd.Flags().String("dir", "", "Migrations directory (default: embedded)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, db.MigrationSource(dir))
			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
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
	statusCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	statusCmd.Flags().String("dir", "", "Migrations directory (default: embedded)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and apply migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			ctx := context.Background()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating tenant schema: tenant_%s\n", name)
			if err := db.CreateTenantSchema(ctx, pool, name, db.EmbeddedMigrations()); err != nil {
				return err
			}
			fmt.Println("Tenant created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

func referralsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "referrals",
		Short: "Referral maintenance",
	}

	expireCmd := &cobra.Command{
		Use:   "expire",
		Short: "Expire stale pending referrals in every tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			maxAge, _ := cmd.Flags().GetDuration("older-than")

			ctx := context.Background()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if maxAge <= 0 {
				maxAge = cfg.ReferralExpiry
			}
			if maxAge <= 0 {
				return fmt.Errorf("--older-than or REFERRAL_EXPIRY is required")
			}

			logger := newLogger(cfg.Env)
			emitter := events.NewEmitter(events.NewLogPublisher(logger), logger)
			expirer := referral.NewExpirer(referral.NewRepoPG(pool), db.NewTenantRunner(pool), emitter, maxAge, logger)
			n, err := expirer.SweepAll(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Expired %d referral(s).\n", n)
			return nil
		},
	}
	expireCmd.Flags().Duration("older-than", 0, "Age after which pending referrals expire (default: REFERRAL_EXPIRY)")

	cmd.AddCommand(expireCmd)
	return cmd
}

// eventPublisher logs every event and delivers it to connected users. With
// Kafka brokers configured, delivery goes through the topic so every
// instance relays events to its own WebSocket clients.
func eventPublisher(cfg *config.Config, hub websocket.Publisher, logger zerolog.Logger) (events.Publisher, *events.Consumer) {
	logPub := events.NewLogPublisher(logger)
	if len(cfg.KafkaBrokers) == 0 {
		return events.Multi{logPub, events.NewHubForwarder(hub)}, nil
	}
	pub := events.Multi{logPub, events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)}
	consumer := events.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, "medscribe-relay-"+uuid.NewString(), logger)
	return pub, consumer
}

func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rl.BurstSize = cfg.RateLimitBurst
	}
	rl.Skipper = func(c echo.Context) bool { return auth.IsPublicPath(c.Path()) }
	return rl
}

func registerPoolGauges(m *telemetry.Metrics, pool *pgxpool.Pool) {
	m.RegisterGauge("db_pool_acquired_connections", "Database connections in use.", func() int64 {
		return int64(pool.Stat().AcquiredConns())
	})
	m.RegisterGauge("db_pool_idle_connections", "Idle database connections.", func() int64 {
		return int64(pool.Stat().IdleConns())
	})
	m.RegisterGauge("db_pool_max_connections", "Database pool size limit.", func() int64 {
		return int64(pool.Stat().MaxConns())
	})
}

func authMiddleware(cfg *config.Config) (echo.MiddlewareFunc, error) {
	switch cfg.ResolvedAuthMode() {
	case "development":
		return auth.DevAuthMiddleware(auth.AuthSkipper), nil
	case "shared-secret":
		key, err := cfg.SigningKey()
		if err != nil {
			return nil, err
		}
		return auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: key,
			Skipper:    auth.AuthSkipper,
		}), nil
	case "external":
		return auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
			Skipper:  auth.AuthSkipper,
		}), nil
	}
	return nil, fmt.Errorf("unknown auth mode %q", cfg.ResolvedAuthMode())
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	metrics := telemetry.New()
	registerPoolGauges(metrics, pool)

	e.Use(middleware.Recovery(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RateLimit(rateLimitConfig(cfg)))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool, cfg.DefaultTenant))
	e.GET("/metrics", metrics.Handler())

	authMW, err := authMiddleware(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure auth")
	}
	tenantMW := db.TenantMiddleware(pool, cfg.DefaultTenant)
	apiV1 := e.Group("/api/v1", authMW, tenantMW)

	// Realtime delivery
	hub := websocket.NewHub(logger)
	referralRepo := referral.NewRepoPG(pool)
	websocket.NewHandler(hub, cfg.CORSOrigins, referralRepo).RegisterRoutes(apiV1)

	pub, consumer := eventPublisher(cfg, hub, logger)
	defer pub.Close()
	if consumer != nil {
		relay := events.NewHubForwarder(hub)
		go func() {
			relayEvent := func(ctx context.Context, evt events.Event) error {
				return relay.Publish(ctx, evt)
			}
			if err := consumer.Run(ctx, relayEvent); err != nil {
				logger.Error().Err(err).Msg("event relay stopped")
			}
		}()
		defer consumer.Close()
	}
	emitter := events.NewEmitter(events.Multi{pub, metrics}, logger)

	templates := notification.NewTemplateEngine()
	responder := notification.NewResponder(notification.NewHubNotifier(hub, logger), templates, logger)

	// Assistant
	if cfg.AssistantEmbedded {
		var llm assistant.Completer
		if cfg.OpenAIAPIKey != "" {
			llm = assistant.NewOpenAICompleter(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		}
		assistant.NewServer(assistant.NewPGRetriever(pool), llm, logger).RegisterRoutes(e, authMW, tenantMW)
		logger.Info().Bool("llm", llm != nil).Msg("embedded assistant enabled")
	}
	assistantClient := assistant.NewClient(cfg.AssistantURL, cfg.AssistantTimeout)

	// Referrals
	referralGW := referral.NewGateway(referralRepo, emitter)
	referral.NewHandler(referralGW, referral.NewView(referralRepo), responder).RegisterRoutes(apiV1)

	if cfg.ReferralExpiry > 0 {
		expirer := referral.NewExpirer(referralRepo, db.NewTenantRunner(pool), emitter, cfg.ReferralExpiry, logger)
		go expirer.Run(ctx, cfg.ReferralExpiryInterval)
	}

	// Chat
	chatRegistry := chat.NewRegistry(chat.Deps{
		Sessions:  chat.NewSessionRepoPG(pool),
		Messages:  chat.NewMessageRepoPG(pool),
		Assistant: assistantClient,
		Events:    emitter,
		Logger:    logger,
	}, 0)
	chat.NewHandler(chatRegistry, responder).RegisterRoutes(apiV1)

	// Prescriptions
	prescriptionSvc := prescription.NewService(prescription.NewRepoPG(pool), emitter)
	prescription.NewHandler(prescriptionSvc, responder).RegisterRoutes(apiV1)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("auth_mode", cfg.ResolvedAuthMode()).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
