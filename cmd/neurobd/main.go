package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/neurobd/neurobd/internal/config"
	"github.com/neurobd/neurobd/internal/domain/cohort"
	"github.com/neurobd/neurobd/internal/platform/auth"
	"github.com/neurobd/neurobd/internal/platform/dataset"
	"github.com/neurobd/neurobd/internal/platform/db"
	"github.com/neurobd/neurobd/internal/platform/docstore"
	"github.com/neurobd/neurobd/internal/platform/middleware"
	"github.com/neurobd/neurobd/migrations"
)

const (
	apiPrefix      = "/api/v1"
	connectTimeout = 10 * time.Second
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "neurobd",
		Short:        "ADHD research cohort API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(importCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger.Level(cfg.ZerologLevel())
}

// backend is an opened store with the cohort service built on top of it.
type backend struct {
	name  string
	svc   *cohort.Service
	ping  db.PingFunc
	audit middleware.AuditRecorder
	close func()
}

func openBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backend, error) {
	switch cfg.StoreDriver {
	case config.StoreMongo:
		client, err := docstore.Connect(ctx, cfg.MongoURI, connectTimeout)
		if err != nil {
			return nil, err
		}
		database := client.Database(cfg.MongoDatabase)
		if err := cohort.EnsureIndexes(ctx, database); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		svc := cohort.NewService(
			cohort.NewSubjectRepoMongo(database),
			cohort.NewAssessmentRepoMongo(database),
			cohort.NewIndicatorRepoMongo(database),
			cohort.NewMongoTxRunner(client, cfg.MongoTransactions),
		)
		svc.SetLogger(logger)
		logger.Info().Str("database", cfg.MongoDatabase).Bool("transactions", cfg.MongoTransactions).Msg("connected to mongo")
		return &backend{
			name:  config.StoreMongo,
			svc:   svc,
			ping:  docstore.Ping(client, cfg.MongoDatabase),
			audit: docstore.NewAuditLog(database),
			close: func() {
				_ = client.Disconnect(context.Background())
			},
		}, nil

	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		svc := cohort.NewService(
			cohort.NewSubjectRepoPG(pool),
			cohort.NewAssessmentRepoPG(pool),
			cohort.NewIndicatorRepoPG(pool),
			cohort.NewPGTxRunner(pool),
		)
		svc.SetLogger(logger)
		logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")
		return &backend{
			name:  config.StorePostgres,
			svc:   svc,
			ping:  db.PoolPing(pool),
			audit: db.NewAuditLog(pool),
			close: pool.Close,
		}, nil
	}
}

// newServer builds the HTTP server with the global middleware stack, the
// health endpoint and the cohort routes.
func newServer(cfg *config.Config, b *backend, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	importPath := apiPrefix + cohort.ImportPath

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders: []string{"Link", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.MaxBodyBytes, cfg.MaxUploadBytes, importPath))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, importPath))

	// Health check
	e.GET("/health", db.HealthHandler(b.name, b.ping))

	// Auth middleware
	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	}
	apiV1 := e.Group(apiPrefix)
	if cfg.ResolvedAuthMode() == config.AuthModeDevelopment {
		apiV1.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		apiV1.Use(auth.JWTMiddleware(jwtCfg))
	}

	// Audit middleware
	if b.audit != nil {
		apiV1.Use(middleware.Audit(logger, b.audit))
	} else {
		apiV1.Use(middleware.Audit(logger))
	}

	cohort.NewHandler(b.svc).RegisterRoutes(apiV1)
	return e
}

func importDataset(ctx context.Context, svc *cohort.Service, source string, force bool) (*cohort.ImportReport, error) {
	table, err := dataset.NewLoader().Load(ctx, source)
	if err != nil {
		return nil, err
	}
	return svc.ImportTable(ctx, table, cohort.ImportOptions{Force: force})
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the cohort API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Str("store", cfg.StoreDriver).Msg("failed to open store")
		return err
	}
	defer b.close()

	if cfg.ImportOnStart {
		report, err := importDataset(ctx, b.svc, cfg.DatasetSource, false)
		if err != nil {
			// the server still starts; rows already written stay committed
			logger.Error().Err(err).Str("source", cfg.DatasetSource).Msg("startup import failed")
		} else {
			logger.Info().Str("run_id", report.RunID).Bool("skipped", report.Skipped).Msg("startup import complete")
		}
	}

	e := newServer(cfg, b, logger)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", b.name).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Prepare the configured store",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations (Postgres) or create indexes (Mongo)",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, _ := cmd.Flags().GetInt("to")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()

			if cfg.StoreDriver == config.StoreMongo {
				client, err := docstore.Connect(ctx, cfg.MongoURI, connectTimeout)
				if err != nil {
					return err
				}
				defer client.Disconnect(context.Background())
				if err := cohort.EnsureIndexes(ctx, client.Database(cfg.MongoDatabase)); err != nil {
					return err
				}
				fmt.Printf("Indexes ensured on database: %s\n", cfg.MongoDatabase)
				return nil
			}

			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrations.FS, cfg.DBSchema)
			fmt.Printf("Running migrations on schema: %s\n", cfg.DBSchema)

			var count int
			if target > 0 {
				count, err = migrator.UpTo(ctx, target)
			} else {
				count, err = migrator.Up(ctx)
			}
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().Int("to", 0, "Apply migrations up to and including this version (0 = all)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status (Postgres only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.StoreDriver != config.StorePostgres {
				return fmt.Errorf("migrate status requires STORE_DRIVER=%s", config.StorePostgres)
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrations.FS, cfg.DBSchema)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", cfg.DBSchema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format(time.RFC3339)
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	cmd.AddCommand(statusCmd)

	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load a CSV or XLSX dataset (local path or s3://bucket/key)",
		RunE: func(cmd *cobra.Command, args []string) error {
			source, _ := cmd.Flags().GetString("source")
			force, _ := cmd.Flags().GetBool("force")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if source == "" {
				source = cfg.DatasetSource
			}
			logger := newLogger(cfg)

			ctx := context.Background()
			b, err := openBackend(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer b.close()

			report, err := importDataset(ctx, b.svc, source, force)
			if report != nil {
				out, _ := json.MarshalIndent(report, "", "  ")
				fmt.Println(string(out))
			}
			if err != nil {
				return fmt.Errorf("import %s: %w", source, err)
			}
			return nil
		},
	}
	cmd.Flags().String("source", "", "Dataset path or s3:// URI (defaults to DATASET_SOURCE)")
	cmd.Flags().Bool("force", false, "Run even when every collection already holds data")
	return cmd
}
