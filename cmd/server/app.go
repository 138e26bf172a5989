package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yourorg/smartmenu-payments/internal/adapter"
	"github.com/yourorg/smartmenu-payments/internal/adapter/circuitbreaker"
	"github.com/yourorg/smartmenu-payments/internal/adapter/mock"
	"github.com/yourorg/smartmenu-payments/internal/adapter/stripe"
	"github.com/yourorg/smartmenu-payments/internal/config"
	"github.com/yourorg/smartmenu-payments/internal/database"
	"github.com/yourorg/smartmenu-payments/internal/ingest"
	"github.com/yourorg/smartmenu-payments/internal/ledger"
	"github.com/yourorg/smartmenu-payments/internal/logger"
	"github.com/yourorg/smartmenu-payments/internal/monitor"
	"github.com/yourorg/smartmenu-payments/internal/orchestrator"
	"github.com/yourorg/smartmenu-payments/internal/payment"
	"github.com/yourorg/smartmenu-payments/internal/planbuilder"
	"github.com/yourorg/smartmenu-payments/internal/policy"
	"github.com/yourorg/smartmenu-payments/internal/reporting"
	"github.com/yourorg/smartmenu-payments/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// serveOptions is the full dependency graph of the serve command.
func serveOptions(cfg config.Config, migrate bool) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Provide(
			newLogger,
			newTracerProvider,
			newDatabase,
			newSnowflakeNode,
			ledger.New,
			payment.NewRepository,
			newAccountPolicy,
			newRegistry,
			newPlanBuilder,
			newOrchestrator,
			ingest.NewIngestor,
			monitor.LoadContracts,
			reporting.NewReporter,
			NewHandlers,
			setupRouter,
		),
		// Nothing depends on the tracer provider; it installs itself globally.
		fx.Invoke(func(*sdktrace.TracerProvider) {}),
		fx.Invoke(func(db *gorm.DB, log *zap.Logger) error {
			if !migrate {
				return nil
			}
			log.Info("running migrations")
			return database.Migrate(db)
		}),
		fx.Invoke(runHTTP),
	)
}

func newLogger(lc fx.Lifecycle, cfg config.Config) (*zap.Logger, error) {
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = log.Sync()
			return nil
		},
	})
	return log, nil
}

func newTracerProvider(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*sdktrace.TracerProvider, error) {
	tp, err := telemetry.NewTracerProvider(telemetry.Config{Enabled: cfg.TracingEnabled}, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: tp.Shutdown})
	return tp, nil
}

func newDatabase(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*gorm.DB, error) {
	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseURL, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
	return db, nil
}

func newSnowflakeNode(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node %d: %w", cfg.SnowflakeNode, err)
	}
	return node, nil
}

func newAccountPolicy(cfg config.Config) (*policy.AccountPolicy, error) {
	return policy.NewAccountPolicy(cfg.AccountEnabledRule)
}

// newRegistry registers Stripe always and the mock provider only when it is
// the configured default, so local setups can run without Stripe keys.
func newRegistry(cfg config.Config, log *zap.Logger) *adapter.Registry {
	registry := adapter.NewRegistry(stripe.NewStripeAdapter(stripe.Config{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		APIBaseURL:    cfg.StripeAPIBaseURL,
	}))
	if cfg.DefaultProvider == "mock" {
		registry.Register(mock.NewMockAdapter("mock"))
		log.Warn("mock payment provider registered")
	}
	return registry.WithBreaker(circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		OpenTimeout:      cfg.BreakerOpenTimeout,
	}))
}

func newPlanBuilder(cfg config.Config) *planbuilder.PlanBuilder {
	return planbuilder.NewPlanBuilder(
		planbuilder.Config{DefaultCurrency: cfg.DefaultCurrency},
		planbuilder.NewPlatformFeePolicy(cfg.PlatformFeeBps),
	)
}

func newOrchestrator(db *gorm.DB, repo payment.Repository, plans *planbuilder.PlanBuilder, registry *adapter.Registry, cfg config.Config, log *zap.Logger) *orchestrator.Orchestrator {
	return orchestrator.NewOrchestrator(db, repo, plans, registry,
		orchestrator.Config{DefaultProvider: cfg.DefaultProvider}, log)
}

func runHTTP(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
