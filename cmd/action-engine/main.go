package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/shelfwise/action-engine/config"
	httpdelivery "github.com/shelfwise/action-engine/delivery/http"
	"github.com/shelfwise/action-engine/domain/service"
	"github.com/shelfwise/action-engine/infrastructure/cache"
	"github.com/shelfwise/action-engine/infrastructure/commerce"
	"github.com/shelfwise/action-engine/infrastructure/database"
	"github.com/shelfwise/action-engine/infrastructure/messaging"
	"github.com/shelfwise/action-engine/pkg/logging"
	"github.com/shelfwise/action-engine/pkg/metrics"
	"github.com/shelfwise/action-engine/usecase"
)

const serviceName = "action-engine"

// Application wires the engine together and owns its lifecycle
type Application struct {
	config *config.Config
	logger *logging.Logger

	postgres *sqlx.DB
	redis    *redis.Client
	auditPub *messaging.KafkaAuditPublisher

	httpServer *httpdelivery.ActionEngineHTTPServer
	gate       *usecase.ApprovalGate

	metrics *metrics.Collector

	shutdownCh  chan os.Signal
	sweeperStop context.CancelFunc
	wg          sync.WaitGroup
}

func main() {
	app := &Application{
		shutdownCh: make(chan os.Signal, 1),
	}

	if err := app.Initialize(); err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	app.Start()
	app.WaitForShutdown()

	if err := app.Shutdown(); err != nil {
		app.logger.Error("Error during shutdown", zap.Error(err))
		os.Exit(1)
	}

	app.logger.Info("Application shutdown complete")
}

// Initialize builds every component from configuration
func (app *Application) Initialize() error {
	var err error

	app.config, err = config.LoadConfig(os.Getenv("ACTION_ENGINE_CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	app.logger, err = logging.NewLogger(app.config.Logging)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}

	app.logger.Info("Starting Action Engine",
		zap.String("service", serviceName),
		zap.String("version", app.config.Service.Version),
		zap.String("environment", app.config.Service.Environment),
	)

	app.metrics = metrics.NewCollector(serviceName)

	// PostgreSQL
	app.postgres, err = database.NewConnection(database.Config{
		Host:            app.config.Database.Host,
		Port:            app.config.Database.Port,
		User:            app.config.Database.User,
		Password:        app.config.Database.Password,
		Database:        app.config.Database.Database,
		SSLMode:         app.config.Database.SSLMode,
		MaxOpenConns:    app.config.Database.MaxOpenConns,
		MaxIdleConns:    app.config.Database.MaxIdleConns,
		ConnMaxLifetime: app.config.Database.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if app.config.Database.RunMigrations {
		if err := database.Migrate(context.Background(), app.postgres); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	// Repositories
	actionRepo := database.NewPostgresActionRepository(app.postgres, app.logger)
	approvalRepo := database.NewPostgresApprovalRepository(app.postgres, app.logger)
	batchRepo := database.NewPostgresBatchRepository(app.postgres, app.logger)
	ruleRepo := database.NewPostgresRuleRepository(app.postgres, app.logger)
	auditRepo := database.NewPostgresAuditRepository(app.postgres, app.logger)

	// Commerce platform client, doubling as the catalog source
	gateway := commerce.NewHTTPGateway(commerce.Config{
		BaseURL:                 app.config.Commerce.BaseURL,
		APIKey:                  app.config.Commerce.APIKey,
		RequestTimeout:          app.config.Commerce.RequestTimeout,
		BreakerMaxRequests:      app.config.Commerce.BreakerMaxRequests,
		BreakerInterval:         app.config.Commerce.BreakerInterval,
		BreakerTimeout:          app.config.Commerce.BreakerTimeout,
		BreakerFailureThreshold: app.config.Commerce.BreakerFailureThreshold,
	}, app.logger)

	// Catalog reads go through Redis when enabled
	var catalog service.CatalogReader = gateway
	if app.config.Redis.Enabled {
		app.redis = redis.NewClient(&redis.Options{
			Addr:     app.config.Redis.Addr(),
			Password: app.config.Redis.Password,
			DB:       app.config.Redis.DB,
		})
		if err := app.redis.Ping(context.Background()).Err(); err != nil {
			app.logger.Warn("Redis unavailable, catalog reads go direct", zap.Error(err))
		}
		catalog = cache.NewCatalogCache(gateway, app.redis, app.config.Redis.CacheTTL, app.logger, app.metrics)
	}

	// Audit ledger, mirrored to Kafka when enabled
	var sink usecase.AuditSink
	if app.config.Kafka.Enabled {
		app.auditPub = messaging.NewKafkaAuditPublisher(messaging.KafkaConfig{
			Brokers:      app.config.Kafka.Brokers,
			Topic:        app.config.Kafka.Topic,
			ClientID:     app.config.Kafka.ClientID,
			BatchSize:    app.config.Kafka.BatchSize,
			BatchTimeout: app.config.Kafka.BatchTimeout,
			WriteTimeout: app.config.Kafka.WriteTimeout,
			MaxRetries:   app.config.Kafka.MaxRetries,
		}, app.logger, app.metrics)
		sink = app.auditPub
	}
	ledger := usecase.NewAuditLedger(auditRepo, sink, app.logger, app.metrics)

	// Pipeline stages
	slots := usecase.NewBatchSlotRegistry()
	accountant := usecase.NewBatchAccountant(batchRepo, actionRepo, ledger, slots, app.logger, app.metrics)
	validator := usecase.NewValidationEngine(ruleRepo, catalog, app.logger, app.metrics)
	classifier := usecase.NewRiskClassifier(app.config.Risk)
	locks := usecase.NewSKULockRegistry()
	executor := usecase.NewExecutor(actionRepo, catalog, gateway, locks, ledger, app.logger, app.metrics, app.config.Executor.Timeout)
	app.gate = usecase.NewApprovalGate(approvalRepo, actionRepo, ledger, accountant, app.logger, app.metrics, app.config.Approval)
	rollbacks := usecase.NewRollbackManager(actionRepo, gateway, catalog, locks, ledger, app.logger, app.metrics)
	pipeline := usecase.NewActionPipeline(validator, classifier, app.gate, executor, actionRepo, ledger, accountant, slots, app.logger, app.metrics)
	orchestrator := usecase.NewBatchOrchestrator(pipeline, batchRepo, accountant, slots, ledger, app.logger, app.metrics)

	// HTTP server; /metrics exposure follows the config switch
	serverMetrics := app.metrics
	if !app.config.Metrics.Enabled {
		serverMetrics = nil
	}
	app.httpServer = httpdelivery.NewActionEngineHTTPServer(
		pipeline,
		orchestrator,
		rollbacks,
		actionRepo,
		batchRepo,
		approvalRepo,
		auditRepo,
		gateway,
		app.logger,
		serverMetrics,
		httpdelivery.ServerConfig{
			Port:            app.config.Server.Port,
			ReadTimeout:     app.config.Server.ReadTimeout,
			WriteTimeout:    app.config.Server.WriteTimeout,
			ShutdownTimeout: app.config.Server.ShutdownTimeout,
			RateLimit:       app.config.Server.RateLimit,
			RateBurst:       app.config.Server.RateBurst,
		},
	)

	return nil
}

// Start launches the HTTP listener and the approval sweeper
func (app *Application) Start() {
	sweeperCtx, cancel := context.WithCancel(context.Background())
	app.sweeperStop = cancel

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.gate.RunSweeper(sweeperCtx)
	}()

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		if err := app.httpServer.Start(); err != nil {
			app.logger.Error("HTTP server failed", zap.Error(err))
			app.shutdownCh <- syscall.SIGTERM
		}
	}()
}

// WaitForShutdown blocks until an interrupt or termination signal arrives
func (app *Application) WaitForShutdown() {
	signal.Notify(app.shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-app.shutdownCh
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
}

// Shutdown stops components in reverse dependency order
func (app *Application) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancel()

	var firstErr error

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown failed", zap.Error(err))
		firstErr = err
	}

	if app.sweeperStop != nil {
		app.sweeperStop()
	}
	app.wg.Wait()

	if app.auditPub != nil {
		if err := app.auditPub.Close(); err != nil {
			app.logger.Error("Kafka publisher close failed", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if app.redis != nil {
		if err := app.redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if app.postgres != nil {
		if err := app.postgres.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	// Sync errors on stderr are expected on some platforms
	_ = app.logger.Sync()

	return firstErr
}
