package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"locker-backend/internal/clients"
	"locker-backend/internal/config"
	"locker-backend/internal/db"
	"locker-backend/internal/handlers"
	"locker-backend/internal/repository"
	"locker-backend/internal/services"
	"locker-backend/internal/utils"
)

// ServiceContainer every long-lived component, wired once at startup
type ServiceContainer struct {
	Config *config.Config
	DB     *gorm.DB
	Logger *logrus.Logger

	// Repositories
	TransferRepo repository.TransferRepository
	LockerRepo   repository.LockerRepository
	PolicyRepo   repository.PolicyRepository

	// Clients
	ExecutorClient *clients.ExecutorClient
	OffRampClient  *clients.OffRampClient
	NATSClient     *clients.NATSClient // nil when NATS is disabled

	// Core Services
	PolicyLookup   *services.PolicyLookupService
	Orchestrator   *services.ExecutionOrchestrator
	Queue          *services.AutomationQueue
	Engine         *services.AutomationEngine
	IngestService  *services.IngestService
	Reconciliation *services.ReconciliationService
	ChangeListener *services.ChangeListener // nil when disabled

	// Handlers
	WebhookHandler  *handlers.WebhookHandler
	TransferHandler *handlers.TransferHandler
}

// NewServiceContainer builds the dependency graph bottom-up
func NewServiceContainer(cfg *config.Config, conn *gorm.DB, logger *logrus.Logger) (*ServiceContainer, error) {
	logger.Info("🚀 Initializing Service Container...")

	c := &ServiceContainer{Config: cfg, DB: conn, Logger: logger}

	logger.Info("📦 Initializing Repositories...")
	c.TransferRepo = repository.NewTransferRepository(conn)
	c.LockerRepo = repository.NewLockerRepository(conn)
	c.PolicyRepo = repository.NewPolicyRepository(conn)

	var cipher *utils.SessionKeyCipher
	if cfg.Credential.KeyHex != "" {
		var err error
		cipher, err = utils.NewSessionKeyCipher(cfg.Credential.KeyHex)
		if err != nil {
			return nil, fmt.Errorf("invalid credential key: %w", err)
		}
	} else {
		logger.Warn("⚠️ credential.keyHex not set, session keys are forwarded without a decryption check")
	}

	c.ExecutorClient = clients.NewExecutorClient(cfg.Executor)
	c.OffRampClient = clients.NewOffRampClient(cfg.OffRamp, logger)

	var publisher services.TransferPublisher
	if cfg.NATS.Enabled {
		natsClient, err := clients.NewNATSClient(cfg.NATS, logger)
		if err != nil {
			// ingestion still works over HTTP without NATS
			logger.Errorf("❌ NATS unavailable, continuing without it: %v", err)
		} else {
			c.NATSClient = natsClient
			publisher = natsClient
		}
	}

	logger.Info("🔧 Initializing Core Services...")
	c.PolicyLookup = services.NewPolicyLookupService(c.PolicyRepo, cipher, logger)
	c.Orchestrator = services.NewExecutionOrchestrator(c.ExecutorClient, logger)
	c.Queue = services.NewAutomationQueue(
		cfg.Automation.QueueSize,
		time.Duration(cfg.Automation.LaneIdleSeconds)*time.Second,
		cfg.SubmissionDelay(),
		logger,
	)
	c.Engine = services.NewAutomationEngine(services.AutomationEngineDeps{
		Transfers:       c.TransferRepo,
		Lockers:         c.LockerRepo,
		Policies:        c.PolicyLookup,
		Executor:        c.Orchestrator,
		OffRamp:         c.OffRampClient,
		Dispatcher:      c.Queue,
		Publisher:       publisher,
		SubmissionDelay: cfg.SubmissionDelay(),
		Logger:          logger,
	})
	c.IngestService = services.NewIngestService(
		services.NewDepositClassifier(c.LockerRepo, cfg),
		c.TransferRepo,
		c.Engine,
		publisher,
		logger,
	)
	c.Reconciliation = services.NewReconciliationService(
		c.TransferRepo,
		time.Duration(cfg.Automation.ReconcileIntervalSeconds)*time.Second,
		time.Duration(cfg.Automation.StalledAfterSeconds)*time.Second,
		logger,
	)

	if cfg.ChangeListener.Enabled {
		if err := db.InstallChangeNotifications(conn, cfg.ChangeListener.Channel); err != nil {
			return nil, err
		}
		c.ChangeListener = services.NewChangeListener(cfg.Database.DSN, cfg.ChangeListener.Channel, c.IngestService, logger)
	}

	c.WebhookHandler = handlers.NewWebhookHandler(c.IngestService, logger)
	c.TransferHandler = handlers.NewTransferHandler(c.TransferRepo, c.Reconciliation, logger)

	logger.Info("✅ Service Container initialized successfully")
	return c, nil
}

// RunBackground starts reconciliation, NATS ingestion, the change listener and pool
// monitoring on g; all stop when ctx is cancelled
func (c *ServiceContainer) RunBackground(ctx context.Context, g *errgroup.Group) error {
	g.Go(func() error { return c.Reconciliation.Run(ctx) })
	g.Go(func() error { return db.MonitorPool(ctx, c.DB, 30*time.Second) })

	if c.NATSClient != nil {
		if err := c.IngestService.SubscribeIndexer(ctx, c.NATSClient, c.Config.NATS.IndexerSubject); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", c.Config.NATS.IndexerSubject, err)
		}
	}
	if c.ChangeListener != nil {
		g.Go(func() error { return c.ChangeListener.Run(ctx) })
	}
	return nil
}

// Close stops the queue and closes external connections
func (c *ServiceContainer) Close() {
	c.Queue.Stop()
	if c.NATSClient != nil {
		c.NATSClient.Close()
	}
	if sqlDB, err := c.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
