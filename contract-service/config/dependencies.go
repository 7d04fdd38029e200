package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/agrifood/contract-system/contract-service/application"
	"github.com/agrifood/contract-system/contract-service/handlers"
	"github.com/agrifood/contract-system/contract-service/infrastructure"
	"github.com/agrifood/contract-system/shared/events"
	sharedinfra "github.com/agrifood/contract-system/shared/infrastructure"
	"github.com/agrifood/contract-system/shared/saga"
	"github.com/agrifood/contract-system/shared/telemetry"
)

type Dependencies struct {
	// Database
	DB *sqlx.DB

	// Repositories
	ContractRepository *infrastructure.SQLContractRepository
	CapacityRepository *infrastructure.SQLCapacityRepository
	EventStore         *sharedinfra.SQLEventStore

	// Saga
	Orchestrator *saga.Orchestrator
	SagaMetrics  *saga.BasicMetrics

	// Use Cases
	CreateContract         *application.CreateContract
	SignContract           *application.SignContract
	GetContract            *application.GetContract
	ListContracts          *application.ListContracts
	GetContractHistory     *application.GetContractHistory
	AdjustSupplierCapacity *application.AdjustSupplierCapacity
	GetSupplierCapacity    *application.GetSupplierCapacity

	// HTTP Handlers
	ContractHandlers *handlers.ContractHandlers

	// Event Handlers
	ContractEventHandlers *handlers.ContractEventHandlers
	EventRouter           *events.Router

	// Infrastructure
	EventPublisher events.Publisher
	// EventSubscriber is nil when no queue is configured
	EventSubscriber *sharedinfra.SQSEventSubscriber

	// Telemetry
	Telemetry         *telemetry.Telemetry
	TelemetryShutdown func()

	Logger *slog.Logger
}

func BuildDependencies(ctx context.Context, config *Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{Logger: logger}

	// Initialize telemetry first
	if config.Telemetry.Enabled {
		telConfig := telemetry.ContractServiceConfig.
			WithOTLPEndpoint(config.Telemetry.OTLPEndpoint).
			WithEnvironment(config.Env)
		tel, telemetryShutdown, err := telemetry.InitTelemetry(ctx, telConfig)
		if err != nil {
			// Continue without telemetry rather than failing
			logger.WarnContext(ctx, "telemetry_disabled", "error", err.Error())
		} else {
			deps.Telemetry = tel
			deps.TelemetryShutdown = telemetryShutdown
		}
	}

	db, err := openDatabase(ctx, config.Database, config.GetDatabaseURL())
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.DB = db

	if err := infrastructure.Migrate(ctx, db); err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	if err := deps.buildMessaging(ctx, config); err != nil {
		deps.Close()
		return nil, err
	}

	// Initialize repositories
	deps.ContractRepository = infrastructure.NewSQLContractRepository(db)
	deps.CapacityRepository = infrastructure.NewSQLCapacityRepository(db)
	deps.EventStore = sharedinfra.NewSQLEventStore(db)

	// Initialize the saga orchestrator
	deps.SagaMetrics = &saga.BasicMetrics{}
	opts := []saga.Option{
		saga.WithObserver(saga.NewCompositeObserver(
			saga.NewLoggingObserver(logger),
			saga.NewMetricsObserver(),
			deps.SagaMetrics,
		)),
		saga.WithStepTimeout(config.Saga.StepTimeout),
		saga.WithCompensationTimeout(config.Saga.CompensationTimeout),
	}
	if config.Saga.EscalateOnCompensationFailure {
		opts = append(opts, saga.WithEscalationPolicy(saga.EscalateOnCompensationFailure))
	}
	deps.Orchestrator = saga.NewOrchestrator(opts...)

	// Initialize use cases
	deps.CreateContract = application.NewCreateContract(
		deps.ContractRepository,
		deps.CapacityRepository,
		deps.EventPublisher,
		deps.EventStore,
		deps.Orchestrator,
	).WithSettleTimeout(config.Saga.StepTimeout)
	deps.SignContract = application.NewSignContract(deps.ContractRepository, deps.EventPublisher, deps.EventStore)
	deps.GetContract = application.NewGetContract(deps.ContractRepository)
	deps.ListContracts = application.NewListContracts(deps.ContractRepository)
	deps.GetContractHistory = application.NewGetContractHistory(deps.ContractRepository, deps.EventStore)
	deps.AdjustSupplierCapacity = application.NewAdjustSupplierCapacity(deps.CapacityRepository)
	deps.GetSupplierCapacity = application.NewGetSupplierCapacity(deps.CapacityRepository)

	// Initialize handlers
	deps.ContractHandlers = handlers.NewContractHandlers(
		deps.CreateContract,
		deps.SignContract,
		deps.GetContract,
		deps.ListContracts,
		deps.GetContractHistory,
		deps.AdjustSupplierCapacity,
		deps.GetSupplierCapacity,
	)
	deps.ContractEventHandlers = handlers.NewContractEventHandlers(deps.CreateContract, deps.AdjustSupplierCapacity, logger)
	deps.EventRouter = events.NewRouter(logger)
	deps.ContractEventHandlers.Register(deps.EventRouter)

	return deps, nil
}

func openDatabase(ctx context.Context, cfg Database, postgresURL string) (*sqlx.DB, error) {
	switch cfg.Driver {
	case "postgres", "":
		db, err := sqlx.ConnectContext(ctx, "postgres", postgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return db, nil
	case "sqlite":
		db, err := sqlx.ConnectContext(ctx, "sqlite", cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		// SQLite allows a single writer
		db.SetMaxOpenConns(1)
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// buildMessaging wires SNS for outbound events and SQS for inbound
// commands. Either side is optional.
func (d *Dependencies) buildMessaging(ctx context.Context, config *Config) error {
	awsOpts := sharedinfra.AWSOptions{
		Region:      config.AWS.Region,
		EndpointSNS: config.AWS.EndpointSNS,
		EndpointSQS: config.AWS.EndpointSQS,
	}

	if config.AWS.SNSTopicArn == "" {
		d.EventPublisher = sharedinfra.NewLogEventPublisher(d.Logger)
	} else {
		client, err := sharedinfra.NewSNSClient(ctx, awsOpts)
		if err != nil {
			return fmt.Errorf("failed to create SNS publisher: %w", err)
		}
		d.EventPublisher = sharedinfra.NewSNSEventPublisher(client, config.AWS.SNSTopicArn, d.Logger)
	}

	if config.AWS.SQSQueueURL != "" {
		client, err := sharedinfra.NewSQSClient(ctx, awsOpts)
		if err != nil {
			return fmt.Errorf("failed to create SQS subscriber: %w", err)
		}
		d.EventSubscriber = sharedinfra.NewSQSEventSubscriber(client, config.AWS.SQSQueueURL, d.Logger,
			sharedinfra.WithReaders(config.Subscriber.Readers),
			sharedinfra.WithWorkers(config.Subscriber.Workers),
			sharedinfra.WithVisibilityTimeout(config.Subscriber.VisibilityTimeout),
		)
	}

	return nil
}

// Close closes all dependencies
func (d *Dependencies) Close() error {
	var errs []error

	if d.EventSubscriber != nil {
		if err := d.EventSubscriber.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close event subscriber: %w", err))
		}
	}

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}

	if d.TelemetryShutdown != nil {
		d.TelemetryShutdown()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing dependencies: %v", errs)
	}

	return nil
}
