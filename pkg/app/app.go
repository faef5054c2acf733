// Package app wires the wallet services from a Config. The HTTP server and every
// lambda build on it so they agree on backends and policy.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/chris/classifieds-wallet/pkg/advisory"
	"github.com/chris/classifieds-wallet/pkg/blobstore"
	"github.com/chris/classifieds-wallet/pkg/config"
	"github.com/chris/classifieds-wallet/pkg/gateway"
	"github.com/chris/classifieds-wallet/pkg/history"
	"github.com/chris/classifieds-wallet/pkg/ledger"
	"github.com/chris/classifieds-wallet/pkg/lock"
	"github.com/chris/classifieds-wallet/pkg/metrics"
	"github.com/chris/classifieds-wallet/pkg/middleware"
	"github.com/chris/classifieds-wallet/pkg/models"
	"github.com/chris/classifieds-wallet/pkg/reconcile"
	"github.com/chris/classifieds-wallet/pkg/scheduler"
	"github.com/chris/classifieds-wallet/pkg/storage"
	dydbstore "github.com/chris/classifieds-wallet/pkg/storage/dynamodb"
	"github.com/chris/classifieds-wallet/pkg/storage/memory"
	"github.com/chris/classifieds-wallet/pkg/storage/postgres"
	"github.com/chris/classifieds-wallet/pkg/topup"
	"github.com/chris/classifieds-wallet/pkg/websockets"
	"github.com/redis/go-redis/v9"
)

// Store is what every backend provides.
type Store interface {
	storage.Storage
	storage.WebSocketManager
}

// App holds the services of one process.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    Store
	Ledger   *ledger.Engine
	TopUps   *topup.Workflow
	History  *history.Service
	Advisory *advisory.Service
	Metrics  *metrics.Prometheus
	Auth     *middleware.Authenticator

	aws     *aws.Config
	closers []func()
}

// New opens the configured backends and builds the services. Notifications are not
// wired; callers pick a publisher with UsePublisher.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger, Metrics: metrics.NewPrometheus()}

	store, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store

	locker, err := a.openLocker(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Ledger = ledger.New(store, locker, ledger.Config{
		Policy:                   ledger.Policy{AllowOverdraft: cfg.AllowOverdraft, OverdraftLimit: cfg.OverdraftLimit},
		DefaultCurrency:          cfg.DefaultCurrency,
		ConsistencyCheckInterval: cfg.ConsistencyCheckInterval,
		LockTimeout:              cfg.LockTimeout,
	})
	a.Ledger.Metrics = a.Metrics
	a.Ledger.Logger = logger

	receipts, err := a.openReceipts(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.TopUps = topup.New(store, a.Ledger, receipts)
	a.TopUps.Metrics = a.Metrics
	a.TopUps.Logger = logger
	a.TopUps.UpstreamTimeout = cfg.UpstreamTimeout
	a.TopUps.MaxReceiptBytes = cfg.MaxReceiptBytes
	if cfg.StripeWebhookSecret != "" {
		a.TopUps.Verifiers[models.CARD_GATEWAY] = gateway.NewStripeVerifier(cfg.StripeWebhookSecret)
	}
	if cfg.CashNetworkSecret != "" {
		a.TopUps.Verifiers[models.CASH_NETWORK] = gateway.NewCashNetworkVerifier(cfg.CashNetworkSecret)
	}

	a.History = history.New(store)
	a.Advisory = advisory.New(a.Ledger, store, advisory.Config{
		WindowDays:   cfg.AdvisoryWindowDays,
		LowDays:      cfg.AdvisoryLowDays,
		CriticalDays: cfg.AdvisoryCriticalDays,
	})
	a.Auth = middleware.NewAuthenticator(cfg.JWTSecret)
	return a, nil
}

// UsePublisher routes wallet notifications through p.
func (a *App) UsePublisher(p websockets.Publisher) {
	a.Ledger.Publisher = p
}

// APIGatewayPublisher builds a publisher for the configured websocket API. Without
// an endpoint, notifications are dropped.
func (a *App) APIGatewayPublisher(ctx context.Context) (websockets.Publisher, error) {
	if a.Config.WebSocketAPIEndpoint == "" {
		return &websockets.NoOpPublisher{}, nil
	}
	return websockets.NewPublisher(ctx, a.Store, a.Store, a.Config.WebSocketAPIEndpoint)
}

// Worker returns the reconciliation job worker.
func (a *App) Worker() *reconcile.Worker {
	w := reconcile.NewWorker(a.TopUps, a.Ledger)
	w.Logger = a.Logger
	return w
}

// Scheduler returns the SQS scheduler when a queue is configured, and otherwise one
// that runs jobs in process.
func (a *App) Scheduler(ctx context.Context) (scheduler.Scheduler, error) {
	if a.Config.SQSQueueURL == "" {
		return &scheduler.Inline{Handle: a.Worker().Handle}, nil
	}
	awsCfg, err := a.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	return scheduler.NewSQSScheduler(sqs.NewFromConfig(awsCfg), a.Config.SQSQueueURL), nil
}

// Sweeper returns a reconciliation sweeper queueing onto s.
func (a *App) Sweeper(s scheduler.Scheduler) *reconcile.Sweeper {
	sw := reconcile.NewSweeper(a.Store, a.Store, s)
	sw.Logger = a.Logger
	sw.StuckAfter = a.Config.SweepStuckAfter
	return sw
}

// Close releases pooled connections.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) awsConfig(ctx context.Context) (aws.Config, error) {
	if a.aws != nil {
		return *a.aws, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load SDK config: %w", err)
	}
	a.aws = &cfg
	return cfg, nil
}

func (a *App) openStore(ctx context.Context) (Store, error) {
	switch a.Config.StorageBackend {
	case config.BackendDynamoDB:
		awsCfg, err := a.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		t := a.Config.Tables
		return dydbstore.New(dynamodb.NewFromConfig(awsCfg), dydbstore.Tables{
			Accounts:     t.Accounts,
			Transactions: t.Transactions,
			References:   t.References,
			TopUps:       t.TopUps,
			Audit:        t.Audit,
			Connections:  t.Connections,
		}), nil

	case config.BackendPostgres:
		pool, err := postgres.Connect(ctx, a.Config.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		store := postgres.New(pool)
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		return store, nil

	default:
		a.Logger.Warn("using in-memory storage; data is lost on restart")
		return memory.New(), nil
	}
}

func (a *App) openLocker(ctx context.Context) (lock.Locker, error) {
	if a.Config.LockBackend != config.LockRedis {
		return lock.NewKeyedMutex(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: a.Config.RedisAddr, Password: a.Config.RedisPassword})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", a.Config.RedisAddr, err)
	}
	a.closers = append(a.closers, func() { client.Close() })

	locker := lock.NewRedisLocker(client, "wallet:", a.Config.LockTTL)
	locker.Logger = a.Logger
	return locker, nil
}

func (a *App) openReceipts(ctx context.Context) (blobstore.Store, error) {
	if a.Config.ReceiptsBucket == "" {
		return blobstore.NewMemory(), nil
	}
	awsCfg, err := a.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	return blobstore.NewS3Store(s3.NewFromConfig(awsCfg), a.Config.ReceiptsBucket, a.Config.ReceiptsBaseURL), nil
}
