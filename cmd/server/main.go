package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/public-sector-payments/internal/api"
	"github.com/sheikh-saqib/public-sector-payments/internal/audit"
	"github.com/sheikh-saqib/public-sector-payments/internal/bulk"
	"github.com/sheikh-saqib/public-sector-payments/internal/config"
	"github.com/sheikh-saqib/public-sector-payments/internal/events/kafka"
	"github.com/sheikh-saqib/public-sector-payments/internal/executor"
	interfaces "github.com/sheikh-saqib/public-sector-payments/internal/interfaces"
	"github.com/sheikh-saqib/public-sector-payments/internal/ledger"
	"github.com/sheikh-saqib/public-sector-payments/internal/lock"
	"github.com/sheikh-saqib/public-sector-payments/internal/logging"
	"github.com/sheikh-saqib/public-sector-payments/internal/payment"
	"github.com/sheikh-saqib/public-sector-payments/internal/retry"
	"github.com/sheikh-saqib/public-sector-payments/internal/seed"
	"github.com/sheikh-saqib/public-sector-payments/internal/storage/memory"
	"github.com/sheikh-saqib/public-sector-payments/internal/storage/postgres"
)

const shutdownTimeout = 15 * time.Second

type stores struct {
	budgets  interfaces.BudgetStore
	payments interfaces.PaymentStore
	batches  interfaces.BatchStore
	oracle   interfaces.AccountBalanceOracle
	audit    interfaces.AuditSink
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	sinks := audit.MultiSink{audit.NewLogSink(logger)}
	if st.audit != nil {
		sinks = append(sinks, st.audit)
	}
	if len(cfg.KafkaBrokers) > 0 {
		publisher := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaAuditTopic)
		defer publisher.Close()
		sinks = append(sinks, audit.NewRetryingSink(audit.NewPublisherSink(publisher), retry.Policy{
			Attempts:  cfg.CommitMaxRetries,
			BaseDelay: 100 * time.Millisecond,
		}))
		logger.Info("kafka audit publishing enabled",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaAuditTopic))
	}

	var locker interfaces.Locker = lock.NewKeyedMutex()
	if cfg.RedisAddr != "" {
		client := goredislib.NewClient(&goredislib.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		locker = lock.NewRedisLocker(client, lock.DefaultRedisOptions(), logger)
		logger.Info("distributed locking enabled", zap.String("redis", cfg.RedisAddr))
	}

	tiers, err := payment.NewTierPolicy(cfg.ApprovalTier1Max, cfg.ApprovalTier2Max)
	if err != nil {
		return err
	}

	breakerCfg := executor.DefaultBreakerConfig()
	breakerCfg.ConsecutiveFailures = cfg.ExecutorBreakerFailures
	breakerCfg.Timeout = cfg.ExecutorBreakerTimeout
	exec := executor.NewBreaker(executor.NewSimulated(), breakerCfg, logger)

	ledgerService := ledger.NewLedger(st.budgets,
		ledger.WithLocker(locker),
		ledger.WithAuditSink(sinks),
		ledger.WithLogger(logger),
		ledger.WithRetryPolicy(retry.Policy{Attempts: cfg.CommitMaxRetries, BaseDelay: 5 * time.Millisecond}),
	)
	workflow := payment.NewWorkflow(st.payments, ledgerService, st.oracle,
		payment.WithLocker(locker),
		payment.WithAuditSink(sinks),
		payment.WithLogger(logger),
		payment.WithTierPolicy(tiers),
		payment.WithDistinctApprovers(cfg.RequireDistinctApprovers),
		payment.WithDefaultCurrency(cfg.DefaultCurrency),
	)
	processor := bulk.NewProcessor(st.batches, st.oracle, exec,
		bulk.WithBudget(ledgerService),
		bulk.WithLocker(locker),
		bulk.WithAuditSink(sinks),
		bulk.WithLogger(logger),
		bulk.WithConcurrency(cfg.BulkConcurrency),
		bulk.WithClaimTimeout(cfg.BulkClaimTimeout),
		bulk.WithDefaultCurrency(cfg.DefaultCurrency),
	)

	app := api.NewServer(ledgerService, workflow, processor, logger).App()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", cfg.HTTPAddr))
		errCh <- app.Listen(cfg.HTTPAddr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// openStores returns PostgreSQL-backed stores when DATABASE_URL is set and
// in-memory ones otherwise.
func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (stores, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
		budgets := memory.NewMemoryBudgetStore()
		oracle := memory.NewBalanceOracle()
		if cfg.SeedFile != "" {
			file, err := seed.Load(cfg.SeedFile)
			if err != nil {
				return stores{}, nil, err
			}
			if err := file.Apply(ctx, budgets, oracle, cfg.DefaultCurrency, time.Now().UTC()); err != nil {
				return stores{}, nil, err
			}
			logger.Info("in-memory stores seeded",
				zap.String("file", cfg.SeedFile),
				zap.Int("allocations", len(file.Allocations)),
				zap.Int("accounts", len(file.Accounts)))
		}
		return stores{
			budgets:  budgets,
			payments: memory.NewMemoryPaymentStore(),
			batches:  memory.NewMemoryBatchStore(),
			oracle:   oracle,
		}, func() {}, nil
	}
	if cfg.SeedFile != "" {
		logger.Warn("SEED_FILE ignored with DATABASE_URL set", zap.String("file", cfg.SeedFile))
	}

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return stores{}, nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		return stores{}, nil, errors.Join(err, db.Close())
	}
	return postgresStores(db), func() { db.Close() }, nil
}

func postgresStores(db *sql.DB) stores {
	return stores{
		budgets:  postgres.NewPostgresBudgetStore(db),
		payments: postgres.NewPostgresPaymentStore(db),
		batches:  postgres.NewPostgresBatchStore(db),
		oracle:   postgres.NewPostgresAccounts(db),
		audit:    postgres.NewPostgresAuditSink(db),
	}
}
