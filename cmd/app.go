package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	rediscache "github.com/tinoosan/hostledger/internal/cache/redis"
	"github.com/tinoosan/hostledger/internal/config"
	"github.com/tinoosan/hostledger/internal/devseed"
	"github.com/tinoosan/hostledger/internal/fx"
	"github.com/tinoosan/hostledger/internal/httpapi"
	"github.com/tinoosan/hostledger/internal/publish"
	"github.com/tinoosan/hostledger/internal/service/account"
	"github.com/tinoosan/hostledger/internal/service/balance"
	"github.com/tinoosan/hostledger/internal/service/carryforward"
	"github.com/tinoosan/hostledger/internal/service/journal"
	"github.com/tinoosan/hostledger/internal/service/settlement"
	"github.com/tinoosan/hostledger/internal/storage/memory"
	pgstore "github.com/tinoosan/hostledger/internal/storage/postgres"
)

// backend is satisfied by both the Postgres and the in-memory store.
type backend interface {
	account.Repo
	account.Writer
	journal.Repo
	journal.Writer
	balance.Repo
	settlement.Repo
	settlement.UnitOfWork
	carryforward.Store
	publish.OutboxStore
	Ready(ctx context.Context) error
}

// app holds the wired services for one process.
type app struct {
	cfg   *config.Config
	log   *slog.Logger
	store backend
	ready []httpapi.ReadyChecker

	accounts   account.Service
	journal    journal.Service
	balances   *balance.Engine
	engine     *carryforward.Engine
	runner     *carryforward.Runner
	verifier   *carryforward.Verifier
	aggregator *settlement.Aggregator
	tracker    *settlement.Tracker

	// writer overrides the Kafka writer, for tests.
	writer  publish.MessageWriter
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// wire builds the store, the optional Redis cache and every service.
// Postgres is used when DATABASE_URL is set, otherwise an in-memory store.
func wire(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		a.store = pg
		log.Info("storage backend: postgres")
	} else {
		a.store = memory.New()
		log.Info("storage backend: memory")
	}
	a.ready = append(a.ready, a.store)

	var cache balance.Cache
	if cfg.Redis.Addr != "" {
		rc, err := rediscache.New(ctx, rediscache.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = rc.Close() })
		a.ready = append(a.ready, rc)
		cache = rc
		log.Info("balance cache: redis", "addr", cfg.Redis.Addr)
	}

	conc, attempts := cfg.Batch.Concurrency, cfg.Batch.MaxAttempts
	a.accounts = account.New(a.store, a.store)
	a.balances = balance.NewEngine(a.store, cache, cfg.DefaultCurrency, log)
	a.journal = journal.New(a.store, a.store, fx.New(log), a.balances, log)
	a.engine = carryforward.NewEngine(a.store, a.balances, log)
	a.runner = carryforward.NewRunner(a.engine, a.accounts, conc, attempts, log)
	a.verifier = carryforward.NewVerifier(a.store, a.accounts, conc, log)
	a.aggregator = settlement.NewAggregator(a.store, a.store, conc, attempts, log)
	a.tracker = settlement.NewTracker(a.store, a.store, log)

	if cfg.DevSeed {
		year := cfg.DevSeedYear
		if year == 0 {
			year = time.Now().UTC().Year() - 1
		}
		fix, err := devseed.Seed(ctx, a.accounts, a.journal, year, log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("dev seed: %w", err)
		}
		log.Info("DEV seed",
			"platform_id", fix.Platform.ID,
			"host_id", fix.Host.ID,
			"collective_id", fix.Collective.ID,
			"year", year,
		)
	}
	return a, nil
}

// messageWriter returns the invoice topic writer and a close func.
func (a *app) messageWriter() (publish.MessageWriter, func() error, error) {
	if a.writer != nil {
		return a.writer, func() error { return nil }, nil
	}
	if len(a.cfg.Kafka.Brokers) == 0 {
		return nil, nil, errors.New("KAFKA_BROKERS is required to relay invoices")
	}
	w := publish.NewKafkaWriter(a.cfg.Kafka.Brokers, a.cfg.Kafka.InvoiceTopic)
	return w, w.Close, nil
}

// hostFilter resolves -host, given as id or slug, to a host id.
func (a *app) hostFilter(ctx context.Context, ref string) (*uuid.UUID, error) {
	if ref == "" {
		return nil, nil
	}
	h, err := a.accounts.Resolve(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("resolve host %q: %w", ref, err)
	}
	return &h.ID, nil
}
