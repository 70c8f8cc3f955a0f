package main

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/quintans/faults"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/bankops/internal/api"
	"github.com/punchamoorthee/bankops/internal/clients"
	"github.com/punchamoorthee/bankops/internal/config"
	"github.com/punchamoorthee/bankops/internal/inmem"
	"github.com/punchamoorthee/bankops/internal/lock"
	"github.com/punchamoorthee/bankops/internal/service"
	"github.com/punchamoorthee/bankops/internal/store"
)

type dependencies struct {
	provisioner *service.Provisioner
	transfers   *service.TransferService
	history     service.LedgerHistory
	keys        api.IdempotencyStore

	closers []func()
}

func (d *dependencies) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func wire(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (_ *dependencies, err error) {
	deps := &dependencies{}
	defer func() {
		if err != nil {
			deps.close()
		}
	}()

	var (
		identities service.IdentityDirectory
		customers  service.CustomerDirectory
		accounts   service.AccountDirectory
		ledger     service.LedgerStore
		notifier   service.Notifier
	)

	if cfg.InMemory {
		journal := inmem.NewJournal()
		identities = inmem.NewIdentityDirectory(journal)
		customers = inmem.NewCustomerDirectory(journal)
		accounts = inmem.NewAccountDirectory(journal)
		memLedger := inmem.NewLedger(journal)
		ledger, deps.history = memLedger, memLedger
		deps.keys = inmem.NewIdempotencyStore(cfg.IdempotencyKeyTTL)
		if cfg.NotificationTransport != config.TransportNone {
			notifier = inmem.NewNotifier(journal)
		}
	} else {
		db, err := store.NewStore(ctx, cfg.DBSource)
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, db.Close)
		db.KeyTTL = cfg.IdempotencyKeyTTL
		ledger, deps.history, deps.keys = db, db, db

		identities = clients.NewIdentityClient(clientConfig(cfg, cfg.IdentityURL), logger)
		customers = clients.NewCustomerClient(clientConfig(cfg, cfg.CustomerURL), logger)
		accounts = clients.NewAccountClient(clientConfig(cfg, cfg.AccountURL), logger)

		switch cfg.NotificationTransport {
		case config.TransportHTTP:
			notifier = clients.NewHTTPNotifier(clientConfig(cfg, cfg.NotificationURL), logger)
		case config.TransportNATS:
			nc, err := nats.Connect(cfg.NatsURL, nats.Name("bankops"))
			if err != nil {
				return nil, faults.Errorf("connecting to NATS at %s: %w", cfg.NatsURL, err)
			}
			deps.closers = append(deps.closers, nc.Close)
			notifier = clients.NewNATSNotifier(nc, cfg.NatsSubject)
		}
	}

	var locker service.Locker = lock.NewLocal()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, faults.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
		}
		deps.closers = append(deps.closers, func() { rdb.Close() })
		locker = lock.NewRedis(rdb, lock.RedisOptions{Expiry: cfg.LockExpiry})
		logger.WithField("redis", cfg.RedisAddr).Info("using distributed account locks")
	}

	deps.provisioner = service.NewProvisioner(logger, identities, customers, accounts, notifier, service.ProvisionerConfig{
		StepTimeout:         cfg.ClientTimeout,
		CompensationTimeout: cfg.CompensationTimeout,
		NotificationTimeout: cfg.NotificationTimeout,
	})
	deps.transfers = service.NewTransferService(logger, accounts, ledger, locker, service.TransferConfig{
		CallTimeout: cfg.ClientTimeout,
	})
	return deps, nil
}

func clientConfig(cfg *config.Config, baseURL string) clients.Config {
	return clients.Config{
		BaseURL:         baseURL,
		Timeout:         cfg.ClientTimeout,
		ReadRetries:     cfg.ClientReadRetries,
		BreakerFailures: cfg.BreakerFailures,
		BreakerCooldown: cfg.BreakerCooldown,
	}
}
