// Package app wires the storage, locking and service layers shared by the
// auction and bidding services.
package app

import (
	"context"
	"database/sql"

	"auction-marketplace/internal/config"
	"auction-marketplace/internal/domain"
	"auction-marketplace/internal/infrastructure/memory"
	"auction-marketplace/internal/infrastructure/mysql"
	"auction-marketplace/internal/infrastructure/redis"
	"auction-marketplace/internal/services"
	"auction-marketplace/pkg/clock"
	"auction-marketplace/pkg/logger"

	"github.com/cockroachdb/errors"
	redisClient "github.com/go-redis/redis/v8"
)

type Core struct {
	UnitOfWork domain.UnitOfWork
	Queue      domain.NotificationQueue
	Locker     *services.LockCoordinator
	Publisher  *redis.ChangePublisher
	Projection *redis.ProjectionCache
	Notifier   *services.ChangeNotifier

	Auctions  *services.AuctionManager
	Bids      *services.BidService
	Ledger    *services.LedgerService
	Payments  *services.PaymentService
	Lifecycle *services.LifecycleService

	Timeouts services.LockTimeouts
	Clock    clock.Clock

	db *sql.DB
}

// NewCore opens storage according to cfg.Storage.Driver and builds every
// service. The memory driver is for single-process development only.
func NewCore(ctx context.Context, cfg *config.Config, rdb *redisClient.Client, log logger.Logger) (*Core, error) {
	c := &Core{
		Clock:    clock.NewRealClock(),
		Timeouts: services.LockTimeouts{Wait: cfg.Lock.WaitTimeout, Lease: cfg.Lock.LeaseTimeout},
	}

	var leases domain.LeaseStore
	switch cfg.Storage.Driver {
	case "memory":
		store := memory.NewStore()
		c.UnitOfWork = store
		c.Queue = store.NotificationQueue()
		leases = memory.NewLeaseStore(c.Clock)
		log.Warn("Using in-memory storage; state is lost on restart")
	default:
		db, err := mysql.Open(ctx, cfg.MySQL)
		if err != nil {
			return nil, err
		}
		if cfg.Storage.Migrate {
			if err := mysql.RunMigrations(ctx, db, log); err != nil {
				_ = db.Close()
				return nil, errors.Wrap(err, "run migrations")
			}
		}
		c.db = db
		c.UnitOfWork = mysql.NewUnitOfWork(db, cfg.MySQL.TxMaxRetries, log)
		c.Queue = mysql.NewNotificationRepository(db)
		leases = redis.NewRedisLeaseStore(rdb, cfg.Lock.Prefix)
	}

	c.Locker = services.NewLockCoordinator(leases, cfg.Lock.RetryInterval, log)

	rules := redis.NewBiddingRules(rdb, cfg.Bid.RulesKey, cfg.Bid.MinIncrement)
	if err := rules.LoadRules(ctx); err != nil {
		c.Close()
		return nil, errors.Wrap(err, "load bid increment rules")
	}

	c.Publisher = redis.NewChangePublisher(rdb, cfg.Notifier.Channel, cfg.Notifier.NoticeChannel,
		cfg.Notifications.Channel)
	c.Projection = redis.NewProjectionCache(rdb)
	sink := services.NewNotificationSink(c.UnitOfWork, c.Queue, c.Clock, log)

	c.Notifier = services.NewChangeNotifier(c.UnitOfWork, c.Locker, services.NotifierConfig{
		BatchSize:      cfg.Notifier.BatchSize,
		PollInterval:   cfg.Notifier.PollInterval,
		SinkMaxElapsed: cfg.Notifier.SinkMaxElapsed,
		LeaseTimeout:   cfg.Lock.LeaseTimeout,
	}, c.Clock, log, c.Publisher, c.Projection, sink)

	c.Auctions = services.NewAuctionManager(c.UnitOfWork, c.Projection, c.Clock, log)
	c.Bids = services.NewBidService(c.UnitOfWork, c.Locker, rules, c.Notifier, c.Clock, c.Timeouts, log)
	c.Ledger = services.NewLedgerService(c.UnitOfWork, c.Locker, c.Clock, c.Timeouts, log)
	c.Payments = services.NewPaymentService(c.UnitOfWork, c.Locker, c.Ledger, c.Timeouts, log)
	c.Lifecycle = services.NewLifecycleService(c.UnitOfWork, c.Locker, c.Notifier, c.Publisher,
		c.Clock, c.Timeouts, cfg.Scheduler.SweepBatch, log)

	return c, nil
}

func (c *Core) Close() {
	if c.db != nil {
		_ = c.db.Close()
	}
}
