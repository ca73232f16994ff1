package services

import (
	"context"
	"sync"
	"time"

	"auction-marketplace/internal/domain"
	"auction-marketplace/pkg/clock"
	"auction-marketplace/pkg/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
)

type NotifierConfig struct {
	BatchSize      int
	PollInterval   time.Duration
	SinkMaxElapsed time.Duration
	LeaseTimeout   time.Duration
}

func (c NotifierConfig) withDefaults() NotifierConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.SinkMaxElapsed <= 0 {
		c.SinkMaxElapsed = 30 * time.Second
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = 10 * time.Second
	}
	return c
}

// ChangeNotifier relays committed outbox rows to the registered sinks.
// Writers append events inside their transaction and call Publish after
// commit, which only wakes the relay.
//
// Every sink has its own worker and its own delivery record in the outbox:
// an event stays pending for a sink until that sink's Consume succeeds.
// A crash or Stop at any point leaves undelivered events in place for the
// next poll, on this instance or another. A sink that keeps failing holds
// back its later events so it always sees them in commit order.
type ChangeNotifier struct {
	uow    domain.UnitOfWork
	locker domain.Locker
	cfg    NotifierConfig
	clock  clock.Clock
	log    logger.Logger

	workers   []*sinkWorker
	sinkNames []string

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func NewChangeNotifier(uow domain.UnitOfWork, locker domain.Locker, cfg NotifierConfig, clk clock.Clock,
	log logger.Logger, sinks ...domain.ChangeSink) *ChangeNotifier {
	cfg = cfg.withDefaults()
	n := &ChangeNotifier{
		uow:    uow,
		locker: locker,
		cfg:    cfg,
		clock:  clk,
		log:    log,
	}
	for _, sink := range sinks {
		n.sinkNames = append(n.sinkNames, sink.Name())
		n.workers = append(n.workers, &sinkWorker{
			sink:       sink,
			kick:       make(chan struct{}, 1),
			maxElapsed: cfg.SinkMaxElapsed,
			log:        log.With("sink", sink.Name()),
		})
	}
	return n
}

// Publish never blocks the caller; the events are already durable.
func (n *ChangeNotifier) Publish(events []*domain.ChangeEvent) {
	if len(events) == 0 {
		return
	}
	for _, w := range n.workers {
		select {
		case w.kick <- struct{}{}:
		default:
		}
	}
}

func (n *ChangeNotifier) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return errors.New("change notifier already started")
	}
	ctx, n.cancel = context.WithCancel(ctx)
	n.started = true

	for _, w := range n.workers {
		n.wg.Add(1)
		go func(w *sinkWorker) {
			defer n.wg.Done()
			n.loop(ctx, w)
		}(w)
	}

	n.log.Info("Change notifier started", "sinks", len(n.workers), "poll_interval", n.cfg.PollInterval)
	return nil
}

func (n *ChangeNotifier) Stop() error {
	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return nil
	}
	n.cancel()
	n.started = false
	n.mu.Unlock()

	n.wg.Wait()
	n.log.Info("Change notifier stopped")
	return nil
}

func (n *ChangeNotifier) loop(ctx context.Context, w *sinkWorker) {
	ticker := time.NewTicker(n.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.kick:
		}
		n.drain(ctx, w)
	}
}

// drain relays full batches to one sink until nothing is pending for it.
func (n *ChangeNotifier) drain(ctx context.Context, w *sinkWorker) {
	for ctx.Err() == nil {
		count, err := n.relay(ctx, w)
		if err != nil {
			if ctx.Err() == nil {
				w.log.Error("Outbox relay failed", "error", err)
			}
			return
		}
		if count < n.cfg.BatchSize {
			return
		}
	}
}

// RelayOnce delivers one batch of pending events to every sink and returns
// the number of deliveries made. A sink whose relay lease is held elsewhere
// is skipped without error.
func (n *ChangeNotifier) RelayOnce(ctx context.Context) (int, error) {
	total := 0
	var result error
	for _, w := range n.workers {
		count, err := n.relay(ctx, w)
		total += count
		if err != nil {
			result = errors.CombineErrors(result, errors.Wrapf(err, "relay to %s", w.sink.Name()))
		}
	}
	return total, result
}

func (n *ChangeNotifier) relay(ctx context.Context, w *sinkWorker) (int, error) {
	name := w.sink.Name()
	delivered := 0
	err := n.locker.WithLock(ctx, domain.OutboxRelayLockName(name), 0, n.cfg.LeaseTimeout, func(ctx context.Context) error {
		events, err := n.uow.Reader().Outbox().FetchPending(ctx, name, n.cfg.BatchSize)
		if err != nil {
			return err
		}

		ids := make([]string, 0, len(events))
		var deliverErr error
		for _, event := range events {
			if deliverErr = w.deliver(ctx, event); deliverErr != nil {
				break
			}
			ids = append(ids, event.ID)
		}
		delivered = len(ids)
		if len(ids) == 0 {
			return deliverErr
		}

		// consumed events are recorded even if ctx is done
		markCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		outbox := n.uow.Reader().Outbox()
		now := n.clock.Now()
		if err := outbox.MarkDelivered(markCtx, name, ids, now); err != nil {
			return errors.CombineErrors(err, deliverErr)
		}
		if err := outbox.MarkDispatched(markCtx, ids, n.sinkNames, now); err != nil {
			w.log.Warn("Failed to retire delivered events", "count", len(ids), "error", err)
		}
		return deliverErr
	})
	if errors.Is(err, domain.ErrLockUnavailable) {
		return 0, nil
	}
	return delivered, err
}

type sinkWorker struct {
	sink       domain.ChangeSink
	kick       chan struct{}
	maxElapsed time.Duration
	log        logger.Logger
}

// deliver retries Consume with backoff. On failure the event stays pending
// for this sink and is retried on the next relay.
func (w *sinkWorker) deliver(ctx context.Context, event *domain.ChangeEvent) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = w.maxElapsed

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		return w.sink.Consume(ctx, event)
	}, backoff.WithContext(b, ctx))
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error("Change event not delivered, will retry", "event_id", event.ID,
				"auction_id", event.AuctionID, "field", string(event.Field), "attempts", attempts, "error", err)
		}
		return errors.Wrapf(err, "deliver event %s", event.ID)
	}
	if attempts > 1 {
		w.log.Warn("Change event delivered after retry", "event_id", event.ID, "attempts", attempts)
	}
	return nil
}
