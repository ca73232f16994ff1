package services

import (
	"context"
	"time"

	"auction-marketplace/internal/domain"
	"auction-marketplace/pkg/logger"
	"auction-marketplace/pkg/utils"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
)

var errLeaseHeld = errors.New("lease held by another caller")

const releaseTimeout = 5 * time.Second

// LockCoordinator implements domain.Locker on top of any LeaseStore.
// Acquisition is polled with exponential backoff bounded by the wait budget.
type LockCoordinator struct {
	store         domain.LeaseStore
	retryInterval time.Duration
	log           logger.Logger
}

func NewLockCoordinator(store domain.LeaseStore, retryInterval time.Duration, log logger.Logger) *LockCoordinator {
	if retryInterval <= 0 {
		retryInterval = 25 * time.Millisecond
	}
	return &LockCoordinator{
		store:         store,
		retryInterval: retryInterval,
		log:           log,
	}
}

func (c *LockCoordinator) WithLock(ctx context.Context, name string, waitTimeout, leaseTimeout time.Duration,
	body func(ctx context.Context) error) error {
	token := utils.NewToken()

	if err := c.acquire(ctx, name, token, waitTimeout, leaseTimeout); err != nil {
		return err
	}
	defer c.release(name, token)

	bodyCtx, cancel := context.WithTimeout(ctx, leaseTimeout)
	defer cancel()

	err := body(bodyCtx)
	if err == nil && errors.Is(bodyCtx.Err(), context.DeadlineExceeded) {
		c.log.Warn("Lease expired before body returned", "lock", name, "lease_timeout", leaseTimeout)
	}
	return err
}

func (c *LockCoordinator) acquire(ctx context.Context, name, token string, waitTimeout, leaseTimeout time.Duration) error {
	attempt := func() error {
		ok, err := c.store.TryAcquire(ctx, name, token, leaseTimeout)
		if err != nil {
			return backoff.Permanent(domain.Persistence(err, "acquire lease "+name))
		}
		if !ok {
			return errLeaseHeld
		}
		return nil
	}

	var err error
	if waitTimeout <= 0 {
		err = attempt()
	} else {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = c.retryInterval
		b.MaxInterval = 8 * c.retryInterval
		b.MaxElapsedTime = waitTimeout
		err = backoff.Retry(attempt, backoff.WithContext(b, ctx))
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, errLeaseHeld):
		c.log.Debug("Lock wait exhausted", "lock", name, "wait_timeout", waitTimeout)
		return errors.Wrapf(domain.ErrLockUnavailable, "lock %s", name)
	case errors.Is(err, domain.ErrPersistence):
		return err
	default:
		// context cancelled while waiting
		return errors.WithSecondaryError(errors.Wrapf(domain.ErrLockUnavailable, "lock %s", name), err)
	}
}

func (c *LockCoordinator) release(name, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	if err := c.store.Release(ctx, name, token); err != nil {
		c.log.Error("Failed to release lock", "lock", name, "error", err)
	}
}
