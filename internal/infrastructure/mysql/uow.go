package mysql

import (
	"context"
	"database/sql"
	"time"

	"auction-marketplace/internal/domain"
	"auction-marketplace/pkg/logger"

	"github.com/cockroachdb/errors"
	driver "github.com/go-sql-driver/mysql"
)

const (
	errDeadlock        = 1213
	errLockWaitTimeout = 1205
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// stores binds every repository to one queryer.
type stores struct {
	q queryer
}

func (s stores) Auctions() domain.AuctionStore { return &AuctionRepository{q: s.q} }
func (s stores) Bids() domain.BidStore         { return &BidRepository{q: s.q} }
func (s stores) Wallets() domain.WalletStore   { return &WalletRepository{q: s.q} }
func (s stores) Ledger() domain.LedgerStore    { return &LedgerRepository{q: s.q} }
func (s stores) Outbox() domain.OutboxStore    { return &OutboxRepository{q: s.q} }

// UnitOfWork runs domain transactions on MySQL, retrying the whole closure
// on deadlock or lock wait timeout.
type UnitOfWork struct {
	db         *sql.DB
	maxRetries int
	log        logger.Logger
}

func NewUnitOfWork(db *sql.DB, maxRetries int, log logger.Logger) *UnitOfWork {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &UnitOfWork{db: db, maxRetries: maxRetries, log: log}
}

func (u *UnitOfWork) Reader() domain.Tx {
	return stores{q: u.db}
}

func (u *UnitOfWork) Within(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	for attempt := 0; ; attempt++ {
		err := u.runOnce(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
		if attempt == u.maxRetries {
			u.log.Error("Transaction failed after max retries", "attempts", attempt+1, "error", err)
			return err
		}

		wait := time.Duration(attempt+1) * 50 * time.Millisecond
		u.log.Warn("Retrying transaction", "attempt", attempt+1, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return domain.Persistence(ctx.Err(), "transaction retry")
		case <-time.After(wait):
		}
	}
}

func (u *UnitOfWork) runOnce(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) (err error) {
	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Persistence(err, "begin transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				u.log.Warn("Failed to rollback transaction", "error", rbErr)
			}
		}
	}()

	if err = fn(ctx, stores{q: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return domain.Persistence(err, "commit transaction")
	}
	return nil
}

func mysqlCode(err error) uint16 {
	var myErr *driver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number
	}
	return 0
}

func isRetryable(err error) bool {
	switch mysqlCode(err) {
	case errDeadlock, errLockWaitTimeout:
		return true
	default:
		return false
	}
}
