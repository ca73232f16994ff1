package domain

import (
	"github.com/cockroachdb/errors"
)

var (
	ErrInvalidPrice           = errors.New("bid price must be positive")
	ErrInvalidAmount          = errors.New("amount must be a positive integer")
	ErrSelfBidForbidden       = errors.New("seller cannot bid on own auction")
	ErrIdempotencyKeyRequired = errors.New("idempotency key required")
	ErrInvalidAuction         = errors.New("invalid auction")

	ErrAuctionNotOpen      = errors.New("auction is not open")
	ErrBidTooLow           = errors.New("bid too low")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrDuplicateSubmission = errors.New("bid submission already in flight")
	ErrBidNotPayable       = errors.New("bid is not payable")

	ErrLockUnavailable = errors.New("lock unavailable")
	ErrContended       = errors.New("resource contended, retry later")

	ErrAuctionNotFound = errors.New("auction not found")
	ErrBidNotFound     = errors.New("bid not found")
	ErrWalletNotFound  = errors.New("wallet not found")
	ErrEntryNotFound   = errors.New("ledger entry not found")

	ErrLedgerMismatch = errors.New("wallet balance does not match ledger")
)

// ErrPersistence is attached with errors.Mark by storage adapters.
var ErrPersistence = errors.New("persistence failure")

// Contended marks a lock acquisition failure on a business resource.
func Contended(err error, resource string) error {
	return errors.Mark(errors.Wrapf(err, "%s", resource), ErrContended)
}

var (
	validationErrors = []error{
		ErrInvalidPrice, ErrInvalidAmount, ErrSelfBidForbidden,
		ErrIdempotencyKeyRequired, ErrInvalidAuction,
	}
	conflictErrors = []error{
		ErrAuctionNotOpen, ErrBidTooLow, ErrInsufficientFunds,
		ErrDuplicateSubmission, ErrBidNotPayable,
	}
	notFoundErrors = []error{
		ErrAuctionNotFound, ErrBidNotFound, ErrWalletNotFound, ErrEntryNotFound,
	}
)

type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindStateConflict
	KindContention
	KindNotFound
	KindPersistence
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindStateConflict:
		return "state_conflict"
	case KindContention:
		return "contention"
	case KindNotFound:
		return "not_found"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Classify maps an error onto the taxonomy. Anything unrecognised is treated
// as a persistence failure.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.IsAny(err, validationErrors...):
		return KindValidation
	case errors.IsAny(err, conflictErrors...):
		return KindStateConflict
	case errors.IsAny(err, ErrLockUnavailable, ErrContended):
		return KindContention
	case errors.IsAny(err, notFoundErrors...):
		return KindNotFound
	default:
		return KindPersistence
	}
}

// IsRetryable is true only for contention: nothing was written.
func IsRetryable(err error) bool {
	return Classify(err) == KindContention
}

// Persistence wraps err with msg and marks it as an infrastructure failure
// unless it is already one of the domain errors.
func Persistence(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := errors.Wrap(err, msg)
	if Classify(err) != KindPersistence {
		return wrapped
	}
	return errors.Mark(wrapped, ErrPersistence)
}
