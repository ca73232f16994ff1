package services

import (
	"time"

	"auction-marketplace/pkg/utils"
)

// LockTimeouts are the wait and lease budgets passed to the Locker for
// business resources (auctions and wallets).
type LockTimeouts struct {
	Wait  time.Duration
	Lease time.Duration
}

// FixedIncrement requires each bid to beat the current price by at least Step.
type FixedIncrement struct {
	Step int64
}

func (f FixedIncrement) MinimumNext(current int64) int64 {
	if f.Step <= 0 {
		return current + 1
	}
	return current + f.Step
}

func newEventID() string {
	return utils.GenerateID("evt")
}
