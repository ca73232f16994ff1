package domain

// Lock names are scoped per resource so unrelated resources never contend.

func AuctionLockName(auctionID string) string {
	return "auction:" + auctionID
}

func WalletLockName(ownerID string) string {
	return "wallet:" + ownerID
}

// SubmissionLockName guards one bidder's in-flight submission on one auction.
func SubmissionLockName(auctionID, bidderID string) string {
	return "submission:" + auctionID + ":" + bidderID
}

func SettlementLockName(bidID string) string {
	return "settlement:" + bidID
}

func PaymentLockName(idempotencyKey string) string {
	return "payment:" + idempotencyKey
}

// OutboxRelayLockName serialises delivery to one sink across instances.
func OutboxRelayLockName(sink string) string {
	return "outbox:relay:" + sink
}

const NotificationDispatchLockName = "notifications:dispatch"
