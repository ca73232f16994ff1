package mysql

import (
	"context"
	"database/sql"

	"auction-marketplace/internal/domain"

	"github.com/cockroachdb/errors"
)

const entryColumns = `id, wallet_id, direction, amount, balance_after, cause_type, cause_id, created_at`

// LedgerRepository is append-only: there is no update or delete.
type LedgerRepository struct {
	q queryer
}

func scanEntry(row rowScanner) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var direction, causeType string
	err := row.Scan(&e.ID, &e.WalletID, &direction, &e.Amount, &e.BalanceAfter,
		&causeType, &e.Cause.ID, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Direction = domain.Direction(direction)
	e.Cause.Type = domain.CauseType(causeType)
	return &e, nil
}

func (r *LedgerRepository) Append(ctx context.Context, e *domain.LedgerEntry) error {
	_, err := r.q.ExecContext(ctx, `
        INSERT INTO ledger_entries (`+entryColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `, e.ID, e.WalletID, string(e.Direction), e.Amount, e.BalanceAfter,
		string(e.Cause.Type), e.Cause.ID, e.CreatedAt)
	return domain.Persistence(err, "insert ledger entry")
}

// FindByCause returns the earliest entry carrying cause. The ledger does not
// deduplicate, so callers needing exactly-once check here first.
func (r *LedgerRepository) FindByCause(ctx context.Context, cause domain.Cause) (*domain.LedgerEntry, error) {
	e, err := scanEntry(r.q.QueryRowContext(ctx, `
        SELECT `+entryColumns+` FROM ledger_entries
        WHERE cause_type = ? AND cause_id = ?
        ORDER BY seq ASC
        LIMIT 1
    `, string(cause.Type), cause.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrEntryNotFound, "cause %s", cause)
	}
	if err != nil {
		return nil, domain.Persistence(err, "select ledger entry")
	}
	return e, nil
}

func (r *LedgerRepository) ListByWallet(ctx context.Context, walletID string, offset, limit int) ([]*domain.LedgerEntry, error) {
	rows, err := r.q.QueryContext(ctx, `
        SELECT `+entryColumns+` FROM ledger_entries
        WHERE wallet_id = ?
        ORDER BY seq DESC
        LIMIT ? OFFSET ?
    `, walletID, limit, offset)
	if err != nil {
		return nil, domain.Persistence(err, "select ledger entries")
	}
	defer rows.Close()

	var entries []*domain.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, domain.Persistence(err, "scan ledger entry")
		}
		entries = append(entries, e)
	}
	return entries, domain.Persistence(rows.Err(), "iterate ledger entries")
}

func (r *LedgerRepository) SignedSum(ctx context.Context, walletID string) (int64, error) {
	var sum int64
	err := r.q.QueryRowContext(ctx, `
        SELECT CAST(COALESCE(SUM(CASE WHEN direction = ? THEN amount ELSE -amount END), 0) AS SIGNED)
        FROM ledger_entries WHERE wallet_id = ?
    `, string(domain.Credit), walletID).Scan(&sum)
	if err != nil {
		return 0, domain.Persistence(err, "sum ledger entries")
	}
	return sum, nil
}
