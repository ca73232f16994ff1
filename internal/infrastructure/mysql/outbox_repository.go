package mysql

import (
	"context"
	"strings"
	"time"

	"auction-marketplace/internal/domain"
)

type OutboxRepository struct {
	q queryer
}

func (r *OutboxRepository) Append(ctx context.Context, events []*domain.ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}
	placeholders := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*6)
	for _, e := range events {
		placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?)")
		args = append(args, e.ID, e.AuctionID, string(e.Field), e.OldValue, e.NewValue, e.OccurredAt)
	}
	query := `INSERT INTO change_outbox (id, auction_id, field, old_value, new_value, occurred_at) VALUES ` +
		strings.Join(placeholders, ", ")
	_, err := r.q.ExecContext(ctx, query, args...)
	return domain.Persistence(err, "insert outbox events")
}

// FetchPending returns events sink has not consumed yet, in commit order.
func (r *OutboxRepository) FetchPending(ctx context.Context, sink string, limit int) ([]*domain.ChangeEvent, error) {
	rows, err := r.q.QueryContext(ctx, `
        SELECT o.id, o.auction_id, o.field, o.old_value, o.new_value, o.occurred_at
        FROM change_outbox o
        WHERE o.dispatched_at IS NULL
          AND NOT EXISTS (
              SELECT 1 FROM outbox_deliveries d WHERE d.event_id = o.id AND d.sink = ?
          )
        ORDER BY o.seq ASC
        LIMIT ?
    `, sink, limit)
	if err != nil {
		return nil, domain.Persistence(err, "select pending outbox events")
	}
	defer rows.Close()

	var events []*domain.ChangeEvent
	for rows.Next() {
		var e domain.ChangeEvent
		var field string
		if err := rows.Scan(&e.ID, &e.AuctionID, &field, &e.OldValue, &e.NewValue, &e.OccurredAt); err != nil {
			return nil, domain.Persistence(err, "scan outbox event")
		}
		e.Field = domain.ChangeField(field)
		events = append(events, &e)
	}
	return events, domain.Persistence(rows.Err(), "iterate outbox events")
}

func (r *OutboxRepository) MarkDelivered(ctx context.Context, sink string, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(ids)*3)
	for _, id := range ids {
		args = append(args, id, sink, at)
	}
	query := `INSERT IGNORE INTO outbox_deliveries (event_id, sink, delivered_at) VALUES (?, ?, ?)` +
		strings.Repeat(", (?, ?, ?)", len(ids)-1)
	_, err := r.q.ExecContext(ctx, query, args...)
	return domain.Persistence(err, "record outbox deliveries")
}

func (r *OutboxRepository) MarkDispatched(ctx context.Context, ids, sinks []string, at time.Time) error {
	if len(ids) == 0 || len(sinks) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(ids)+len(sinks)+2)
	args = append(args, at)
	for _, id := range ids {
		args = append(args, id)
	}
	for _, sink := range sinks {
		args = append(args, sink)
	}
	args = append(args, len(sinks))

	query := `UPDATE change_outbox SET dispatched_at = ? WHERE dispatched_at IS NULL AND id IN (?` +
		strings.Repeat(", ?", len(ids)-1) + `) AND (SELECT COUNT(*) FROM outbox_deliveries d ` +
		`WHERE d.event_id = change_outbox.id AND d.sink IN (?` + strings.Repeat(", ?", len(sinks)-1) + `)) = ?`
	_, err := r.q.ExecContext(ctx, query, args...)
	return domain.Persistence(err, "mark outbox events dispatched")
}
