package store

import (
	"context"
	"errors"
	"time"

	"timebank/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ErrOutboxBusy is returned by Claim while another dispatcher holds the outbox.
var ErrOutboxBusy = errors.New("outbox claimed by another dispatcher")

// outboxLockKey identifies the advisory lock shared by every dispatcher.
const outboxLockKey int64 = 0x6c65646765727331

// OutboxStore keeps change events in ledger_events until a dispatcher has
// published them.
type OutboxStore struct {
	db    DB
	begin func(ctx context.Context) (Tx, error)
}

type OutboxEvent struct {
	Seq        int64          `db:"seq"`
	EventID    string         `db:"event_id"`
	EntryID    string         `db:"entry_id"`
	AccountIDs pq.StringArray `db:"account_ids"`
	NewStatus  models.Status  `db:"new_status"`
	OccurredAt time.Time      `db:"occurred_at"`
}

func (e OutboxEvent) ChangeEvent() models.ChangeEvent {
	return models.ChangeEvent{
		EventID:    e.EventID,
		EntryID:    e.EntryID,
		AccountIDs: []string(e.AccountIDs),
		NewStatus:  e.NewStatus,
		OccurredAt: e.OccurredAt,
	}
}

func NewOutboxStore(db *sqlx.DB) *OutboxStore {
	return &OutboxStore{
		db: db,
		begin: func(ctx context.Context) (Tx, error) {
			tx, err := db.BeginTxx(ctx, nil)
			if err != nil {
				return nil, err
			}
			return tx, nil
		},
	}
}

func (s *OutboxStore) Enqueue(ctx context.Context, tx Execer, event models.ChangeEvent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_events (event_id, entry_id, account_ids, new_status, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`, event.EventID, event.EntryID, pq.Array(event.AccountIDs), event.NewStatus, event.OccurredAt)
	return err
}

// PublishFunc delivers a batch in order and returns the sequence numbers it
// delivered before the first failure.
type PublishFunc func(events []OutboxEvent) ([]int64, error)

// Claim hands the next unpublished batch to publish and marks the delivered
// events in the same transaction. A transaction-scoped advisory lock admits one
// dispatcher at a time across all instances, so batches never interleave.
// The publish error, if any, is returned after the delivered prefix commits.
func (s *OutboxStore) Claim(ctx context.Context, limit int, publish PublishFunc) (int, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var locked bool
	if err := tx.GetContext(ctx, &locked, `SELECT pg_try_advisory_xact_lock($1)`, outboxLockKey); err != nil {
		return 0, err
	}
	if !locked {
		return 0, ErrOutboxBusy
	}
	var rows []OutboxEvent
	err = tx.SelectContext(ctx, &rows, `
		SELECT seq, event_id, entry_id, account_ids, new_status, occurred_at
		FROM ledger_events
		WHERE published_at IS NULL
		ORDER BY seq
		LIMIT $1
	`, limit)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	seqs, publishErr := publish(rows)
	if len(seqs) > 0 {
		_, err := tx.ExecContext(ctx, `
			UPDATE ledger_events
			SET published_at = NOW()
			WHERE seq = ANY($1) AND published_at IS NULL
		`, pq.Array(seqs))
		if err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(seqs), publishErr
}

func (s *OutboxStore) Backlog(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(1) FROM ledger_events WHERE published_at IS NULL`)
	return count, err
}
