package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"timebank/internal/models"
)

var ErrInvalidTransition = errors.New("target status is not terminal")

const entryColumns = `id, kind, from_account_id, to_account_id, amount, fee, fee_account_id, method, description,
		       status, requested_by, resolved_by, external_reference, created_at, resolved_at, reconciled_at`

type EntryStore struct {
	db DB
}

type Role string

const (
	RolePayer    Role = "payer"
	RoleReceiver Role = "receiver"
)

type EntryFilter struct {
	Role   Role
	Status models.Status
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

type ResolveInput struct {
	EntryID           string
	Status            models.Status
	ResolvedBy        *string
	ExternalReference *string
}

func NewEntryStore(db DB) *EntryStore {
	return &EntryStore{db: db}
}

// Create inserts entry unless an entry with the same id already exists. The
// boolean reports whether a row was written.
func (s *EntryStore) Create(ctx context.Context, tx Execer, entry models.LedgerEntry) (bool, error) {
	query := `
		INSERT INTO ledger_entries (id, kind, from_account_id, to_account_id, amount, fee, fee_account_id, method,
		                            description, status, requested_by, resolved_by, external_reference, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := tx.ExecContext(ctx, query,
		entry.ID, entry.Kind, entry.FromAccountID, entry.ToAccountID, entry.Amount, entry.Fee, entry.FeeAccountID,
		entry.Method, entry.Description, entry.Status, entry.RequestedBy, entry.ResolvedBy, entry.ExternalReference,
		entry.CreatedAt, entry.ResolvedAt,
	)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *EntryStore) GetByID(ctx context.Context, entryID string) (models.LedgerEntry, error) {
	return s.get(ctx, s.db, entryID, false)
}

// GetForUpdate reads the entry inside tx and locks its row.
func (s *EntryStore) GetForUpdate(ctx context.Context, tx Getter, entryID string) (models.LedgerEntry, error) {
	return s.get(ctx, tx, entryID, true)
}

func (s *EntryStore) get(ctx context.Context, q Getter, entryID string, lock bool) (models.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE id = $1`
	if lock {
		query += " FOR UPDATE"
	}
	var row models.LedgerEntry
	if err := q.GetContext(ctx, &row, query, entryID); err != nil {
		return models.LedgerEntry{}, err
	}
	return row, nil
}

// Resolve moves a pending entry to a terminal status. sql.ErrNoRows means the
// entry was not pending when the statement ran.
func (s *EntryStore) Resolve(ctx context.Context, tx Getter, input ResolveInput) (models.LedgerEntry, error) {
	if !input.Status.Terminal() {
		return models.LedgerEntry{}, ErrInvalidTransition
	}
	var row models.LedgerEntry
	err := tx.GetContext(ctx, &row, `
		UPDATE ledger_entries
		SET status = $2,
		    resolved_by = $3,
		    external_reference = COALESCE($4, external_reference),
		    resolved_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+entryColumns, input.EntryID, input.Status, input.ResolvedBy, input.ExternalReference)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	return row, nil
}

// MarkReconciled sets the reconciliation fence. It reports false when the
// fence was already set.
func (s *EntryStore) MarkReconciled(ctx context.Context, tx Execer, entryID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE ledger_entries
		SET reconciled_at = NOW()
		WHERE id = $1 AND reconciled_at IS NULL
	`, entryID)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *EntryStore) List(ctx context.Context, accountID string, filter EntryFilter) ([]models.LedgerEntry, error) {
	var where []string
	args := []any{accountID}
	switch filter.Role {
	case RolePayer:
		where = append(where, "from_account_id = $1")
	case RoleReceiver:
		where = append(where, "(to_account_id = $1 OR fee_account_id = $1 OR (to_account_id IS NULL AND kind = 'wallet_deposit' AND from_account_id = $1))")
	default:
		where = append(where, "(from_account_id = $1 OR to_account_id = $1 OR fee_account_id = $1)")
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, "status = $"+itoa(len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		where = append(where, "created_at >= $"+itoa(len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		where = append(where, "created_at < $"+itoa(len(args)))
	}
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE ` + strings.Join(where, " AND ")
	args = append(args, filter.Limit, filter.Offset)
	query += " ORDER BY created_at DESC, id LIMIT $" + itoa(len(args)-1) + " OFFSET $" + itoa(len(args))
	var rows []models.LedgerEntry
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func itoa(value int) string {
	return fmt.Sprintf("%d", value)
}
