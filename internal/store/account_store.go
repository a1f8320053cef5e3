package store

import (
	"context"
	"errors"

	"timebank/internal/models"
)

// ErrBalanceGuard means an atomic increment was refused because one of the
// aggregates would have gone negative, or the account does not exist.
var ErrBalanceGuard = errors.New("balance update rejected")

type AccountStore struct {
	db DB
}

// BalanceDrift compares cached aggregates with the values recomputed from
// ledger history.
type BalanceDrift struct {
	AccountID             string `db:"id" json:"account_id"`
	HoursEarned           int64  `db:"hours_earned" json:"hours_earned"`
	ExpectedHoursEarned   int64  `db:"expected_hours_earned" json:"expected_hours_earned"`
	HoursSpent            int64  `db:"hours_spent" json:"hours_spent"`
	ExpectedHoursSpent    int64  `db:"expected_hours_spent" json:"expected_hours_spent"`
	HoursPending          int64  `db:"hours_pending" json:"hours_pending"`
	ExpectedHoursPending  int64  `db:"expected_hours_pending" json:"expected_hours_pending"`
	WalletBalance         int64  `db:"wallet_balance" json:"wallet_balance"`
	ExpectedWalletBalance int64  `db:"expected_wallet_balance" json:"expected_wallet_balance"`
}

func NewAccountStore(db DB) *AccountStore {
	return &AccountStore{db: db}
}

func (s *AccountStore) Create(ctx context.Context, tx Execer, id string, userID *string, isSystem bool) error {
	query := `
		INSERT INTO accounts (id, user_id, is_system)
		VALUES ($1, $2, $3)
	`
	_, err := tx.ExecContext(ctx, query, id, userID, isSystem)
	return err
}

func (s *AccountStore) GetByID(ctx context.Context, accountID string) (models.Account, error) {
	var row models.Account
	err := s.db.GetContext(ctx, &row, `
		SELECT id, user_id, is_system, hours_earned, hours_spent, hours_pending, wallet_balance, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`, accountID)
	if err != nil {
		return models.Account{}, err
	}
	return row, nil
}

// ApplyDelta adds every field of delta in one statement. The row is only
// touched when all four resulting aggregates stay non-negative.
func (s *AccountStore) ApplyDelta(ctx context.Context, tx Execer, delta models.BalanceDelta) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET hours_earned = hours_earned + $2,
		    hours_spent = hours_spent + $3,
		    hours_pending = hours_pending + $4,
		    wallet_balance = wallet_balance + $5,
		    updated_at = NOW()
		WHERE id = $1
		  AND hours_earned + $2 >= 0
		  AND hours_spent + $3 >= 0
		  AND hours_pending + $4 >= 0
		  AND wallet_balance + $5 >= 0
	`, delta.AccountID, delta.HoursEarnedDelta, delta.HoursSpentDelta, delta.HoursPendingDelta, delta.WalletDelta)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows != 1 {
		return ErrBalanceGuard
	}
	return nil
}

// DriftReport lists accounts whose cached aggregates disagree with the ledger.
func (s *AccountStore) DriftReport(ctx context.Context) ([]BalanceDrift, error) {
	var rows []BalanceDrift
	err := s.db.SelectContext(ctx, &rows, `
		WITH contributions AS (
			SELECT from_account_id AS account_id, 0::bigint AS earned, 0::bigint AS spent, amount AS pending, 0::bigint AS wallet
			FROM ledger_entries
			WHERE kind = 'time_transfer' AND status = 'pending'
			UNION ALL
			SELECT from_account_id, 0, amount, 0, 0
			FROM ledger_entries
			WHERE kind = 'time_transfer' AND status = 'approved'
			UNION ALL
			SELECT to_account_id, amount, 0, 0, 0
			FROM ledger_entries
			WHERE kind = 'time_transfer' AND status = 'approved'
			UNION ALL
			SELECT from_account_id, 0, 0, 0, -amount
			FROM ledger_entries
			WHERE kind <> 'time_transfer' AND status = 'completed' AND method = 'wallet'
			UNION ALL
			SELECT COALESCE(to_account_id, from_account_id), 0, 0, 0, amount - fee
			FROM ledger_entries
			WHERE kind <> 'time_transfer' AND status = 'completed'
			UNION ALL
			SELECT fee_account_id, 0, 0, 0, fee
			FROM ledger_entries
			WHERE kind <> 'time_transfer' AND status = 'completed' AND fee > 0
		), expected AS (
			SELECT account_id,
			       SUM(earned)::bigint AS earned,
			       SUM(spent)::bigint AS spent,
			       SUM(pending)::bigint AS pending,
			       SUM(wallet)::bigint AS wallet
			FROM contributions
			GROUP BY account_id
		)
		SELECT a.id,
		       a.hours_earned, COALESCE(e.earned, 0) AS expected_hours_earned,
		       a.hours_spent, COALESCE(e.spent, 0) AS expected_hours_spent,
		       a.hours_pending, COALESCE(e.pending, 0) AS expected_hours_pending,
		       a.wallet_balance, COALESCE(e.wallet, 0) AS expected_wallet_balance
		FROM accounts a
		LEFT JOIN expected e ON e.account_id = a.id
		WHERE a.hours_earned <> COALESCE(e.earned, 0)
		   OR a.hours_spent <> COALESCE(e.spent, 0)
		   OR a.hours_pending <> COALESCE(e.pending, 0)
		   OR a.wallet_balance <> COALESCE(e.wallet, 0)
		ORDER BY a.id
	`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
