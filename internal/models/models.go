package models

import "time"

type Kind string

const (
	KindTimeTransfer  Kind = "time_transfer"
	KindWalletCharge  Kind = "wallet_charge"
	KindWalletDeposit Kind = "wallet_deposit"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s Status) Valid() bool {
	return s == StatusPending || s.Terminal()
}

type Method string

const (
	MethodWallet         Method = "wallet"
	MethodCard           Method = "card"
	MethodAdminCredit    Method = "admin_credit"
	MethodExternalManual Method = "external_manual"
)

func (m Method) Valid() bool {
	switch m {
	case MethodWallet, MethodCard, MethodAdminCredit, MethodExternalManual:
		return true
	default:
		return false
	}
}

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Actor is the caller of a workflow operation. Capabilities are resolved by the
// identity layer before the call.
type Actor struct {
	AccountID   string
	IsAdmin     bool
	IsModerator bool
	IsOwner     bool
}

func (a Actor) IsStaff() bool {
	return a.IsAdmin || a.IsModerator || a.IsOwner
}

// Account holds the cached balance aggregates. Hours are stored in hundredths
// of an hour, wallet funds in minor currency units.
type Account struct {
	ID            string    `db:"id" json:"id"`
	UserID        *string   `db:"user_id" json:"user_id,omitempty"`
	IsSystem      bool      `db:"is_system" json:"is_system"`
	HoursEarned   int64     `db:"hours_earned" json:"hours_earned"`
	HoursSpent    int64     `db:"hours_spent" json:"hours_spent"`
	HoursPending  int64     `db:"hours_pending" json:"hours_pending"`
	WalletBalance int64     `db:"wallet_balance" json:"wallet_balance"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

type LedgerEntry struct {
	ID                string     `db:"id" json:"id"`
	Kind              Kind       `db:"kind" json:"kind"`
	FromAccountID     *string    `db:"from_account_id" json:"from_account_id,omitempty"`
	ToAccountID       *string    `db:"to_account_id" json:"to_account_id,omitempty"`
	Amount            int64      `db:"amount" json:"amount"`
	Fee               int64      `db:"fee" json:"fee"`
	FeeAccountID      *string    `db:"fee_account_id" json:"fee_account_id,omitempty"`
	Method            *Method    `db:"method" json:"method,omitempty"`
	Description       string     `db:"description" json:"description"`
	Status            Status     `db:"status" json:"status"`
	RequestedBy       string     `db:"requested_by" json:"requested_by"`
	ResolvedBy        *string    `db:"resolved_by" json:"resolved_by,omitempty"`
	ExternalReference *string    `db:"external_reference" json:"external_reference,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	ResolvedAt        *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	ReconciledAt      *time.Time `db:"reconciled_at" json:"-"`
}

func (e LedgerEntry) MethodOrEmpty() Method {
	if e.Method == nil {
		return ""
	}
	return *e.Method
}

// CreditedAccount returns the account that receives value when the entry
// settles. Deposits from an external method leave ToAccountID empty and credit
// the payer.
func (e LedgerEntry) CreditedAccount() string {
	if e.ToAccountID != nil && *e.ToAccountID != "" {
		return *e.ToAccountID
	}
	if e.Kind == KindWalletDeposit && e.FromAccountID != nil {
		return *e.FromAccountID
	}
	return ""
}

// Counterparty returns the party that must resolve a time transfer opened by
// RequestedBy.
func (e LedgerEntry) Counterparty() string {
	from := deref(e.FromAccountID)
	to := deref(e.ToAccountID)
	if e.RequestedBy == from {
		return to
	}
	if e.RequestedBy == to {
		return from
	}
	return ""
}

// AccountIDs lists every account the entry touches, fee account included.
func (e LedgerEntry) AccountIDs() []string {
	ids := make([]string, 0, 3)
	seen := map[string]struct{}{}
	for _, id := range []*string{e.FromAccountID, e.ToAccountID, e.FeeAccountID} {
		if id == nil || *id == "" {
			continue
		}
		if _, ok := seen[*id]; ok {
			continue
		}
		seen[*id] = struct{}{}
		ids = append(ids, *id)
	}
	return ids
}

func (e LedgerEntry) InvolvesAccount(accountID string) bool {
	for _, id := range e.AccountIDs() {
		if id == accountID {
			return true
		}
	}
	return false
}

// BalanceDelta is the change one entry makes to one account.
type BalanceDelta struct {
	AccountID         string
	HoursEarnedDelta  int64
	HoursSpentDelta   int64
	HoursPendingDelta int64
	WalletDelta       int64
}

func (d BalanceDelta) IsZero() bool {
	return d.HoursEarnedDelta == 0 && d.HoursSpentDelta == 0 && d.HoursPendingDelta == 0 && d.WalletDelta == 0
}

type ChangeEvent struct {
	EventID    string    `json:"event_id"`
	EntryID    string    `json:"entry_id"`
	AccountIDs []string  `json:"account_ids"`
	NewStatus  Status    `json:"new_status"`
	OccurredAt time.Time `json:"occurred_at"`
}

type User struct {
	ID           string    `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
