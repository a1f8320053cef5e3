// Package reconcile computes the balance effect of ledger entries. It performs
// no I/O; callers apply the returned deltas atomically.
package reconcile

import (
	"errors"

	"timebank/internal/models"
)

var ErrNotTerminal = errors.New("entry is not in a terminal status")

// Reserve returns the deltas applied when a time transfer is created: the
// payer's pending hours grow by the transfer amount.
func Reserve(entry models.LedgerEntry) []models.BalanceDelta {
	if entry.Kind != models.KindTimeTransfer || entry.FromAccountID == nil {
		return nil
	}
	return []models.BalanceDelta{{AccountID: *entry.FromAccountID, HoursPendingDelta: entry.Amount}}
}

// Reconcile returns the net deltas a terminal entry applies, one per affected
// account, in first-touched order.
func Reconcile(entry models.LedgerEntry) ([]models.BalanceDelta, error) {
	if !entry.Status.Terminal() {
		return nil, ErrNotTerminal
	}
	var b builder
	switch entry.Kind {
	case models.KindTimeTransfer:
		from := deref(entry.FromAccountID)
		switch entry.Status {
		case models.StatusApproved:
			b.add(models.BalanceDelta{AccountID: from, HoursPendingDelta: -entry.Amount, HoursSpentDelta: entry.Amount})
			b.add(models.BalanceDelta{AccountID: deref(entry.ToAccountID), HoursEarnedDelta: entry.Amount})
		case models.StatusRejected, models.StatusCancelled, models.StatusFailed:
			b.add(models.BalanceDelta{AccountID: from, HoursPendingDelta: -entry.Amount})
		}
	case models.KindWalletCharge, models.KindWalletDeposit:
		if entry.Status != models.StatusCompleted {
			break
		}
		if entry.MethodOrEmpty() == models.MethodWallet {
			b.add(models.BalanceDelta{AccountID: deref(entry.FromAccountID), WalletDelta: -entry.Amount})
		}
		b.add(models.BalanceDelta{AccountID: entry.CreditedAccount(), WalletDelta: entry.Amount - entry.Fee})
		if entry.Fee > 0 {
			b.add(models.BalanceDelta{AccountID: deref(entry.FeeAccountID), WalletDelta: entry.Fee})
		}
	}
	return b.result(), nil
}

type builder struct {
	order  []string
	deltas map[string]models.BalanceDelta
}

func (b *builder) add(delta models.BalanceDelta) {
	if delta.AccountID == "" {
		return
	}
	if b.deltas == nil {
		b.deltas = map[string]models.BalanceDelta{}
	}
	current, ok := b.deltas[delta.AccountID]
	if !ok {
		b.order = append(b.order, delta.AccountID)
		current.AccountID = delta.AccountID
	}
	current.HoursEarnedDelta += delta.HoursEarnedDelta
	current.HoursSpentDelta += delta.HoursSpentDelta
	current.HoursPendingDelta += delta.HoursPendingDelta
	current.WalletDelta += delta.WalletDelta
	b.deltas[delta.AccountID] = current
}

func (b *builder) result() []models.BalanceDelta {
	out := make([]models.BalanceDelta, 0, len(b.order))
	for _, id := range b.order {
		if delta := b.deltas[id]; !delta.IsZero() {
			out = append(out, delta)
		}
	}
	return out
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
