package services

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"timebank/internal/gateway"
	"timebank/internal/models"
	"timebank/internal/store"

	"github.com/jmoiron/sqlx"
)

// memState is an in-memory ledger. memTxRunner serializes transactions and
// restores a snapshot when fn fails, which is enough to model the rollback
// and compare-and-swap behaviour of the real stores.
type memState struct {
	txMu     sync.Mutex
	mu       sync.Mutex
	accounts map[string]models.Account
	entries  map[string]models.LedgerEntry
	events   []models.ChangeEvent
	audits   []string
}

func newMemState(accountIDs ...string) *memState {
	state := &memState{
		accounts: map[string]models.Account{},
		entries:  map[string]models.LedgerEntry{},
	}
	for _, id := range accountIDs {
		state.accounts[id] = models.Account{ID: id}
	}
	return state
}

type memSnapshot struct {
	accounts map[string]models.Account
	entries  map[string]models.LedgerEntry
	events   int
	audits   int
}

func (m *memState) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := memSnapshot{
		accounts: make(map[string]models.Account, len(m.accounts)),
		entries:  make(map[string]models.LedgerEntry, len(m.entries)),
		events:   len(m.events),
		audits:   len(m.audits),
	}
	for k, v := range m.accounts {
		snap.accounts[k] = v
	}
	for k, v := range m.entries {
		snap.entries[k] = v
	}
	return snap
}

func (m *memState) restore(snap memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = snap.accounts
	m.entries = snap.entries
	m.events = m.events[:snap.events]
	m.audits = m.audits[:snap.audits]
}

func (m *memState) account(id string) models.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[id]
}

func (m *memState) setWallet(id string, balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account := m.accounts[id]
	account.ID = id
	account.WalletBalance = balance
	m.accounts[id] = account
}

func (m *memState) entryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *memState) eventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type memTxRunner struct {
	state *memState
}

func (r memTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	r.state.txMu.Lock()
	defer r.state.txMu.Unlock()
	snap := r.state.snapshot()
	if err := fn(nil); err != nil {
		r.state.restore(snap)
		return err
	}
	return nil
}

type memAccounts struct {
	state *memState
}

func (a memAccounts) GetByID(_ context.Context, accountID string) (models.Account, error) {
	a.state.mu.Lock()
	defer a.state.mu.Unlock()
	account, ok := a.state.accounts[accountID]
	if !ok {
		return models.Account{}, sql.ErrNoRows
	}
	return account, nil
}

func (a memAccounts) ApplyDelta(_ context.Context, _ store.Execer, delta models.BalanceDelta) error {
	a.state.mu.Lock()
	defer a.state.mu.Unlock()
	account, ok := a.state.accounts[delta.AccountID]
	if !ok {
		return store.ErrBalanceGuard
	}
	next := account
	next.HoursEarned += delta.HoursEarnedDelta
	next.HoursSpent += delta.HoursSpentDelta
	next.HoursPending += delta.HoursPendingDelta
	next.WalletBalance += delta.WalletDelta
	if next.HoursEarned < 0 || next.HoursSpent < 0 || next.HoursPending < 0 || next.WalletBalance < 0 {
		return store.ErrBalanceGuard
	}
	a.state.accounts[delta.AccountID] = next
	return nil
}

type memEntries struct {
	state *memState
}

func (e memEntries) Create(_ context.Context, _ store.Execer, entry models.LedgerEntry) (bool, error) {
	e.state.mu.Lock()
	defer e.state.mu.Unlock()
	if _, ok := e.state.entries[entry.ID]; ok {
		return false, nil
	}
	e.state.entries[entry.ID] = entry
	return true, nil
}

func (e memEntries) GetByID(_ context.Context, entryID string) (models.LedgerEntry, error) {
	e.state.mu.Lock()
	defer e.state.mu.Unlock()
	entry, ok := e.state.entries[entryID]
	if !ok {
		return models.LedgerEntry{}, sql.ErrNoRows
	}
	return entry, nil
}

func (e memEntries) GetForUpdate(ctx context.Context, _ store.Getter, entryID string) (models.LedgerEntry, error) {
	return e.GetByID(ctx, entryID)
}

func (e memEntries) Resolve(_ context.Context, _ store.Getter, input store.ResolveInput) (models.LedgerEntry, error) {
	e.state.mu.Lock()
	defer e.state.mu.Unlock()
	entry, ok := e.state.entries[input.EntryID]
	if !ok || entry.Status != models.StatusPending {
		return models.LedgerEntry{}, sql.ErrNoRows
	}
	now := time.Now()
	entry.Status = input.Status
	entry.ResolvedBy = input.ResolvedBy
	entry.ResolvedAt = &now
	if input.ExternalReference != nil {
		entry.ExternalReference = input.ExternalReference
	}
	e.state.entries[input.EntryID] = entry
	return entry, nil
}

func (e memEntries) MarkReconciled(_ context.Context, _ store.Execer, entryID string) (bool, error) {
	e.state.mu.Lock()
	defer e.state.mu.Unlock()
	entry, ok := e.state.entries[entryID]
	if !ok || entry.ReconciledAt != nil {
		return false, nil
	}
	now := time.Now()
	entry.ReconciledAt = &now
	e.state.entries[entryID] = entry
	return true, nil
}

func (e memEntries) List(_ context.Context, accountID string, filter store.EntryFilter) ([]models.LedgerEntry, error) {
	e.state.mu.Lock()
	defer e.state.mu.Unlock()
	var out []models.LedgerEntry
	for _, entry := range e.state.entries {
		if !entry.InvolvesAccount(accountID) {
			continue
		}
		if filter.Status != "" && entry.Status != filter.Status {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

type memOutbox struct {
	state *memState
}

func (o memOutbox) Enqueue(_ context.Context, _ store.Execer, event models.ChangeEvent) error {
	o.state.mu.Lock()
	defer o.state.mu.Unlock()
	o.state.events = append(o.state.events, event)
	return nil
}

type memAudit struct {
	state *memState
}

func (a memAudit) Log(_ context.Context, _ store.Execer, actorID, action, entityType, entityID, data string) error {
	a.state.mu.Lock()
	defer a.state.mu.Unlock()
	a.state.audits = append(a.state.audits, action)
	return nil
}

type stubGateway struct {
	mu        sync.Mutex
	calls     int
	captureFn func(ctx context.Context, charge gateway.Charge) (gateway.Result, error)
}

func (g *stubGateway) AuthorizeAndCapture(ctx context.Context, charge gateway.Charge) (gateway.Result, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return g.captureFn(ctx, charge)
}

func (g *stubGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

var fixedNow = func() time.Time { return time.Date(2026, time.October, 18, 0, 0, 0, 0, time.UTC) }

func defaultRegistry() *gateway.Registry {
	registry := gateway.NewRegistry()
	registry.Register(models.MethodWallet, gateway.WalletGateway{})
	registry.Register(models.MethodAdminCredit, gateway.AdminCreditGateway{})
	registry.Register(models.MethodExternalManual, gateway.ManualGateway{})
	registry.Register(models.MethodCard, gateway.NewCardGateway(gateway.MockCardNetwork{Now: fixedNow}, gateway.DefaultCardConfig(), nil, nil))
	return registry
}

func newMemService(state *memState, registry *gateway.Registry, fees gateway.FeePolicy) *LedgerService {
	return NewLedgerService(memTxRunner{state: state}, memAccounts{state: state}, memEntries{state: state}, memOutbox{state: state}, memAudit{state: state}, registry, fees, nil, nil)
}

func actor(id string) models.Actor {
	return models.Actor{AccountID: id}
}

func validCard() *gateway.CardDetails {
	return &gateway.CardDetails{Number: "4242424242424242", Expiry: "12/28", CVV: "123"}
}
