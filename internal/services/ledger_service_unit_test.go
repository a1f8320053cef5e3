package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"timebank/internal/gateway"
	"timebank/internal/models"
	"timebank/internal/store"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type fakeTxRunner struct {
	err error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(nil)
}

type stubAccountStore struct {
	getByIDFn    func(ctx context.Context, accountID string) (models.Account, error)
	applyDeltaFn func(ctx context.Context, tx store.Execer, delta models.BalanceDelta) error
}

func (s stubAccountStore) GetByID(ctx context.Context, accountID string) (models.Account, error) {
	if s.getByIDFn == nil {
		return models.Account{ID: accountID}, nil
	}
	return s.getByIDFn(ctx, accountID)
}

func (s stubAccountStore) ApplyDelta(ctx context.Context, tx store.Execer, delta models.BalanceDelta) error {
	if s.applyDeltaFn == nil {
		return nil
	}
	return s.applyDeltaFn(ctx, tx, delta)
}

type stubEntryStore struct {
	createFn         func(ctx context.Context, tx store.Execer, entry models.LedgerEntry) (bool, error)
	getByIDFn        func(ctx context.Context, entryID string) (models.LedgerEntry, error)
	getForUpdateFn   func(ctx context.Context, tx store.Getter, entryID string) (models.LedgerEntry, error)
	resolveFn        func(ctx context.Context, tx store.Getter, input store.ResolveInput) (models.LedgerEntry, error)
	markReconciledFn func(ctx context.Context, tx store.Execer, entryID string) (bool, error)
	listFn           func(ctx context.Context, accountID string, filter store.EntryFilter) ([]models.LedgerEntry, error)
}

func (s stubEntryStore) Create(ctx context.Context, tx store.Execer, entry models.LedgerEntry) (bool, error) {
	if s.createFn == nil {
		return true, nil
	}
	return s.createFn(ctx, tx, entry)
}

func (s stubEntryStore) GetByID(ctx context.Context, entryID string) (models.LedgerEntry, error) {
	return s.getByIDFn(ctx, entryID)
}

func (s stubEntryStore) GetForUpdate(ctx context.Context, tx store.Getter, entryID string) (models.LedgerEntry, error) {
	return s.getForUpdateFn(ctx, tx, entryID)
}

func (s stubEntryStore) Resolve(ctx context.Context, tx store.Getter, input store.ResolveInput) (models.LedgerEntry, error) {
	return s.resolveFn(ctx, tx, input)
}

func (s stubEntryStore) MarkReconciled(ctx context.Context, tx store.Execer, entryID string) (bool, error) {
	if s.markReconciledFn == nil {
		return true, nil
	}
	return s.markReconciledFn(ctx, tx, entryID)
}

func (s stubEntryStore) List(ctx context.Context, accountID string, filter store.EntryFilter) ([]models.LedgerEntry, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, accountID, filter)
}

type stubOutboxStore struct {
	enqueueFn func(ctx context.Context, tx store.Execer, event models.ChangeEvent) error
}

func (s stubOutboxStore) Enqueue(ctx context.Context, tx store.Execer, event models.ChangeEvent) error {
	if s.enqueueFn == nil {
		return nil
	}
	return s.enqueueFn(ctx, tx, event)
}

type stubAuditStore struct {
	logFn func(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
}

func (s stubAuditStore) Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error {
	if s.logFn == nil {
		return nil
	}
	return s.logFn(ctx, tx, actorID, action, entityType, entityID, data)
}

func stringPtr(value string) *string {
	return &value
}

func pendingTransfer() models.LedgerEntry {
	return models.LedgerEntry{
		ID:            "entry-1",
		Kind:          models.KindTimeTransfer,
		FromAccountID: stringPtr("a"),
		ToAccountID:   stringPtr("b"),
		Amount:        100,
		Status:        models.StatusPending,
		RequestedBy:   "a",
	}
}

func newStubService(tx fakeTxRunner, accounts stubAccountStore, entries stubEntryStore, outbox stubOutboxStore, audit stubAuditStore) *LedgerService {
	return NewLedgerService(tx, accounts, entries, outbox, audit, defaultRegistry(), gateway.FeePolicy{}, nil, nil)
}

func TestCreateTimeTransferPropagatesTxError(t *testing.T) {
	boom := errors.New("connection reset")
	service := newStubService(fakeTxRunner{err: boom}, stubAccountStore{}, stubEntryStore{
		createFn: func(context.Context, store.Execer, models.LedgerEntry) (bool, error) {
			t.Fatalf("unexpected store call")
			return false, nil
		},
	}, stubOutboxStore{}, stubAuditStore{})
	_, err := service.CreateTimeTransfer(context.Background(), TimeTransferRequest{
		Actor: actor("a"), FromAccountID: "a", ToAccountID: "b", Hours: 100,
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected tx error, got %v", err)
	}
}

func TestCreateTimeTransferWritesEventAndAudit(t *testing.T) {
	var events []models.ChangeEvent
	var actions []string
	var deltas []models.BalanceDelta
	service := newStubService(fakeTxRunner{}, stubAccountStore{
		applyDeltaFn: func(_ context.Context, _ store.Execer, delta models.BalanceDelta) error {
			deltas = append(deltas, delta)
			return nil
		},
	}, stubEntryStore{}, stubOutboxStore{
		enqueueFn: func(_ context.Context, _ store.Execer, event models.ChangeEvent) error {
			events = append(events, event)
			return nil
		},
	}, stubAuditStore{
		logFn: func(_ context.Context, _ store.Execer, actorID, action, entityType, _ string, _ string) error {
			if actorID != "a" || entityType != "ledger_entry" {
				t.Fatalf("unexpected audit row: %s %s", actorID, entityType)
			}
			actions = append(actions, action)
			return nil
		},
	})
	entry, err := service.CreateTimeTransfer(context.Background(), TimeTransferRequest{
		Actor: actor("a"), FromAccountID: "a", ToAccountID: "b", Hours: 250,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deltas) != 1 || deltas[0].AccountID != "a" || deltas[0].HoursPendingDelta != 250 {
		t.Fatalf("unexpected deltas: %#v", deltas)
	}
	if len(events) != 1 || events[0].EntryID != entry.ID || events[0].NewStatus != models.StatusPending {
		t.Fatalf("unexpected events: %#v", events)
	}
	if len(events[0].AccountIDs) != 2 {
		t.Fatalf("expected both parties in event, got %v", events[0].AccountIDs)
	}
	if len(actions) != 1 || actions[0] != "time_transfer.create" {
		t.Fatalf("unexpected audit actions: %v", actions)
	}
}

func TestCreateTimeTransferForeignKeyViolation(t *testing.T) {
	service := newStubService(fakeTxRunner{}, stubAccountStore{}, stubEntryStore{
		createFn: func(context.Context, store.Execer, models.LedgerEntry) (bool, error) {
			return false, &pq.Error{Code: "23503"}
		},
	}, stubOutboxStore{}, stubAuditStore{})
	_, err := service.CreateTimeTransfer(context.Background(), TimeTransferRequest{
		Actor: actor("a"), FromAccountID: "a", ToAccountID: "ghost", Hours: 100,
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveLosingRaceReturnsAlreadyResolved(t *testing.T) {
	service := newStubService(fakeTxRunner{}, stubAccountStore{
		applyDeltaFn: func(context.Context, store.Execer, models.BalanceDelta) error {
			t.Fatalf("balances must not change")
			return nil
		},
	}, stubEntryStore{
		getByIDFn: func(context.Context, string) (models.LedgerEntry, error) {
			return pendingTransfer(), nil
		},
		resolveFn: func(context.Context, store.Getter, store.ResolveInput) (models.LedgerEntry, error) {
			return models.LedgerEntry{}, sql.ErrNoRows
		},
	}, stubOutboxStore{}, stubAuditStore{})
	_, err := service.ResolveTimeTransfer(context.Background(), "entry-1", actor("b"), models.DecisionApprove)
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
}

func TestResolveGuardViolationIsInvariantError(t *testing.T) {
	resolved := pendingTransfer()
	resolved.Status = models.StatusApproved
	service := newStubService(fakeTxRunner{}, stubAccountStore{
		applyDeltaFn: func(context.Context, store.Execer, models.BalanceDelta) error {
			return store.ErrBalanceGuard
		},
	}, stubEntryStore{
		getByIDFn: func(context.Context, string) (models.LedgerEntry, error) {
			return pendingTransfer(), nil
		},
		resolveFn: func(_ context.Context, _ store.Getter, input store.ResolveInput) (models.LedgerEntry, error) {
			if input.Status != models.StatusApproved || input.ResolvedBy == nil || *input.ResolvedBy != "b" {
				t.Fatalf("unexpected resolve input: %#v", input)
			}
			return resolved, nil
		},
	}, stubOutboxStore{}, stubAuditStore{})
	_, err := service.ResolveTimeTransfer(context.Background(), "entry-1", actor("b"), models.DecisionApprove)
	if !errors.Is(err, ErrBalanceInvariant) {
		t.Fatalf("expected ErrBalanceInvariant, got %v", err)
	}
}

func TestResolveOutboxFailureAborts(t *testing.T) {
	boom := errors.New("outbox unavailable")
	resolved := pendingTransfer()
	resolved.Status = models.StatusRejected
	audited := false
	service := newStubService(fakeTxRunner{}, stubAccountStore{}, stubEntryStore{
		getByIDFn: func(context.Context, string) (models.LedgerEntry, error) {
			return pendingTransfer(), nil
		},
		resolveFn: func(context.Context, store.Getter, store.ResolveInput) (models.LedgerEntry, error) {
			return resolved, nil
		},
	}, stubOutboxStore{
		enqueueFn: func(context.Context, store.Execer, models.ChangeEvent) error {
			return boom
		},
	}, stubAuditStore{
		logFn: func(context.Context, store.Execer, string, string, string, string, string) error {
			audited = true
			return nil
		},
	})
	_, err := service.ResolveTimeTransfer(context.Background(), "entry-1", actor("b"), models.DecisionReject)
	if !errors.Is(err, boom) {
		t.Fatalf("expected outbox error, got %v", err)
	}
	if audited {
		t.Fatal("audit must not be written after a failed enqueue")
	}
}

func TestResolveWrongKind(t *testing.T) {
	service := newStubService(fakeTxRunner{}, stubAccountStore{}, stubEntryStore{
		getByIDFn: func(context.Context, string) (models.LedgerEntry, error) {
			entry := pendingTransfer()
			entry.Kind = models.KindWalletCharge
			return entry, nil
		},
	}, stubOutboxStore{}, stubAuditStore{})
	_, err := service.ResolveTimeTransfer(context.Background(), "entry-1", actor("b"), models.DecisionApprove)
	if !errors.Is(err, ErrWrongKind) {
		t.Fatalf("expected ErrWrongKind, got %v", err)
	}
}

func TestListEntriesClampsLimit(t *testing.T) {
	var got store.EntryFilter
	service := newStubService(fakeTxRunner{}, stubAccountStore{}, stubEntryStore{
		listFn: func(_ context.Context, _ string, filter store.EntryFilter) ([]models.LedgerEntry, error) {
			got = filter
			return nil, nil
		},
	}, stubOutboxStore{}, stubAuditStore{})
	if _, err := service.ListEntries(context.Background(), actor("a"), "a", store.EntryFilter{Limit: 5000, Offset: -3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Limit != 50 || got.Offset != 0 {
		t.Fatalf("unexpected filter: %#v", got)
	}
}

func TestReconcileMarkErrorPropagates(t *testing.T) {
	boom := errors.New("write failed")
	approved := pendingTransfer()
	approved.Status = models.StatusApproved
	service := newStubService(fakeTxRunner{}, stubAccountStore{}, stubEntryStore{
		getForUpdateFn: func(context.Context, store.Getter, string) (models.LedgerEntry, error) {
			return approved, nil
		},
		markReconciledFn: func(context.Context, store.Execer, string) (bool, error) {
			return false, boom
		},
	}, stubOutboxStore{}, stubAuditStore{})
	if _, err := service.Reconcile(context.Background(), "entry-1", models.Actor{IsAdmin: true}); !errors.Is(err, boom) {
		t.Fatalf("expected mark error, got %v", err)
	}
}
