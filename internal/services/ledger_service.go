package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"timebank/internal/db"
	"timebank/internal/gateway"
	"timebank/internal/logging"
	"timebank/internal/metrics"
	"timebank/internal/models"
	"timebank/internal/money"
	"timebank/internal/reconcile"
	"timebank/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrSelfTransfer        = errors.New("cannot transfer to the same account")
	ErrUnauthorized        = errors.New("actor is not allowed to perform this action")
	ErrAlreadyResolved     = errors.New("entry already resolved")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrGatewayFailure      = errors.New("payment gateway declined the charge")
	ErrNotFound            = errors.New("not found")
	ErrInvalidMethod       = errors.New("invalid payment method")
	ErrInvalidDecision     = errors.New("invalid decision")
	ErrInvalidStatus       = errors.New("invalid status")
	ErrReceiverRequired    = errors.New("receiver required for wallet payments")
	ErrWrongKind           = errors.New("operation does not apply to this entry kind")
	ErrNotCancellable      = errors.New("entry cannot be cancelled")
	ErrNotTerminal         = errors.New("entry is not in a terminal status")
	ErrIdempotencyConflict = errors.New("entry id already used for a different request")
	ErrOutcomeUnknown      = errors.New("payment outcome unknown, poll the entry before retrying")
	ErrBalanceInvariant    = errors.New("balance update would make an aggregate negative")
)

type AccountStore interface {
	GetByID(ctx context.Context, accountID string) (models.Account, error)
	ApplyDelta(ctx context.Context, tx store.Execer, delta models.BalanceDelta) error
}

type EntryStore interface {
	Create(ctx context.Context, tx store.Execer, entry models.LedgerEntry) (bool, error)
	GetByID(ctx context.Context, entryID string) (models.LedgerEntry, error)
	GetForUpdate(ctx context.Context, tx store.Getter, entryID string) (models.LedgerEntry, error)
	Resolve(ctx context.Context, tx store.Getter, input store.ResolveInput) (models.LedgerEntry, error)
	MarkReconciled(ctx context.Context, tx store.Execer, entryID string) (bool, error)
	List(ctx context.Context, accountID string, filter store.EntryFilter) ([]models.LedgerEntry, error)
}

type OutboxStore interface {
	Enqueue(ctx context.Context, tx store.Execer, event models.ChangeEvent) error
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
}

type Gateways interface {
	Get(method models.Method) (gateway.Gateway, error)
}

// LedgerService runs the transaction workflow. Every status change, its
// balance effect, its change event and its audit row commit together.
type LedgerService struct {
	txRunner db.TxRunner
	accounts AccountStore
	entries  EntryStore
	outbox   OutboxStore
	audit    AuditStore
	gateways Gateways
	fees     gateway.FeePolicy
	recorder metrics.Recorder
	logger   *logging.Logger
	now      func() time.Time
	newID    func() string
}

func NewLedgerService(txRunner db.TxRunner, accounts AccountStore, entries EntryStore, outbox OutboxStore, audit AuditStore, gateways Gateways, fees gateway.FeePolicy, recorder metrics.Recorder, logger *logging.Logger) *LedgerService {
	return &LedgerService{
		txRunner: txRunner,
		accounts: accounts,
		entries:  entries,
		outbox:   outbox,
		audit:    audit,
		gateways: gateways,
		fees:     fees,
		recorder: metrics.OrNoOp(recorder),
		logger:   logging.OrNop(logger).Named("ledger"),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

type TimeTransferRequest struct {
	// EntryID is an optional idempotency key.
	EntryID       string
	Actor         models.Actor
	FromAccountID string
	ToAccountID   string
	// Hours in hundredths of an hour.
	Hours       int64
	Description string
}

// CreateTimeTransfer opens a pending transfer and reserves the hours on the
// paying side. The requester must be one of the two parties. Earned hours are
// not checked; the reservation only fails when the payer's account is missing.
func (s *LedgerService) CreateTimeTransfer(ctx context.Context, req TimeTransferRequest) (models.LedgerEntry, error) {
	if !money.ValidHours(req.Hours) {
		return models.LedgerEntry{}, ErrInvalidAmount
	}
	if req.FromAccountID == req.ToAccountID {
		return models.LedgerEntry{}, ErrSelfTransfer
	}
	if req.Actor.AccountID != req.FromAccountID && req.Actor.AccountID != req.ToAccountID {
		return models.LedgerEntry{}, ErrUnauthorized
	}
	from := req.FromAccountID
	to := req.ToAccountID
	entry := models.LedgerEntry{
		ID:            s.entryID(req.EntryID),
		Kind:          models.KindTimeTransfer,
		FromAccountID: &from,
		ToAccountID:   &to,
		Amount:        req.Hours,
		Description:   req.Description,
		Status:        models.StatusPending,
		RequestedBy:   req.Actor.AccountID,
		CreatedAt:     s.now(),
	}
	created := false
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		stored, inserted, err := s.insertEntry(ctx, tx, entry)
		if err != nil {
			return err
		}
		entry, created = stored, inserted
		if !inserted {
			return nil
		}
		for _, delta := range reconcile.Reserve(entry) {
			if err := s.accounts.ApplyDelta(ctx, tx, delta); err != nil {
				if errors.Is(err, store.ErrBalanceGuard) {
					return ErrNotFound
				}
				return err
			}
		}
		if err := s.emit(ctx, tx, entry); err != nil {
			return err
		}
		return s.logAudit(ctx, tx, req.Actor.AccountID, "time_transfer.create", entry)
	})
	if err != nil {
		return models.LedgerEntry{}, err
	}
	if created {
		s.transitioned(entry, req.Actor.AccountID)
	}
	return entry, nil
}

// ResolveTimeTransfer approves or rejects a pending transfer. Only the
// counterparty of the requester may decide.
func (s *LedgerService) ResolveTimeTransfer(ctx context.Context, entryID string, actor models.Actor, decision models.Decision) (models.LedgerEntry, error) {
	var target models.Status
	switch decision {
	case models.DecisionApprove:
		target = models.StatusApproved
	case models.DecisionReject:
		target = models.StatusRejected
	default:
		return models.LedgerEntry{}, ErrInvalidDecision
	}
	entry, err := s.loadEntry(ctx, entryID)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	if entry.Kind != models.KindTimeTransfer {
		return models.LedgerEntry{}, ErrWrongKind
	}
	if actor.AccountID == "" || actor.AccountID != entry.Counterparty() {
		return models.LedgerEntry{}, ErrUnauthorized
	}
	return s.transition(ctx, entry.ID, target, actor, "time_transfer."+string(decision))
}

// Cancel withdraws a pending time transfer or manual payment. Only the
// original requester may cancel. Pending card charges are excluded: the network
// may already have captured them, so staff settle them instead.
func (s *LedgerService) Cancel(ctx context.Context, entryID string, actor models.Actor) (models.LedgerEntry, error) {
	entry, err := s.loadEntry(ctx, entryID)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	if actor.AccountID == "" || entry.RequestedBy != actor.AccountID {
		return models.LedgerEntry{}, ErrUnauthorized
	}
	if entry.Kind != models.KindTimeTransfer && entry.MethodOrEmpty() != models.MethodExternalManual {
		return models.LedgerEntry{}, ErrNotCancellable
	}
	return s.transition(ctx, entry.ID, models.StatusCancelled, actor, "entry.cancel")
}

func (s *LedgerService) GetBalance(ctx context.Context, accountID string) (models.Account, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return models.Account{}, translate(err)
	}
	return account, nil
}

// GetEntry returns an entry visible to actor: a party to it or staff.
func (s *LedgerService) GetEntry(ctx context.Context, entryID string, actor models.Actor) (models.LedgerEntry, error) {
	entry, err := s.loadEntry(ctx, entryID)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	if !actor.IsStaff() && !entry.InvolvesAccount(actor.AccountID) && entry.RequestedBy != actor.AccountID {
		return models.LedgerEntry{}, ErrUnauthorized
	}
	return entry, nil
}

func (s *LedgerService) ListEntries(ctx context.Context, actor models.Actor, accountID string, filter store.EntryFilter) ([]models.LedgerEntry, error) {
	if actor.AccountID != accountID && !actor.IsStaff() {
		return nil, ErrUnauthorized
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	entries, err := s.entries.List(ctx, accountID, filter)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Reconcile reapplies the balance effect of a terminal entry. It reports
// false when the entry had already been reconciled.
func (s *LedgerService) Reconcile(ctx context.Context, entryID string, actor models.Actor) (bool, error) {
	if !actor.IsStaff() {
		return false, ErrUnauthorized
	}
	applied := false
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		entry, err := s.entries.GetForUpdate(ctx, tx, entryID)
		if err != nil {
			return translate(err)
		}
		if !entry.Status.Terminal() {
			return ErrNotTerminal
		}
		applied, err = s.settle(ctx, tx, entry)
		if err != nil || !applied {
			return err
		}
		return s.logAudit(ctx, tx, actor.AccountID, "entry.reconcile", entry)
	})
	if err != nil {
		return false, err
	}
	s.logger.Info("reconciliation replayed", zap.String("entry_id", entryID), zap.Bool("applied", applied))
	return applied, nil
}

// transition moves entryID from pending to target and applies its balance
// effect in the same transaction. Losing the compare-and-swap yields
// ErrAlreadyResolved.
func (s *LedgerService) transition(ctx context.Context, entryID string, target models.Status, actor models.Actor, action string) (models.LedgerEntry, error) {
	return s.transitionWithReference(ctx, entryID, target, actor, action, nil)
}

func (s *LedgerService) transitionWithReference(ctx context.Context, entryID string, target models.Status, actor models.Actor, action string, reference *string) (models.LedgerEntry, error) {
	var resolvedBy *string
	if actor.AccountID != "" {
		id := actor.AccountID
		resolvedBy = &id
	}
	var resolved models.LedgerEntry
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		entry, err := s.entries.Resolve(ctx, tx, store.ResolveInput{
			EntryID:           entryID,
			Status:            target,
			ResolvedBy:        resolvedBy,
			ExternalReference: reference,
		})
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrAlreadyResolved
			}
			return err
		}
		resolved = entry
		if _, err := s.settle(ctx, tx, entry); err != nil {
			return err
		}
		if err := s.emit(ctx, tx, entry); err != nil {
			return err
		}
		return s.logAudit(ctx, tx, actor.AccountID, action, entry)
	})
	if err != nil {
		return models.LedgerEntry{}, err
	}
	s.transitioned(resolved, actor.AccountID)
	return resolved, nil
}

// settle fences the entry and applies its reconciliation deltas. A second
// call for the same entry changes nothing.
func (s *LedgerService) settle(ctx context.Context, tx *sqlx.Tx, entry models.LedgerEntry) (bool, error) {
	deltas, err := reconcile.Reconcile(entry)
	if err != nil {
		return false, ErrNotTerminal
	}
	applied, err := s.entries.MarkReconciled(ctx, tx, entry.ID)
	if err != nil {
		return false, err
	}
	s.recorder.RecordReconciliation(applied)
	if !applied {
		return false, nil
	}
	for _, delta := range deltas {
		if err := s.accounts.ApplyDelta(ctx, tx, delta); err != nil {
			if !errors.Is(err, store.ErrBalanceGuard) {
				return false, err
			}
			if delta.WalletDelta < 0 {
				return false, ErrInsufficientFunds
			}
			s.logger.Error("balance guard rejected reconciliation",
				zap.String("entry_id", entry.ID),
				zap.String("account_id", delta.AccountID),
			)
			return false, ErrBalanceInvariant
		}
	}
	return true, nil
}

// insertEntry writes entry once. Replaying the same id returns the stored
// entry when it describes the same request.
func (s *LedgerService) insertEntry(ctx context.Context, tx *sqlx.Tx, entry models.LedgerEntry) (models.LedgerEntry, bool, error) {
	inserted, err := s.entries.Create(ctx, tx, entry)
	if err != nil {
		return models.LedgerEntry{}, false, translate(err)
	}
	if inserted {
		return entry, true, nil
	}
	existing, err := s.entries.GetForUpdate(ctx, tx, entry.ID)
	if err != nil {
		return models.LedgerEntry{}, false, translate(err)
	}
	if !sameRequest(existing, entry) {
		return models.LedgerEntry{}, false, ErrIdempotencyConflict
	}
	return existing, false, nil
}

func (s *LedgerService) emit(ctx context.Context, tx *sqlx.Tx, entry models.LedgerEntry) error {
	return s.outbox.Enqueue(ctx, tx, models.ChangeEvent{
		EventID:    s.newID(),
		EntryID:    entry.ID,
		AccountIDs: entry.AccountIDs(),
		NewStatus:  entry.Status,
		OccurredAt: s.now(),
	})
}

func (s *LedgerService) logAudit(ctx context.Context, tx *sqlx.Tx, actorID, action string, entry models.LedgerEntry) error {
	data, _ := json.Marshal(map[string]any{
		"entry_id": entry.ID,
		"kind":     entry.Kind,
		"status":   entry.Status,
		"amount":   entry.Amount,
		"fee":      entry.Fee,
		"method":   entry.MethodOrEmpty(),
	})
	return s.audit.Log(ctx, tx, actorID, action, "ledger_entry", entry.ID, string(data))
}

func (s *LedgerService) transitioned(entry models.LedgerEntry, actorID string) {
	s.recorder.RecordTransition(string(entry.Kind), string(entry.Status))
	s.logger.Info("ledger entry transition",
		zap.String("entry_id", entry.ID),
		zap.String("kind", string(entry.Kind)),
		zap.String("status", string(entry.Status)),
		zap.String("actor", actorID),
	)
}

func (s *LedgerService) loadEntry(ctx context.Context, entryID string) (models.LedgerEntry, error) {
	entry, err := s.entries.GetByID(ctx, entryID)
	if err != nil {
		return models.LedgerEntry{}, translate(err)
	}
	return entry, nil
}

func (s *LedgerService) entryID(requested string) string {
	if requested != "" {
		return requested
	}
	return s.newID()
}

func sameRequest(a, b models.LedgerEntry) bool {
	return a.Kind == b.Kind &&
		deref(a.FromAccountID) == deref(b.FromAccountID) &&
		deref(a.ToAccountID) == deref(b.ToAccountID) &&
		a.Amount == b.Amount &&
		a.MethodOrEmpty() == b.MethodOrEmpty() &&
		a.RequestedBy == b.RequestedBy
}

func translate(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23503" {
		return ErrNotFound
	}
	return err
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
