package services

import (
	"context"
	"errors"

	"timebank/internal/gateway"
	"timebank/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

type ChargeRequest struct {
	// EntryID is an optional idempotency key. Resubmitting a known id returns
	// the stored entry without contacting the gateway again.
	EntryID     string
	Actor       models.Actor
	PayerID     string
	ReceiverID  string
	Amount      int64
	Method      models.Method
	Description string
	Card        *gateway.CardDetails
	Reference   string
}

// ChargeWallet moves wallet funds through the gateway registered for the
// request's method.
//
// Wallet and admin credit settle in one transaction as completed entries. Card
// charges are recorded pending before the network call, so a lost response
// leaves an entry to poll. Manual payments stay pending until staff resolve
// them.
func (s *LedgerService) ChargeWallet(ctx context.Context, req ChargeRequest) (models.LedgerEntry, error) {
	entry, err := s.buildCharge(req)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	if req.EntryID != "" {
		existing, err := s.entries.GetByID(ctx, req.EntryID)
		if err == nil {
			if !sameRequest(existing, entry) {
				return models.LedgerEntry{}, ErrIdempotencyConflict
			}
			return existing, nil
		}
		if !errors.Is(translate(err), ErrNotFound) {
			return models.LedgerEntry{}, err
		}
	}
	if req.Method == models.MethodWallet {
		payer, err := s.accounts.GetByID(ctx, entry.RequestedBy)
		if err != nil {
			return models.LedgerEntry{}, translate(err)
		}
		if payer.WalletBalance < req.Amount {
			return models.LedgerEntry{}, ErrInsufficientFunds
		}
	}
	gw, err := s.gateways.Get(req.Method)
	if err != nil {
		return models.LedgerEntry{}, ErrInvalidMethod
	}
	charge := gateway.Charge{
		EntryID:   entry.ID,
		PayerID:   entry.RequestedBy,
		Amount:    req.Amount,
		Method:    req.Method,
		Actor:     req.Actor,
		Card:      req.Card,
		Reference: req.Reference,
	}
	if req.Method == models.MethodCard {
		return s.chargeCard(ctx, gw, charge, entry, req.Actor)
	}
	result, err := gw.AuthorizeAndCapture(ctx, charge)
	if err != nil {
		if errors.Is(err, gateway.ErrUnauthorized) {
			return models.LedgerEntry{}, ErrUnauthorized
		}
		return models.LedgerEntry{}, err
	}
	return s.recordCharge(ctx, entry, result, req.Actor)
}

// ConfirmManualPayment completes a pending external payment. Staff may also
// settle a card entry whose gateway outcome was unknown.
func (s *LedgerService) ConfirmManualPayment(ctx context.Context, entryID string, actor models.Actor) (models.LedgerEntry, error) {
	return s.resolvePayment(ctx, entryID, actor, models.StatusCompleted, "manual_payment.confirm")
}

func (s *LedgerService) RejectManualPayment(ctx context.Context, entryID string, actor models.Actor) (models.LedgerEntry, error) {
	return s.resolvePayment(ctx, entryID, actor, models.StatusFailed, "manual_payment.reject")
}

func (s *LedgerService) resolvePayment(ctx context.Context, entryID string, actor models.Actor, target models.Status, action string) (models.LedgerEntry, error) {
	if !actor.IsAdmin && !actor.IsModerator && !actor.IsOwner {
		return models.LedgerEntry{}, ErrUnauthorized
	}
	entry, err := s.loadEntry(ctx, entryID)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	if entry.RequestedBy == actor.AccountID {
		return models.LedgerEntry{}, ErrUnauthorized
	}
	method := entry.MethodOrEmpty()
	if entry.Kind == models.KindTimeTransfer || (method != models.MethodExternalManual && method != models.MethodCard) {
		return models.LedgerEntry{}, ErrWrongKind
	}
	return s.transition(ctx, entry.ID, target, actor, action)
}

func (s *LedgerService) buildCharge(req ChargeRequest) (models.LedgerEntry, error) {
	if !req.Method.Valid() {
		return models.LedgerEntry{}, ErrInvalidMethod
	}
	if req.Amount <= 0 {
		return models.LedgerEntry{}, ErrInvalidAmount
	}
	payer := req.PayerID
	if payer == "" {
		payer = req.Actor.AccountID
	}
	if payer == "" {
		return models.LedgerEntry{}, ErrUnauthorized
	}
	if req.Method == models.MethodAdminCredit {
		if !req.Actor.IsAdmin {
			return models.LedgerEntry{}, ErrUnauthorized
		}
	} else if payer != req.Actor.AccountID {
		return models.LedgerEntry{}, ErrUnauthorized
	}
	fee, feeAccount := s.fees.FeeFor(req.Method)
	if fee >= req.Amount {
		return models.LedgerEntry{}, ErrInvalidAmount
	}
	method := req.Method
	entry := models.LedgerEntry{
		ID:          s.entryID(req.EntryID),
		Amount:      req.Amount,
		Fee:         fee,
		Method:      &method,
		Description: req.Description,
		Status:      models.StatusPending,
		RequestedBy: req.Actor.AccountID,
		CreatedAt:   s.now(),
	}
	if feeAccount != nil {
		entry.FeeAccountID = feeAccount
	}
	var receiver *string
	if req.ReceiverID != "" {
		id := req.ReceiverID
		receiver = &id
	}
	switch req.Method {
	case models.MethodAdminCredit:
		entry.Kind = models.KindWalletDeposit
		target := payer
		if receiver != nil {
			target = *receiver
		}
		entry.ToAccountID = &target
	case models.MethodWallet:
		if receiver == nil {
			return models.LedgerEntry{}, ErrReceiverRequired
		}
		if *receiver == payer {
			return models.LedgerEntry{}, ErrSelfTransfer
		}
		entry.Kind = models.KindWalletCharge
		entry.FromAccountID = &payer
		entry.ToAccountID = receiver
	default:
		entry.Kind = models.KindWalletDeposit
		entry.FromAccountID = &payer
		if receiver != nil && *receiver != payer {
			entry.Kind = models.KindWalletCharge
			entry.ToAccountID = receiver
		}
	}
	if req.Method == models.MethodExternalManual && req.Reference != "" {
		reference := req.Reference
		entry.ExternalReference = &reference
	}
	return entry, nil
}

// recordCharge writes the entry in the state the gateway reported. Completed
// entries are reconciled in the same transaction.
func (s *LedgerService) recordCharge(ctx context.Context, entry models.LedgerEntry, result gateway.Result, actor models.Actor) (models.LedgerEntry, error) {
	entry, _, err := s.writeCharge(ctx, entry, result, actor)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	if entry.Status == models.StatusFailed {
		return entry, ErrGatewayFailure
	}
	return entry, nil
}

// writeCharge also reports whether this call inserted the entry.
func (s *LedgerService) writeCharge(ctx context.Context, entry models.LedgerEntry, result gateway.Result, actor models.Actor) (models.LedgerEntry, bool, error) {
	entry.Status = result.Status
	if result.ExternalReference != "" {
		reference := result.ExternalReference
		entry.ExternalReference = &reference
	}
	if entry.Status.Terminal() {
		resolvedAt := s.now()
		entry.ResolvedAt = &resolvedAt
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
		if entry.Status.Terminal() {
			if _, err := s.settle(ctx, tx, entry); err != nil {
				return err
			}
		}
		if err := s.emit(ctx, tx, entry); err != nil {
			return err
		}
		return s.logAudit(ctx, tx, actor.AccountID, "wallet_charge."+string(entry.MethodOrEmpty()), entry)
	})
	if err != nil {
		return models.LedgerEntry{}, false, err
	}
	if created {
		s.transitioned(entry, actor.AccountID)
	}
	return entry, created, nil
}

// chargeCard records the entry as pending before contacting the network. Only
// the call that inserted the entry captures; a concurrent replay of the same
// entry id returns the stored entry.
func (s *LedgerService) chargeCard(ctx context.Context, gw gateway.Gateway, charge gateway.Charge, entry models.LedgerEntry, actor models.Actor) (models.LedgerEntry, error) {
	pending, created, err := s.writeCharge(ctx, entry, gateway.Result{Status: models.StatusPending}, actor)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	if !created {
		return pending, nil
	}
	result, err := gw.AuthorizeAndCapture(ctx, charge)
	if err != nil {
		s.logger.Warn("card charge left pending",
			zap.String("entry_id", pending.ID),
			zap.Error(err),
		)
		return pending, ErrOutcomeUnknown
	}
	if result.Status != models.StatusCompleted && result.Status != models.StatusFailed {
		return pending, ErrOutcomeUnknown
	}
	var reference *string
	if result.ExternalReference != "" {
		reference = &result.ExternalReference
	}
	settled, err := s.transitionWithReference(ctx, pending.ID, result.Status, models.Actor{}, "wallet_charge.card", reference)
	if err != nil {
		return pending, err
	}
	if settled.Status == models.StatusFailed {
		s.logger.Warn("card charge declined",
			zap.String("entry_id", settled.ID),
			zap.String("reason", result.Reason),
		)
		return settled, ErrGatewayFailure
	}
	return settled, nil
}
