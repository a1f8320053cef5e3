package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"timebank/internal/middleware"
	"timebank/internal/models"
	"timebank/internal/money"
	"timebank/internal/services"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

type serviceError struct {
	err    error
	status int
	code   string
}

var serviceErrors = []serviceError{
	{services.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{services.ErrSelfTransfer, http.StatusBadRequest, "self_transfer"},
	{services.ErrInvalidMethod, http.StatusBadRequest, "invalid_method"},
	{services.ErrInvalidDecision, http.StatusBadRequest, "invalid_decision"},
	{services.ErrInvalidStatus, http.StatusBadRequest, "invalid_status"},
	{services.ErrReceiverRequired, http.StatusBadRequest, "receiver_required"},
	{services.ErrInsufficientFunds, http.StatusBadRequest, "insufficient_funds"},
	{services.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{services.ErrNotFound, http.StatusNotFound, "not_found"},
	{services.ErrAlreadyResolved, http.StatusConflict, "already_resolved"},
	{services.ErrWrongKind, http.StatusConflict, "wrong_kind"},
	{services.ErrNotCancellable, http.StatusConflict, "not_cancellable"},
	{services.ErrNotTerminal, http.StatusConflict, "not_terminal"},
	{services.ErrIdempotencyConflict, http.StatusConflict, "idempotency_conflict"},
	{services.ErrGatewayFailure, http.StatusPaymentRequired, "gateway_failure"},
	{services.ErrOutcomeUnknown, http.StatusAccepted, "outcome_unknown"},
}

// errorStatus maps a workflow error onto an HTTP status and a stable code.
func errorStatus(err error) (int, string) {
	for _, candidate := range serviceErrors {
		if errors.Is(err, candidate.err) {
			return candidate.status, candidate.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

func respondServiceError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	respondError(w, status, code)
}

// respondEntry writes the outcome of a workflow mutation. A declined charge or
// an unknown gateway outcome still recorded an entry, so it is returned with
// the error code.
func respondEntry(w http.ResponseWriter, status int, entry models.LedgerEntry, err error) {
	if err == nil {
		respondJSON(w, status, newEntryView(entry))
		return
	}
	if entry.ID != "" && (errors.Is(err, services.ErrGatewayFailure) || errors.Is(err, services.ErrOutcomeUnknown)) {
		code, message := errorStatus(err)
		respondJSON(w, code, map[string]any{
			"error": message,
			"entry": newEntryView(entry),
		})
		return
	}
	respondServiceError(w, err)
}

func actorFrom(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return models.Actor{}, false
	}
	return actor, true
}

type entryView struct {
	ID                string     `json:"id"`
	Kind              string     `json:"kind"`
	FromAccountID     *string    `json:"from_account_id"`
	ToAccountID       *string    `json:"to_account_id"`
	Amount            string     `json:"amount"`
	AmountUnits       int64      `json:"amount_units"`
	Fee               string     `json:"fee,omitempty"`
	Method            string     `json:"method,omitempty"`
	Description       string     `json:"description"`
	Status            string     `json:"status"`
	RequestedBy       string     `json:"requested_by"`
	ResolvedBy        *string    `json:"resolved_by,omitempty"`
	ExternalReference *string    `json:"external_reference,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
}

func newEntryView(entry models.LedgerEntry) entryView {
	view := entryView{
		ID:                entry.ID,
		Kind:              string(entry.Kind),
		FromAccountID:     entry.FromAccountID,
		ToAccountID:       entry.ToAccountID,
		AmountUnits:       entry.Amount,
		Method:            string(entry.MethodOrEmpty()),
		Description:       entry.Description,
		Status:            string(entry.Status),
		RequestedBy:       entry.RequestedBy,
		ResolvedBy:        entry.ResolvedBy,
		ExternalReference: entry.ExternalReference,
		CreatedAt:         entry.CreatedAt,
		ResolvedAt:        entry.ResolvedAt,
	}
	if entry.Kind == models.KindTimeTransfer {
		view.Amount = money.FormatHours(entry.Amount)
	} else {
		view.Amount = money.FormatMinor(entry.Amount)
	}
	if entry.Fee > 0 {
		view.Fee = money.FormatMinor(entry.Fee)
	}
	return view
}

func newEntryViews(entries []models.LedgerEntry) []entryView {
	views := make([]entryView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, newEntryView(entry))
	}
	return views
}

func balanceView(account models.Account) map[string]any {
	return map[string]any{
		"account_id":     account.ID,
		"hours_earned":   money.FormatHours(account.HoursEarned),
		"hours_spent":    money.FormatHours(account.HoursSpent),
		"hours_pending":  money.FormatHours(account.HoursPending),
		"wallet_balance": money.FormatMinor(account.WalletBalance),
		"updated_at":     account.UpdatedAt,
	}
}

func parseInt(raw string, fallback int) int {
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
