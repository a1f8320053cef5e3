package handlers

import (
	"net/http"

	"timebank/internal/websocket"

	"github.com/go-chi/chi/v5"
)

// GetBalance returns the cached aggregates of one account. Members may only
// read their own account.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	accountID := chi.URLParam(r, "id")
	if accountID == "me" {
		accountID = actor.AccountID
	}
	if accountID != actor.AccountID && !actor.IsStaff() {
		respondError(w, http.StatusForbidden, "access denied")
		return
	}
	account, err := h.ledger.GetBalance(r.Context(), accountID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, balanceView(account))
}

// WSEvents upgrades the connection and streams change events for the
// caller's account.
func (h *Handler) WSEvents(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if h.hub == nil {
		respondError(w, http.StatusServiceUnavailable, "events unavailable")
		return
	}
	websocket.ServeWS(w, r, h.hub, actor.AccountID)
}
