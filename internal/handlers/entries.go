package handlers

import (
	"encoding/json"
	"net/http"

	"timebank/internal/models"
	"timebank/internal/services"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	filter, err := parseEntryFilter(query)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	accountID := query.Get("account_id")
	if accountID == "" {
		accountID = actor.AccountID
	}
	entries, err := h.ledger.ListEntries(r.Context(), actor, accountID, filter)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newEntryViews(entries))
}

func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	entry, err := h.ledger.GetEntry(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newEntryView(entry))
}

func (h *Handler) CancelEntry(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	entry, err := h.ledger.Cancel(r.Context(), chi.URLParam(r, "id"), actor)
	respondEntry(w, http.StatusOK, entry, err)
}

type transferRequest struct {
	EntryID       string `json:"entry_id"`
	FromAccountID string `json:"from_account_id"`
	ToAccountID   string `json:"to_account_id"`
	Hours         string `json:"hours"`
	Description   string `json:"description"`
}

// CreateTransfer opens a time transfer. from_account_id defaults to the
// caller, so a member offering hours only names the receiver.
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	hours, err := parseHours(req.Hours)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	if req.FromAccountID == "" {
		req.FromAccountID = actor.AccountID
	}
	entry, err := h.ledger.CreateTimeTransfer(r.Context(), services.TimeTransferRequest{
		EntryID:       req.EntryID,
		Actor:         actor,
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		Hours:         hours,
		Description:   req.Description,
	})
	respondEntry(w, http.StatusCreated, entry, err)
}

type resolveRequest struct {
	Decision string `json:"decision"`
}

func (h *Handler) ResolveTransfer(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	entry, err := h.ledger.ResolveTimeTransfer(r.Context(), chi.URLParam(r, "id"), actor, models.Decision(req.Decision))
	respondEntry(w, http.StatusOK, entry, err)
}
