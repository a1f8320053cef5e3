package handlers

import (
	"encoding/json"
	"net/http"

	"timebank/internal/gateway"
	"timebank/internal/models"
	"timebank/internal/services"
)

type cardRequest struct {
	Number string `json:"number"`
	Expiry string `json:"expiry"`
	CVV    string `json:"cvv"`
}

type chargeRequest struct {
	EntryID     string       `json:"entry_id"`
	PayerID     string       `json:"payer_id"`
	ReceiverID  string       `json:"receiver_id"`
	Amount      string       `json:"amount"`
	Method      string       `json:"method"`
	Description string       `json:"description"`
	Card        *cardRequest `json:"card,omitempty"`
	Reference   string       `json:"reference"`
}

// ChargeWallet records a wallet payment through the gateway for its method.
// Card and manual payments fund the payer's own wallet when no payer is given.
func (h *Handler) ChargeWallet(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req chargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	amount, err := parseAmountMinor(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	if req.PayerID == "" {
		req.PayerID = actor.AccountID
	}
	charge := services.ChargeRequest{
		EntryID:     req.EntryID,
		Actor:       actor,
		PayerID:     req.PayerID,
		ReceiverID:  req.ReceiverID,
		Amount:      amount,
		Method:      models.Method(req.Method),
		Description: req.Description,
		Reference:   req.Reference,
	}
	if req.Card != nil {
		charge.Card = &gateway.CardDetails{
			Number: req.Card.Number,
			Expiry: req.Card.Expiry,
			CVV:    req.Card.CVV,
		}
	}
	entry, err := h.ledger.ChargeWallet(r.Context(), charge)
	respondEntry(w, http.StatusCreated, entry, err)
}
