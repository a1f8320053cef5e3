package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"timebank/internal/models"
	"timebank/internal/services"
	"timebank/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

type creditRequest struct {
	EntryID     string `json:"entry_id"`
	AccountID   string `json:"account_id"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

// AdminCredit deposits wallet funds into an account without an external
// payment.
func (h *Handler) AdminCredit(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req creditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccountID == "" {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	amount, err := parseAmountMinor(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	entry, err := h.ledger.ChargeWallet(r.Context(), services.ChargeRequest{
		EntryID:     req.EntryID,
		Actor:       actor,
		ReceiverID:  req.AccountID,
		Amount:      amount,
		Method:      models.MethodAdminCredit,
		Description: req.Description,
	})
	respondEntry(w, http.StatusCreated, entry, err)
}

func (h *Handler) ConfirmManualPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	entry, err := h.ledger.ConfirmManualPayment(r.Context(), chi.URLParam(r, "id"), actor)
	respondEntry(w, http.StatusOK, entry, err)
}

func (h *Handler) RejectManualPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	entry, err := h.ledger.RejectManualPayment(r.Context(), chi.URLParam(r, "id"), actor)
	respondEntry(w, http.StatusOK, entry, err)
}

// ReconcileEntry reapplies the balance effect of a terminal entry if it was
// never applied.
func (h *Handler) ReconcileEntry(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	entryID := chi.URLParam(r, "id")
	applied, err := h.ledger.Reconcile(r.Context(), entryID, actor)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"entry_id": entryID,
		"applied":  applied,
	})
}

// DriftReport lists accounts whose cached aggregates disagree with ledger
// history.
func (h *Handler) DriftReport(w http.ResponseWriter, r *http.Request) {
	rows, err := h.accounts.DriftReport(r.Context())
	if err != nil {
		h.logger.Error("drift report failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "unable to compute drift")
		return
	}
	if rows == nil {
		rows = []store.BalanceDrift{}
	}
	respondJSON(w, http.StatusOK, rows)
}

func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := parseInt(query.Get("limit"), 50)
	page := parseInt(query.Get("page"), 1)
	offset := (page - 1) * limit
	logs, err := h.audit.List(r.Context(), query.Get("entity_id"), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load audit logs")
		return
	}
	if logs == nil {
		logs = []store.AuditLog{}
	}
	respondJSON(w, http.StatusOK, logs)
}

type promoteRequest struct {
	Identifier string `json:"identifier"`
}

// PromoteAdmin adds an admins row for the user named by email or id. The new
// admin has no role until one is granted.
func (h *Handler) PromoteAdmin(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req promoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identifier == "" {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	var targetUserID string
	var err error
	if strings.Contains(req.Identifier, "@") {
		var user models.User
		user, err = h.users.GetByEmail(r.Context(), req.Identifier)
		targetUserID = user.ID
	} else {
		var user models.User
		user, err = h.users.GetByID(r.Context(), req.Identifier)
		targetUserID = user.ID
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusNotFound, "user not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to resolve user")
		return
	}
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		createdBy := actor.AccountID
		if err := h.admin.CreateAdmin(r.Context(), tx, targetUserID, false, &createdBy); err != nil {
			return err
		}
		data, _ := json.Marshal(map[string]string{
			"target_user_id": targetUserID,
		})
		return h.audit.Log(r.Context(), tx, actor.AccountID, "promote_admin", "admin", targetUserID, string(data))
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to promote admin")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"status": "promoted"})
}

type grantRoleRequest struct {
	AdminUserID string `json:"admin_user_id"`
	Role        string `json:"role"`
}

func (h *Handler) GrantRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req grantRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AdminUserID == "" {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Role != store.RoleAdmin && req.Role != store.RoleModerator {
		respondError(w, http.StatusBadRequest, "invalid role")
		return
	}
	isAdmin, isSuper, err := h.admin.IsAdmin(r.Context(), req.AdminUserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to verify target admin")
		return
	}
	if !isAdmin {
		respondError(w, http.StatusBadRequest, "target is not an admin")
		return
	}
	if isSuper {
		respondError(w, http.StatusBadRequest, "cannot assign roles to super admin")
		return
	}
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		if err := h.admin.GrantRole(r.Context(), tx, req.AdminUserID, req.Role); err != nil {
			return err
		}
		data, _ := json.Marshal(map[string]string{
			"admin_user_id": req.AdminUserID,
			"role":          req.Role,
		})
		return h.audit.Log(r.Context(), tx, actor.AccountID, "grant_role", "admin_role", req.AdminUserID, string(data))
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to grant role")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"status": "role_granted"})
}
