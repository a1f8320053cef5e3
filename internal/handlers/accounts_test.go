package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"timebank/internal/models"
	"timebank/internal/services"
	"timebank/internal/store"
)

func TestGetBalanceOwnAccount(t *testing.T) {
	handler := newTestHandler(fakeTxRunner{}, stubUserStore{}, stubAccountStore{}, stubAdminStore{}, stubAuditStore{}, stubLedgerService{
		balanceFn: func(_ context.Context, accountID string) (models.Account, error) {
			if accountID != "user-1" {
				t.Fatalf("unexpected account %q", accountID)
			}
			return models.Account{
				ID:            "user-1",
				HoursEarned:   250,
				HoursSpent:    100,
				HoursPending:  50,
				WalletBalance: 4850,
			}, nil
		},
	})

	rr := serveAs(t, handler, http.MethodGet, "/accounts/me/balance", "", "user-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	want := map[string]string{
		"hours_earned":   "2.5",
		"hours_spent":    "1.0",
		"hours_pending":  "0.5",
		"wallet_balance": "48.50",
	}
	for key, value := range want {
		if payload[key] != value {
			t.Fatalf("%s: expected %q, got %v", key, value, payload[key])
		}
	}
}

func TestGetBalanceOtherAccount(t *testing.T) {
	ledger := stubLedgerService{
		balanceFn: func(_ context.Context, accountID string) (models.Account, error) {
			return models.Account{ID: accountID}, nil
		},
	}
	admin := staffAdmin(map[string]store.Capabilities{"mod-1": {IsModerator: true}})
	handler := newTestHandler(fakeTxRunner{}, stubUserStore{}, stubAccountStore{}, admin, stubAuditStore{}, ledger)

	if rr := serveAs(t, handler, http.MethodGet, "/accounts/user-2/balance", "", "user-1"); rr.Code != http.StatusForbidden {
		t.Fatalf("member: expected 403, got %d", rr.Code)
	}
	if rr := serveAs(t, handler, http.MethodGet, "/accounts/user-2/balance", "", "mod-1"); rr.Code != http.StatusOK {
		t.Fatalf("staff: expected 200, got %d", rr.Code)
	}
}

func TestGetBalanceUnknownAccount(t *testing.T) {
	handler := newTestHandler(fakeTxRunner{}, stubUserStore{}, stubAccountStore{}, stubAdminStore{}, stubAuditStore{}, stubLedgerService{
		balanceFn: func(context.Context, string) (models.Account, error) {
			return models.Account{}, services.ErrNotFound
		},
	})
	rr := serveAs(t, handler, http.MethodGet, "/accounts/me/balance", "", "user-1")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestRoutesRequireToken(t *testing.T) {
	handler := newTestHandler(fakeTxRunner{}, stubUserStore{}, stubAccountStore{}, stubAdminStore{}, stubAuditStore{}, stubLedgerService{})
	for _, path := range []string{"/accounts/me/balance", "/entries", "/ws/events"} {
		if rr := serveAs(t, handler, http.MethodGet, path, "", ""); rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, rr.Code)
		}
	}
}

func TestHealth(t *testing.T) {
	handler := newTestHandler(fakeTxRunner{}, stubUserStore{}, stubAccountStore{}, stubAdminStore{}, stubAuditStore{}, stubLedgerService{})
	if rr := serveAs(t, handler, http.MethodGet, "/health", "", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr := serveAs(t, handler, http.MethodGet, "/metrics", "", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("metrics must not be mounted without a handler, got %d", rr.Code)
	}
}
