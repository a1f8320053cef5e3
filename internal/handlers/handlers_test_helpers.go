package handlers

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"timebank/internal/auth"
	"timebank/internal/config"
	"timebank/internal/db"
	"timebank/internal/models"
	"timebank/internal/services"
	"timebank/internal/store"
	"timebank/internal/websocket"

	"github.com/jmoiron/sqlx"
)

type fakeTxRunner struct {
	withTxFn func(ctx context.Context, fn func(*sqlx.Tx) error) error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.withTxFn != nil {
		return f.withTxFn(ctx, fn)
	}
	return fn(nil)
}

type stubUserStore struct {
	createFn     func(ctx context.Context, tx store.Execer, id, username, email, passwordHash string) error
	getByEmailFn func(ctx context.Context, email string) (models.User, error)
	getByIDFn    func(ctx context.Context, userID string) (models.User, error)
}

func (s stubUserStore) Create(ctx context.Context, tx store.Execer, id, username, email, passwordHash string) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, id, username, email, passwordHash)
}

func (s stubUserStore) GetByEmail(ctx context.Context, email string) (models.User, error) {
	if s.getByEmailFn == nil {
		return models.User{}, nil
	}
	return s.getByEmailFn(ctx, email)
}

func (s stubUserStore) GetByID(ctx context.Context, userID string) (models.User, error) {
	if s.getByIDFn == nil {
		return models.User{}, nil
	}
	return s.getByIDFn(ctx, userID)
}

type stubAccountStore struct {
	createFn func(ctx context.Context, tx store.Execer, id string, userID *string, isSystem bool) error
	driftFn  func(ctx context.Context) ([]store.BalanceDrift, error)
}

func (s stubAccountStore) Create(ctx context.Context, tx store.Execer, id string, userID *string, isSystem bool) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, id, userID, isSystem)
}

func (s stubAccountStore) DriftReport(ctx context.Context) ([]store.BalanceDrift, error) {
	if s.driftFn == nil {
		return nil, nil
	}
	return s.driftFn(ctx)
}

type stubAdminStore struct {
	capabilitiesFn func(ctx context.Context, userID string) (store.Capabilities, error)
	isAdminFn      func(ctx context.Context, userID string) (bool, bool, error)
	createAdminFn  func(ctx context.Context, tx store.Execer, userID string, isSuper bool, createdBy *string) error
	grantRoleFn    func(ctx context.Context, tx store.Execer, adminUserID, role string) error
	hasAnyAdminFn  func(ctx context.Context) (bool, error)
}

func (s stubAdminStore) Capabilities(ctx context.Context, userID string) (store.Capabilities, error) {
	if s.capabilitiesFn == nil {
		return store.Capabilities{}, nil
	}
	return s.capabilitiesFn(ctx, userID)
}

func (s stubAdminStore) IsAdmin(ctx context.Context, userID string) (bool, bool, error) {
	if s.isAdminFn == nil {
		return false, false, nil
	}
	return s.isAdminFn(ctx, userID)
}

func (s stubAdminStore) CreateAdmin(ctx context.Context, tx store.Execer, userID string, isSuper bool, createdBy *string) error {
	if s.createAdminFn == nil {
		return nil
	}
	return s.createAdminFn(ctx, tx, userID, isSuper, createdBy)
}

func (s stubAdminStore) GrantRole(ctx context.Context, tx store.Execer, adminUserID, role string) error {
	if s.grantRoleFn == nil {
		return nil
	}
	return s.grantRoleFn(ctx, tx, adminUserID, role)
}

func (s stubAdminStore) HasAnyAdmin(ctx context.Context) (bool, error) {
	if s.hasAnyAdminFn == nil {
		return true, nil
	}
	return s.hasAnyAdminFn(ctx)
}

// staffAdmin grants the given capabilities to every user id in caps.
func staffAdmin(caps map[string]store.Capabilities) stubAdminStore {
	return stubAdminStore{
		capabilitiesFn: func(_ context.Context, userID string) (store.Capabilities, error) {
			return caps[userID], nil
		},
	}
}

type stubAuditStore struct {
	logFn  func(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
	listFn func(ctx context.Context, entityID string, limit, offset int) ([]store.AuditLog, error)
}

func (s stubAuditStore) Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error {
	if s.logFn == nil {
		return nil
	}
	return s.logFn(ctx, tx, actorID, action, entityType, entityID, data)
}

func (s stubAuditStore) List(ctx context.Context, entityID string, limit, offset int) ([]store.AuditLog, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, entityID, limit, offset)
}

type stubLedgerService struct {
	createTransferFn  func(ctx context.Context, req services.TimeTransferRequest) (models.LedgerEntry, error)
	resolveTransferFn func(ctx context.Context, entryID string, actor models.Actor, decision models.Decision) (models.LedgerEntry, error)
	cancelFn          func(ctx context.Context, entryID string, actor models.Actor) (models.LedgerEntry, error)
	chargeFn          func(ctx context.Context, req services.ChargeRequest) (models.LedgerEntry, error)
	confirmFn         func(ctx context.Context, entryID string, actor models.Actor) (models.LedgerEntry, error)
	rejectFn          func(ctx context.Context, entryID string, actor models.Actor) (models.LedgerEntry, error)
	balanceFn         func(ctx context.Context, accountID string) (models.Account, error)
	getEntryFn        func(ctx context.Context, entryID string, actor models.Actor) (models.LedgerEntry, error)
	listEntriesFn     func(ctx context.Context, actor models.Actor, accountID string, filter store.EntryFilter) ([]models.LedgerEntry, error)
	reconcileFn       func(ctx context.Context, entryID string, actor models.Actor) (bool, error)
}

func (s stubLedgerService) CreateTimeTransfer(ctx context.Context, req services.TimeTransferRequest) (models.LedgerEntry, error) {
	if s.createTransferFn == nil {
		return models.LedgerEntry{}, nil
	}
	return s.createTransferFn(ctx, req)
}

func (s stubLedgerService) ResolveTimeTransfer(ctx context.Context, entryID string, actor models.Actor, decision models.Decision) (models.LedgerEntry, error) {
	if s.resolveTransferFn == nil {
		return models.LedgerEntry{}, nil
	}
	return s.resolveTransferFn(ctx, entryID, actor, decision)
}

func (s stubLedgerService) Cancel(ctx context.Context, entryID string, actor models.Actor) (models.LedgerEntry, error) {
	if s.cancelFn == nil {
		return models.LedgerEntry{}, nil
	}
	return s.cancelFn(ctx, entryID, actor)
}

func (s stubLedgerService) ChargeWallet(ctx context.Context, req services.ChargeRequest) (models.LedgerEntry, error) {
	if s.chargeFn == nil {
		return models.LedgerEntry{}, nil
	}
	return s.chargeFn(ctx, req)
}

func (s stubLedgerService) ConfirmManualPayment(ctx context.Context, entryID string, actor models.Actor) (models.LedgerEntry, error) {
	if s.confirmFn == nil {
		return models.LedgerEntry{}, nil
	}
	return s.confirmFn(ctx, entryID, actor)
}

func (s stubLedgerService) RejectManualPayment(ctx context.Context, entryID string, actor models.Actor) (models.LedgerEntry, error) {
	if s.rejectFn == nil {
		return models.LedgerEntry{}, nil
	}
	return s.rejectFn(ctx, entryID, actor)
}

func (s stubLedgerService) GetBalance(ctx context.Context, accountID string) (models.Account, error) {
	if s.balanceFn == nil {
		return models.Account{}, nil
	}
	return s.balanceFn(ctx, accountID)
}

func (s stubLedgerService) GetEntry(ctx context.Context, entryID string, actor models.Actor) (models.LedgerEntry, error) {
	if s.getEntryFn == nil {
		return models.LedgerEntry{}, nil
	}
	return s.getEntryFn(ctx, entryID, actor)
}

func (s stubLedgerService) ListEntries(ctx context.Context, actor models.Actor, accountID string, filter store.EntryFilter) ([]models.LedgerEntry, error) {
	if s.listEntriesFn == nil {
		return nil, nil
	}
	return s.listEntriesFn(ctx, actor, accountID, filter)
}

func (s stubLedgerService) Reconcile(ctx context.Context, entryID string, actor models.Actor) (bool, error) {
	if s.reconcileFn == nil {
		return false, nil
	}
	return s.reconcileFn(ctx, entryID, actor)
}

func newTestHandler(txRunner db.TxRunner, users UserStore, accounts AccountStore, admin AdminStore, audit AuditStore, ledger LedgerService) *Handler {
	cfg := config.Config{
		AppEnv:         "test",
		Port:           "0",
		DatabaseURL:    "",
		JWTSecret:      "secret",
		TokenTTL:       time.Minute,
		AllowedOrigins: "*",
	}
	return New(txRunner, cfg, users, accounts, admin, audit, ledger, websocket.NewHub(nil), nil, nil)
}

// serveAs routes a request through the full router with a token for userID.
// An empty userID sends no token.
func serveAs(t *testing.T, h *Handler, method, path, body, userID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		token, err := auth.GenerateToken("secret", userID, time.Minute)
		if err != nil {
			t.Fatalf("failed to generate token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)
	return rr
}

func stringPtr(value string) *string {
	return &value
}

func methodPtr(value models.Method) *models.Method {
	return &value
}
