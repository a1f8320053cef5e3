package handlers

import (
	"context"

	"timebank/internal/models"
	"timebank/internal/services"
	"timebank/internal/store"
)

type UserStore interface {
	Create(ctx context.Context, tx store.Execer, id, username, email, passwordHash string) error
	GetByEmail(ctx context.Context, email string) (models.User, error)
	GetByID(ctx context.Context, userID string) (models.User, error)
}

type AccountStore interface {
	Create(ctx context.Context, tx store.Execer, id string, userID *string, isSystem bool) error
	DriftReport(ctx context.Context) ([]store.BalanceDrift, error)
}

type AdminStore interface {
	Capabilities(ctx context.Context, userID string) (store.Capabilities, error)
	IsAdmin(ctx context.Context, userID string) (bool, bool, error)
	CreateAdmin(ctx context.Context, tx store.Execer, userID string, isSuper bool, createdBy *string) error
	GrantRole(ctx context.Context, tx store.Execer, adminUserID, role string) error
	HasAnyAdmin(ctx context.Context) (bool, error)
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
	List(ctx context.Context, entityID string, limit, offset int) ([]store.AuditLog, error)
}

type LedgerService interface {
	CreateTimeTransfer(ctx context.Context, req services.TimeTransferRequest) (models.LedgerEntry, error)
	ResolveTimeTransfer(ctx context.Context, entryID string, actor models.Actor, decision models.Decision) (models.LedgerEntry, error)
	Cancel(ctx context.Context, entryID string, actor models.Actor) (models.LedgerEntry, error)
	ChargeWallet(ctx context.Context, req services.ChargeRequest) (models.LedgerEntry, error)
	ConfirmManualPayment(ctx context.Context, entryID string, actor models.Actor) (models.LedgerEntry, error)
	RejectManualPayment(ctx context.Context, entryID string, actor models.Actor) (models.LedgerEntry, error)
	GetBalance(ctx context.Context, accountID string) (models.Account, error)
	GetEntry(ctx context.Context, entryID string, actor models.Actor) (models.LedgerEntry, error)
	ListEntries(ctx context.Context, actor models.Actor, accountID string, filter store.EntryFilter) ([]models.LedgerEntry, error)
	Reconcile(ctx context.Context, entryID string, actor models.Actor) (bool, error)
}
