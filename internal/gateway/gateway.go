// Package gateway turns a payment request into a settlement outcome. Only a
// gateway result authorizes a wallet ledger mutation.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"timebank/internal/models"
)

var (
	ErrUnsupportedMethod = errors.New("unsupported payment method")
	ErrUnauthorized      = errors.New("administrative capability required")
	// ErrOutcomeUnknown means the charge may or may not have been captured.
	// Callers poll the entry instead of resubmitting.
	ErrOutcomeUnknown = errors.New("gateway outcome unknown")
)

type CardDetails struct {
	Number string
	Expiry string
	CVV    string
}

type Charge struct {
	EntryID   string
	PayerID   string
	Amount    int64
	Method    models.Method
	Actor     models.Actor
	Card      *CardDetails
	Reference string
	Metadata  map[string]string
}

// Result is the gateway verdict: completed, failed or pending.
type Result struct {
	Status            models.Status
	ExternalReference string
	Reason            string
}

type Gateway interface {
	AuthorizeAndCapture(ctx context.Context, charge Charge) (Result, error)
}

type Registry struct {
	mu       sync.RWMutex
	gateways map[models.Method]Gateway
}

func NewRegistry() *Registry {
	return &Registry{gateways: map[models.Method]Gateway{}}
}

func (r *Registry) Register(method models.Method, gateway Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[method] = gateway
}

func (r *Registry) Get(method models.Method) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gateway, ok := r.gateways[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
	return gateway, nil
}

// FeePolicy charges a flat processing fee on card payments. The fee is carved
// out of the charged amount and credited to FeeAccountID.
type FeePolicy struct {
	CardFee      int64
	FeeAccountID string
}

func (p FeePolicy) FeeFor(method models.Method) (int64, *string) {
	if method != models.MethodCard || p.CardFee <= 0 || p.FeeAccountID == "" {
		return 0, nil
	}
	account := p.FeeAccountID
	return p.CardFee, &account
}

// WalletGateway settles internal wallet debits. The balance check happens in
// the workflow before the gateway is called.
type WalletGateway struct{}

func (WalletGateway) AuthorizeAndCapture(ctx context.Context, charge Charge) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return Result{Status: models.StatusCompleted, ExternalReference: "wallet:" + charge.EntryID}, nil
}

// AdminCreditGateway mints wallet funds for privileged actors.
type AdminCreditGateway struct{}

func (AdminCreditGateway) AuthorizeAndCapture(ctx context.Context, charge Charge) (Result, error) {
	if !charge.Actor.IsAdmin {
		return Result{}, ErrUnauthorized
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return Result{Status: models.StatusCompleted, ExternalReference: "admin_credit:" + charge.EntryID}, nil
}

// ManualGateway records an off-platform payment that staff confirm later.
type ManualGateway struct{}

func (ManualGateway) AuthorizeAndCapture(ctx context.Context, charge Charge) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	reference := charge.Reference
	if reference == "" {
		reference = "manual:" + charge.EntryID
	}
	return Result{Status: models.StatusPending, ExternalReference: reference}, nil
}
