package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"timebank/internal/metrics"
	"timebank/internal/models"

	"github.com/sony/gobreaker"
)

var fixedNow = func() time.Time { return time.Date(2026, time.October, 18, 0, 0, 0, 0, time.UTC) }

func validCard() *CardDetails {
	return &CardDetails{Number: "4242 4242 4242 4242", Expiry: "12/28", CVV: "123"}
}

type stubNetwork struct {
	captureFn func(ctx context.Context, charge Charge) (Result, error)
	calls     int
}

func (s *stubNetwork) Capture(ctx context.Context, charge Charge) (Result, error) {
	s.calls++
	return s.captureFn(ctx, charge)
}

type stubRecorder struct {
	calls []string
}

func (s *stubRecorder) RecordTransition(kind, status string) {}
func (s *stubRecorder) RecordGatewayCall(method, outcome string, duration time.Duration) {
	s.calls = append(s.calls, method+":"+outcome)
}
func (s *stubRecorder) RecordCircuitState(name string, state metrics.CircuitState) {}
func (s *stubRecorder) RecordTxRetry(code string) {}
func (s *stubRecorder) RecordReconciliation(applied bool) {}
func (s *stubRecorder) RecordOutboxBacklog(depth int) {}
func (s *stubRecorder) RecordEventsPublished(count int) {}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	registry.Register(models.MethodWallet, WalletGateway{})
	if _, err := registry.Get(models.MethodWallet); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := registry.Get(models.MethodCard); !errors.Is(err, ErrUnsupportedMethod) {
		t.Fatalf("expected ErrUnsupportedMethod, got %v", err)
	}
}

func TestFeePolicy(t *testing.T) {
	policy := FeePolicy{CardFee: 150, FeeAccountID: "fees"}
	fee, account := policy.FeeFor(models.MethodCard)
	if fee != 150 || account == nil || *account != "fees" {
		t.Fatalf("unexpected card fee: %d %v", fee, account)
	}
	if fee, account := policy.FeeFor(models.MethodWallet); fee != 0 || account != nil {
		t.Fatalf("wallet must not carry a fee")
	}
	if fee, _ := (FeePolicy{}).FeeFor(models.MethodCard); fee != 0 {
		t.Fatalf("zero policy must not carry a fee")
	}
}

func TestWalletGatewayCompletes(t *testing.T) {
	result, err := WalletGateway{}.AuthorizeAndCapture(context.Background(), Charge{EntryID: "entry-1"})
	if err != nil || result.Status != models.StatusCompleted {
		t.Fatalf("unexpected result: %#v %v", result, err)
	}
}

func TestAdminCreditGatewayRequiresAdmin(t *testing.T) {
	gw := AdminCreditGateway{}
	if _, err := gw.AuthorizeAndCapture(context.Background(), Charge{Actor: models.Actor{AccountID: "u", IsModerator: true}}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	result, err := gw.AuthorizeAndCapture(context.Background(), Charge{EntryID: "e", Actor: models.Actor{IsAdmin: true}})
	if err != nil || result.Status != models.StatusCompleted {
		t.Fatalf("unexpected result: %#v %v", result, err)
	}
}

func TestManualGatewayStaysPending(t *testing.T) {
	result, err := ManualGateway{}.AuthorizeAndCapture(context.Background(), Charge{EntryID: "entry-1", Reference: "receipt-9"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != models.StatusPending || result.ExternalReference != "receipt-9" {
		t.Fatalf("unexpected result: %#v", result)
	}
	result, _ = ManualGateway{}.AuthorizeAndCapture(context.Background(), Charge{EntryID: "entry-2"})
	if result.ExternalReference != "manual:entry-2" {
		t.Fatalf("unexpected default reference: %q", result.ExternalReference)
	}
}

func TestMockCardNetwork(t *testing.T) {
	network := MockCardNetwork{Now: fixedNow}
	result, err := network.Capture(context.Background(), Charge{Amount: 5000, Card: validCard()})
	if err != nil || result.Status != models.StatusCompleted || result.ExternalReference == "" {
		t.Fatalf("unexpected result: %#v %v", result, err)
	}
	cases := []*CardDetails{
		nil,
		{Number: "4242424242424241", Expiry: "12/28", CVV: "123"},
		{Number: "4242424242424242", Expiry: "01/20", CVV: "123"},
		{Number: "4242424242424242", Expiry: "12/28", CVV: "12"},
	}
	for _, card := range cases {
		result, err := network.Capture(context.Background(), Charge{Amount: 5000, Card: card})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Status != models.StatusFailed || result.Reason == "" {
			t.Fatalf("expected declined card, got %#v", result)
		}
	}
}

func TestCardGatewayDeclineDoesNotTripBreaker(t *testing.T) {
	network := &stubNetwork{captureFn: func(ctx context.Context, charge Charge) (Result, error) {
		return Result{Status: models.StatusFailed, Reason: "invalid cvv"}, nil
	}}
	gw := NewCardGateway(network, CardConfig{ConsecutiveFailures: 1, OpenTimeout: time.Minute}, nil, nil)
	for i := 0; i < 3; i++ {
		result, err := gw.AuthorizeAndCapture(context.Background(), Charge{EntryID: "e"})
		if err != nil || result.Status != models.StatusFailed {
			t.Fatalf("unexpected result: %#v %v", result, err)
		}
	}
	if gw.State() != gobreaker.StateClosed {
		t.Fatalf("expected closed breaker, got %s", gw.State())
	}
}

func TestCardGatewayTimeoutIsUnknown(t *testing.T) {
	gw := NewCardGateway(MockCardNetwork{Now: fixedNow, Latency: time.Second}, CardConfig{Timeout: 10 * time.Millisecond}, nil, nil)
	_, err := gw.AuthorizeAndCapture(context.Background(), Charge{EntryID: "e", Card: validCard()})
	if !errors.Is(err, ErrOutcomeUnknown) {
		t.Fatalf("expected ErrOutcomeUnknown, got %v", err)
	}
}

func TestCardGatewayOpenCircuitFails(t *testing.T) {
	network := &stubNetwork{captureFn: func(ctx context.Context, charge Charge) (Result, error) {
		return Result{}, errors.New("connection reset")
	}}
	recorder := &stubRecorder{}
	gw := NewCardGateway(network, CardConfig{ConsecutiveFailures: 2, OpenTimeout: time.Minute}, recorder, nil)
	for i := 0; i < 2; i++ {
		if _, err := gw.AuthorizeAndCapture(context.Background(), Charge{EntryID: "e"}); !errors.Is(err, ErrOutcomeUnknown) {
			t.Fatalf("expected ErrOutcomeUnknown, got %v", err)
		}
	}
	result, err := gw.AuthorizeAndCapture(context.Background(), Charge{EntryID: "e"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != models.StatusFailed {
		t.Fatalf("expected failed result while open, got %#v", result)
	}
	if network.calls != 2 {
		t.Fatalf("open circuit must not reach the network, got %d calls", network.calls)
	}
	if len(recorder.calls) != 3 || recorder.calls[2] != "card:circuit_open" {
		t.Fatalf("unexpected recorded calls: %v", recorder.calls)
	}
}
