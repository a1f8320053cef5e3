package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"timebank/internal/logging"
	"timebank/internal/metrics"
	"timebank/internal/models"
	"timebank/internal/validator"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// CardNetwork captures card payments. Errors are transport failures; a
// declined card is a failed Result.
type CardNetwork interface {
	Capture(ctx context.Context, charge Charge) (Result, error)
}

// MockCardNetwork approves any well-formed card.
type MockCardNetwork struct {
	Now     func() time.Time
	Latency time.Duration
}

func (n MockCardNetwork) Capture(ctx context.Context, charge Charge) (Result, error) {
	if n.Latency > 0 {
		timer := time.NewTimer(n.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-timer.C:
		}
	}
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	if charge.Card == nil {
		return Result{Status: models.StatusFailed, Reason: "card details required"}, nil
	}
	if err := validator.ValidateCardNumber(charge.Card.Number); err != nil {
		return Result{Status: models.StatusFailed, Reason: err.Error()}, nil
	}
	if err := validator.ValidateCardExpiry(charge.Card.Expiry, now()); err != nil {
		return Result{Status: models.StatusFailed, Reason: err.Error()}, nil
	}
	if err := validator.ValidateCVV(charge.Card.CVV); err != nil {
		return Result{Status: models.StatusFailed, Reason: err.Error()}, nil
	}
	return Result{Status: models.StatusCompleted, ExternalReference: "card_" + uuid.NewString()}, nil
}

type CardConfig struct {
	Timeout time.Duration
	// MaxRequests is the number of probes allowed while half-open.
	MaxRequests         uint32
	Interval            time.Duration
	OpenTimeout         time.Duration
	ConsecutiveFailures uint32
}

func DefaultCardConfig() CardConfig {
	return CardConfig{
		Timeout:             5 * time.Second,
		MaxRequests:         1,
		Interval:            time.Minute,
		OpenTimeout:         30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// CardGateway guards a CardNetwork with a timeout and a circuit breaker.
type CardGateway struct {
	network  CardNetwork
	cb       *gobreaker.CircuitBreaker
	timeout  time.Duration
	recorder metrics.Recorder
	logger   *logging.Logger
}

func NewCardGateway(network CardNetwork, config CardConfig, recorder metrics.Recorder, logger *logging.Logger) *CardGateway {
	g := &CardGateway{
		network:  network,
		timeout:  config.Timeout,
		recorder: metrics.OrNoOp(recorder),
		logger:   logging.OrNop(logger).Named("card_gateway"),
	}
	threshold := config.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}
	g.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "card",
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			g.logger.Warn("circuit breaker state changed",
				zap.String("gateway", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			var state metrics.CircuitState
			switch to {
			case gobreaker.StateClosed:
				state = metrics.CircuitClosed
			case gobreaker.StateHalfOpen:
				state = metrics.CircuitHalfOpen
			case gobreaker.StateOpen:
				state = metrics.CircuitOpen
			}
			g.recorder.RecordCircuitState(name, state)
		},
	})
	return g
}

func (g *CardGateway) AuthorizeAndCapture(ctx context.Context, charge Charge) (Result, error) {
	start := time.Now()
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	out, err := g.cb.Execute(func() (interface{}, error) {
		return g.network.Capture(ctx, charge)
	})
	duration := time.Since(start)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			g.recorder.RecordGatewayCall(string(models.MethodCard), "circuit_open", duration)
			g.logger.Warn("circuit breaker open - charge rejected", zap.String("entry_id", charge.EntryID))
			return Result{Status: models.StatusFailed, Reason: "card network unavailable"}, nil
		}
		g.recorder.RecordGatewayCall(string(models.MethodCard), "unknown", duration)
		g.logger.Warn("card capture outcome unknown",
			zap.String("entry_id", charge.EntryID),
			zap.Duration("elapsed", duration),
			zap.Error(err),
		)
		return Result{}, fmt.Errorf("%w: %v", ErrOutcomeUnknown, err)
	}
	result := out.(Result)
	g.recorder.RecordGatewayCall(string(models.MethodCard), string(result.Status), duration)
	return result, nil
}

func (g *CardGateway) State() gobreaker.State {
	return g.cb.State()
}
