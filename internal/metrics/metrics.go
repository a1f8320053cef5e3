package metrics

import "time"

// Recorder collects workflow metrics. Implementations must be safe for
// concurrent use.
type Recorder interface {
	RecordTransition(kind, status string)
	RecordGatewayCall(method, outcome string, duration time.Duration)
	RecordCircuitState(name string, state CircuitState)
	RecordTxRetry(code string)
	RecordReconciliation(applied bool)
	RecordOutboxBacklog(depth int)
	RecordEventsPublished(count int)
}

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NoOp discards everything. It is the default when no recorder is configured.
type NoOp struct{}

func (NoOp) RecordTransition(kind, status string)                             {}
func (NoOp) RecordGatewayCall(method, outcome string, duration time.Duration) {}
func (NoOp) RecordCircuitState(name string, state CircuitState)               {}
func (NoOp) RecordTxRetry(code string)                                        {}
func (NoOp) RecordReconciliation(applied bool)                                {}
func (NoOp) RecordOutboxBacklog(depth int)                                    {}
func (NoOp) RecordEventsPublished(count int)                                  {}

func OrNoOp(r Recorder) Recorder {
	if r == nil {
		return NoOp{}
	}
	return r
}
