package market

// Metrics receives operation outcome signals. The prometheus implementation
// lives in observability/metrics; engines stay free of collector types.
type Metrics interface {
	OperationStarted(op string)
	OperationFinished(op, outcome string)
	CompensationTriggered(op string)
	LockDenied(op string)
}

const (
	// OutcomeCommitted marks a fully applied operation.
	OutcomeCommitted = "committed"
	// OutcomeCompensated marks an operation unwound after a mid-chain failure.
	OutcomeCompensated = "compensated"
	// OutcomeRejected marks an operation refused before any state changed.
	OutcomeRejected = "rejected"
)

// NoopMetrics discards all signals.
type NoopMetrics struct{}

func (NoopMetrics) OperationStarted(string)          {}
func (NoopMetrics) OperationFinished(string, string) {}
func (NoopMetrics) CompensationTriggered(string)     {}
func (NoopMetrics) LockDenied(string)                {}
