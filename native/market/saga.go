package market

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/omomo-finance/omomo-protocol-sub001/crypto"
)

// opState tracks where a multi-step operation stands. Transitions are logged
// so an aborted flow can be reconstructed from the operation id alone.
type opState uint8

const (
	stateLocked opState = iota + 1
	stateAwaitingTransfer
	stateAwaitingLedger
	stateCommitted
	stateCompensating
	stateUnlocked
)

func (s opState) String() string {
	switch s {
	case stateLocked:
		return "locked"
	case stateAwaitingTransfer:
		return "awaiting_transfer"
	case stateAwaitingLedger:
		return "awaiting_ledger"
	case stateCommitted:
		return "committed"
	case stateCompensating:
		return "compensating"
	case stateUnlocked:
		return "unlocked"
	default:
		return "unknown"
	}
}

type compensation struct {
	name string
	fn   func() error
}

// saga is one operation's compensation ledger. Completed steps push their
// undo; a failure later in the chain unwinds them in reverse order.
type saga struct {
	id      string
	op      string
	account crypto.Address
	log     *slog.Logger
	state   opState
	stack   []compensation
}

func newSaga(op string, account crypto.Address, logger *slog.Logger) *saga {
	id := uuid.NewString()
	return &saga{
		id:      id,
		op:      op,
		account: account,
		log:     logger.With("operation", op, "operation_id", id, "account", account.String()),
	}
}

func (s *saga) transition(next opState) {
	s.state = next
	s.log.Debug("operation state changed", "state", next.String())
}

func (s *saga) push(name string, fn func() error) {
	s.stack = append(s.stack, compensation{name: name, fn: fn})
}

// compensate unwinds completed steps newest-first. It runs every step even
// after one fails and returns the joined failures; a partially unwound flow
// is worse than a loudly reported one.
func (s *saga) compensate() error {
	s.transition(stateCompensating)
	var errs []error
	for i := len(s.stack) - 1; i >= 0; i-- {
		step := s.stack[i]
		if err := step.fn(); err != nil {
			s.log.Error("compensation step failed", "step", step.name, "error", err)
			errs = append(errs, err)
			continue
		}
		s.log.Info("compensation step applied", "step", step.name)
	}
	s.stack = nil
	return errors.Join(errs...)
}
