package common

import "errors"

// Action identifies a mutating protocol flow that can be paused independently.
type Action string

const (
	ActionSupply    Action = "supply"
	ActionWithdraw  Action = "withdraw"
	ActionBorrow    Action = "borrow"
	ActionRepay     Action = "repay"
	ActionLiquidate Action = "liquidate"
)

// Actions lists every pausable flow in a stable order.
var Actions = []Action{ActionSupply, ActionWithdraw, ActionBorrow, ActionRepay, ActionLiquidate}

var ErrActionPaused = errors.New("action is paused")

// PauseView exposes the pause flags maintained by the controller admin surface.
type PauseView interface {
	IsPaused(action Action) bool
}

// Guard fails fast before any state mutation or cross-contract call when the
// action is paused.
func Guard(p PauseView, action Action) error {
	if p == nil || action == "" {
		return nil
	}
	if p.IsPaused(action) {
		return ErrActionPaused
	}
	return nil
}

// Valid reports whether the action names a known flow.
func (a Action) Valid() bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}
