package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrIncorrectCommand is returned for unparseable or unmatched
// transfer-with-message content. The wording is part of the external contract.
var ErrIncorrectCommand = errors.New("incorrect command")

// CommandKind enumerates the closed set of transfer instructions a market
// accepts. Parsing happens once at the transport boundary; everything inside
// the engines switches over this tagged union so a missing handler is a
// compile-time visible gap, not a stringly-typed fallthrough.
type CommandKind uint8

const (
	CommandUnknown CommandKind = iota
	CommandSupply
	CommandRepay
	CommandReserve
	CommandDeposit
	CommandLiquidate
)

func (k CommandKind) String() string {
	switch k {
	case CommandSupply:
		return "Supply"
	case CommandRepay:
		return "Repay"
	case CommandReserve:
		return "Reserve"
	case CommandDeposit:
		return "Deposit"
	case CommandLiquidate:
		return "Liquidate"
	default:
		return "Unknown"
	}
}

// LiquidateArgs carries the liquidation instruction payload.
type LiquidateArgs struct {
	Borrower         string `json:"borrower"`
	BorrowingMarket  string `json:"borrowing_market"`
	CollateralMarket string `json:"collateral_market"`
}

// Command is the decoded transfer instruction.
type Command struct {
	Kind      CommandKind
	Liquidate *LiquidateArgs
}

type commandEnvelope struct {
	Supply    *struct{}      `json:"Supply,omitempty"`
	Repay     *struct{}      `json:"Repay,omitempty"`
	Reserve   *struct{}      `json:"Reserve,omitempty"`
	Deposit   *struct{}      `json:"Deposit,omitempty"`
	Liquidate *LiquidateArgs `json:"Liquidate,omitempty"`
}

// ParseCommand decodes the message attached to a token transfer. The message
// is a JSON object with exactly one recognised key.
func ParseCommand(message string) (Command, error) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return Command{}, ErrIncorrectCommand
	}
	var envelope commandEnvelope
	decoder := json.NewDecoder(strings.NewReader(trimmed))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&envelope); err != nil {
		return Command{}, ErrIncorrectCommand
	}

	var cmd Command
	matches := 0
	if envelope.Supply != nil {
		cmd = Command{Kind: CommandSupply}
		matches++
	}
	if envelope.Repay != nil {
		cmd = Command{Kind: CommandRepay}
		matches++
	}
	if envelope.Reserve != nil {
		cmd = Command{Kind: CommandReserve}
		matches++
	}
	if envelope.Deposit != nil {
		cmd = Command{Kind: CommandDeposit}
		matches++
	}
	if envelope.Liquidate != nil {
		args := *envelope.Liquidate
		if strings.TrimSpace(args.Borrower) == "" ||
			strings.TrimSpace(args.BorrowingMarket) == "" ||
			strings.TrimSpace(args.CollateralMarket) == "" {
			return Command{}, ErrIncorrectCommand
		}
		cmd = Command{Kind: CommandLiquidate, Liquidate: &args}
		matches++
	}
	if matches != 1 {
		return Command{}, ErrIncorrectCommand
	}
	return cmd, nil
}

// Encode renders the command back to its wire form, for clients composing
// transfer-with-message calls.
func (c Command) Encode() (string, error) {
	empty := struct{}{}
	var envelope commandEnvelope
	switch c.Kind {
	case CommandSupply:
		envelope.Supply = &empty
	case CommandRepay:
		envelope.Repay = &empty
	case CommandReserve:
		envelope.Reserve = &empty
	case CommandDeposit:
		envelope.Deposit = &empty
	case CommandLiquidate:
		if c.Liquidate == nil {
			return "", fmt.Errorf("liquidate command requires arguments")
		}
		args := *c.Liquidate
		envelope.Liquidate = &args
	default:
		return "", fmt.Errorf("unknown command kind %d", c.Kind)
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
