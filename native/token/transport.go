package token

import (
	"context"
	"math/big"

	"github.com/omomo-finance/omomo-protocol-sub001/crypto"
)

// Transport is the underlying fungible-token ledger consumed by markets. Every
// call is a suspension point in a multi-step flow: the caller observes only
// the returned payload or error, never the other side's intermediate state.
type Transport interface {
	// BalanceOf reports the account's underlying-token balance.
	BalanceOf(ctx context.Context, account crypto.Address) (*big.Int, error)
	// Transfer moves tokens from the calling principal to the recipient.
	Transfer(ctx context.Context, from, to crypto.Address, amount *big.Int, memo string) error
	// TransferWithMessage moves tokens and delivers the attached message to
	// the recipient's OnTransfer hook. It returns the amount the recipient
	// kept; the remainder is refunded to the sender.
	TransferWithMessage(ctx context.Context, from, to crypto.Address, amount *big.Int, memo, message string) (*big.Int, error)
}

// Receiver is implemented by contracts accepting transfer-with-message calls.
// The returned value is the amount of the transfer the receiver consumed.
type Receiver interface {
	OnTransfer(ctx context.Context, sender crypto.Address, amount *big.Int, message string) (*big.Int, error)
}
