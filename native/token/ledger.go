package token

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/omomo-finance/omomo-protocol-sub001/crypto"
)

var (
	errInvalidAmount       = errors.New("token ledger: amount must be positive")
	errInsufficientBalance = errors.New("token ledger: insufficient balance")
	errNoReceiver          = errors.New("token ledger: recipient does not accept messages")
)

// Exported sentinels callers branch on.
var (
	ErrInvalidAmount       = errInvalidAmount
	ErrInsufficientBalance = errInsufficientBalance
	ErrNoReceiver          = errNoReceiver
)

// Ledger is an in-memory fungible-token ledger implementing Transport. One
// instance backs one underlying asset. Production deployments consume an
// external token ledger through the same interface; this implementation
// serves local runs and tests, including delivery of transfer-with-message
// callbacks to registered receivers.
type Ledger struct {
	asset string

	mu        sync.Mutex
	balances  map[string]*big.Int
	receivers map[string]Receiver
}

func NewLedger(asset string) *Ledger {
	return &Ledger{
		asset:     asset,
		balances:  make(map[string]*big.Int),
		receivers: make(map[string]Receiver),
	}
}

// Asset returns the identifier of the underlying asset this ledger tracks.
func (l *Ledger) Asset() string { return l.asset }

// RegisterReceiver wires a contract principal to its OnTransfer hook.
func (l *Ledger) RegisterReceiver(addr crypto.Address, r Receiver) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.receivers[string(addr.Bytes())] = r
}

// Mint credits freshly created tokens to the account. Used for genesis
// balances and tests only.
func (l *Ledger) Mint(account crypto.Address, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(account, amount)
}

func (l *Ledger) BalanceOf(_ context.Context, account crypto.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if bal, ok := l.balances[string(account.Bytes())]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (l *Ledger) Transfer(_ context.Context, from, to crypto.Address, amount *big.Int, _ string) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(from, to, amount)
}

// TransferWithMessage moves the tokens, then invokes the recipient's
// OnTransfer hook outside the ledger lock (the hook re-enters the ledger for
// balance queries). A failing hook refunds the full amount; a partial use
// refunds the remainder.
func (l *Ledger) TransferWithMessage(ctx context.Context, from, to crypto.Address, amount *big.Int, _ string, message string) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	l.mu.Lock()
	receiver := l.receivers[string(to.Bytes())]
	if receiver == nil {
		l.mu.Unlock()
		return nil, errNoReceiver
	}
	if err := l.move(from, to, amount); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	l.mu.Unlock()

	used, err := receiver.OnTransfer(ctx, from, new(big.Int).Set(amount), message)
	if err != nil {
		l.mu.Lock()
		defer l.mu.Unlock()
		if moveErr := l.move(to, from, amount); moveErr != nil {
			return nil, fmt.Errorf("refund after failed delivery: %w", moveErr)
		}
		return nil, err
	}
	if used == nil || used.Sign() < 0 {
		used = big.NewInt(0)
	}
	if used.Cmp(amount) > 0 {
		used = new(big.Int).Set(amount)
	}
	refund := new(big.Int).Sub(amount, used)
	if refund.Sign() > 0 {
		l.mu.Lock()
		defer l.mu.Unlock()
		if err := l.move(to, from, refund); err != nil {
			return nil, fmt.Errorf("refund unused amount: %w", err)
		}
	}
	return new(big.Int).Set(used), nil
}

func (l *Ledger) move(from, to crypto.Address, amount *big.Int) error {
	fromKey := string(from.Bytes())
	bal, ok := l.balances[fromKey]
	if !ok || bal.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	bal.Sub(bal, amount)
	l.credit(to, amount)
	return nil
}

func (l *Ledger) credit(account crypto.Address, amount *big.Int) {
	key := string(account.Bytes())
	if bal, ok := l.balances[key]; ok {
		bal.Add(bal, amount)
		return
	}
	l.balances[key] = new(big.Int).Set(amount)
}
