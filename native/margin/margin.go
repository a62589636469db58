package margin

import (
	"errors"
	"math/big"
	"sync"

	"github.com/omomo-finance/omomo-protocol-sub001/crypto"
	"github.com/omomo-finance/omomo-protocol-sub001/native/ratio"
)

var (
	errUnauthorized    = errors.New("margin: caller is not the admin")
	errUnknownPair     = errors.New("margin: unknown trade pair")
	errDuplicatePair   = errors.New("margin: trade pair already registered")
	errInvalidAmount   = errors.New("amount should be a positive number")
	errLeverageBounds  = errors.New("leverage is out of the allowed range")
	errNotEnoughMargin = errors.New("not enough margin deposit for the position")
	errUnknownOrder    = errors.New("margin: unknown order")
	errNotOrderOwner   = errors.New("margin: caller does not own the order")
	errNotExecutable   = errors.New("margin: order execution is not enabled")
)

// Exported sentinels callers branch on.
var (
	ErrLeverageBounds  = errLeverageBounds
	ErrNotEnoughMargin = errNotEnoughMargin
	ErrNotExecutable   = errNotExecutable
	ErrUnauthorized    = errUnauthorized
)

// DepositView exposes the margin collateral a market holds for an account.
type DepositView interface {
	MarginDeposit(account crypto.Address) *big.Int
}

// TradePair describes one tradeable market pair and its leverage policy.
type TradePair struct {
	ID          string
	SellTicker  string
	BuyTicker   string
	SellMarket  crypto.Address
	BuyMarket   crypto.Address
	MinLeverage ratio.Ratio
	MaxLeverage ratio.Ratio
	Fee         ratio.Ratio
}

// OrderStatus tracks an order through its validation-only lifecycle.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCancelled OrderStatus = "cancelled"
)

// Order is one recorded leverage position request. Orders are validated and
// held; matching and execution stay outside this engine.
type Order struct {
	ID       uint64
	Account  crypto.Address
	Pair     string
	Amount   *big.Int
	Leverage ratio.Ratio
	Status   OrderStatus
}

// Engine validates and records leverage orders against market-held margin
// deposits.
type Engine struct {
	mu sync.Mutex

	admin    crypto.Address
	pairs    map[string]TradePair
	deposits map[string]DepositView // keyed by sell market principal
	orders   map[uint64]*Order
	nextID   uint64
}

func NewEngine(admin crypto.Address) *Engine {
	return &Engine{
		admin:    admin,
		pairs:    make(map[string]TradePair),
		deposits: make(map[string]DepositView),
		orders:   make(map[uint64]*Order),
		nextID:   1,
	}
}

// AddTradePair registers a pair and the deposit view of its sell market.
func (e *Engine) AddTradePair(caller crypto.Address, pair TradePair, deposits DepositView) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !caller.Equal(e.admin) {
		return errUnauthorized
	}
	if pair.ID == "" {
		return errors.New("margin: trade pair id required")
	}
	if _, ok := e.pairs[pair.ID]; ok {
		return errDuplicatePair
	}
	if pair.MaxLeverage.Cmp(pair.MinLeverage) < 0 {
		return errLeverageBounds
	}
	e.pairs[pair.ID] = pair
	e.deposits[pair.ID] = deposits
	return nil
}

// Pairs lists registered trade pairs.
func (e *Engine) Pairs() []TradePair {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]TradePair, 0, len(e.pairs))
	for _, pair := range e.pairs {
		out = append(out, pair)
	}
	return out
}

// CreateOrder validates a position request and records it as pending. The
// required margin is amount / leverage; the account must already hold that
// much in the sell market's margin pool.
func (e *Engine) CreateOrder(account crypto.Address, pairID string, amount *big.Int, leverage ratio.Ratio) (*Order, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	pair, ok := e.pairs[pairID]
	if !ok {
		return nil, errUnknownPair
	}
	if leverage.Cmp(pair.MinLeverage) < 0 || leverage.Cmp(pair.MaxLeverage) > 0 {
		return nil, errLeverageBounds
	}
	required, err := leverage.DivInt(amount)
	if err != nil {
		return nil, err
	}
	deposits := e.deposits[pairID]
	if deposits == nil || deposits.MarginDeposit(account).Cmp(required) < 0 {
		return nil, errNotEnoughMargin
	}

	order := &Order{
		ID:       e.nextID,
		Account:  account,
		Pair:     pairID,
		Amount:   new(big.Int).Set(amount),
		Leverage: leverage,
		Status:   OrderPending,
	}
	e.orders[order.ID] = order
	e.nextID++
	copied := *order
	return &copied, nil
}

// CancelOrder marks a pending order cancelled. Only the owner may cancel.
func (e *Engine) CancelOrder(caller crypto.Address, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	order, ok := e.orders[id]
	if !ok {
		return errUnknownOrder
	}
	if !order.Account.Equal(caller) {
		return errNotOrderOwner
	}
	order.Status = OrderCancelled
	return nil
}

// ExecuteOrder is reserved for the matching engine. Until that lands, every
// call reports execution as unavailable.
func (e *Engine) ExecuteOrder(crypto.Address, uint64) error {
	return errNotExecutable
}

// Order returns a copy of the order by id.
func (e *Engine) Order(id uint64) (Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	order, ok := e.orders[id]
	if !ok {
		return Order{}, errUnknownOrder
	}
	copied := *order
	copied.Amount = new(big.Int).Set(order.Amount)
	return copied, nil
}

// OrdersFor lists an account's orders.
func (e *Engine) OrdersFor(account crypto.Address) []Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Order, 0)
	for _, order := range e.orders {
		if order.Account.Equal(account) {
			copied := *order
			copied.Amount = new(big.Int).Set(order.Amount)
			out = append(out, copied)
		}
	}
	return out
}
