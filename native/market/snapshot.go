package market

import (
	"math/big"

	"github.com/omomo-finance/omomo-protocol-sub001/native/interest"
	"github.com/omomo-finance/omomo-protocol-sub001/state"
	"github.com/omomo-finance/omomo-protocol-sub001/storage"
)

// SnapshotVersion tags the persisted market record shape.
const SnapshotVersion uint32 = 1

func snapshotKey(ticker string) []byte {
	return []byte("market/" + ticker + "/state")
}

// SnapshotKey exposes the storage key so startup migration can target the
// record before the market loads it.
func SnapshotKey(ticker string) []byte { return snapshotKey(ticker) }

type snapshot struct {
	Height         uint64            `json:"height"`
	Cash           string            `json:"cash"`
	TotalBorrows   string            `json:"totalBorrows"`
	TotalReserves  string            `json:"totalReserves"`
	ReceiptSupply  string            `json:"receiptSupply"`
	Balances       map[string]string `json:"balances,omitempty"`
	MarginDeposits map[string]string `json:"marginDeposits,omitempty"`
	AccruedBlock   uint64            `json:"accruedBlock"`
	AccruedAmount  string            `json:"accruedAmount"`
}

// Save persists the market state as a versioned record.
func (m *Market) Save(db storage.Database) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := snapshot{
		Height:         m.height,
		Cash:           m.cash.String(),
		TotalBorrows:   m.totalBorrows.String(),
		TotalReserves:  m.totalReserves.String(),
		ReceiptSupply:  m.receiptSupply.String(),
		Balances:       make(map[string]string, len(m.balances)),
		MarginDeposits: make(map[string]string, len(m.marginDeposits)),
		AccruedBlock:   m.accrued.LastBlock,
		AccruedAmount:  "0",
	}
	if m.accrued.Amount != nil {
		snap.AccruedAmount = m.accrued.Amount.String()
	}
	for account, bal := range m.balances {
		snap.Balances[account] = bal.String()
	}
	for account, bal := range m.marginDeposits {
		snap.MarginDeposits[account] = bal.String()
	}
	return state.Save(db, snapshotKey(m.cfg.Ticker), SnapshotVersion, snap)
}

// Load restores market state from storage. A missing record leaves the fresh
// market untouched.
func (m *Market) Load(db storage.Database) error {
	var snap snapshot
	if err := state.Load(db, snapshotKey(m.cfg.Ticker), SnapshotVersion, &snap); err != nil {
		if err == state.ErrNoRecord {
			return nil
		}
		return err
	}
	cash, ok := new(big.Int).SetString(snap.Cash, 10)
	if !ok {
		return errCorruptSnapshot
	}
	borrows, ok := new(big.Int).SetString(snap.TotalBorrows, 10)
	if !ok {
		return errCorruptSnapshot
	}
	reserves, ok := new(big.Int).SetString(snap.TotalReserves, 10)
	if !ok {
		return errCorruptSnapshot
	}
	supply, ok := new(big.Int).SetString(snap.ReceiptSupply, 10)
	if !ok {
		return errCorruptSnapshot
	}
	accruedAmount, ok := new(big.Int).SetString(snap.AccruedAmount, 10)
	if !ok {
		return errCorruptSnapshot
	}
	balances := make(map[string]*big.Int, len(snap.Balances))
	for account, raw := range snap.Balances {
		bal, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return errCorruptSnapshot
		}
		balances[account] = bal
	}
	deposits := make(map[string]*big.Int, len(snap.MarginDeposits))
	for account, raw := range snap.MarginDeposits {
		bal, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return errCorruptSnapshot
		}
		deposits[account] = bal
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.height = snap.Height
	m.cash = cash
	m.totalBorrows = borrows
	m.totalReserves = reserves
	m.receiptSupply = supply
	m.balances = balances
	m.marginDeposits = deposits
	m.accrued = interest.Accrued{LastBlock: snap.AccruedBlock, Amount: accruedAmount}
	return nil
}
