package token

import (
	"encoding/hex"
	"errors"
	"math/big"

	"github.com/omomo-finance/omomo-protocol-sub001/state"
	"github.com/omomo-finance/omomo-protocol-sub001/storage"
)

// SnapshotVersion tags the persisted ledger record shape.
const SnapshotVersion uint32 = 1

var errCorruptSnapshot = errors.New("token ledger: corrupt state snapshot")

func snapshotKey(asset string) []byte {
	return []byte("token/" + asset + "/state")
}

// SnapshotKey exposes the storage key so startup migration can target the
// record before the ledger loads it.
func SnapshotKey(asset string) []byte { return snapshotKey(asset) }

type snapshot struct {
	Balances map[string]string `json:"balances,omitempty"`
}

// Save persists the ledger balances as a versioned record.
func (l *Ledger) Save(db storage.Database) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	snap := snapshot{Balances: make(map[string]string, len(l.balances))}
	for account, bal := range l.balances {
		snap.Balances[hex.EncodeToString([]byte(account))] = bal.String()
	}
	return state.Save(db, snapshotKey(l.asset), SnapshotVersion, snap)
}

// Load restores ledger balances. A missing record reports false so the
// caller can fund genesis balances instead.
func (l *Ledger) Load(db storage.Database) (bool, error) {
	var snap snapshot
	if err := state.Load(db, snapshotKey(l.asset), SnapshotVersion, &snap); err != nil {
		if err == state.ErrNoRecord {
			return false, nil
		}
		return false, err
	}
	balances := make(map[string]*big.Int, len(snap.Balances))
	for account, raw := range snap.Balances {
		key, err := hex.DecodeString(account)
		if err != nil {
			return false, errCorruptSnapshot
		}
		bal, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return false, errCorruptSnapshot
		}
		balances[string(key)] = bal
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances = balances
	return true, nil
}
