package state

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/omomo-finance/omomo-protocol-sub001/storage"
)

var (
	ErrNoRecord        = errors.New("state: no record stored")
	ErrVersionMismatch = errors.New("state: record version mismatch")
)

// Record wraps a component's full persisted state. Each component stores
// exactly one record under its own key; schema evolution bumps Version and
// registers a migration step.
type Record struct {
	Version uint32
	Payload []byte
}

// Save serializes the component snapshot and stores it under key as a
// versioned record.
func Save(db storage.Database, key []byte, version uint32, snapshot any) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("state: encode snapshot: %w", err)
	}
	encoded, err := encodeRecord(Record{Version: version, Payload: payload})
	if err != nil {
		return err
	}
	return db.Put(key, encoded)
}

func encodeRecord(record Record) ([]byte, error) {
	encoded, err := rlp.EncodeToBytes(record)
	if err != nil {
		return nil, fmt.Errorf("state: encode record: %w", err)
	}
	return encoded, nil
}

// Load reads the record under key into snapshot. The stored version must
// equal want; older shapes are handled by Migrate before any entry point is
// served, so a mismatch here is a deployment error.
func Load(db storage.Database, key []byte, want uint32, snapshot any) error {
	record, err := load(db, key)
	if err != nil {
		return err
	}
	if record.Version != want {
		return fmt.Errorf("%w: stored v%d, want v%d", ErrVersionMismatch, record.Version, want)
	}
	if err := json.Unmarshal(record.Payload, snapshot); err != nil {
		return fmt.Errorf("state: decode snapshot: %w", err)
	}
	return nil
}

func load(db storage.Database, key []byte) (Record, error) {
	raw, err := db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return Record{}, ErrNoRecord
	}
	if err != nil {
		return Record{}, err
	}
	var record Record
	if err := rlp.DecodeBytes(raw, &record); err != nil {
		return Record{}, fmt.Errorf("state: decode record: %w", err)
	}
	return record, nil
}
