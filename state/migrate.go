package state

import (
	"errors"
	"fmt"

	"github.com/omomo-finance/omomo-protocol-sub001/storage"
)

// MigrateFunc rewrites a payload from version v to v+1.
type MigrateFunc func(payload []byte) ([]byte, error)

// Migrations maps a source version to the step producing the next one.
type Migrations map[uint32]MigrateFunc

// Migrate upgrades the record under key to target, applying registered steps
// in order. It runs once at startup, before any other entry point is
// accepted. A missing record is not an error; the component simply starts
// fresh.
func Migrate(db storage.Database, key []byte, target uint32, steps Migrations) error {
	record, err := load(db, key)
	if errors.Is(err, ErrNoRecord) {
		return nil
	}
	if err != nil {
		return err
	}
	if record.Version == target {
		return nil
	}
	if record.Version > target {
		return fmt.Errorf("%w: stored v%d is newer than target v%d", ErrVersionMismatch, record.Version, target)
	}
	payload := record.Payload
	for v := record.Version; v < target; v++ {
		step, ok := steps[v]
		if !ok {
			return fmt.Errorf("state: no migration registered for v%d", v)
		}
		payload, err = step(payload)
		if err != nil {
			return fmt.Errorf("state: migration v%d: %w", v, err)
		}
	}
	return save(db, key, Record{Version: target, Payload: payload})
}

func save(db storage.Database, key []byte, record Record) error {
	encoded, err := encodeRecord(record)
	if err != nil {
		return err
	}
	return db.Put(key, encoded)
}
