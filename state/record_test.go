package state

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/omomo-finance/omomo-protocol-sub001/storage"
)

type snapshotV1 struct {
	Supplied map[string]string `json:"supplied"`
}

type snapshotV2 struct {
	Supplied map[string]string `json:"supplied"`
	Borrowed map[string]string `json:"borrowed"`
}

func TestSaveLoadRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	key := []byte("market/usdt")

	in := snapshotV2{
		Supplied: map[string]string{"alice": "100"},
		Borrowed: map[string]string{"bob": "20"},
	}
	require.NoError(t, Save(db, key, 2, in))

	var out snapshotV2
	require.NoError(t, Load(db, key, 2, &out))
	require.Equal(t, in, out)
}

func TestLoadVersionMismatch(t *testing.T) {
	db := storage.NewMemDB()
	key := []byte("controller")

	require.NoError(t, Save(db, key, 1, snapshotV1{}))

	var out snapshotV2
	err := Load(db, key, 2, &out)
	require.ErrorIs(t, err, ErrVersionMismatch)
}

func TestLoadMissingRecord(t *testing.T) {
	db := storage.NewMemDB()
	var out snapshotV2
	require.ErrorIs(t, Load(db, []byte("missing"), 1, &out), ErrNoRecord)
}

func TestMigrateUpgradesOldShape(t *testing.T) {
	db := storage.NewMemDB()
	key := []byte("controller")

	require.NoError(t, Save(db, key, 1, snapshotV1{
		Supplied: map[string]string{"alice": "100"},
	}))

	steps := Migrations{
		1: func(payload []byte) ([]byte, error) {
			var old snapshotV1
			if err := json.Unmarshal(payload, &old); err != nil {
				return nil, err
			}
			next := snapshotV2{Supplied: old.Supplied, Borrowed: map[string]string{}}
			return json.Marshal(next)
		},
	}
	require.NoError(t, Migrate(db, key, 2, steps))

	var out snapshotV2
	require.NoError(t, Load(db, key, 2, &out))
	require.Equal(t, "100", out.Supplied["alice"])
	require.NotNil(t, out.Borrowed)
}

func TestMigrateNoRecordIsNoop(t *testing.T) {
	db := storage.NewMemDB()
	require.NoError(t, Migrate(db, []byte("fresh"), 3, nil))
}

func TestMigrateMissingStep(t *testing.T) {
	db := storage.NewMemDB()
	key := []byte("controller")
	require.NoError(t, Save(db, key, 1, snapshotV1{}))
	require.Error(t, Migrate(db, key, 2, Migrations{}))
}
