package token

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/omomo-finance/omomo-protocol-sub001/crypto"
	"github.com/omomo-finance/omomo-protocol-sub001/storage"
)

type stubReceiver struct {
	use *big.Int
	err error
}

func (s *stubReceiver) OnTransfer(_ context.Context, _ crypto.Address, amount *big.Int, _ string) (*big.Int, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.use != nil {
		return s.use, nil
	}
	return amount, nil
}

func addr(tag byte) crypto.Address {
	b := make([]byte, 20)
	b[0] = tag
	return crypto.NewAddress(crypto.AccountPrefix, b)
}

func TestTransferWithMessageRefundsUnused(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger("usdt")
	sender, market := addr(1), addr(2)
	ledger.Mint(sender, big.NewInt(100))
	ledger.RegisterReceiver(market, &stubReceiver{use: big.NewInt(60)})

	used, err := ledger.TransferWithMessage(ctx, sender, market, big.NewInt(100), "", `{"Supply":{}}`)
	require.NoError(t, err)
	require.Equal(t, int64(60), used.Int64())

	senderBal, _ := ledger.BalanceOf(ctx, sender)
	marketBal, _ := ledger.BalanceOf(ctx, market)
	require.Equal(t, int64(40), senderBal.Int64())
	require.Equal(t, int64(60), marketBal.Int64())
}

func TestTransferWithMessageRefundsOnFailure(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger("usdt")
	sender, market := addr(1), addr(2)
	ledger.Mint(sender, big.NewInt(100))
	ledger.RegisterReceiver(market, &stubReceiver{err: errors.New("incorrect command")})

	_, err := ledger.TransferWithMessage(ctx, sender, market, big.NewInt(100), "", "garbage")
	require.Error(t, err)

	senderBal, _ := ledger.BalanceOf(ctx, sender)
	require.Equal(t, int64(100), senderBal.Int64())
}

func TestTransferInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger("usdt")
	sender, to := addr(1), addr(2)
	ledger.Mint(sender, big.NewInt(10))

	err := ledger.Transfer(ctx, sender, to, big.NewInt(11), "")
	require.ErrorIs(t, err, errInsufficientBalance)
}

func TestLedgerSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger("usdt")
	a, b := addr(1), addr(2)
	ledger.Mint(a, big.NewInt(70))
	ledger.Mint(b, big.NewInt(30))

	db := storage.NewMemDB()
	require.NoError(t, ledger.Save(db))

	restored := NewLedger("usdt")
	found, err := restored.Load(db)
	require.NoError(t, err)
	require.True(t, found)
	balA, _ := restored.BalanceOf(ctx, a)
	balB, _ := restored.BalanceOf(ctx, b)
	require.Equal(t, int64(70), balA.Int64())
	require.Equal(t, int64(30), balB.Int64())

	// a fresh database reports no record so callers fund genesis instead
	found, err = NewLedger("usdt").Load(storage.NewMemDB())
	require.NoError(t, err)
	require.False(t, found)
}
