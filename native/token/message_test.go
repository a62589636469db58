package token

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCommandVariants(t *testing.T) {
	cmd, err := ParseCommand(`{"Supply":{}}`)
	require.NoError(t, err)
	require.Equal(t, CommandSupply, cmd.Kind)

	cmd, err = ParseCommand(`{"Repay":{}}`)
	require.NoError(t, err)
	require.Equal(t, CommandRepay, cmd.Kind)

	cmd, err = ParseCommand(`{"Reserve":{}}`)
	require.NoError(t, err)
	require.Equal(t, CommandReserve, cmd.Kind)

	cmd, err = ParseCommand(`{"Deposit":{}}`)
	require.NoError(t, err)
	require.Equal(t, CommandDeposit, cmd.Kind)
}

func TestParseLiquidateCommand(t *testing.T) {
	msg := `{"Liquidate":{"borrower":"omomo1...","borrowing_market":"ct1...","collateral_market":"ct2..."}}`
	cmd, err := ParseCommand(msg)
	require.NoError(t, err)
	require.Equal(t, CommandLiquidate, cmd.Kind)
	require.NotNil(t, cmd.Liquidate)
	require.Equal(t, "omomo1...", cmd.Liquidate.Borrower)
}

func TestParseCommandRejectsGarbage(t *testing.T) {
	for _, msg := range []string{
		"",
		"supply",
		`{"Mint":{}}`,
		`{"Supply":{},"Repay":{}}`,
		`{"Liquidate":{"borrower":""}}`,
		`{"Liquidate":{}}`,
	} {
		_, err := ParseCommand(msg)
		require.ErrorIs(t, err, ErrIncorrectCommand, "message %q", msg)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	in := Command{Kind: CommandLiquidate, Liquidate: &LiquidateArgs{
		Borrower:         "omomo1q",
		BorrowingMarket:  "ct1q",
		CollateralMarket: "ct1z",
	}}
	wire, err := in.Encode()
	require.NoError(t, err)

	out, err := ParseCommand(wire)
	require.NoError(t, err)
	require.Equal(t, in.Kind, out.Kind)
	require.Equal(t, *in.Liquidate, *out.Liquidate)
}
