package ratio

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMulDivRoundTrip(t *testing.T) {
	half := FromBps(5_000)
	two := FromBps(20_000)

	prod, err := half.Mul(two)
	require.NoError(t, err)
	require.Equal(t, 0, prod.Cmp(One()))

	quot, err := One().Div(two)
	require.NoError(t, err)
	require.Equal(t, 0, quot.Cmp(half))
}

func TestDivByZero(t *testing.T) {
	_, err := One().Div(Zero())
	require.ErrorIs(t, err, ErrDivideByZero)

	_, err = One().DivInt(big.NewInt(100))
	require.NoError(t, err)
	_, err = Zero().DivInt(big.NewInt(100))
	require.ErrorIs(t, err, ErrDivideByZero)
}

func TestSubUnderflow(t *testing.T) {
	_, err := Zero().Sub(One())
	require.ErrorIs(t, err, ErrUnderflow)

	diff, err := One().Sub(FromBps(2_500))
	require.NoError(t, err)
	require.Equal(t, 0, diff.Cmp(FromBps(7_500)))
}

func TestMulOverflow(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 255)
	a, err := FromBig(huge)
	require.NoError(t, err)
	_, err = a.Mul(a)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestFromBigRejectsNegative(t *testing.T) {
	_, err := FromBig(big.NewInt(-1))
	require.ErrorIs(t, err, ErrNegative)
}

func TestFromFraction(t *testing.T) {
	r, err := FromFraction(big.NewInt(1), big.NewInt(3))
	require.NoError(t, err)
	// Truncation toward zero: 1/3 at four decimals is 0.3333.
	require.Equal(t, "0.3333", r.String())

	_, err = FromFraction(big.NewInt(1), big.NewInt(0))
	require.ErrorIs(t, err, ErrDivideByZero)
}

func TestClampAndOrdering(t *testing.T) {
	lo := FromBps(1_000)
	hi := FromBps(9_000)

	require.Equal(t, 0, Zero().Clamp(lo, hi).Cmp(lo))
	require.Equal(t, 0, One().Clamp(lo, hi).Cmp(hi))
	mid := FromBps(4_000)
	require.Equal(t, 0, mid.Clamp(lo, hi).Cmp(mid))

	require.Equal(t, 0, Min(lo, hi).Cmp(lo))
	require.Equal(t, 0, Max(lo, hi).Cmp(hi))
}

func TestMulInt(t *testing.T) {
	rate := FromBps(500) // 5%
	out, err := rate.MulInt(big.NewInt(1_000))
	require.NoError(t, err)
	require.Equal(t, int64(50), out.Int64())

	// Truncation, not rounding.
	out, err = rate.MulInt(big.NewInt(19))
	require.NoError(t, err)
	require.Equal(t, int64(0), out.Int64())
}
