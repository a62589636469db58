package ratio

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	ErrOverflow     = errors.New("ratio: arithmetic overflow")
	ErrUnderflow    = errors.New("ratio: arithmetic underflow")
	ErrDivideByZero = errors.New("ratio: division by zero")
	ErrNegative     = errors.New("ratio: negative value")
	ErrOutOfRange   = errors.New("ratio: value exceeds 256 bits")
)

// Decimals is the fixed decimal precision shared by every ratio consumer:
// rates, prices and health factors all carry four fraction digits, so a raw
// value of 10_000 reads as 1.0.
const Decimals = 4

var scale = uint256.NewInt(10_000)

// Ratio is an unsigned fixed-point decimal scaled by 10^Decimals. All
// operations detect overflow and division by zero explicitly instead of
// wrapping. Division truncates toward zero; exchange-rate and accrued-interest
// callers rely on that truncation.
type Ratio struct {
	raw uint256.Int
}

func Zero() Ratio { return Ratio{} }

func One() Ratio {
	var r Ratio
	r.raw.Set(scale)
	return r
}

// FromRaw builds a ratio from an already-scaled integer value.
func FromRaw(v uint64) Ratio {
	var r Ratio
	r.raw.SetUint64(v)
	return r
}

// FromBps interprets basis points directly: with four ratio decimals the two
// scales coincide, so 10_000 bps is exactly 1.0.
func FromBps(bps uint64) Ratio { return FromRaw(bps) }

// FromBig builds a ratio from an already-scaled big integer.
func FromBig(v *big.Int) (Ratio, error) {
	if v == nil {
		return Ratio{}, nil
	}
	if v.Sign() < 0 {
		return Ratio{}, ErrNegative
	}
	var r Ratio
	if overflow := r.raw.SetFromBig(v); overflow {
		return Ratio{}, ErrOutOfRange
	}
	return r, nil
}

// FromFraction builds the ratio num/den, truncated toward zero.
func FromFraction(num, den *big.Int) (Ratio, error) {
	n, err := FromBig(num)
	if err != nil {
		return Ratio{}, err
	}
	if den == nil || den.Sign() == 0 {
		return Ratio{}, ErrDivideByZero
	}
	if den.Sign() < 0 {
		return Ratio{}, ErrNegative
	}
	var d uint256.Int
	if overflow := d.SetFromBig(den); overflow {
		return Ratio{}, ErrOutOfRange
	}
	var scaled uint256.Int
	if _, overflow := scaled.MulOverflow(&n.raw, scale); overflow {
		return Ratio{}, ErrOverflow
	}
	var out Ratio
	out.raw.Div(&scaled, &d)
	return out, nil
}

// Raw returns the scaled integer representation.
func (r Ratio) Raw() *big.Int { return r.raw.ToBig() }

// RawUint64 returns the scaled value when it fits in 64 bits.
func (r Ratio) RawUint64() (uint64, bool) {
	if !r.raw.IsUint64() {
		return 0, false
	}
	return r.raw.Uint64(), true
}

// Float64 approximates the ratio for metrics and display. Not for protocol
// arithmetic.
func (r Ratio) Float64() float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(r.raw.ToBig()), new(big.Float).SetInt(scale.ToBig())).Float64()
	return f
}

func (r Ratio) IsZero() bool { return r.raw.IsZero() }

func (r Ratio) Add(o Ratio) (Ratio, error) {
	var out Ratio
	if _, overflow := out.raw.AddOverflow(&r.raw, &o.raw); overflow {
		return Ratio{}, ErrOverflow
	}
	return out, nil
}

func (r Ratio) Sub(o Ratio) (Ratio, error) {
	if r.raw.Lt(&o.raw) {
		return Ratio{}, ErrUnderflow
	}
	var out Ratio
	out.raw.Sub(&r.raw, &o.raw)
	return out, nil
}

func (r Ratio) Mul(o Ratio) (Ratio, error) {
	var prod uint256.Int
	if _, overflow := prod.MulOverflow(&r.raw, &o.raw); overflow {
		return Ratio{}, ErrOverflow
	}
	var out Ratio
	out.raw.Div(&prod, scale)
	return out, nil
}

func (r Ratio) Div(o Ratio) (Ratio, error) {
	if o.raw.IsZero() {
		return Ratio{}, ErrDivideByZero
	}
	var num uint256.Int
	if _, overflow := num.MulOverflow(&r.raw, scale); overflow {
		return Ratio{}, ErrOverflow
	}
	var out Ratio
	out.raw.Div(&num, &o.raw)
	return out, nil
}

func (r Ratio) Cmp(o Ratio) int { return r.raw.Cmp(&o.raw) }

func Min(a, b Ratio) Ratio {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

func Max(a, b Ratio) Ratio {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// Clamp bounds the ratio to [lo, hi]. When lo exceeds hi the lower bound wins,
// matching a total-order clamp over min/max.
func (r Ratio) Clamp(lo, hi Ratio) Ratio {
	return Max(lo, Min(r, hi))
}

// MulInt scales an amount by the ratio, truncating toward zero. Amounts are
// arbitrary-precision so only the ratio side can overflow.
func (r Ratio) MulInt(amount *big.Int) (*big.Int, error) {
	if amount == nil {
		return big.NewInt(0), nil
	}
	if amount.Sign() < 0 {
		return nil, ErrNegative
	}
	out := new(big.Int).Mul(amount, r.Raw())
	return out.Quo(out, scale.ToBig()), nil
}

// DivInt divides an amount by the ratio, truncating toward zero.
func (r Ratio) DivInt(amount *big.Int) (*big.Int, error) {
	if r.raw.IsZero() {
		return nil, ErrDivideByZero
	}
	if amount == nil {
		return big.NewInt(0), nil
	}
	if amount.Sign() < 0 {
		return nil, ErrNegative
	}
	out := new(big.Int).Mul(amount, scale.ToBig())
	return out.Quo(out, r.Raw()), nil
}

// String renders the ratio as a decimal number with Decimals fraction digits.
func (r Ratio) String() string {
	raw := r.Raw()
	div := scale.ToBig()
	whole := new(big.Int).Quo(raw, div)
	frac := new(big.Int).Mod(raw, div)
	fracStr := frac.String()
	for len(fracStr) < Decimals {
		fracStr = "0" + fracStr
	}
	return whole.String() + "." + fracStr
}
