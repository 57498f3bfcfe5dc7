// Package amount holds the uint256 helpers shared by the tally engine, the
// share ledger and the mechanism core.
package amount

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

var ErrOverflow = errors.New("arithmetic overflow")

// MaxSafeValue caps deposits and voting power so that squares and products
// of two values always fit in 256 bits.
var MaxSafeValue = new(uint256.Int).Rsh(new(uint256.Int).SetAllOne(), 128)

// Unlimited is returned by withdraw limits that do not restrict redemption.
var Unlimited = new(uint256.Int).SetAllOne()

func Zero() *uint256.Int {
	return new(uint256.Int)
}

func New(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

// OrZero returns a copy of x, or zero when x is nil.
func OrZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x.Clone()
}

func Min(x, y *uint256.Int) *uint256.Int {
	if x.Lt(y) {
		return x.Clone()
	}
	return y.Clone()
}

func Add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

func Sub(x, y *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return nil, ErrOverflow
	}
	return z, nil
}

func Mul(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// MulDiv computes x*y/d with a 512-bit intermediate, rounding down or up.
func MulDiv(x, y, d *uint256.Int, roundUp bool) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, errors.New("division by zero")
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}
	if roundUp && !new(uint256.Int).MulMod(x, y, d).IsZero() {
		if _, overflow = z.AddOverflow(z, uint256.NewInt(1)); overflow {
			return nil, ErrOverflow
		}
	}
	return z, nil
}

// Pow10 returns 10^n.
func Pow10(n uint8) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(n)))
}

// Encode converts x into a JSON friendly value that accepts hex or decimal input.
func Encode(x *uint256.Int) *math.HexOrDecimal256 {
	if x == nil {
		return (*math.HexOrDecimal256)(new(big.Int))
	}
	return (*math.HexOrDecimal256)(x.ToBig())
}

func Decode(h *math.HexOrDecimal256) (*uint256.Int, error) {
	if h == nil {
		return new(uint256.Int), nil
	}
	b := (*big.Int)(h)
	if b.Sign() < 0 {
		return nil, ErrOverflow
	}
	z, overflow := uint256.FromBig(b)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Parse reads a decimal or 0x-prefixed hex string.
func Parse(s string) (*uint256.Int, error) {
	var h math.HexOrDecimal256
	if err := h.UnmarshalText([]byte(s)); err != nil {
		return nil, err
	}
	return Decode(&h)
}
