package amount

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMulDiv(t *testing.T) {
	top := new(uint256.Int).SetAllOne()
	tests := []struct {
		name    string
		x, y, d *uint256.Int
		roundUp bool
		want    *uint256.Int
	}{
		{"exact", New(6), New(4), New(3), false, New(8)},
		{"floor", New(7), New(3), New(2), false, New(10)},
		{"ceil", New(7), New(3), New(2), true, New(11)},
		{"ceil exact", New(6), New(4), New(3), true, New(8)},
		{"zero factor", Zero(), New(5), New(3), true, Zero()},
		// the product needs more than 256 bits
		{"wide intermediate", top, New(3), New(3), false, top},
		{"wide intermediate ceil", top, top, top, true, top},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MulDiv(tt.x, tt.y, tt.d, tt.roundUp)
			require.Nil(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMulDivErrors(t *testing.T) {
	top := new(uint256.Int).SetAllOne()

	_, err := MulDiv(New(1), New(1), Zero(), false)
	assert.Error(t, err)

	_, err = MulDiv(top, New(2), New(1), false)
	assert.ErrorIs(t, err, ErrOverflow)

	// the quotient max+1 does not fit in 256 bits
	_, err = MulDiv(top, top, new(uint256.Int).SubUint64(top, 1), false)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestParse(t *testing.T) {
	v, err := Parse("0x64")
	require.Nil(t, err)
	assert.Equal(t, New(100), v)

	v, err = Parse("100")
	require.Nil(t, err)
	assert.Equal(t, New(100), v)

	_, err = Parse("lots")
	assert.Error(t, err)
}
