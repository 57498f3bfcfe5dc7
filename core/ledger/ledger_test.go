package ledger

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomesh/allocator/core/amount"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func u(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

func sumBalances(l *Ledger) *uint256.Int {
	sum := new(uint256.Int)
	for _, b := range l.balances {
		sum.Add(sum, b)
	}
	return sum
}

func TestMintBurnKeepsSupplyEqualToBalances(t *testing.T) {
	l := New(18, 18)
	require.Nil(t, l.Mint(alice, u(300)))
	require.Nil(t, l.Mint(bob, u(100)))
	require.Nil(t, l.Transfer(alice, bob, u(50)))
	require.Nil(t, l.Burn(bob, u(120)))

	assert.Equal(t, u(250), l.BalanceOf(alice))
	assert.Equal(t, u(30), l.BalanceOf(bob))
	assert.Equal(t, sumBalances(l), l.TotalSupply())

	assert.ErrorIs(t, l.Burn(bob, u(31)), ErrInsufficientBalance)
	assert.ErrorIs(t, l.Transfer(bob, alice, u(31)), ErrInsufficientBalance)
	assert.ErrorIs(t, l.Mint(common.Address{}, u(1)), ErrZeroAddress)
	assert.Equal(t, sumBalances(l), l.TotalSupply())
}

func TestAllowance(t *testing.T) {
	l := New(18, 18)
	require.Nil(t, l.Approve(alice, bob, u(10)))
	require.Nil(t, l.SpendAllowance(alice, bob, u(4)))
	assert.Equal(t, u(6), l.Allowance(alice, bob))
	assert.ErrorIs(t, l.SpendAllowance(alice, bob, u(7)), ErrInsufficientAllowance)

	require.Nil(t, l.Approve(alice, bob, amount.Unlimited))
	require.Nil(t, l.SpendAllowance(alice, bob, u(1000)))
	assert.Equal(t, amount.Unlimited, l.Allowance(alice, bob))
}

func TestConversions(t *testing.T) {
	l := New(18, 18)
	shares, err := l.ConvertToShares(u(500), Floor)
	require.Nil(t, err)
	assert.Equal(t, u(500), shares)

	require.Nil(t, l.Mint(alice, u(400)))
	l.SetTotalAssets(u(200))

	assets, err := l.ConvertToAssets(u(3), Floor)
	require.Nil(t, err)
	assert.Equal(t, u(1), assets)
	assets, err = l.ConvertToAssets(u(3), Ceil)
	require.Nil(t, err)
	assert.Equal(t, u(2), assets)

	shares, err = l.ConvertToShares(u(7), Floor)
	require.Nil(t, err)
	assert.Equal(t, u(14), shares)

	l.SetTotalAssets(amount.Zero())
	shares, err = l.ConvertToShares(u(7), Floor)
	require.Nil(t, err)
	assert.True(t, shares.IsZero())
}

func TestDecimalFallback(t *testing.T) {
	l := New(6, 18)
	shares, err := l.ConvertToShares(u(5), Floor)
	require.Nil(t, err)
	assert.Equal(t, new(uint256.Int).Mul(u(5), amount.Pow10(12)), shares)

	assets, err := l.ConvertToAssets(u(1_500_000_000_000), Floor)
	require.Nil(t, err)
	assert.Equal(t, u(1), assets)
	assets, err = l.ConvertToAssets(u(1_500_000_000_000), Ceil)
	require.Nil(t, err)
	assert.Equal(t, u(2), assets)
}

func TestTrackedAssets(t *testing.T) {
	l := New(18, 18)
	l.SetTotalAssets(u(100))
	require.Nil(t, l.DecreaseAssets(u(60)))
	assert.Equal(t, u(40), l.TotalAssets())
	assert.ErrorIs(t, l.DecreaseAssets(u(41)), ErrInsufficientAssets)
	assert.Equal(t, u(40), l.TotalAssets())
}

func TestCloneAndSnapshot(t *testing.T) {
	l := New(18, 18)
	require.Nil(t, l.Mint(alice, u(10)))
	require.Nil(t, l.Approve(alice, bob, u(3)))
	l.SetTotalAssets(u(20))

	c := l.Clone()
	require.Nil(t, c.Burn(alice, u(10)))
	assert.Equal(t, u(10), l.BalanceOf(alice))

	restored := New(18, 18)
	require.Nil(t, restored.Restore(l.Snapshot()))
	assert.Equal(t, u(10), restored.BalanceOf(alice))
	assert.Equal(t, u(10), restored.TotalSupply())
	assert.Equal(t, u(3), restored.Allowance(alice, bob))
	assert.Equal(t, u(20), restored.TotalAssets())
}
