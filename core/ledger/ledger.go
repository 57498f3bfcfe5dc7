// Package ledger keeps the fungible share accounting of a mechanism:
// balances, allowances, total supply and the tracked backing assets the
// shares are redeemable for.
//
// The tracked assets are only moved by explicit calls, never read from the
// backing asset balance, so donating assets directly to the pool does not
// move the exchange rate.
package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/axiomesh/allocator/core/amount"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient share balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInsufficientAssets    = errors.New("insufficient tracked assets")
	ErrZeroAddress           = errors.New("zero address")
)

// Rounding selects the direction of conversions.
type Rounding uint8

const (
	Floor Rounding = iota
	Ceil
)

type Ledger struct {
	balances    map[common.Address]*uint256.Int
	allowances  map[common.Address]map[common.Address]*uint256.Int
	totalSupply *uint256.Int
	totalAssets *uint256.Int

	assetDecimals uint8
	shareDecimals uint8
}

func New(assetDecimals, shareDecimals uint8) *Ledger {
	return &Ledger{
		balances:      make(map[common.Address]*uint256.Int),
		allowances:    make(map[common.Address]map[common.Address]*uint256.Int),
		totalSupply:   amount.Zero(),
		totalAssets:   amount.Zero(),
		assetDecimals: assetDecimals,
		shareDecimals: shareDecimals,
	}
}

func (l *Ledger) Decimals() uint8 {
	return l.shareDecimals
}

func (l *Ledger) BalanceOf(owner common.Address) *uint256.Int {
	return amount.OrZero(l.balances[owner])
}

func (l *Ledger) Allowance(owner, spender common.Address) *uint256.Int {
	return amount.OrZero(l.allowances[owner][spender])
}

func (l *Ledger) TotalSupply() *uint256.Int {
	return l.totalSupply.Clone()
}

func (l *Ledger) TotalAssets() *uint256.Int {
	return l.totalAssets.Clone()
}

func (l *Ledger) SetTotalAssets(assets *uint256.Int) {
	l.totalAssets = amount.OrZero(assets)
}

func (l *Ledger) DecreaseAssets(assets *uint256.Int) error {
	remaining, err := amount.Sub(l.totalAssets, assets)
	if err != nil {
		return errors.Wrapf(ErrInsufficientAssets, "tracked %s, requested %s", l.totalAssets, assets)
	}
	l.totalAssets = remaining
	return nil
}

func (l *Ledger) Mint(to common.Address, shares *uint256.Int) error {
	if to == (common.Address{}) {
		return errors.Wrap(ErrZeroAddress, "mint")
	}
	supply, err := amount.Add(l.totalSupply, shares)
	if err != nil {
		return errors.Wrap(err, "total supply")
	}
	l.totalSupply = supply
	l.balances[to] = new(uint256.Int).Add(l.BalanceOf(to), shares)
	return nil
}

func (l *Ledger) Burn(from common.Address, shares *uint256.Int) error {
	balance := l.BalanceOf(from)
	if balance.Lt(shares) {
		return errors.Wrapf(ErrInsufficientBalance, "%s holds %s, burning %s", from, balance, shares)
	}
	l.balances[from] = balance.Sub(balance, shares)
	l.totalSupply = new(uint256.Int).Sub(l.totalSupply, shares)
	return nil
}

func (l *Ledger) Transfer(from, to common.Address, shares *uint256.Int) error {
	if from == (common.Address{}) || to == (common.Address{}) {
		return errors.Wrap(ErrZeroAddress, "transfer")
	}
	balance := l.BalanceOf(from)
	if balance.Lt(shares) {
		return errors.Wrapf(ErrInsufficientBalance, "%s holds %s, sending %s", from, balance, shares)
	}
	l.balances[from] = balance.Sub(balance, shares)
	l.balances[to] = new(uint256.Int).Add(l.BalanceOf(to), shares)
	return nil
}

func (l *Ledger) Approve(owner, spender common.Address, shares *uint256.Int) error {
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return errors.Wrap(ErrZeroAddress, "approve")
	}
	if l.allowances[owner] == nil {
		l.allowances[owner] = make(map[common.Address]*uint256.Int)
	}
	l.allowances[owner][spender] = amount.OrZero(shares)
	return nil
}

// SpendAllowance lowers the allowance of spender over owner's shares. An
// allowance of the maximum value is treated as infinite.
func (l *Ledger) SpendAllowance(owner, spender common.Address, shares *uint256.Int) error {
	current := l.Allowance(owner, spender)
	if current.Eq(amount.Unlimited) {
		return nil
	}
	if current.Lt(shares) {
		return errors.Wrapf(ErrInsufficientAllowance, "%s may spend %s of %s, needs %s", spender, current, owner, shares)
	}
	return l.Approve(owner, spender, current.Sub(current, shares))
}

// ConvertToShares returns the shares worth the given assets at the current
// exchange rate. With no supply the amount is rescaled by the difference in
// decimals.
func (l *Ledger) ConvertToShares(assets *uint256.Int, rounding Rounding) (*uint256.Int, error) {
	if l.totalSupply.IsZero() {
		return l.rescale(assets, l.assetDecimals, l.shareDecimals, rounding)
	}
	if l.totalAssets.IsZero() {
		return amount.Zero(), nil
	}
	return amount.MulDiv(assets, l.totalSupply, l.totalAssets, rounding == Ceil)
}

// ConvertToAssets returns the assets the given shares are redeemable for.
func (l *Ledger) ConvertToAssets(shares *uint256.Int, rounding Rounding) (*uint256.Int, error) {
	if l.totalSupply.IsZero() {
		return l.rescale(shares, l.shareDecimals, l.assetDecimals, rounding)
	}
	return amount.MulDiv(shares, l.totalAssets, l.totalSupply, rounding == Ceil)
}

func (l *Ledger) rescale(x *uint256.Int, from, to uint8, rounding Rounding) (*uint256.Int, error) {
	switch {
	case from == to:
		return x.Clone(), nil
	case from < to:
		return amount.Mul(x, amount.Pow10(to-from))
	default:
		return amount.MulDiv(x, amount.New(1), amount.Pow10(from-to), rounding == Ceil)
	}
}

// Clone returns a deep copy used to roll back a failed operation.
func (l *Ledger) Clone() *Ledger {
	c := New(l.assetDecimals, l.shareDecimals)
	for owner, balance := range l.balances {
		c.balances[owner] = balance.Clone()
	}
	for owner, spenders := range l.allowances {
		c.allowances[owner] = make(map[common.Address]*uint256.Int, len(spenders))
		for spender, allowance := range spenders {
			c.allowances[owner][spender] = allowance.Clone()
		}
	}
	c.totalSupply = l.totalSupply.Clone()
	c.totalAssets = l.totalAssets.Clone()
	return c
}

// Snapshot is the persisted form of a Ledger.
type Snapshot struct {
	Balances    map[common.Address]*math.HexOrDecimal256                    `json:"balances"`
	Allowances  map[common.Address]map[common.Address]*math.HexOrDecimal256 `json:"allowances"`
	TotalAssets *math.HexOrDecimal256                                       `json:"total_assets"`
}

func (l *Ledger) Snapshot() Snapshot {
	s := Snapshot{
		Balances:    make(map[common.Address]*math.HexOrDecimal256, len(l.balances)),
		Allowances:  make(map[common.Address]map[common.Address]*math.HexOrDecimal256, len(l.allowances)),
		TotalAssets: amount.Encode(l.totalAssets),
	}
	for owner, balance := range l.balances {
		if !balance.IsZero() {
			s.Balances[owner] = amount.Encode(balance)
		}
	}
	for owner, spenders := range l.allowances {
		s.Allowances[owner] = make(map[common.Address]*math.HexOrDecimal256, len(spenders))
		for spender, allowance := range spenders {
			s.Allowances[owner][spender] = amount.Encode(allowance)
		}
	}
	return s
}

// Restore replaces the ledger state, recomputing the total supply from the
// balances.
func (l *Ledger) Restore(s Snapshot) error {
	restored := New(l.assetDecimals, l.shareDecimals)
	for owner, encoded := range s.Balances {
		balance, err := amount.Decode(encoded)
		if err != nil {
			return errors.Wrapf(err, "balance of %s", owner)
		}
		if err := restored.Mint(owner, balance); err != nil {
			return err
		}
	}
	for owner, spenders := range s.Allowances {
		for spender, encoded := range spenders {
			allowance, err := amount.Decode(encoded)
			if err != nil {
				return errors.Wrapf(err, "allowance of %s for %s", owner, spender)
			}
			if err := restored.Approve(owner, spender, allowance); err != nil {
				return err
			}
		}
	}
	assets, err := amount.Decode(s.TotalAssets)
	if err != nil {
		return errors.Wrap(err, "total assets")
	}
	restored.totalAssets = assets
	*l = *restored
	return nil
}
