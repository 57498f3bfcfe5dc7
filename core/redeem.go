package core

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/axiomesh/allocator/core/amount"
	"github.com/axiomesh/allocator/core/ledger"
)

func (m *Mechanism) Name() string {
	return m.cfg.Name
}

func (m *Mechanism) Symbol() string {
	return m.cfg.Symbol
}

func (m *Mechanism) Decimals() uint8 {
	return m.ledger.Decimals()
}

func (m *Mechanism) TotalSupply() *uint256.Int {
	return m.ledger.TotalSupply()
}

// TotalAssets is the tracked amount of backing assets, independent of the
// raw balance of the pool.
func (m *Mechanism) TotalAssets() *uint256.Int {
	return m.ledger.TotalAssets()
}

func (m *Mechanism) BalanceOf(owner common.Address) *uint256.Int {
	return m.ledger.BalanceOf(owner)
}

func (m *Mechanism) Allowance(owner, spender common.Address) *uint256.Int {
	return m.ledger.Allowance(owner, spender)
}

func (m *Mechanism) ConvertToShares(assets *uint256.Int) (*uint256.Int, error) {
	return m.ledger.ConvertToShares(assets, ledger.Floor)
}

func (m *Mechanism) ConvertToAssets(shares *uint256.Int) (*uint256.Int, error) {
	return m.ledger.ConvertToAssets(shares, ledger.Floor)
}

func (m *Mechanism) PreviewRedeem(shares *uint256.Int) (*uint256.Int, error) {
	return m.ledger.ConvertToAssets(shares, ledger.Floor)
}

func (m *Mechanism) PreviewWithdraw(assets *uint256.Int) (*uint256.Int, error) {
	return m.ledger.ConvertToShares(assets, ledger.Ceil)
}

// MaxRedeem is the share balance of owner capped by the strategy's withdraw
// limit. It is zero outside the redemption window under the default policy.
func (m *Mechanism) MaxRedeem(owner common.Address) (*uint256.Int, error) {
	balance := m.ledger.BalanceOf(owner)
	limit := m.strategy.WithdrawLimit(m.view(), owner)
	if limit == nil || limit.Eq(amount.Unlimited) {
		return balance, nil
	}
	limitShares, err := m.ledger.ConvertToShares(limit, ledger.Floor)
	if err != nil {
		return nil, err
	}
	return amount.Min(balance, limitShares), nil
}

func (m *Mechanism) MaxWithdraw(owner common.Address) (*uint256.Int, error) {
	shares, err := m.MaxRedeem(owner)
	if err != nil {
		return nil, err
	}
	return m.ledger.ConvertToAssets(shares, ledger.Floor)
}

// Redeem burns shares of owner and pays the assets they are worth to
// receiver. caller spends allowance when it is not the owner.
func (m *Mechanism) Redeem(ctx context.Context, caller common.Address, shares *uint256.Int, receiver, owner common.Address) (*uint256.Int, error) {
	if err := m.enter(); err != nil {
		return nil, err
	}
	defer m.exit()

	if shares == nil || shares.IsZero() {
		return nil, ErrZeroShares
	}
	max, err := m.MaxRedeem(owner)
	if err != nil {
		return nil, err
	}
	if shares.Gt(max) {
		return nil, errors.Wrapf(ErrExceedsMaxRedeem, "%s shares of %s, max %s, now %s, window [%s, %s]",
			shares, owner, max, m.clock.Now(), m.timeline.RedemptionStart, m.timeline.RedemptionEnd)
	}
	assets, err := m.ledger.ConvertToAssets(shares, ledger.Floor)
	if err != nil {
		return nil, err
	}
	if assets.IsZero() {
		return nil, errors.Wrapf(ErrZeroAssets, "%s shares", shares)
	}
	if err := m.payout(ctx, caller, receiver, owner, shares, assets); err != nil {
		return nil, err
	}
	return assets, nil
}

// Withdraw pays exactly assets to receiver, burning the shares needed
// rounded up.
func (m *Mechanism) Withdraw(ctx context.Context, caller common.Address, assets *uint256.Int, receiver, owner common.Address) (*uint256.Int, error) {
	if err := m.enter(); err != nil {
		return nil, err
	}
	defer m.exit()

	if assets == nil || assets.IsZero() {
		return nil, ErrZeroAssets
	}
	shares, err := m.ledger.ConvertToShares(assets, ledger.Ceil)
	if err != nil {
		return nil, err
	}
	if shares.IsZero() {
		return nil, errors.Wrapf(ErrZeroShares, "%s assets", assets)
	}
	max, err := m.MaxRedeem(owner)
	if err != nil {
		return nil, err
	}
	if shares.Gt(max) {
		return nil, errors.Wrapf(ErrExceedsMaxRedeem, "%s shares of %s, max %s, now %s, window [%s, %s]",
			shares, owner, max, m.clock.Now(), m.timeline.RedemptionStart, m.timeline.RedemptionEnd)
	}
	if err := m.payout(ctx, caller, receiver, owner, shares, assets); err != nil {
		return nil, err
	}
	return shares, nil
}

func (m *Mechanism) payout(ctx context.Context, caller, receiver, owner common.Address, shares, assets *uint256.Int) error {
	if receiver == (common.Address{}) {
		return errors.Wrap(ErrInvalidRecipient, "zero receiver")
	}
	err := m.withRollback(func() error {
		if caller != owner {
			if err := m.ledger.SpendAllowance(owner, caller, shares); err != nil {
				return err
			}
		}
		if err := m.ledger.Burn(owner, shares); err != nil {
			return err
		}
		if err := m.ledger.DecreaseAssets(assets); err != nil {
			return err
		}
		if err := m.asset.Transfer(ctx, m.cfg.Address, receiver, assets); err != nil {
			return errors.Wrapf(ErrTransferFailed, "pay %s to %s: %v", assets, receiver, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"caller":   caller,
		"owner":    owner,
		"receiver": receiver,
		"shares":   shares,
		"assets":   assets,
	}).Info("shares redeemed")
	return nil
}

// Transfer moves shares between holders. Shares only move while the
// redemption window is open, which also blocks any trading before
// finalization.
func (m *Mechanism) Transfer(ctx context.Context, caller, to common.Address, shares *uint256.Int) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.exit()
	if err := m.transferOpen(); err != nil {
		return err
	}
	return m.ledger.Transfer(caller, to, amount.OrZero(shares))
}

func (m *Mechanism) TransferFrom(ctx context.Context, caller, from, to common.Address, shares *uint256.Int) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.exit()
	if err := m.transferOpen(); err != nil {
		return err
	}
	shares = amount.OrZero(shares)
	return m.withRollback(func() error {
		if err := m.ledger.SpendAllowance(from, caller, shares); err != nil {
			return err
		}
		return m.ledger.Transfer(from, to, shares)
	})
}

func (m *Mechanism) Approve(ctx context.Context, caller, spender common.Address, shares *uint256.Int) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.exit()
	return m.ledger.Approve(caller, spender, shares)
}

func (m *Mechanism) transferOpen() error {
	now := m.clock.Now()
	if !m.timeline.RedemptionOpen(now) {
		return errors.Wrapf(ErrRedemptionWindowClosed, "now %s, window [%s, %s]", now, m.timeline.RedemptionStart, m.timeline.RedemptionEnd)
	}
	return nil
}

// Sweep sends the whole balance of token held by the mechanism to receiver
// once the grace period has fully elapsed.
func (m *Mechanism) Sweep(ctx context.Context, caller common.Address, token Asset, receiver common.Address) (*uint256.Int, error) {
	if err := m.enter(); err != nil {
		return nil, err
	}
	defer m.exit()

	if err := m.onlyOwner(caller); err != nil {
		return nil, err
	}
	if receiver == (common.Address{}) {
		return nil, errors.Wrap(ErrInvalidRecipient, "zero receiver")
	}
	now := m.clock.Now()
	if !m.finalized || !now.After(m.timeline.RedemptionEnd) {
		return nil, errors.Wrapf(ErrGracePeriodActive, "now %s, redemption end %s", now, m.timeline.RedemptionEnd)
	}
	balance, err := token.BalanceOf(ctx, m.cfg.Address)
	if err != nil {
		return nil, err
	}
	if !balance.IsZero() {
		if err := token.Transfer(ctx, m.cfg.Address, receiver, balance); err != nil {
			return nil, errors.Wrapf(ErrTransferFailed, "sweep %s to %s: %v", balance, receiver, err)
		}
	}
	if token.Address() == m.cfg.Asset {
		m.ledger.SetTotalAssets(amount.Zero())
	}

	m.logger.WithFields(logrus.Fields{
		"token":    token.Address(),
		"receiver": receiver,
		"amount":   balance,
	}).Info("swept")
	return balance, nil
}
