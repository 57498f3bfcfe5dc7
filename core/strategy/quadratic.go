// Package strategy holds the concrete strategies plugged into a
// core.Mechanism.
package strategy

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/axiomesh/allocator/core"
	"github.com/axiomesh/allocator/core/amount"
	"github.com/axiomesh/allocator/core/tally"
)

var (
	ErrOnlyForVotes = errors.New("only for votes are accepted")
	ErrNotAttached  = errors.New("strategy is not attached to a mechanism")
)

var (
	_ core.Strategy   = (*QuadraticVoting)(nil)
	_ core.Attacher   = (*QuadraticVoting)(nil)
	_ core.Persistent = (*QuadraticVoting)(nil)
)

// QuadraticVoting charges weight squared voting power per vote and funds
// proposals with the alpha weighted blend of quadratic and linear funding
// kept by a tally.Engine.
type QuadraticVoting struct {
	core.BaseStrategy

	engine         *tally.Engine
	gov            core.Governor
	directTransfer bool

	// fixed at finalization when paying recipients directly: the pool and
	// the sum of the allocations of every proposal that reached quorum
	payoutPool  *uint256.Int
	payoutBasis *uint256.Int
}

type QuadraticOption func(*quadraticOptions)

type quadraticOptions struct {
	tally          []tally.Option
	directTransfer bool
}

// WithToleranceDivisor sets the accepted band below the square root of the
// vote cost, see tally.WithToleranceDivisor.
func WithToleranceDivisor(divisor uint64) QuadraticOption {
	return func(o *quadraticOptions) {
		o.tally = append(o.tally, tally.WithToleranceDivisor(divisor))
	}
}

// WithDirectTransfer pays recipients in assets on queuing instead of minting
// shares.
func WithDirectTransfer() QuadraticOption {
	return func(o *quadraticOptions) {
		o.directTransfer = true
	}
}

func NewQuadraticVoting(alphaNumerator, alphaDenominator *uint256.Int, opts ...QuadraticOption) (*QuadraticVoting, error) {
	o := &quadraticOptions{}
	for _, opt := range opts {
		opt(o)
	}
	engine, err := tally.New(alphaNumerator, alphaDenominator, o.tally...)
	if err != nil {
		return nil, err
	}
	return &QuadraticVoting{engine: engine, directTransfer: o.directTransfer}, nil
}

func (q *QuadraticVoting) Attach(g core.Governor) {
	q.gov = g
}

// ProcessVote folds a For vote of the given weight into the tally. The vote
// costs weight squared voting power.
func (q *QuadraticVoting) ProcessVote(_ core.View, pid uint64, _ common.Address, choice core.VoteType, weight, oldPower *uint256.Int) (*uint256.Int, error) {
	if choice != core.For {
		return nil, errors.Wrapf(ErrOnlyForVotes, "got %s", choice)
	}
	if weight.IsZero() {
		return nil, tally.ErrZeroVoteWeight
	}
	cost, err := amount.Mul(weight, weight)
	if err != nil {
		return nil, errors.Wrapf(err, "cost of weight %s", weight)
	}
	if cost.Gt(oldPower) {
		return nil, errors.Wrapf(core.ErrInsufficientPower, "cost %s exceeds power %s", cost, oldPower)
	}
	if err := q.engine.ProcessVote(pid, cost, weight); err != nil {
		return nil, err
	}
	return new(uint256.Int).Sub(oldPower, cost), nil
}

// HasQuorum reports whether the weighted funding of pid reached the quorum.
func (q *QuadraticVoting) HasQuorum(v core.View, pid uint64) bool {
	t, err := q.engine.Tally(pid)
	if err != nil {
		return false
	}
	return !t.Funding().Lt(v.Config().QuorumShares)
}

// ConvertVotesToShares allocates the weighted funding of pid, capped by the
// tracked assets, or by the pool fixed at finalization for direct transfers.
func (q *QuadraticVoting) ConvertVotesToShares(v core.View, pid uint64) (*uint256.Int, error) {
	t, err := q.engine.Tally(pid)
	if err != nil {
		return nil, err
	}
	pool := v.TotalAssets()
	if q.directTransfer && q.payoutPool != nil {
		pool = q.payoutPool
	}
	return amount.Min(t.Funding(), pool), nil
}

// TotalAssets reads the pool at finalization. With direct transfers it also
// fixes the pool and the allocations payouts are split over, so a payout
// does not depend on the order proposals are queued in.
func (q *QuadraticVoting) TotalAssets(ctx context.Context, v core.View) (*uint256.Int, error) {
	assets, err := q.BaseStrategy.TotalAssets(ctx, v)
	if err != nil || !q.directTransfer {
		return assets, err
	}
	basis := amount.Zero()
	for pid := uint64(1); pid <= v.ProposalCount(); pid++ {
		p, ok := v.Proposal(pid)
		if !ok || p.Canceled || !q.HasQuorum(v, pid) {
			continue
		}
		t, err := q.engine.Tally(pid)
		if err != nil {
			return nil, err
		}
		if basis, err = amount.Add(basis, amount.Min(t.Funding(), assets)); err != nil {
			return nil, errors.Wrap(err, "payout basis")
		}
	}
	q.payoutPool, q.payoutBasis = assets.Clone(), basis
	return assets, nil
}

// Distribute pays recipients their pro-rata part of the finalized pool when
// direct transfers are enabled: shares * pool / sum of allocations, the
// same amount the shares would redeem for had every allocation been minted.
func (q *QuadraticVoting) Distribute(ctx context.Context, v core.View, d core.Distributor, recipient common.Address, shares *uint256.Int) (bool, *uint256.Int, error) {
	if !q.directTransfer {
		return false, amount.Zero(), nil
	}
	if q.payoutBasis == nil || q.payoutBasis.IsZero() {
		return false, nil, errors.Wrap(core.ErrTallyNotFinalized, "payout basis not fixed")
	}
	assets, err := amount.MulDiv(shares, q.payoutPool, q.payoutBasis, false)
	if err != nil {
		return false, nil, err
	}
	if err := d.TransferAssets(ctx, recipient, assets); err != nil {
		return false, nil, err
	}
	return true, assets, nil
}

// SetAlpha changes the quadratic weight. It is owner only and frozen once
// the tally is finalized.
func (q *QuadraticVoting) SetAlpha(ctx context.Context, caller common.Address, numerator, denominator *uint256.Int) error {
	if q.gov == nil {
		return ErrNotAttached
	}
	return q.gov.Govern(ctx, caller, func(v core.View) error {
		if v.Finalized() {
			return errors.Wrap(core.ErrTallyAlreadyFinalized, "alpha is frozen")
		}
		if err := q.engine.SetAlpha(numerator, denominator); err != nil {
			return err
		}
		v.Logger().WithFields(logrus.Fields{
			"numerator":   numerator.Dec(),
			"denominator": denominator.Dec(),
		}).Info("alpha updated")
		return nil
	})
}

// OptimalAlpha computes the alpha spending matchingPool plus userDeposits
// exactly on the current totals.
func (q *QuadraticVoting) OptimalAlpha(matchingPool, userDeposits *uint256.Int) (numerator, denominator *uint256.Int, err error) {
	totals := q.engine.Totals()
	return tally.OptimalAlpha(matchingPool, totals.QuadraticSum, totals.LinearSum, userDeposits)
}

func (q *QuadraticVoting) Tally(pid uint64) (tally.ProjectTally, error) {
	return q.engine.Tally(pid)
}

func (q *QuadraticVoting) Totals() tally.Totals {
	return q.engine.Totals()
}

type quadraticState struct {
	Tally       tally.Snapshot        `json:"tally"`
	PayoutPool  *math.HexOrDecimal256 `json:"payout_pool,omitempty"`
	PayoutBasis *math.HexOrDecimal256 `json:"payout_basis,omitempty"`
}

func (q *QuadraticVoting) MarshalState() (json.RawMessage, error) {
	s := quadraticState{Tally: q.engine.Snapshot()}
	if q.payoutPool != nil {
		s.PayoutPool = amount.Encode(q.payoutPool)
		s.PayoutBasis = amount.Encode(q.payoutBasis)
	}
	return json.Marshal(s)
}

func (q *QuadraticVoting) UnmarshalState(raw json.RawMessage) error {
	var s quadraticState
	if err := json.Unmarshal(raw, &s); err != nil {
		return errors.Wrap(err, "unmarshal quadratic state")
	}
	if err := q.engine.Restore(s.Tally); err != nil {
		return err
	}
	q.payoutPool, q.payoutBasis = nil, nil
	if s.PayoutPool == nil {
		return nil
	}
	pool, err := amount.Decode(s.PayoutPool)
	if err != nil {
		return errors.Wrap(err, "payout pool")
	}
	basis, err := amount.Decode(s.PayoutBasis)
	if err != nil {
		return errors.Wrap(err, "payout basis")
	}
	q.payoutPool, q.payoutBasis = pool, basis
	return nil
}
