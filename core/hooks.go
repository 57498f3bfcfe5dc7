package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/axiomesh/allocator/core/amount"
)

// Strategy customizes the policy decisions of a Mechanism. Hooks are only
// invoked by the mechanism, inside a guarded entrypoint or a read, and
// receive a View of the mechanism state. A View cannot be built outside this
// package, so a hook cannot be driven by an external caller with
// fabricated state.
//
// Hooks must not call back into the Mechanism: guarded entrypoints fail with
// ErrReentrantCall when they do.
type Strategy interface {
	// BeforeSignup reports whether user may register.
	BeforeSignup(v View, user common.Address) bool

	// BeforePropose reports whether proposer may create proposals.
	BeforePropose(v View, proposer common.Address) bool

	// VotingPower converts a deposit into voting power.
	VotingPower(v View, user common.Address, deposit *uint256.Int) (*uint256.Int, error)

	ValidateProposal(v View, pid uint64) bool

	// ProcessVote records a vote and returns the remaining voting power of
	// the voter, which must not exceed oldPower.
	ProcessVote(v View, pid uint64, voter common.Address, choice VoteType, weight, oldPower *uint256.Int) (*uint256.Int, error)

	HasQuorum(v View, pid uint64) bool

	// ConvertVotesToShares returns the shares allocated to a proposal on
	// queuing.
	ConvertVotesToShares(v View, pid uint64) (*uint256.Int, error)

	// BeforeFinalize gates the finalization of the tally.
	BeforeFinalize(v View) bool

	Recipient(v View, pid uint64) (common.Address, error)

	// Distribute may pay the recipient directly instead of minting shares.
	// It reports whether it handled the distribution and the assets it
	// moved out of the pool.
	Distribute(ctx context.Context, v View, d Distributor, recipient common.Address, shares *uint256.Int) (bool, *uint256.Int, error)

	// WithdrawLimit caps the assets owner may withdraw. amount.Unlimited
	// means no cap.
	WithdrawLimit(v View, owner common.Address) *uint256.Int

	// TotalAssets is read once at finalization to set the tracked assets.
	TotalAssets(ctx context.Context, v View) (*uint256.Int, error)
}

// Attacher is implemented by strategies that need to run owner scoped
// governance calls through the mechanism.
type Attacher interface {
	Attach(g Governor)
}

// Persistent is implemented by strategies with state of their own.
type Persistent interface {
	MarshalState() (json.RawMessage, error)
	UnmarshalState(raw json.RawMessage) error
}

// Governor runs fn under the mechanism guard after checking caller is the
// owner.
type Governor interface {
	Govern(ctx context.Context, caller common.Address, fn func(v View) error) error
}

// Distributor lets Distribute move assets out of the pool. It is only valid
// for the duration of the hook call.
type Distributor interface {
	TransferAssets(ctx context.Context, to common.Address, value *uint256.Int) error
}

// View is a read only handle on the mechanism state.
type View interface {
	Now() time.Time
	Config() Config
	Timeline() Timeline
	Finalized() bool
	ProposalCount() uint64
	Proposal(pid uint64) (Proposal, bool)
	VotingPower(user common.Address) *uint256.Int
	TotalAssets() *uint256.Int
	TotalSupply() *uint256.Int

	// PoolBalance is the backing asset balance held by the mechanism.
	PoolBalance(ctx context.Context) (*uint256.Int, error)

	// Logger is the mechanism logger, for strategies reporting their own
	// configuration changes.
	Logger() logrus.FieldLogger

	sealed()
}

type view struct {
	m *Mechanism
}

func (v view) Now() time.Time { return v.m.clock.Now() }
func (v view) Config() Config { return v.m.Config() }
func (v view) Timeline() Timeline { return v.m.timeline }
func (v view) Finalized() bool { return v.m.finalized }
func (v view) ProposalCount() uint64 { return uint64(len(v.m.proposals)) }
func (v view) TotalAssets() *uint256.Int { return v.m.ledger.TotalAssets() }
func (v view) TotalSupply() *uint256.Int { return v.m.ledger.TotalSupply() }
func (v view) Logger() logrus.FieldLogger { return v.m.logger }
func (view) sealed() {}

func (v view) PoolBalance(ctx context.Context) (*uint256.Int, error) {
	return v.m.asset.BalanceOf(ctx, v.m.cfg.Address)
}

func (v view) Proposal(pid uint64) (Proposal, bool) {
	p, err := v.m.proposal(pid)
	if err != nil {
		return Proposal{}, false
	}
	return p.clone(), true
}

func (v view) VotingPower(user common.Address) *uint256.Int {
	return v.m.votingPower(user)
}

type distributor struct {
	m      *Mechanism
	active bool
}

func (d *distributor) TransferAssets(ctx context.Context, to common.Address, value *uint256.Int) error {
	if !d.active {
		return errors.New("distributor used outside of its hook")
	}
	if err := d.m.asset.Transfer(ctx, d.m.cfg.Address, to, value); err != nil {
		return errors.Wrapf(ErrTransferFailed, "pay %s to %s: %v", value, to, err)
	}
	return nil
}

// BaseStrategy implements every hook with the default policy. Concrete
// strategies embed it and override what they customize.
type BaseStrategy struct{}

var _ Strategy = BaseStrategy{}

func (BaseStrategy) BeforeSignup(View, common.Address) bool {
	return true
}

func (BaseStrategy) BeforePropose(v View, proposer common.Address) bool {
	cfg := v.Config()
	return proposer == cfg.Keeper || proposer == cfg.Management
}

// VotingPower normalizes the deposit to 18 decimals.
func (BaseStrategy) VotingPower(v View, _ common.Address, deposit *uint256.Int) (*uint256.Int, error) {
	decimals := v.Config().AssetDecimals
	switch {
	case decimals == 18:
		return deposit.Clone(), nil
	case decimals < 18:
		return amount.Mul(deposit, amount.Pow10(18-decimals))
	default:
		return new(uint256.Int).Div(deposit, amount.Pow10(decimals-18)), nil
	}
}

func (BaseStrategy) ValidateProposal(v View, pid uint64) bool {
	return pid > 0 && pid <= v.ProposalCount()
}

// ProcessVote spends weight voting power one to one.
func (BaseStrategy) ProcessVote(_ View, _ uint64, _ common.Address, _ VoteType, weight, oldPower *uint256.Int) (*uint256.Int, error) {
	if weight.Gt(oldPower) {
		return nil, errors.Wrapf(ErrInsufficientPower, "weight %s exceeds power %s", weight, oldPower)
	}
	return new(uint256.Int).Sub(oldPower, weight), nil
}

func (BaseStrategy) HasQuorum(View, uint64) bool {
	return false
}

func (BaseStrategy) ConvertVotesToShares(View, uint64) (*uint256.Int, error) {
	return amount.Zero(), nil
}

func (BaseStrategy) BeforeFinalize(View) bool {
	return true
}

func (BaseStrategy) Recipient(v View, pid uint64) (common.Address, error) {
	p, ok := v.Proposal(pid)
	if !ok {
		return common.Address{}, errors.Wrapf(ErrInvalidProposal, "proposal %d", pid)
	}
	return p.Recipient, nil
}

func (BaseStrategy) Distribute(context.Context, View, Distributor, common.Address, *uint256.Int) (bool, *uint256.Int, error) {
	return false, amount.Zero(), nil
}

// WithdrawLimit is zero outside the redemption window and unlimited inside.
func (BaseStrategy) WithdrawLimit(v View, _ common.Address) *uint256.Int {
	if !v.Timeline().RedemptionOpen(v.Now()) {
		return amount.Zero()
	}
	return amount.Unlimited.Clone()
}

// TotalAssets is the backing asset balance of the mechanism, including
// matching funds transferred in from outside.
func (BaseStrategy) TotalAssets(ctx context.Context, v View) (*uint256.Int, error) {
	return v.PoolBalance(ctx)
}
