package core

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/axiomesh/allocator/core/amount"
)

// MaxDescriptionLength bounds a proposal description in bytes.
const MaxDescriptionLength = 1000

type ProposalState uint8

const (
	// Pending proposals wait for the voting window to open
	Pending ProposalState = iota

	// Active proposals accept votes
	Active

	// Canceled by the proposer before finalization
	Canceled

	// Tallying means voting ended but the tally is not finalized yet
	Tallying

	// Defeated proposals missed quorum
	Defeated

	// Succeeded proposals reached quorum and wait to be queued
	Succeeded

	// Queued proposals have their shares allocated and wait for the timelock
	Queued

	// Redeemable while the redemption window is open
	Redeemable

	// Expired after the redemption window closed
	Expired
)

func (s ProposalState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Active:
		return "active"
	case Canceled:
		return "canceled"
	case Tallying:
		return "tallying"
	case Defeated:
		return "defeated"
	case Succeeded:
		return "succeeded"
	case Queued:
		return "queued"
	case Redeemable:
		return "redeemable"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

type VoteType uint8

const (
	Against VoteType = iota
	For
	Abstain
)

func (v VoteType) String() string {
	switch v {
	case Against:
		return "against"
	case For:
		return "for"
	case Abstain:
		return "abstain"
	default:
		return "unknown"
	}
}

func ParseVoteType(s string) (VoteType, error) {
	switch s {
	case "against":
		return Against, nil
	case "for":
		return For, nil
	case "abstain":
		return Abstain, nil
	}
	return 0, errors.Wrapf(ErrInvalidVoteType, "%q", s)
}

type Proposal struct {
	ID          uint64
	Proposer    common.Address
	Recipient   common.Address
	Description string
	Canceled    bool

	// Shares allocated when the proposal was queued, zero before
	Shares *uint256.Int
}

func (p *Proposal) queued() bool {
	return p.Shares != nil && !p.Shares.IsZero()
}

func (p *Proposal) clone() Proposal {
	c := *p
	c.Shares = amount.OrZero(p.Shares)
	return c
}

type VoterRecord struct {
	Power *uint256.Int

	// Nonce is the next nonce a signed action of this voter must carry
	Nonce uint64
}

// Timeline holds every time threshold of a mechanism. Zero values are unset.
type Timeline struct {
	StartTime       time.Time `json:"start_time"`
	VotingStart     time.Time `json:"voting_start"`
	VotingEnd       time.Time `json:"voting_end"`
	TallyFinalized  time.Time `json:"tally_finalized"`
	RedemptionStart time.Time `json:"redemption_start"`
	RedemptionEnd   time.Time `json:"redemption_end"`
}

// VotingOpen reports whether t is inside the inclusive voting window.
func (tl Timeline) VotingOpen(t time.Time) bool {
	return !t.Before(tl.VotingStart) && !t.After(tl.VotingEnd)
}

// RedemptionOpen reports whether t is inside the inclusive redemption
// window. It is always false before finalization.
func (tl Timeline) RedemptionOpen(t time.Time) bool {
	if tl.RedemptionStart.IsZero() {
		return false
	}
	return !t.Before(tl.RedemptionStart) && !t.After(tl.RedemptionEnd)
}

// Config is fixed at construction. Owner, keeper and management can only be
// changed through the owner scoped governance calls.
type Config struct {
	// Address is the identity of the mechanism itself, it holds the pool
	// and verifies signatures as the EIP-712 verifying contract.
	Address common.Address
	Name    string
	Symbol  string
	Version string

	Asset         common.Address
	AssetDecimals uint8

	StartTime     time.Time
	VotingDelay   time.Duration
	VotingPeriod  time.Duration
	TimelockDelay time.Duration
	GracePeriod   time.Duration

	QuorumShares *uint256.Int

	Owner      common.Address
	Management common.Address
	Keeper     common.Address
}

func (c *Config) Validate() error {
	switch {
	case c.Address == (common.Address{}):
		return errors.Wrap(ErrInvalidConfig, "mechanism address is zero")
	case c.Asset == (common.Address{}):
		return errors.Wrap(ErrInvalidConfig, "asset address is zero")
	case c.Name == "":
		return errors.Wrap(ErrInvalidConfig, "name is empty")
	case c.Symbol == "":
		return errors.Wrap(ErrInvalidConfig, "symbol is empty")
	case c.Owner == (common.Address{}):
		return errors.Wrap(ErrInvalidConfig, "owner is zero")
	case c.VotingDelay < 0:
		return errors.Wrap(ErrInvalidConfig, "voting delay is negative")
	case c.VotingPeriod <= 0:
		return errors.Wrap(ErrInvalidConfig, "voting period must be positive")
	case c.TimelockDelay <= 0:
		return errors.Wrap(ErrInvalidConfig, "timelock delay must be positive")
	case c.GracePeriod <= 0:
		return errors.Wrap(ErrInvalidConfig, "grace period must be positive")
	case c.QuorumShares == nil || c.QuorumShares.IsZero():
		return errors.Wrap(ErrInvalidConfig, "quorum shares must be positive")
	case c.AssetDecimals > 36:
		return errors.Wrapf(ErrInvalidConfig, "asset decimals %d too large", c.AssetDecimals)
	}
	return nil
}
