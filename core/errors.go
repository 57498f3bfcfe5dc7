package core

import (
	"github.com/pkg/errors"

	"github.com/axiomesh/allocator/core/amount"
	"github.com/axiomesh/allocator/core/auth"
)

var (
	// configuration
	ErrInvalidConfig = errors.New("invalid mechanism config")

	// authorization
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidSignature   = auth.ErrInvalidSignature
	ErrExpiredSignature   = auth.ErrExpiredSignature
	ErrRecipientMismatch  = errors.New("recipient does not match the signed recipient")
	ErrRegistrationDenied = errors.New("signup not allowed")
	ErrProposeDenied      = errors.New("proposer not allowed")

	// state machine
	ErrInvalidProposal        = errors.New("invalid proposal id")
	ErrInvalidProposalState   = errors.New("operation not allowed in proposal state")
	ErrInvalidRecipient       = errors.New("invalid recipient")
	ErrRecipientUsed          = errors.New("recipient already has an active proposal")
	ErrEmptyDescription       = errors.New("empty description")
	ErrDescriptionTooLong     = errors.New("description too long")
	ErrVotingEnded            = errors.New("voting period ended")
	ErrVotingNotActive        = errors.New("voting window not open")
	ErrVotingNotEnded         = errors.New("voting period not ended")
	ErrAlreadyVoted           = errors.New("already voted on proposal")
	ErrInvalidVoteType        = errors.New("invalid vote type")
	ErrPowerIncreased         = errors.New("vote processing increased voting power")
	ErrTallyAlreadyFinalized  = errors.New("tally already finalized")
	ErrTallyNotFinalized      = errors.New("tally not finalized")
	ErrFinalizationBlocked    = errors.New("finalization blocked by strategy")
	ErrQueueWindowClosed      = errors.New("redemption already started, queuing closed")
	ErrNoQuorum               = errors.New("proposal did not reach quorum")
	ErrAlreadyQueued          = errors.New("proposal already queued")
	ErrNoAllocation           = errors.New("proposal converts to zero shares")
	ErrRedemptionWindowClosed = errors.New("outside redemption window")
	ErrGracePeriodActive      = errors.New("grace period not elapsed")

	// arithmetic and bounds
	ErrOverflow          = amount.ErrOverflow
	ErrExceedsMaxRedeem  = errors.New("redeem exceeds max")
	ErrZeroAssets        = errors.New("zero assets")
	ErrZeroShares        = errors.New("zero shares")
	ErrInsufficientPower = errors.New("insufficient voting power")

	// backing asset
	ErrTransferFailed = errors.New("asset transfer failed")

	// execution
	ErrReentrantCall = errors.New("reentrant call")
)
