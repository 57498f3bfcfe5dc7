package core

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/axiomesh/allocator/core/amount"
	"github.com/axiomesh/allocator/core/auth"
)

// CastVote spends voting power of caller on proposal pid. expectedRecipient
// must match the recipient of the proposal.
func (m *Mechanism) CastVote(ctx context.Context, caller common.Address, pid uint64, choice VoteType, weight *uint256.Int, expectedRecipient common.Address) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.exit()
	return m.castVote(caller, pid, choice, weight, expectedRecipient)
}

// CastVoteWithSignature casts a vote signed by voter, submitted by anyone.
func (m *Mechanism) CastVoteWithSignature(ctx context.Context, voter common.Address, pid uint64, choice VoteType, weight *uint256.Int, expectedRecipient common.Address, deadline uint64, signature []byte) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.exit()
	if weight == nil {
		return errors.Wrap(ErrInsufficientPower, "nil weight")
	}
	err := m.verify(ctx, voter, deadline, signature, func(d auth.Domain, nonce uint64) (common.Hash, error) {
		return auth.CastVoteDigest(d, auth.CastVote{
			Voter:             voter,
			ProposalID:        pid,
			Choice:            uint8(choice),
			Weight:            weight,
			ExpectedRecipient: expectedRecipient,
			Nonce:             nonce,
			Deadline:          deadline,
		})
	})
	if err != nil {
		return err
	}
	return m.castVote(voter, pid, choice, weight, expectedRecipient)
}

func (m *Mechanism) castVote(voter common.Address, pid uint64, choice VoteType, weight *uint256.Int, expectedRecipient common.Address) error {
	p, err := m.proposal(pid)
	if err != nil {
		return err
	}
	now := m.clock.Now()
	if !m.timeline.VotingOpen(now) {
		return errors.Wrapf(ErrVotingNotActive, "now %s, window [%s, %s]", now, m.timeline.VotingStart, m.timeline.VotingEnd)
	}
	v := m.view()
	if !m.strategy.ValidateProposal(v, pid) {
		return errors.Wrapf(ErrInvalidProposal, "proposal %d rejected by strategy", pid)
	}
	if state := m.state(p); state != Active {
		return errors.Wrapf(ErrInvalidProposalState, "proposal %d is %s", pid, state)
	}
	if p.Recipient != expectedRecipient {
		return errors.Wrapf(ErrRecipientMismatch, "proposal %d pays %s, vote expects %s", pid, p.Recipient, expectedRecipient)
	}
	if choice > Abstain {
		return errors.Wrapf(ErrInvalidVoteType, "choice %d", choice)
	}
	if weight == nil || weight.Gt(amount.MaxSafeValue) {
		return errors.Wrapf(ErrOverflow, "weight above %s", amount.MaxSafeValue)
	}
	if m.voted[pid][voter] {
		return errors.Wrapf(ErrAlreadyVoted, "voter %s, proposal %d", voter, pid)
	}

	oldPower := m.votingPower(voter)
	newPower, err := m.strategy.ProcessVote(v, pid, voter, choice, weight, oldPower)
	if err != nil {
		return errors.Wrapf(err, "voter %s, proposal %d", voter, pid)
	}
	if newPower.Gt(oldPower) {
		return errors.Wrapf(ErrPowerIncreased, "from %s to %s", oldPower, newPower)
	}

	m.voter(voter).Power = newPower.Clone()
	if m.voted[pid] == nil {
		m.voted[pid] = make(map[common.Address]bool)
	}
	m.voted[pid][voter] = true

	m.logger.WithFields(logrus.Fields{
		"pid":    pid,
		"voter":  voter,
		"choice": choice,
		"weight": weight,
		"power":  newPower,
	}).Info("vote cast")
	return nil
}
