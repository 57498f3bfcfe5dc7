package core

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/axiomesh/allocator/core/amount"
)

// Propose creates a proposal funding recipient and returns its id.
func (m *Mechanism) Propose(ctx context.Context, caller, recipient common.Address, description string) (uint64, error) {
	if err := m.enter(); err != nil {
		return 0, err
	}
	defer m.exit()

	if !m.strategy.BeforePropose(m.view(), caller) {
		return 0, errors.Wrapf(ErrProposeDenied, "proposer %s", caller)
	}
	if recipient == (common.Address{}) || recipient == m.cfg.Address {
		return 0, errors.Wrapf(ErrInvalidRecipient, "recipient %s", recipient)
	}
	if m.recipientUsed[recipient] {
		return 0, errors.Wrapf(ErrRecipientUsed, "recipient %s", recipient)
	}
	if description == "" {
		return 0, ErrEmptyDescription
	}
	if len(description) > MaxDescriptionLength {
		return 0, errors.Wrapf(ErrDescriptionTooLong, "%d bytes, max %d", len(description), MaxDescriptionLength)
	}
	now := m.clock.Now()
	if now.After(m.timeline.VotingEnd) {
		return 0, errors.Wrapf(ErrVotingEnded, "now %s, voting end %s", now, m.timeline.VotingEnd)
	}

	pid := uint64(len(m.proposals)) + 1
	m.proposals = append(m.proposals, &Proposal{
		ID:          pid,
		Proposer:    caller,
		Recipient:   recipient,
		Description: description,
		Shares:      amount.Zero(),
	})
	m.recipientUsed[recipient] = true

	m.logger.WithFields(logrus.Fields{
		"pid":       pid,
		"proposer":  caller,
		"recipient": recipient,
	}).Info("proposal created")
	return pid, nil
}

// CancelProposal cancels a pending or active proposal and frees its
// recipient. Only the proposer may cancel, and never after finalization.
func (m *Mechanism) CancelProposal(ctx context.Context, caller common.Address, pid uint64) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.exit()

	p, err := m.proposal(pid)
	if err != nil {
		return err
	}
	if caller != p.Proposer {
		return errors.Wrapf(ErrUnauthorized, "%s is not the proposer of %d", caller, pid)
	}
	if m.finalized {
		return errors.Wrapf(ErrTallyAlreadyFinalized, "proposal %d", pid)
	}
	state := m.state(p)
	if state != Pending && state != Active {
		return errors.Wrapf(ErrInvalidProposalState, "proposal %d is %s", pid, state)
	}

	p.Canceled = true
	delete(m.recipientUsed, p.Recipient)

	m.logger.WithFields(logrus.Fields{"pid": pid, "recipient": p.Recipient}).Info("proposal canceled")
	return nil
}

// State computes the lifecycle state of a proposal from stored data and the
// clock.
func (m *Mechanism) State(pid uint64) (ProposalState, error) {
	p, err := m.proposal(pid)
	if err != nil {
		return 0, err
	}
	return m.state(p), nil
}

func (m *Mechanism) state(p *Proposal) ProposalState {
	if p.Canceled {
		return Canceled
	}
	now := m.clock.Now()
	tl := m.timeline
	switch {
	case now.Before(tl.VotingStart):
		return Pending
	case !now.After(tl.VotingEnd):
		return Active
	case !m.finalized:
		return Tallying
	case !m.strategy.HasQuorum(m.view(), p.ID):
		return Defeated
	case !p.queued():
		if now.After(tl.RedemptionEnd) {
			return Expired
		}
		return Succeeded
	case now.Before(tl.RedemptionStart):
		return Queued
	case !now.After(tl.RedemptionEnd):
		return Redeemable
	default:
		return Expired
	}
}
