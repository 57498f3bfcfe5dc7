package core

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/axiomesh/allocator/core/amount"
)

// FinalizeVoteTally closes the tally after voting ended, fixes the tracked
// assets and opens the timelock. The redemption window starts after the
// timelock delay and lasts for the grace period.
func (m *Mechanism) FinalizeVoteTally(ctx context.Context, caller common.Address) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.exit()

	if err := m.onlyOwner(caller); err != nil {
		return err
	}
	now := m.clock.Now()
	if !now.After(m.timeline.VotingEnd) {
		return errors.Wrapf(ErrVotingNotEnded, "now %s, voting end %s", now, m.timeline.VotingEnd)
	}
	if m.finalized {
		return errors.Wrapf(ErrTallyAlreadyFinalized, "at %s", m.timeline.TallyFinalized)
	}
	v := m.view()
	if !m.strategy.BeforeFinalize(v) {
		return ErrFinalizationBlocked
	}
	assets, err := m.strategy.TotalAssets(ctx, v)
	if err != nil {
		return errors.Wrap(err, "total assets")
	}

	m.ledger.SetTotalAssets(assets)
	m.finalized = true
	m.timeline.TallyFinalized = now
	m.timeline.RedemptionStart = now.Add(m.cfg.TimelockDelay)
	m.timeline.RedemptionEnd = m.timeline.RedemptionStart.Add(m.cfg.GracePeriod)

	m.logger.WithFields(logrus.Fields{
		"total_assets":     assets,
		"redemption_start": m.timeline.RedemptionStart,
		"redemption_end":   m.timeline.RedemptionEnd,
	}).Info("vote tally finalized")
	return nil
}

// QueueProposal allocates the shares of a successful proposal to its
// recipient, either by minting or through the strategy's custom
// distribution. It must happen between finalization and the start of the
// redemption window.
func (m *Mechanism) QueueProposal(ctx context.Context, pid uint64) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.exit()

	p, err := m.proposal(pid)
	if err != nil {
		return err
	}
	if !m.finalized {
		return errors.Wrapf(ErrTallyNotFinalized, "proposal %d", pid)
	}
	now := m.clock.Now()
	if now.After(m.timeline.RedemptionStart) {
		return errors.Wrapf(ErrQueueWindowClosed, "now %s, redemption start %s", now, m.timeline.RedemptionStart)
	}
	if p.Canceled {
		return errors.Wrapf(ErrInvalidProposalState, "proposal %d is %s", pid, Canceled)
	}
	v := m.view()
	if !m.strategy.HasQuorum(v, pid) {
		return errors.Wrapf(ErrNoQuorum, "proposal %d, quorum %s", pid, m.cfg.QuorumShares)
	}
	if p.queued() {
		return errors.Wrapf(ErrAlreadyQueued, "proposal %d holds %s shares", pid, p.Shares)
	}
	shares, err := m.strategy.ConvertVotesToShares(v, pid)
	if err != nil {
		return errors.Wrapf(err, "convert votes of proposal %d", pid)
	}
	if shares == nil || shares.IsZero() {
		return errors.Wrapf(ErrNoAllocation, "proposal %d", pid)
	}
	recipient, err := m.strategy.Recipient(v, pid)
	if err != nil {
		return err
	}

	err = m.withRollback(func() error {
		d := &distributor{m: m, active: true}
		handled, assets, err := m.strategy.Distribute(ctx, v, d, recipient, shares)
		d.active = false
		if err != nil {
			return errors.Wrapf(err, "distribute proposal %d", pid)
		}
		if handled {
			return m.ledger.DecreaseAssets(amount.OrZero(assets))
		}
		return m.ledger.Mint(recipient, shares)
	})
	if err != nil {
		return err
	}
	p.Shares = shares.Clone()

	m.logger.WithFields(logrus.Fields{
		"pid":       pid,
		"recipient": recipient,
		"shares":    shares,
	}).Info("proposal queued")
	return nil
}

// ProposalShares returns the shares allocated to a proposal on queuing.
func (m *Mechanism) ProposalShares(pid uint64) (*uint256.Int, error) {
	p, err := m.proposal(pid)
	if err != nil {
		return nil, err
	}
	return amount.OrZero(p.Shares), nil
}
