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

// Signup registers caller, pulling deposit from caller and crediting the
// voting power the strategy assigns to it.
func (m *Mechanism) Signup(ctx context.Context, caller common.Address, deposit *uint256.Int) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.exit()
	return m.signup(ctx, caller, caller, deposit)
}

// SignupWithSignature registers user with a deposit paid by user, submitted
// by any relayer holding user's signature.
func (m *Mechanism) SignupWithSignature(ctx context.Context, user common.Address, deposit *uint256.Int, deadline uint64, signature []byte) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.exit()
	if err := m.verifySignup(ctx, user, user, deposit, deadline, signature); err != nil {
		return err
	}
	return m.signup(ctx, user, user, deposit)
}

// SignupOnBehalfWithSignature registers user with a deposit paid by caller.
// user must have signed a Signup naming caller as payer. The voting power
// goes to user.
func (m *Mechanism) SignupOnBehalfWithSignature(ctx context.Context, caller, user common.Address, deposit *uint256.Int, deadline uint64, signature []byte) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.exit()
	if err := m.verifySignup(ctx, user, caller, deposit, deadline, signature); err != nil {
		return err
	}
	return m.signup(ctx, user, caller, deposit)
}

func (m *Mechanism) verifySignup(ctx context.Context, user, payer common.Address, deposit *uint256.Int, deadline uint64, signature []byte) error {
	if deposit == nil {
		return errors.Wrap(ErrZeroAssets, "nil deposit")
	}
	return m.verify(ctx, user, deadline, signature, func(d auth.Domain, nonce uint64) (common.Hash, error) {
		return auth.SignupDigest(d, auth.Signup{
			User:     user,
			Payer:    payer,
			Deposit:  deposit,
			Nonce:    nonce,
			Deadline: deadline,
		})
	})
}

// verify checks the deadline, consumes the next nonce of signer and checks
// the signature over the digest built with that nonce. The nonce stays
// consumed when verification fails.
func (m *Mechanism) verify(ctx context.Context, signer common.Address, deadline uint64, signature []byte, digest func(auth.Domain, uint64) (common.Hash, error)) error {
	if err := auth.CheckDeadline(m.clock.Now(), deadline); err != nil {
		return err
	}
	domain, err := m.Domain(ctx)
	if err != nil {
		return err
	}
	rec := m.voter(signer)
	nonce := rec.Nonce
	rec.Nonce++

	hash, err := digest(domain, nonce)
	if err != nil {
		return err
	}
	if err := m.verifier.Verify(signer, hash, signature); err != nil {
		m.logger.WithFields(logrus.Fields{"signer": signer, "nonce": nonce}).Warn("signature rejected")
		return errors.Wrapf(err, "nonce %d", nonce)
	}
	return nil
}

func (m *Mechanism) signup(ctx context.Context, user, payer common.Address, deposit *uint256.Int) error {
	if deposit == nil {
		deposit = amount.Zero()
	}
	now := m.clock.Now()
	if now.After(m.timeline.VotingEnd) {
		return errors.Wrapf(ErrVotingEnded, "now %s, voting end %s", now, m.timeline.VotingEnd)
	}
	if user == (common.Address{}) {
		return errors.Wrap(ErrRegistrationDenied, "zero address")
	}
	if deposit.Gt(amount.MaxSafeValue) {
		return errors.Wrapf(ErrOverflow, "deposit %s above %s", deposit, amount.MaxSafeValue)
	}
	v := m.view()
	if !m.strategy.BeforeSignup(v, user) {
		return errors.Wrapf(ErrRegistrationDenied, "user %s", user)
	}
	power, err := m.strategy.VotingPower(v, user, deposit)
	if err != nil {
		return errors.Wrap(err, "voting power")
	}
	newPower, err := amount.Add(m.votingPower(user), power)
	if err != nil || newPower.Gt(amount.MaxSafeValue) {
		return errors.Wrapf(ErrOverflow, "voting power of %s above %s", user, amount.MaxSafeValue)
	}

	if !deposit.IsZero() {
		if err := m.asset.TransferFrom(ctx, m.cfg.Address, payer, m.cfg.Address, deposit); err != nil {
			return errors.Wrapf(ErrTransferFailed, "deposit %s from %s: %v", deposit, payer, err)
		}
	}
	m.voter(user).Power = newPower

	m.logger.WithFields(logrus.Fields{
		"user":    user,
		"payer":   payer,
		"deposit": deposit,
		"power":   newPower,
	}).Info("user registered")
	return nil
}
