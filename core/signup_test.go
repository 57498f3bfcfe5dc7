package core

import (
	"context"
	"crypto/ecdsa"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomesh/allocator/core/auth"
)

func signSignup(t *testing.T, m *Mechanism, key *ecdsa.PrivateKey, payer common.Address, deposit uint64, nonce, deadline uint64) []byte {
	domain, err := m.Domain(context.Background())
	require.Nil(t, err)
	digest, err := auth.SignupDigest(domain, auth.Signup{
		User:     crypto.PubkeyToAddress(key.PublicKey),
		Payer:    payer,
		Deposit:  uint256.NewInt(deposit),
		Nonce:    nonce,
		Deadline: deadline,
	})
	require.Nil(t, err)
	sig, err := auth.Sign(digest, key)
	require.Nil(t, err)
	return sig
}

func signVote(t *testing.T, m *Mechanism, key *ecdsa.PrivateKey, pid uint64, choice VoteType, weight uint64, recipient common.Address, nonce, deadline uint64) []byte {
	domain, err := m.Domain(context.Background())
	require.Nil(t, err)
	digest, err := auth.CastVoteDigest(domain, auth.CastVote{
		Voter:             crypto.PubkeyToAddress(key.PublicKey),
		ProposalID:        pid,
		Choice:            uint8(choice),
		Weight:            uint256.NewInt(weight),
		ExpectedRecipient: recipient,
		Nonce:             nonce,
		Deadline:          deadline,
	})
	require.Nil(t, err)
	sig, err := auth.Sign(digest, key)
	require.Nil(t, err)
	return sig
}

func deadline(f *fixture) uint64 {
	return uint64(f.clock.Now().Add(time.Hour).Unix())
}

func TestSignupOnBehalfWithSignature(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	key, err := crypto.GenerateKey()
	require.Nil(t, err)
	user := crypto.PubkeyToAddress(key.PublicKey)
	payer := bob
	f.fund(t, payer, 100)

	sig := signSignup(t, f.m, key, payer, 100, 0, deadline(f))
	require.Nil(t, f.m.SignupOnBehalfWithSignature(ctx, payer, user, uint256.NewInt(100), deadline(f), sig))

	// the signer gets the power, the payer pays
	assert.Equal(t, uint256.NewInt(100), f.m.VotingPower(user))
	assert.True(t, f.m.VotingPower(payer).IsZero())
	paid, err := f.asset.BalanceOf(ctx, payer)
	require.Nil(t, err)
	assert.True(t, paid.IsZero())
	pool, err := f.asset.BalanceOf(ctx, mechanismAddr)
	require.Nil(t, err)
	assert.Equal(t, uint256.NewInt(100), pool)
	assert.Equal(t, uint64(1), f.m.Nonce(user))

	// a different relayer cannot reuse a signature naming bob as payer
	f.fund(t, alice, 100)
	sig = signSignup(t, f.m, key, payer, 100, 1, deadline(f))
	err = f.m.SignupOnBehalfWithSignature(ctx, alice, user, uint256.NewInt(100), deadline(f), sig)
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Equal(t, uint64(2), f.m.Nonce(user))
}

func TestSignupWithSignature(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	key, err := crypto.GenerateKey()
	require.Nil(t, err)
	user := crypto.PubkeyToAddress(key.PublicKey)
	f.fund(t, user, 100)

	sig := signSignup(t, f.m, key, user, 100, 0, deadline(f))
	// relayed by anyone, the signature alone authorizes
	require.Nil(t, f.m.SignupWithSignature(ctx, user, uint256.NewInt(100), deadline(f), sig))
	assert.Equal(t, uint256.NewInt(100), f.m.VotingPower(user))
}

func TestFailedSignatureConsumesNonce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	key, err := crypto.GenerateKey()
	require.Nil(t, err)
	user := crypto.PubkeyToAddress(key.PublicKey)
	f.fund(t, user, 100)

	// signed over the wrong deposit
	bad := signSignup(t, f.m, key, user, 99, 0, deadline(f))
	err = f.m.SignupWithSignature(ctx, user, uint256.NewInt(100), deadline(f), bad)
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Equal(t, uint64(1), f.m.Nonce(user))

	// a correct signature at the burnt nonce is no longer accepted
	stale := signSignup(t, f.m, key, user, 100, 0, deadline(f))
	err = f.m.SignupWithSignature(ctx, user, uint256.NewInt(100), deadline(f), stale)
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Equal(t, uint64(2), f.m.Nonce(user))
	assert.True(t, f.m.VotingPower(user).IsZero())

	fresh := signSignup(t, f.m, key, user, 100, 2, deadline(f))
	require.Nil(t, f.m.SignupWithSignature(ctx, user, uint256.NewInt(100), deadline(f), fresh))
	assert.Equal(t, uint64(3), f.m.Nonce(user))
}

func TestExpiredSignatureKeepsNonce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	key, err := crypto.GenerateKey()
	require.Nil(t, err)
	user := crypto.PubkeyToAddress(key.PublicKey)
	f.fund(t, user, 100)

	expiry := uint64(f.clock.Now().Unix()) - 1
	sig := signSignup(t, f.m, key, user, 100, 0, expiry)
	err = f.m.SignupWithSignature(ctx, user, uint256.NewInt(100), expiry, sig)
	assert.ErrorIs(t, err, ErrExpiredSignature)
	assert.Equal(t, uint64(0), f.m.Nonce(user))
}

func TestCastVoteWithSignature(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	key, err := crypto.GenerateKey()
	require.Nil(t, err)
	voter := crypto.PubkeyToAddress(key.PublicKey)
	f.signup(t, voter, 100)
	pid, err := f.m.Propose(ctx, owner, grantee, "grant")
	require.Nil(t, err)
	f.toVoting()

	// the voter signed for grantee, a relayer submitting grantee2 is refused
	sig := signVote(t, f.m, key, pid, For, 40, grantee, 0, deadline(f))
	err = f.m.CastVoteWithSignature(ctx, voter, pid, For, uint256.NewInt(40), grantee2, deadline(f), sig)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	sig = signVote(t, f.m, key, pid, For, 40, grantee, 1, deadline(f))
	require.Nil(t, f.m.CastVoteWithSignature(ctx, voter, pid, For, uint256.NewInt(40), grantee, deadline(f), sig))
	assert.Equal(t, uint256.NewInt(60), f.m.VotingPower(voter))
	assert.True(t, f.m.HasVoted(pid, voter))
	assert.Equal(t, uint64(2), f.m.Nonce(voter))
}

type wallet struct {
	accept bool
}

func (w wallet) IsValidSignature(common.Hash, []byte) ([4]byte, error) {
	if w.accept {
		return auth.MagicValue, nil
	}
	return [4]byte{}, nil
}

func TestProgrammaticSignerSignup(t *testing.T) {
	ctx := context.Background()
	smart := common.HexToAddress("0x00000000000000000000000000000000000005a1")
	f := newFixtureWith(t, newLinearStrategy(), WithSigners(auth.Signers{smart: wallet{accept: true}}))
	f.fund(t, smart, 100)

	require.Nil(t, f.m.SignupWithSignature(ctx, smart, uint256.NewInt(100), deadline(f), []byte{0x01}))
	assert.Equal(t, uint256.NewInt(100), f.m.VotingPower(smart))

	// an address without validation logic never authorizes
	f.fund(t, alice, 100)
	err := f.m.SignupWithSignature(ctx, alice, uint256.NewInt(100), deadline(f), []byte{0x01})
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestDomainSeparatorFollowsChainID(t *testing.T) {
	ctx := context.Background()
	f1 := newFixtureWith(t, newLinearStrategy(), WithChainID(auth.StaticChainID(1)))
	f2 := newFixtureWith(t, newLinearStrategy(), WithChainID(auth.StaticChainID(1356)))

	s1, err := f1.m.DomainSeparator(ctx)
	require.Nil(t, err)
	s2, err := f2.m.DomainSeparator(ctx)
	require.Nil(t, err)
	assert.NotEqual(t, s1, s2)

	// a signature for one network is not valid on another
	key, err := crypto.GenerateKey()
	require.Nil(t, err)
	user := crypto.PubkeyToAddress(key.PublicKey)
	f2.fund(t, user, 100)
	sig := signSignup(t, f1.m, key, user, 100, 0, deadline(f1))
	err = f2.m.SignupWithSignature(ctx, user, uint256.NewInt(100), deadline(f2), sig)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
