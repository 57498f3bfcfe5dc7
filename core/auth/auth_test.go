package auth

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var contract = common.HexToAddress("0x0000000000000000000000000000000000001001")

func testDomain(chainID int64) Domain {
	return Domain{Name: "Allocation", Version: "1", ChainID: big.NewInt(chainID), VerifyingContract: contract}
}

type mockSigner struct {
	accept bool
	panics bool
	err    error
}

func (m *mockSigner) IsValidSignature(common.Hash, []byte) ([4]byte, error) {
	if m.panics {
		panic("validator failure")
	}
	if m.accept {
		return MagicValue, m.err
	}
	return [4]byte{0xff, 0xff, 0xff, 0xff}, m.err
}

type switchingChainID struct {
	id int64
}

func (s *switchingChainID) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(s.id), nil
}

func TestVerifyRecoversKeyPairSigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.Nil(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey)

	digest, err := SignupDigest(testDomain(1), Signup{
		User:     signer,
		Payer:    signer,
		Deposit:  uint256.NewInt(100),
		Nonce:    0,
		Deadline: 1_700_000_000,
	})
	require.Nil(t, err)
	sig, err := Sign(digest, key)
	require.Nil(t, err)

	v := NewVerifier(nil)
	assert.Nil(t, v.Verify(signer, digest, sig))

	other, err := crypto.GenerateKey()
	require.Nil(t, err)
	assert.ErrorIs(t, v.Verify(crypto.PubkeyToAddress(other.PublicKey), digest, sig), ErrInvalidSignature)

	// raw 0/1 recovery ids are accepted as well
	raw := append([]byte(nil), sig...)
	raw[crypto.RecoveryIDOffset] -= 27
	assert.Nil(t, v.Verify(signer, digest, raw))

	assert.ErrorIs(t, v.Verify(signer, digest, sig[:64]), ErrInvalidSignature)
	assert.ErrorIs(t, v.Verify(common.Address{}, digest, sig), ErrInvalidSignature)
}

func TestVerifyDelegatesToProgrammaticSigner(t *testing.T) {
	wallet := common.HexToAddress("0x000000000000000000000000000000000000beef")
	digest := crypto.Keccak256Hash([]byte("message"))
	junk := make([]byte, 65)

	tests := []struct {
		name   string
		signer *mockSigner
		valid  bool
	}{
		{"magic value", &mockSigner{accept: true}, true},
		{"wrong value", &mockSigner{}, false},
		{"error", &mockSigner{accept: true, err: assert.AnError}, false},
		{"panic", &mockSigner{panics: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVerifier(Signers{wallet: tt.signer})
			err := v.Verify(wallet, digest, junk)
			if tt.valid {
				assert.Nil(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidSignature)
			}
		})
	}

	// principals that never registered validation logic are not trusted
	v := NewVerifier(Signers{})
	assert.ErrorIs(t, v.Verify(wallet, digest, junk), ErrInvalidSignature)
}

func TestDigestsBindEveryField(t *testing.T) {
	voter := common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	recipient := common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	base := CastVote{
		Voter:             voter,
		ProposalID:        1,
		Choice:            1,
		Weight:            uint256.NewInt(10),
		ExpectedRecipient: recipient,
		Nonce:             3,
		Deadline:          1_700_000_000,
	}
	want, err := CastVoteDigest(testDomain(1), base)
	require.Nil(t, err)

	variants := []CastVote{base, base, base, base}
	variants[0].ProposalID = 2
	variants[1].ExpectedRecipient = voter
	variants[2].Nonce = 4
	variants[3].Weight = uint256.NewInt(9)
	for _, variant := range variants {
		got, err := CastVoteDigest(testDomain(1), variant)
		require.Nil(t, err)
		assert.NotEqual(t, want, got)
	}

	otherChain, err := CastVoteDigest(testDomain(2), base)
	require.Nil(t, err)
	assert.NotEqual(t, want, otherChain)
}

func TestDomainCacheFollowsChainID(t *testing.T) {
	source := &switchingChainID{id: 1}
	cache := NewDomainCache("Allocation", "1", contract, source)

	d1, sep1, err := cache.Domain(context.Background())
	require.Nil(t, err)
	assert.Equal(t, big.NewInt(1), d1.ChainID)
	want, err := testDomain(1).Separator()
	require.Nil(t, err)
	assert.Equal(t, want, sep1)

	source.id = 5
	d2, sep2, err := cache.Domain(context.Background())
	require.Nil(t, err)
	assert.Equal(t, big.NewInt(5), d2.ChainID)
	assert.NotEqual(t, sep1, sep2)
}

func TestCheckDeadline(t *testing.T) {
	now := time.Unix(1_000, 0)
	assert.Nil(t, CheckDeadline(now, 1_000))
	assert.ErrorIs(t, CheckDeadline(now, 999), ErrExpiredSignature)
}
