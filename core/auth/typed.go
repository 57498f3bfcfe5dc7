package auth

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

const (
	SignupType   = "Signup"
	CastVoteType = "CastVote"
)

var eip712Types = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	SignupType: {
		{Name: "user", Type: "address"},
		{Name: "payer", Type: "address"},
		{Name: "deposit", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
	CastVoteType: {
		{Name: "voter", Type: "address"},
		{Name: "proposalId", Type: "uint256"},
		{Name: "choice", Type: "uint8"},
		{Name: "weight", Type: "uint256"},
		{Name: "expectedRecipient", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
}

// Domain binds signatures to one mechanism instance on one network.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

func (d Domain) typed() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              d.Name,
		Version:           d.Version,
		ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(d.ChainID)),
		VerifyingContract: d.VerifyingContract.Hex(),
	}
}

// Separator is the EIP-712 domain separator.
func (d Domain) Separator() (common.Hash, error) {
	if d.ChainID == nil {
		return common.Hash{}, errors.New("domain chain id is not set")
	}
	td := apitypes.TypedData{Types: eip712Types, PrimaryType: "EIP712Domain", Domain: d.typed()}
	hash, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "hash domain")
	}
	return common.BytesToHash(hash), nil
}

// Signup authorizes payer to register user with deposit.
type Signup struct {
	User     common.Address
	Payer    common.Address
	Deposit  *uint256.Int
	Nonce    uint64
	Deadline uint64
}

func (s Signup) message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"user":     s.User.Hex(),
		"payer":    s.Payer.Hex(),
		"deposit":  s.Deposit.ToBig(),
		"nonce":    new(big.Int).SetUint64(s.Nonce),
		"deadline": new(big.Int).SetUint64(s.Deadline),
	}
}

// CastVote authorizes a vote on behalf of voter.
type CastVote struct {
	Voter             common.Address
	ProposalID        uint64
	Choice            uint8
	Weight            *uint256.Int
	ExpectedRecipient common.Address
	Nonce             uint64
	Deadline          uint64
}

func (v CastVote) message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"voter":             v.Voter.Hex(),
		"proposalId":        new(big.Int).SetUint64(v.ProposalID),
		"choice":            big.NewInt(int64(v.Choice)),
		"weight":            v.Weight.ToBig(),
		"expectedRecipient": v.ExpectedRecipient.Hex(),
		"nonce":             new(big.Int).SetUint64(v.Nonce),
		"deadline":          new(big.Int).SetUint64(v.Deadline),
	}
}

// SignupDigest returns the EIP-712 digest a user signs for a Signup.
func SignupDigest(d Domain, s Signup) (common.Hash, error) {
	return hashTyped(d, SignupType, s.message())
}

// CastVoteDigest returns the EIP-712 digest a voter signs for a CastVote.
func CastVoteDigest(d Domain, v CastVote) (common.Hash, error) {
	return hashTyped(d, CastVoteType, v.message())
}

func hashTyped(d Domain, primaryType string, message apitypes.TypedDataMessage) (common.Hash, error) {
	separator, err := d.Separator()
	if err != nil {
		return common.Hash{}, err
	}
	td := apitypes.TypedData{Types: eip712Types, PrimaryType: primaryType, Domain: d.typed(), Message: message}
	structHash, err := td.HashStruct(primaryType, message)
	if err != nil {
		return common.Hash{}, errors.Wrapf(err, "hash %s", primaryType)
	}
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, separator.Bytes(), structHash), nil
}

// ChainIDSource reports the identifier of the network a mechanism runs on.
// *ethclient.Client satisfies it.
type ChainIDSource interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

// StaticChainID is a ChainIDSource for a fixed network.
type StaticChainID uint64

func (c StaticChainID) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).SetUint64(uint64(c)), nil
}

// DomainCache returns the domain of a mechanism, rebuilding the separator
// whenever the network identifier changes underneath it.
type DomainCache struct {
	name     string
	version  string
	contract common.Address
	source   ChainIDSource

	mu        sync.Mutex
	domain    Domain
	separator common.Hash
}

func NewDomainCache(name, version string, contract common.Address, source ChainIDSource) *DomainCache {
	return &DomainCache{name: name, version: version, contract: contract, source: source}
}

func (c *DomainCache) Domain(ctx context.Context) (Domain, common.Hash, error) {
	chainID, err := c.source.ChainID(ctx)
	if err != nil {
		return Domain{}, common.Hash{}, errors.Wrap(err, "resolve chain id")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.domain.ChainID != nil && c.domain.ChainID.Cmp(chainID) == 0 {
		return c.domain, c.separator, nil
	}
	domain := Domain{
		Name:              c.name,
		Version:           c.version,
		ChainID:           new(big.Int).Set(chainID),
		VerifyingContract: c.contract,
	}
	separator, err := domain.Separator()
	if err != nil {
		return Domain{}, common.Hash{}, err
	}
	c.domain, c.separator = domain, separator
	return domain, separator, nil
}
