// Package auth verifies that signed instructions come from the expected
// principal. Key-pair principals are checked by public key recovery;
// programmatic principals that registered validation logic are asked to
// validate the signature themselves.
package auth

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// MagicValue is the only answer of a programmatic signer that counts as a
// valid signature (ERC-1271).
var MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrExpiredSignature = errors.New("signature expired")
)

// ProgrammaticSigner is a principal without a private key that validates
// signatures made on its behalf.
type ProgrammaticSigner interface {
	IsValidSignature(digest common.Hash, signature []byte) ([4]byte, error)
}

// Registry resolves principals that opted in to programmatic validation.
type Registry interface {
	ProgrammaticSigner(addr common.Address) (ProgrammaticSigner, bool)
}

// Signers is a Registry backed by a map.
type Signers map[common.Address]ProgrammaticSigner

func (s Signers) ProgrammaticSigner(addr common.Address) (ProgrammaticSigner, bool) {
	signer, ok := s[addr]
	return signer, ok && signer != nil
}

type Verifier struct {
	registry Registry
}

func NewVerifier(registry Registry) *Verifier {
	if registry == nil {
		registry = Signers{}
	}
	return &Verifier{registry: registry}
}

// Verify succeeds when signature over digest was produced by expected.
func (v *Verifier) Verify(expected common.Address, digest common.Hash, signature []byte) error {
	if expected == (common.Address{}) {
		return errors.Wrap(ErrInvalidSignature, "zero signer")
	}
	if signer, err := Recover(digest, signature); err == nil && signer == expected {
		return nil
	}

	programmatic, ok := v.registry.ProgrammaticSigner(expected)
	if !ok {
		return errors.Wrapf(ErrInvalidSignature, "not signed by %s", expected)
	}
	if !callValidator(programmatic, digest, signature) {
		return errors.Wrapf(ErrInvalidSignature, "rejected by programmatic signer %s", expected)
	}
	return nil
}

func callValidator(signer ProgrammaticSigner, digest common.Hash, signature []byte) (valid bool) {
	defer func() {
		if r := recover(); r != nil {
			valid = false
		}
	}()
	magic, err := signer.IsValidSignature(digest, signature)
	return err == nil && magic == MagicValue
}

// Recover returns the address that produced a 65 byte [R || S || V]
// signature. V may be 0/1 or 27/28. Signatures with a high S value are
// rejected.
func Recover(digest common.Hash, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature length %d, want %d", len(signature), crypto.SignatureLength)
	}
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	r, s := new(big.Int).SetBytes(sig[:32]), new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(sig[crypto.RecoveryIDOffset], r, s, true) {
		return common.Address{}, errors.New("malformed signature values")
	}
	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Sign signs digest with key, returning a signature with V in 27/28 form.
func Sign(digest common.Hash, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// CheckDeadline fails once now is past the unix deadline.
func CheckDeadline(now time.Time, deadline uint64) error {
	if now.Unix() < 0 || uint64(now.Unix()) > deadline {
		return errors.Wrapf(ErrExpiredSignature, "deadline %d, now %d", deadline, now.Unix())
	}
	return nil
}
