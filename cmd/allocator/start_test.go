package main

import (
	"bytes"
	"strconv"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/axiomesh/allocator/core"
	"github.com/axiomesh/allocator/core/auth"
)

const startAt = 1_700_000_000

// runAt runs the allocator app against root at the fixed time startAt.
// extra commands are added next to the regular ones.
func runAt(root string, extra []*cli.Command, args ...string) error {
	app := newApp()
	app.Commands = append(app.Commands, extra...)
	return app.Run(append([]string{"allocator", "--repo", root, "--at", strconv.Itoa(startAt)}, args...))
}

type account struct {
	nonce  uint64
	power  *uint256.Int
	domain auth.Domain
}

// inspect returns a command reading the stored state of user.
func inspect(user common.Address, out *account) []*cli.Command {
	return []*cli.Command{{
		Name: "inspect",
		Action: read(func(ctx *cli.Context, n *node) error {
			domain, err := n.mechanism.Domain(ctx.Context)
			if err != nil {
				return err
			}
			*out = account{
				nonce:  n.mechanism.Nonce(user),
				power:  n.mechanism.VotingPower(user),
				domain: domain,
			}
			return nil
		}),
	}}
}

func signedSignup(t *testing.T, domain auth.Domain, key []byte, deposit, nonce, deadline uint64) string {
	pk, err := crypto.ToECDSA(key)
	require.Nil(t, err)
	user := crypto.PubkeyToAddress(pk.PublicKey)
	digest, err := auth.SignupDigest(domain, auth.Signup{
		User:     user,
		Payer:    user,
		Deposit:  uint256.NewInt(deposit),
		Nonce:    nonce,
		Deadline: deadline,
	})
	require.Nil(t, err)
	sig, err := auth.Sign(digest, pk)
	require.Nil(t, err)
	return hexutil.Encode(sig)
}

func TestRejectedSignatureConsumesStoredNonce(t *testing.T) {
	root := t.TempDir()
	pk, err := crypto.GenerateKey()
	require.Nil(t, err)
	key := crypto.FromECDSA(pk)
	user := crypto.PubkeyToAddress(pk.PublicKey)
	deadline := strconv.Itoa(startAt + 3600)

	var acc account
	require.Nil(t, runAt(root, nil, "init"))
	assert.Error(t, runAt(root, nil, "init"))
	require.Nil(t, runAt(root, nil, "mint", "--to", user.Hex(), "--amount", "100"))

	signup := func(sig string) error {
		return runAt(root, nil, "signup-signed",
			"--user", user.Hex(), "--deposit", "100", "--deadline", deadline, "--signature", sig)
	}

	garbage := hexutil.Encode(bytes.Repeat([]byte{1}, crypto.SignatureLength))
	assert.ErrorIs(t, signup(garbage), core.ErrInvalidSignature)
	require.Nil(t, runAt(root, inspect(user, &acc), "inspect"))
	assert.Equal(t, uint64(1), acc.nonce)
	assert.True(t, acc.power.IsZero())

	// a signature over the consumed nonce cannot be replayed
	assert.ErrorIs(t, signup(signedSignup(t, acc.domain, key, 100, 0, startAt+3600)), core.ErrInvalidSignature)
	require.Nil(t, runAt(root, inspect(user, &acc), "inspect"))
	assert.Equal(t, uint64(2), acc.nonce)

	require.Nil(t, signup(signedSignup(t, acc.domain, key, 100, 2, startAt+3600)))
	require.Nil(t, runAt(root, inspect(user, &acc), "inspect"))
	assert.Equal(t, uint64(3), acc.nonce)
	assert.Equal(t, uint256.NewInt(100), acc.power)
}

func TestFailedCommandKeepsStore(t *testing.T) {
	root := t.TempDir()
	user := common.HexToAddress("0x00000000000000000000000000000000000000a1")

	var acc account
	require.Nil(t, runAt(root, nil, "init"))
	require.Nil(t, runAt(root, nil, "mint", "--to", user.Hex(), "--amount", "50"))
	assert.ErrorIs(t, runAt(root, nil, "signup", "--from", user.Hex(), "--deposit", "100"), core.ErrTransferFailed)
	require.Nil(t, runAt(root, inspect(user, &acc), "inspect"))
	assert.True(t, acc.power.IsZero())
	assert.Equal(t, uint64(0), acc.nonce)

	require.Nil(t, runAt(root, nil, "signup", "--from", user.Hex(), "--deposit", "50"))
	require.Nil(t, runAt(root, inspect(user, &acc), "inspect"))
	assert.Equal(t, uint256.NewInt(50), acc.power)
}
