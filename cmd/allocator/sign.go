package main

import (
	"crypto/ecdsa"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/axiomesh/allocator/core/auth"
)

var (
	keyFlag = &cli.StringFlag{
		Name:     "key",
		Usage:    "Hex encoded secp256k1 private key of the signer",
		Required: true,
	}
	payerFlag = &cli.StringFlag{
		Name:  "payer",
		Usage: "Address that pays the deposit, defaults to the signer",
	}
	userFlag = &cli.StringFlag{
		Name:     "user",
		Usage:    "Address of the signer",
		Required: true,
	}
	ttlFlag = &cli.DurationFlag{
		Name:  "ttl",
		Usage: "Validity of the signature",
		Value: time.Hour,
	}
	deadlineFlag = &cli.Uint64Flag{
		Name:     "deadline",
		Usage:    "Unix deadline of the signature",
		Required: true,
	}
	signatureFlag = &cli.StringFlag{
		Name:     "signature",
		Usage:    "Hex encoded 65 byte signature",
		Required: true,
	}
)

var signCMDs = []*cli.Command{
	{
		Name:   "sign-signup",
		Usage:  "Sign a signup authorization with the current nonce",
		Flags:  []cli.Flag{keyFlag, payerFlag, depositFlag, ttlFlag},
		Action: read(signSignup),
	},
	{
		Name:   "sign-vote",
		Usage:  "Sign a vote authorization with the current nonce",
		Flags:  []cli.Flag{keyFlag, pidFlag, choiceFlag, weightFlag, recipientFlag, ttlFlag},
		Action: read(signVote),
	},
	{
		Name:  "signup-signed",
		Usage: "Submit a signed signup",
		Flags: []cli.Flag{
			userFlag, depositFlag, deadlineFlag, signatureFlag,
			&cli.StringFlag{Name: "from", Usage: "Payer submitting on behalf of the user"},
		},
		Action: mutate(signupSigned),
	},
	{
		Name:   "vote-signed",
		Usage:  "Submit a signed vote",
		Flags:  []cli.Flag{userFlag, pidFlag, choiceFlag, weightFlag, recipientFlag, deadlineFlag, signatureFlag},
		Action: mutate(voteSigned),
	},
}

func privateKey(ctx *cli.Context) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(ctx.String("key"), "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "--key")
	}
	return key, nil
}

func signature(ctx *cli.Context) ([]byte, error) {
	sig, err := hexutil.Decode(ctx.String("signature"))
	if err != nil {
		return nil, errors.Wrap(err, "--signature")
	}
	return sig, nil
}

func signSignup(ctx *cli.Context, n *node) error {
	key, err := privateKey(ctx)
	if err != nil {
		return err
	}
	user := crypto.PubkeyToAddress(key.PublicKey)
	payer, err := addressArgOr(ctx, "payer", user)
	if err != nil {
		return err
	}
	deposit, err := parseAmount(ctx, "deposit")
	if err != nil {
		return err
	}
	domain, err := n.mechanism.Domain(ctx.Context)
	if err != nil {
		return err
	}
	deadline := uint64(n.mechanism.Now().Add(ctx.Duration("ttl")).Unix())
	digest, err := auth.SignupDigest(domain, auth.Signup{
		User:     user,
		Payer:    payer,
		Deposit:  deposit,
		Nonce:    n.mechanism.Nonce(user),
		Deadline: deadline,
	})
	if err != nil {
		return err
	}
	return printSignature(user, digest, deadline, key)
}

func signVote(ctx *cli.Context, n *node) error {
	key, err := privateKey(ctx)
	if err != nil {
		return err
	}
	voter := crypto.PubkeyToAddress(key.PublicKey)
	args, err := parseVoteArgs(ctx)
	if err != nil {
		return err
	}
	weight, err := parseAmount(ctx, "weight")
	if err != nil {
		return err
	}
	domain, err := n.mechanism.Domain(ctx.Context)
	if err != nil {
		return err
	}
	deadline := uint64(n.mechanism.Now().Add(ctx.Duration("ttl")).Unix())
	digest, err := auth.CastVoteDigest(domain, auth.CastVote{
		Voter:             voter,
		ProposalID:        args.pid,
		Choice:            uint8(args.choice),
		Weight:            weight,
		ExpectedRecipient: args.recipient,
		Nonce:             n.mechanism.Nonce(voter),
		Deadline:          deadline,
	})
	if err != nil {
		return err
	}
	return printSignature(voter, digest, deadline, key)
}

func printSignature(signer common.Address, digest common.Hash, deadline uint64, key *ecdsa.PrivateKey) error {
	sig, err := auth.Sign(digest, key)
	if err != nil {
		return err
	}
	fmt.Printf("signer:    %s\n", signer)
	fmt.Printf("digest:    %s\n", digest)
	fmt.Printf("deadline:  %d\n", deadline)
	fmt.Printf("signature: %s\n", hexutil.Encode(sig))
	return nil
}

func signupSigned(ctx *cli.Context, n *node) error {
	user, err := addressArg(ctx, "user")
	if err != nil {
		return err
	}
	deposit, err := parseAmount(ctx, "deposit")
	if err != nil {
		return err
	}
	sig, err := signature(ctx)
	if err != nil {
		return err
	}
	deadline := ctx.Uint64("deadline")
	if ctx.String("from") == "" {
		err = n.mechanism.SignupWithSignature(ctx.Context, user, deposit, deadline, sig)
	} else {
		var payer common.Address
		if payer, err = addressArg(ctx, "from"); err != nil {
			return err
		}
		err = n.mechanism.SignupOnBehalfWithSignature(ctx.Context, payer, user, deposit, deadline, sig)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s voting power: %s\n", user, n.mechanism.VotingPower(user).Dec())
	return nil
}

func voteSigned(ctx *cli.Context, n *node) error {
	voter, err := addressArg(ctx, "user")
	if err != nil {
		return err
	}
	args, err := parseVoteArgs(ctx)
	if err != nil {
		return err
	}
	weight, err := parseAmount(ctx, "weight")
	if err != nil {
		return err
	}
	sig, err := signature(ctx)
	if err != nil {
		return err
	}
	err = n.mechanism.CastVoteWithSignature(ctx.Context, voter, args.pid, args.choice, weight, args.recipient, ctx.Uint64("deadline"), sig)
	if err != nil {
		return err
	}
	fmt.Printf("%s remaining voting power: %s\n", voter, n.mechanism.VotingPower(voter).Dec())
	return nil
}
