package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/axiomesh/allocator/core"
	"github.com/axiomesh/allocator/core/amount"
	allocstrategy "github.com/axiomesh/allocator/core/strategy"
)

var (
	fromFlag = &cli.StringFlag{
		Name:     "from",
		Usage:    "Address of the caller",
		Required: true,
	}
	pidFlag = &cli.Uint64Flag{
		Name:     "pid",
		Usage:    "Proposal id",
		Required: true,
	}
	choiceFlag = &cli.StringFlag{
		Name:  "choice",
		Usage: "Vote type: for, against or abstain",
		Value: "for",
	}
	weightFlag = &cli.StringFlag{
		Name:     "weight",
		Usage:    "Vote weight",
		Required: true,
	}
	recipientFlag = &cli.StringFlag{
		Name:     "recipient",
		Usage:    "Recipient of the proposal",
		Required: true,
	}
	depositFlag = &cli.StringFlag{
		Name:     "deposit",
		Usage:    "Deposit in base units of the asset",
		Required: true,
	}
)

var mechanismCMDs = []*cli.Command{
	{
		Name:   "init",
		Usage:  "Initialize the mechanism from the config",
		Action: initMechanism,
	},
	{
		Name:  "mint",
		Usage: "Credit backing asset to an address in the local asset table",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "to", Usage: "Receiving address", Required: true},
			&cli.StringFlag{Name: "amount", Usage: "Amount in base units", Required: true},
			&cli.BoolFlag{Name: "approve", Usage: "Let the mechanism pull the whole balance", Value: true},
		},
		Action: mutate(mint),
	},
	{
		Name:   "signup",
		Usage:  "Register the caller with a deposit",
		Flags:  []cli.Flag{fromFlag, depositFlag},
		Action: mutate(signup),
	},
	{
		Name:  "propose",
		Usage: "Create a proposal, keeper or management only",
		Flags: []cli.Flag{
			fromFlag,
			recipientFlag,
			&cli.StringFlag{Name: "description", Usage: "Proposal description", Required: true},
		},
		Action: mutate(propose),
	},
	{
		Name:   "vote",
		Usage:  "Cast a vote",
		Flags:  []cli.Flag{fromFlag, pidFlag, choiceFlag, weightFlag, recipientFlag},
		Action: mutate(vote),
	},
	{
		Name:   "cancel",
		Usage:  "Cancel a pending or active proposal, proposer only",
		Flags:  []cli.Flag{fromFlag, pidFlag},
		Action: mutate(cancel),
	},
	{
		Name:   "finalize",
		Usage:  "Finalize the vote tally, owner only",
		Flags:  []cli.Flag{fromFlag},
		Action: mutate(finalize),
	},
	{
		Name:   "queue",
		Usage:  "Allocate shares to a successful proposal",
		Flags:  []cli.Flag{pidFlag},
		Action: mutate(queue),
	},
	{
		Name:  "redeem",
		Usage: "Redeem shares for assets inside the redemption window",
		Flags: []cli.Flag{
			fromFlag,
			&cli.StringFlag{Name: "shares", Usage: "Shares to redeem, all redeemable shares when empty"},
			&cli.StringFlag{Name: "receiver", Usage: "Receiver of the assets, defaults to the caller"},
			&cli.StringFlag{Name: "owner", Usage: "Owner of the shares, defaults to the caller"},
		},
		Action: mutate(redeem),
	},
	{
		Name:  "sweep",
		Usage: "Sweep the backing asset after the grace period, owner only",
		Flags: []cli.Flag{
			fromFlag,
			&cli.StringFlag{Name: "receiver", Usage: "Receiver of the swept assets", Required: true},
		},
		Action: mutate(sweep),
	},
	{
		Name:  "set-alpha",
		Usage: "Set the quadratic weight before finalization, owner only",
		Flags: []cli.Flag{
			fromFlag,
			&cli.StringFlag{Name: "numerator", Required: true},
			&cli.StringFlag{Name: "denominator", Required: true},
		},
		Action: mutate(setAlpha),
	},
	{
		Name:  "access",
		Usage: "Manage signup access, owner only",
		Subcommands: []*cli.Command{
			{
				Name:  "mode",
				Usage: "Switch between open, allowlist and denylist",
				Flags: []cli.Flag{
					fromFlag,
					&cli.StringFlag{Name: "mode", Required: true},
				},
				Action: mutate(setAccessMode),
			},
			accessListCMD("allow", "Add addresses to the allow list", (*allocstrategy.AccessGated).Allow),
			accessListCMD("disallow", "Remove addresses from the allow list", (*allocstrategy.AccessGated).Disallow),
			accessListCMD("deny", "Add addresses to the deny list", (*allocstrategy.AccessGated).Deny),
			accessListCMD("undeny", "Remove addresses from the deny list", (*allocstrategy.AccessGated).Undeny),
		},
	},
	{
		Name:  "status",
		Usage: "Show the timeline, proposals and share ledger",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "account", Usage: "Also show power, nonce and shares of these addresses"},
		},
		Action: read(status),
	},
}

func initMechanism(ctx *cli.Context) error {
	n, err := openNode(ctx, true)
	if err != nil {
		return err
	}
	tl := n.mechanism.Timeline()
	fmt.Printf("mechanism %s initialized\n", n.mechanism.Address())
	fmt.Printf("voting window: %s - %s\n", tl.VotingStart.Format(time.RFC3339), tl.VotingEnd.Format(time.RFC3339))
	return n.commit()
}

func addressArg(ctx *cli.Context, name string) (common.Address, error) {
	s := ctx.String(name)
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.Errorf("--%s: invalid address %q", name, s)
	}
	return common.HexToAddress(s), nil
}

func addressArgOr(ctx *cli.Context, name string, fallback common.Address) (common.Address, error) {
	if ctx.String(name) == "" {
		return fallback, nil
	}
	return addressArg(ctx, name)
}

func mint(ctx *cli.Context, n *node) error {
	to, err := addressArg(ctx, "to")
	if err != nil {
		return err
	}
	value, err := parseAmount(ctx, "amount")
	if err != nil {
		return err
	}
	if err := n.asset.Mint(to, value); err != nil {
		return err
	}
	if ctx.Bool("approve") {
		n.asset.Approve(to, n.mechanism.Address(), amount.Unlimited)
	}
	balance, err := n.asset.BalanceOf(ctx.Context, to)
	if err != nil {
		return err
	}
	fmt.Printf("%s balance: %s\n", to, balance.Dec())
	return nil
}

func signup(ctx *cli.Context, n *node) error {
	from, err := addressArg(ctx, "from")
	if err != nil {
		return err
	}
	deposit, err := parseAmount(ctx, "deposit")
	if err != nil {
		return err
	}
	if err := n.mechanism.Signup(ctx.Context, from, deposit); err != nil {
		return err
	}
	fmt.Printf("%s voting power: %s\n", from, n.mechanism.VotingPower(from).Dec())
	return nil
}

func propose(ctx *cli.Context, n *node) error {
	from, err := addressArg(ctx, "from")
	if err != nil {
		return err
	}
	recipient, err := addressArg(ctx, "recipient")
	if err != nil {
		return err
	}
	pid, err := n.mechanism.Propose(ctx.Context, from, recipient, ctx.String("description"))
	if err != nil {
		return err
	}
	fmt.Printf("proposal %d created\n", pid)
	return nil
}

type voteArgs struct {
	pid       uint64
	choice    core.VoteType
	recipient common.Address
}

func parseVoteArgs(ctx *cli.Context) (voteArgs, error) {
	choice, err := core.ParseVoteType(strings.ToLower(ctx.String("choice")))
	if err != nil {
		return voteArgs{}, err
	}
	recipient, err := addressArg(ctx, "recipient")
	if err != nil {
		return voteArgs{}, err
	}
	return voteArgs{pid: ctx.Uint64("pid"), choice: choice, recipient: recipient}, nil
}

func vote(ctx *cli.Context, n *node) error {
	from, err := addressArg(ctx, "from")
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
	if err := n.mechanism.CastVote(ctx.Context, from, args.pid, args.choice, weight, args.recipient); err != nil {
		return err
	}
	fmt.Printf("%s remaining voting power: %s\n", from, n.mechanism.VotingPower(from).Dec())
	return nil
}

func cancel(ctx *cli.Context, n *node) error {
	from, err := addressArg(ctx, "from")
	if err != nil {
		return err
	}
	return n.mechanism.CancelProposal(ctx.Context, from, ctx.Uint64("pid"))
}

func finalize(ctx *cli.Context, n *node) error {
	from, err := addressArg(ctx, "from")
	if err != nil {
		return err
	}
	if err := n.mechanism.FinalizeVoteTally(ctx.Context, from); err != nil {
		return err
	}
	tl := n.mechanism.Timeline()
	fmt.Printf("redemption window: %s - %s\n", tl.RedemptionStart.Format(time.RFC3339), tl.RedemptionEnd.Format(time.RFC3339))
	return nil
}

func queue(ctx *cli.Context, n *node) error {
	pid := ctx.Uint64("pid")
	if err := n.mechanism.QueueProposal(ctx.Context, pid); err != nil {
		return err
	}
	shares, err := n.mechanism.ProposalShares(pid)
	if err != nil {
		return err
	}
	fmt.Printf("proposal %d queued with %s shares\n", pid, shares.Dec())
	return nil
}

func redeem(ctx *cli.Context, n *node) error {
	from, err := addressArg(ctx, "from")
	if err != nil {
		return err
	}
	receiver, err := addressArgOr(ctx, "receiver", from)
	if err != nil {
		return err
	}
	owner, err := addressArgOr(ctx, "owner", from)
	if err != nil {
		return err
	}
	shares, err := n.mechanism.MaxRedeem(owner)
	if err != nil {
		return err
	}
	if ctx.String("shares") != "" {
		if shares, err = parseAmount(ctx, "shares"); err != nil {
			return err
		}
	}
	assets, err := n.mechanism.Redeem(ctx.Context, from, shares, receiver, owner)
	if err != nil {
		return err
	}
	fmt.Printf("redeemed %s shares of %s for %s assets to %s\n", shares.Dec(), owner, assets.Dec(), receiver)
	return nil
}

func sweep(ctx *cli.Context, n *node) error {
	from, err := addressArg(ctx, "from")
	if err != nil {
		return err
	}
	receiver, err := addressArg(ctx, "receiver")
	if err != nil {
		return err
	}
	swept, err := n.mechanism.Sweep(ctx.Context, from, n.asset, receiver)
	if err != nil {
		return err
	}
	fmt.Printf("swept %s to %s\n", swept.Dec(), receiver)
	return nil
}

func setAlpha(ctx *cli.Context, n *node) error {
	from, err := addressArg(ctx, "from")
	if err != nil {
		return err
	}
	numerator, err := parseAmount(ctx, "numerator")
	if err != nil {
		return err
	}
	denominator, err := parseAmount(ctx, "denominator")
	if err != nil {
		return err
	}
	if err := n.quadratic.SetAlpha(ctx.Context, from, numerator, denominator); err != nil {
		return err
	}
	fmt.Printf("total funding: %s\n", n.quadratic.Totals().Funding.Dec())
	return nil
}

func setAccessMode(ctx *cli.Context, n *node) error {
	from, err := addressArg(ctx, "from")
	if err != nil {
		return err
	}
	mode, err := allocstrategy.ParseAccessMode(ctx.String("mode"))
	if err != nil {
		return err
	}
	return n.access.SetMode(ctx.Context, from, mode)
}

type listUpdate func(a *allocstrategy.AccessGated, ctx context.Context, caller common.Address, users ...common.Address) error

func accessListCMD(name, usage string, update listUpdate) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<address>...",
		Flags:     []cli.Flag{fromFlag},
		Action: mutate(func(ctx *cli.Context, n *node) error {
			from, err := addressArg(ctx, "from")
			if err != nil {
				return err
			}
			var users []common.Address
			for _, arg := range ctx.Args().Slice() {
				if !common.IsHexAddress(arg) {
					return errors.Errorf("invalid address %q", arg)
				}
				users = append(users, common.HexToAddress(arg))
			}
			return update(n.access, ctx.Context, from, users...)
		}),
	}
}

func status(ctx *cli.Context, n *node) error {
	m := n.mechanism
	cfg := m.Config()
	tl := m.Timeline()
	fmt.Printf("mechanism:        %s (%s)\n", cfg.Name, m.Address())
	fmt.Printf("now:              %s\n", m.Now().Format(time.RFC3339))
	fmt.Printf("voting window:    %s - %s\n", tl.VotingStart.Format(time.RFC3339), tl.VotingEnd.Format(time.RFC3339))
	if m.Finalized() {
		fmt.Printf("finalized:        %s\n", tl.TallyFinalized.Format(time.RFC3339))
		fmt.Printf("redemption:       %s - %s\n", tl.RedemptionStart.Format(time.RFC3339), tl.RedemptionEnd.Format(time.RFC3339))
	}
	fmt.Printf("access mode:      %s\n", n.access.Mode())
	totals := n.quadratic.Totals()
	fmt.Printf("alpha:            %s/%s\n", totals.AlphaNumerator.Dec(), totals.AlphaDenominator.Dec())
	fmt.Printf("total funding:    %s\n", totals.Funding.Dec())
	fmt.Printf("total assets:     %s\n", m.TotalAssets().Dec())
	fmt.Printf("total supply:     %s\n", m.TotalSupply().Dec())
	fmt.Println()

	for pid := uint64(1); pid <= m.ProposalCount(); pid++ {
		p, err := m.Proposal(pid)
		if err != nil {
			return err
		}
		state, err := m.State(pid)
		if err != nil {
			return err
		}
		t, err := n.quadratic.Tally(pid)
		if err != nil {
			return err
		}
		fmt.Printf("#%d %-10s recipient=%s funding=%s shares=%s %q\n",
			pid, state, p.Recipient, t.Funding().Dec(), p.Shares.Dec(), p.Description)
	}

	for _, s := range ctx.StringSlice("account") {
		if !common.IsHexAddress(s) {
			return errors.Errorf("invalid address %q", s)
		}
		addr := common.HexToAddress(s)
		max, err := m.MaxRedeem(addr)
		if err != nil {
			return err
		}
		fmt.Printf("%s power=%s nonce=%d shares=%s redeemable=%s\n",
			addr, m.VotingPower(addr).Dec(), m.Nonce(addr), m.BalanceOf(addr).Dec(), max.Dec())
	}
	return nil
}
