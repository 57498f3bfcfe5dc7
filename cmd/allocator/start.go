package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	"github.com/axiomesh/axiom-kit/log"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/axiomesh/allocator"
	"github.com/axiomesh/allocator/core"
	"github.com/axiomesh/allocator/core/amount"
	"github.com/axiomesh/allocator/core/auth"
	allocstrategy "github.com/axiomesh/allocator/core/strategy"
	"github.com/axiomesh/allocator/repo"
)

// node is a mechanism loaded from the repo store for the duration of one
// command.
type node struct {
	repo      *repo.Repo
	store     *core.Store
	asset     *core.TokenAsset
	mechanism *core.Mechanism
	quadratic *allocstrategy.QuadraticVoting
	access    *allocstrategy.AccessGated
	logger    *logrus.Logger
}

// openNode loads the repo, initializes logging and restores the mechanism
// from the store. With fresh set it builds a new mechanism and fails when
// one was already initialized.
func openNode(ctx *cli.Context, fresh bool) (*node, error) {
	p, err := getRootPath(ctx)
	if err != nil {
		return nil, err
	}
	r, err := repo.Load(p)
	if err != nil {
		return nil, err
	}

	err = log.Initialize(
		log.WithReportCaller(r.Config.Log.ReportCaller),
		log.WithPersist(true),
		log.WithFilePath(r.LogsPath()),
		log.WithFileName(r.Config.Log.Filename),
		log.WithMaxAge(r.Config.Log.MaxAge),
		log.WithRotationTime(r.Config.Log.RotationTime),
	)
	if err != nil {
		return nil, fmt.Errorf("log initialize: %w", err)
	}
	logger := log.New()
	logger.SetLevel(log.ParseLevel(r.Config.Log.Level))

	cfg, err := r.Config.MechanismConfig()
	if err != nil {
		return nil, err
	}
	chainID, err := chainIDSource(ctx.Context, r.Config)
	if err != nil {
		return nil, err
	}
	quadratic, access, err := buildStrategy(r.Config.Mechanism)
	if err != nil {
		return nil, err
	}

	store, err := core.OpenStore(r.Config.RepoRoot)
	if err != nil {
		return nil, err
	}
	asset := store.Asset(cfg.Asset)
	m, err := core.NewMechanism(cfg, access, asset,
		core.WithClock(clockFrom(ctx)),
		core.WithLogger(logger),
		core.WithChainID(chainID),
	)
	if err != nil {
		store.Close()
		return nil, err
	}

	loaded, err := store.Load(m)
	if err != nil {
		store.Close()
		return nil, err
	}
	switch {
	case fresh && loaded:
		store.Close()
		return nil, errors.Errorf("mechanism already initialized in %s", r.Config.RepoRoot)
	case !fresh && !loaded:
		store.Close()
		return nil, errors.Errorf("no mechanism in %s, run init first", r.Config.RepoRoot)
	}

	return &node{
		repo:      r,
		store:     store,
		asset:     asset,
		mechanism: m,
		quadratic: quadratic,
		access:    access,
		logger:    logger,
	}, nil
}

// commit persists the mechanism and closes the store.
func (n *node) commit() error {
	if err := n.store.Save(n.mechanism); err != nil {
		n.store.Close()
		return err
	}
	return n.store.Close()
}

func (n *node) close() {
	if err := n.store.Close(); err != nil {
		n.logger.WithField("err", err).Warn("close store")
	}
}

// mutate runs fn on an opened node and saves the result when fn succeeds.
// A rejected signature is saved as well, since it consumed the nonce of the
// signer.
func mutate(fn func(ctx *cli.Context, n *node) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		n, err := openNode(ctx, false)
		if err != nil {
			return err
		}
		if err := fn(ctx, n); err != nil {
			if !errors.Is(err, core.ErrInvalidSignature) {
				n.close()
				return err
			}
			if cerr := n.commit(); cerr != nil {
				n.logger.WithField("err", cerr).Error("save consumed nonce")
			}
			return err
		}
		return n.commit()
	}
}

// read runs fn on an opened node without saving.
func read(fn func(ctx *cli.Context, n *node) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		n, err := openNode(ctx, false)
		if err != nil {
			return err
		}
		defer n.close()
		return fn(ctx, n)
	}
}

func buildStrategy(m repo.Mechanism) (*allocstrategy.QuadraticVoting, *allocstrategy.AccessGated, error) {
	numerator, err := amount.Parse(m.AlphaNumerator)
	if err != nil {
		return nil, nil, errors.Wrap(err, "mechanism.alpha_numerator")
	}
	denominator, err := amount.Parse(m.AlphaDenominator)
	if err != nil {
		return nil, nil, errors.Wrap(err, "mechanism.alpha_denominator")
	}
	opts := []allocstrategy.QuadraticOption{allocstrategy.WithToleranceDivisor(m.ToleranceDivisor)}
	if m.DirectTransfer {
		opts = append(opts, allocstrategy.WithDirectTransfer())
	}
	quadratic, err := allocstrategy.NewQuadraticVoting(numerator, denominator, opts...)
	if err != nil {
		return nil, nil, err
	}
	mode, err := allocstrategy.ParseAccessMode(m.AccessMode)
	if err != nil {
		return nil, nil, err
	}
	return quadratic, allocstrategy.NewAccessGated(quadratic, mode), nil
}

// chainIDSource resolves the network of the mechanism from the node at
// dial_url, or the configured chain id when no node is configured.
func chainIDSource(ctx context.Context, cfg *repo.Config) (auth.ChainIDSource, error) {
	if cfg.DialUrl == "" {
		return auth.StaticChainID(cfg.ChainID), nil
	}

	var client *ethclient.Client
	action := func(attempt uint) error {
		var err error
		client, err = ethclient.DialContext(ctx, cfg.DialUrl)
		return err
	}
	if err := retry.Retry(action, strategy.Limit(5), strategy.Backoff(backoff.Fibonacci(time.Second))); err != nil {
		return nil, errors.Wrapf(err, "dial %s", cfg.DialUrl)
	}
	return client, nil
}

// clockFrom returns a clock fixed at --at when set, wall time otherwise.
func clockFrom(ctx *cli.Context) core.Clock {
	if at := ctx.Int64("at"); at > 0 {
		return core.NewMockClock(time.Unix(at, 0))
	}
	return core.SystemClock{}
}

func parseAmount(ctx *cli.Context, name string) (*uint256.Int, error) {
	v, err := amount.Parse(ctx.String(name))
	if err != nil {
		return nil, errors.Wrapf(err, "--%s", name)
	}
	return v, nil
}

func printVersion() {
	fmt.Printf("Allocator version: %s-%s-%s\n", allocator.CurrentVersion, allocator.CurrentBranch, allocator.CurrentCommit)
	fmt.Printf("App build date: %s\n", allocator.BuildDate)
	fmt.Printf("System version: %s\n", allocator.Platform)
	fmt.Printf("Golang version: %s\n", allocator.GoVersion)
	fmt.Println()
}
