package core

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/axiomesh/axiom-kit/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/axiomesh/allocator/core/amount"
	"github.com/axiomesh/allocator/core/auth"
	"github.com/axiomesh/allocator/core/ledger"
)

const DefaultVersion = "1"

// Mechanism is the allocation mechanism core. It owns the proposals, the
// voter records, the share ledger and the timeline, and consults its
// Strategy for every policy decision.
//
// Execution is single writer. Every mutating entrypoint holds a reentrancy
// guard for its whole duration and a second mutating call made while the
// guard is held, whether from a hook or another goroutine, fails with
// ErrReentrantCall instead of waiting. Reads are not synchronized with
// writes; callers sharing a Mechanism across goroutines serialize access.
type Mechanism struct {
	cfg      Config
	strategy Strategy
	asset    Asset
	clock    Clock
	logger   logrus.FieldLogger
	verifier *auth.Verifier
	domains  *auth.DomainCache

	timeline      Timeline
	finalized     bool
	proposals     []*Proposal
	recipientUsed map[common.Address]bool
	voters        map[common.Address]*VoterRecord
	voted         map[uint64]map[common.Address]bool
	ledger        *ledger.Ledger

	entered atomic.Bool
}

type Option func(*options)

type options struct {
	clock   Clock
	logger  logrus.FieldLogger
	chainID auth.ChainIDSource
	signers auth.Registry
}

func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.logger = l }
}

// WithChainID sets the source of the network identifier bound into the
// signature domain. It defaults to chain id 1.
func WithChainID(src auth.ChainIDSource) Option {
	return func(o *options) { o.chainID = src }
}

// WithSigners registers programmatic signers allowed to authorize signed
// actions for their own address.
func WithSigners(r auth.Registry) Option {
	return func(o *options) { o.signers = r }
}

func NewMechanism(cfg Config, strategy Strategy, asset Asset, opts ...Option) (*Mechanism, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if strategy == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "strategy is nil")
	}
	if asset == nil || asset.Address() != cfg.Asset {
		return nil, errors.Wrapf(ErrInvalidConfig, "asset does not match %s", cfg.Asset)
	}
	o := &options{
		clock:   SystemClock{},
		chainID: auth.StaticChainID(1),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = log.New()
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.Management == (common.Address{}) {
		cfg.Management = cfg.Owner
	}
	if cfg.Keeper == (common.Address{}) {
		cfg.Keeper = cfg.Owner
	}
	cfg.QuorumShares = cfg.QuorumShares.Clone()

	start := cfg.StartTime
	if start.IsZero() {
		start = o.clock.Now()
	}
	votingStart := start.Add(cfg.VotingDelay)

	m := &Mechanism{
		cfg:      cfg,
		strategy: strategy,
		asset:    asset,
		clock:    o.clock,
		logger:   o.logger.WithField("module", "mechanism"),
		verifier: auth.NewVerifier(o.signers),
		domains:  auth.NewDomainCache(cfg.Name, cfg.Version, cfg.Address, o.chainID),
		timeline: Timeline{
			StartTime:   start,
			VotingStart: votingStart,
			VotingEnd:   votingStart.Add(cfg.VotingPeriod),
		},
		recipientUsed: make(map[common.Address]bool),
		voters:        make(map[common.Address]*VoterRecord),
		voted:         make(map[uint64]map[common.Address]bool),
		ledger:        ledger.New(cfg.AssetDecimals, cfg.AssetDecimals),
	}
	if a, ok := strategy.(Attacher); ok {
		a.Attach(m)
	}

	m.logger.WithFields(logrus.Fields{
		"name":         cfg.Name,
		"asset":        cfg.Asset,
		"voting_start": m.timeline.VotingStart,
		"voting_end":   m.timeline.VotingEnd,
		"quorum":       cfg.QuorumShares,
	}).Info("mechanism initialized")
	return m, nil
}

func (m *Mechanism) enter() error {
	if !m.entered.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	return nil
}

func (m *Mechanism) exit() {
	m.entered.Store(false)
}

func (m *Mechanism) view() View {
	return view{m: m}
}

// withRollback restores the share ledger when fn fails, so an entrypoint
// that mutates the ledger before paying out leaves no partial state.
func (m *Mechanism) withRollback(fn func() error) error {
	saved := m.ledger.Clone()
	if err := fn(); err != nil {
		m.ledger = saved
		return err
	}
	return nil
}

func (m *Mechanism) onlyOwner(caller common.Address) error {
	if caller != m.cfg.Owner {
		return errors.Wrapf(ErrUnauthorized, "%s is not the owner", caller)
	}
	return nil
}

func (m *Mechanism) proposal(pid uint64) (*Proposal, error) {
	if pid == 0 || pid > uint64(len(m.proposals)) {
		return nil, errors.Wrapf(ErrInvalidProposal, "proposal %d, count %d", pid, len(m.proposals))
	}
	return m.proposals[pid-1], nil
}

func (m *Mechanism) voter(user common.Address) *VoterRecord {
	rec, ok := m.voters[user]
	if !ok {
		rec = &VoterRecord{Power: amount.Zero()}
		m.voters[user] = rec
	}
	return rec
}

func (m *Mechanism) votingPower(user common.Address) *uint256.Int {
	if rec, ok := m.voters[user]; ok {
		return rec.Power.Clone()
	}
	return amount.Zero()
}

// Govern runs fn under the reentrancy guard on behalf of the owner. It is
// how strategies perform their own owner scoped configuration.
func (m *Mechanism) Govern(ctx context.Context, caller common.Address, fn func(v View) error) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.exit()
	if err := m.onlyOwner(caller); err != nil {
		return err
	}
	return fn(m.view())
}

func (m *Mechanism) TransferOwnership(ctx context.Context, caller, newOwner common.Address) error {
	return m.setRole(caller, "owner", newOwner, &m.cfg.Owner)
}

func (m *Mechanism) SetKeeper(ctx context.Context, caller, keeper common.Address) error {
	return m.setRole(caller, "keeper", keeper, &m.cfg.Keeper)
}

func (m *Mechanism) SetManagement(ctx context.Context, caller, management common.Address) error {
	return m.setRole(caller, "management", management, &m.cfg.Management)
}

func (m *Mechanism) setRole(caller common.Address, role string, addr common.Address, slot *common.Address) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.exit()
	if err := m.onlyOwner(caller); err != nil {
		return err
	}
	if addr == (common.Address{}) {
		return errors.Wrapf(ErrInvalidConfig, "%s is zero", role)
	}
	prev := *slot
	*slot = addr
	m.logger.WithFields(logrus.Fields{"role": role, "from": prev, "to": addr}).Info("role updated")
	return nil
}

func (m *Mechanism) Config() Config {
	cfg := m.cfg
	cfg.QuorumShares = cfg.QuorumShares.Clone()
	return cfg
}

func (m *Mechanism) Address() common.Address {
	return m.cfg.Address
}

func (m *Mechanism) Now() time.Time {
	return m.clock.Now()
}

func (m *Mechanism) Timeline() Timeline {
	return m.timeline
}

func (m *Mechanism) Finalized() bool {
	return m.finalized
}

func (m *Mechanism) ProposalCount() uint64 {
	return uint64(len(m.proposals))
}

func (m *Mechanism) Proposal(pid uint64) (Proposal, error) {
	p, err := m.proposal(pid)
	if err != nil {
		return Proposal{}, err
	}
	return p.clone(), nil
}

func (m *Mechanism) VotingPower(user common.Address) *uint256.Int {
	return m.votingPower(user)
}

// Nonce is the nonce the next signed action of user must carry.
func (m *Mechanism) Nonce(user common.Address) uint64 {
	if rec, ok := m.voters[user]; ok {
		return rec.Nonce
	}
	return 0
}

func (m *Mechanism) HasVoted(pid uint64, voter common.Address) bool {
	return m.voted[pid][voter]
}

// Domain returns the signature domain for the current network.
func (m *Mechanism) Domain(ctx context.Context) (auth.Domain, error) {
	d, _, err := m.domains.Domain(ctx)
	return d, err
}

func (m *Mechanism) DomainSeparator(ctx context.Context) (common.Hash, error) {
	_, separator, err := m.domains.Domain(ctx)
	return separator, err
}
