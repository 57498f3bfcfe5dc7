package core

import (
	"encoding/json"
	"path/filepath"
	"sort"

	"github.com/axiomesh/axiom-kit/storage"
	"github.com/axiomesh/axiom-kit/storage/leveldb"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/pkg/errors"

	"github.com/axiomesh/allocator/core/amount"
	"github.com/axiomesh/allocator/core/ledger"
)

const snapshotKey = "mechanism/snapshot"

// Snapshot is the persisted state of a Mechanism. Config is not part of it
// apart from the roles, which governance may change after construction.
type Snapshot struct {
	Owner      common.Address `json:"owner"`
	Management common.Address `json:"management"`
	Keeper     common.Address `json:"keeper"`

	Timeline  Timeline                    `json:"timeline"`
	Finalized bool                        `json:"finalized"`
	Proposals []ProposalSnapshot          `json:"proposals"`
	Voters    []VoterSnapshot             `json:"voters"`
	Voted     map[uint64][]common.Address `json:"voted"`
	Ledger    ledger.Snapshot             `json:"ledger"`
	Strategy  json.RawMessage             `json:"strategy,omitempty"`
}

type ProposalSnapshot struct {
	ID          uint64                `json:"id"`
	Proposer    common.Address        `json:"proposer"`
	Recipient   common.Address        `json:"recipient"`
	Description string                `json:"description"`
	Canceled    bool                  `json:"canceled"`
	Shares      *math.HexOrDecimal256 `json:"shares"`
}

type VoterSnapshot struct {
	Address common.Address        `json:"address"`
	Power   *math.HexOrDecimal256 `json:"power"`
	Nonce   uint64                `json:"nonce"`
}

// Snapshot captures the mechanism state, including the state of a
// Persistent strategy.
func (m *Mechanism) Snapshot() (*Snapshot, error) {
	s := &Snapshot{
		Owner:      m.cfg.Owner,
		Management: m.cfg.Management,
		Keeper:     m.cfg.Keeper,
		Timeline:   m.timeline,
		Finalized:  m.finalized,
		Ledger:     m.ledger.Snapshot(),
		Voted:      make(map[uint64][]common.Address, len(m.voted)),
	}
	for _, p := range m.proposals {
		s.Proposals = append(s.Proposals, ProposalSnapshot{
			ID:          p.ID,
			Proposer:    p.Proposer,
			Recipient:   p.Recipient,
			Description: p.Description,
			Canceled:    p.Canceled,
			Shares:      amount.Encode(p.Shares),
		})
	}
	for addr, rec := range m.voters {
		s.Voters = append(s.Voters, VoterSnapshot{Address: addr, Power: amount.Encode(rec.Power), Nonce: rec.Nonce})
	}
	sort.Slice(s.Voters, func(i, j int) bool {
		return s.Voters[i].Address.Hex() < s.Voters[j].Address.Hex()
	})
	for pid, voters := range m.voted {
		for voter := range voters {
			s.Voted[pid] = append(s.Voted[pid], voter)
		}
		sort.Slice(s.Voted[pid], func(i, j int) bool {
			return s.Voted[pid][i].Hex() < s.Voted[pid][j].Hex()
		})
	}
	if p, ok := m.strategy.(Persistent); ok {
		raw, err := p.MarshalState()
		if err != nil {
			return nil, errors.Wrap(err, "marshal strategy state")
		}
		s.Strategy = raw
	}
	return s, nil
}

// Restore replaces the mechanism state with s. The recipient slots are
// rebuilt from the proposals that are not canceled.
func (m *Mechanism) Restore(s *Snapshot) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.exit()

	l := ledger.New(m.cfg.AssetDecimals, m.cfg.AssetDecimals)
	if err := l.Restore(s.Ledger); err != nil {
		return errors.Wrap(err, "restore ledger")
	}
	proposals := make([]*Proposal, 0, len(s.Proposals))
	recipientUsed := make(map[common.Address]bool)
	for i, ps := range s.Proposals {
		if ps.ID != uint64(i)+1 {
			return errors.Errorf("proposal %d stored at position %d", ps.ID, i+1)
		}
		shares, err := amount.Decode(ps.Shares)
		if err != nil {
			return errors.Wrapf(err, "shares of proposal %d", ps.ID)
		}
		proposals = append(proposals, &Proposal{
			ID:          ps.ID,
			Proposer:    ps.Proposer,
			Recipient:   ps.Recipient,
			Description: ps.Description,
			Canceled:    ps.Canceled,
			Shares:      shares,
		})
		if !ps.Canceled {
			recipientUsed[ps.Recipient] = true
		}
	}
	voters := make(map[common.Address]*VoterRecord, len(s.Voters))
	for _, vs := range s.Voters {
		power, err := amount.Decode(vs.Power)
		if err != nil {
			return errors.Wrapf(err, "power of %s", vs.Address)
		}
		voters[vs.Address] = &VoterRecord{Power: power, Nonce: vs.Nonce}
	}
	voted := make(map[uint64]map[common.Address]bool, len(s.Voted))
	for pid, list := range s.Voted {
		voted[pid] = make(map[common.Address]bool, len(list))
		for _, voter := range list {
			voted[pid][voter] = true
		}
	}
	if len(s.Strategy) > 0 {
		p, ok := m.strategy.(Persistent)
		if !ok {
			return errors.New("snapshot carries strategy state but the strategy is not persistent")
		}
		if err := p.UnmarshalState(s.Strategy); err != nil {
			return errors.Wrap(err, "restore strategy state")
		}
	}

	m.cfg.Owner = s.Owner
	m.cfg.Management = s.Management
	m.cfg.Keeper = s.Keeper
	m.timeline = s.Timeline
	m.finalized = s.Finalized
	m.proposals = proposals
	m.recipientUsed = recipientUsed
	m.voters = voters
	m.voted = voted
	m.ledger = l

	m.logger.WithField("proposals", len(proposals)).Info("mechanism restored")
	return nil
}

// Store persists mechanism snapshots and local asset balances in leveldb.
type Store struct {
	db storage.Storage
}

func OpenStore(repoRoot string) (*Store, error) {
	db, err := leveldb.New(filepath.Join(repoRoot, "leveldb"))
	if err != nil {
		return nil, errors.Wrap(err, "open leveldb")
	}
	return &Store{db: db}, nil
}

// Asset returns the backing asset whose balances live in the store.
func (s *Store) Asset(addr common.Address) *TokenAsset {
	return NewTokenAsset(addr, s.db)
}

func (s *Store) Save(m *Mechanism) error {
	snap, err := m.Snapshot()
	if err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}
	s.db.Put([]byte(snapshotKey), data)
	return nil
}

// Load restores m from the stored snapshot. It reports false when nothing
// was saved yet.
func (s *Store) Load(m *Mechanism) (bool, error) {
	data := s.db.Get([]byte(snapshotKey))
	if data == nil {
		return false, nil
	}
	snap := &Snapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return false, errors.Wrap(err, "unmarshal snapshot")
	}
	if err := m.Restore(snap); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
