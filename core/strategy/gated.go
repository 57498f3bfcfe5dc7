package strategy

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/axiomesh/allocator/core"
)

var ErrModeLocked = errors.New("access mode cannot change while voting is open")

type AccessMode uint8

const (
	// Open lets anyone sign up
	Open AccessMode = iota

	// AllowList only admits allowed addresses
	AllowList

	// DenyList admits everyone but denied addresses
	DenyList
)

func (m AccessMode) String() string {
	switch m {
	case Open:
		return "open"
	case AllowList:
		return "allowlist"
	case DenyList:
		return "denylist"
	default:
		return "unknown"
	}
}

func ParseAccessMode(s string) (AccessMode, error) {
	switch s {
	case "", "open":
		return Open, nil
	case "allowlist":
		return AllowList, nil
	case "denylist":
		return DenyList, nil
	}
	return 0, errors.Errorf("unknown access mode %q", s)
}

var (
	_ core.Strategy   = (*AccessGated)(nil)
	_ core.Attacher   = (*AccessGated)(nil)
	_ core.Persistent = (*AccessGated)(nil)
)

// AccessGated puts an allow list or deny list in front of the signup hook of
// an inner strategy and delegates every other hook to it.
type AccessGated struct {
	core.Strategy

	gov     core.Governor
	mode    AccessMode
	allowed map[common.Address]bool
	denied  map[common.Address]bool
}

func NewAccessGated(inner core.Strategy, mode AccessMode) *AccessGated {
	return &AccessGated{
		Strategy: inner,
		mode:     mode,
		allowed:  make(map[common.Address]bool),
		denied:   make(map[common.Address]bool),
	}
}

func (a *AccessGated) Attach(g core.Governor) {
	a.gov = g
	if inner, ok := a.Strategy.(core.Attacher); ok {
		inner.Attach(g)
	}
}

func (a *AccessGated) Mode() AccessMode {
	return a.mode
}

func (a *AccessGated) IsAllowed(user common.Address) bool {
	return a.allowed[user]
}

func (a *AccessGated) IsDenied(user common.Address) bool {
	return a.denied[user]
}

func (a *AccessGated) BeforeSignup(v core.View, user common.Address) bool {
	switch a.mode {
	case AllowList:
		if !a.allowed[user] {
			return false
		}
	case DenyList:
		if a.denied[user] {
			return false
		}
	}
	return a.Strategy.BeforeSignup(v, user)
}

// SetMode switches the access mode. It is rejected while the voting window
// is open, so that the set of registered voters cannot change under a
// different rule mid vote.
func (a *AccessGated) SetMode(ctx context.Context, caller common.Address, mode AccessMode) error {
	if mode > DenyList {
		return errors.Errorf("unknown access mode %d", mode)
	}
	return a.govern(ctx, caller, func(v core.View) error {
		if now := v.Now(); v.Timeline().VotingOpen(now) && !v.Finalized() {
			return errors.Wrapf(ErrModeLocked, "now %s, voting end %s", now, v.Timeline().VotingEnd)
		}
		v.Logger().WithFields(logrus.Fields{"from": a.mode, "to": mode}).Info("access mode changed")
		a.mode = mode
		return nil
	})
}

func (a *AccessGated) Allow(ctx context.Context, caller common.Address, users ...common.Address) error {
	return a.update(ctx, caller, a.allowed, true, users)
}

func (a *AccessGated) Disallow(ctx context.Context, caller common.Address, users ...common.Address) error {
	return a.update(ctx, caller, a.allowed, false, users)
}

func (a *AccessGated) Deny(ctx context.Context, caller common.Address, users ...common.Address) error {
	return a.update(ctx, caller, a.denied, true, users)
}

func (a *AccessGated) Undeny(ctx context.Context, caller common.Address, users ...common.Address) error {
	return a.update(ctx, caller, a.denied, false, users)
}

func (a *AccessGated) update(ctx context.Context, caller common.Address, set map[common.Address]bool, add bool, users []common.Address) error {
	return a.govern(ctx, caller, func(core.View) error {
		for _, user := range users {
			if add {
				set[user] = true
			} else {
				delete(set, user)
			}
		}
		return nil
	})
}

func (a *AccessGated) govern(ctx context.Context, caller common.Address, fn func(core.View) error) error {
	if a.gov == nil {
		return ErrNotAttached
	}
	return a.gov.Govern(ctx, caller, fn)
}

type accessState struct {
	Mode    AccessMode       `json:"mode"`
	Allowed []common.Address `json:"allowed"`
	Denied  []common.Address `json:"denied"`
	Inner   json.RawMessage  `json:"inner,omitempty"`
}

func (a *AccessGated) MarshalState() (json.RawMessage, error) {
	s := accessState{
		Mode:    a.mode,
		Allowed: sortedAddresses(a.allowed),
		Denied:  sortedAddresses(a.denied),
	}
	if inner, ok := a.Strategy.(core.Persistent); ok {
		raw, err := inner.MarshalState()
		if err != nil {
			return nil, err
		}
		s.Inner = raw
	}
	return json.Marshal(s)
}

func (a *AccessGated) UnmarshalState(raw json.RawMessage) error {
	var s accessState
	if err := json.Unmarshal(raw, &s); err != nil {
		return errors.Wrap(err, "unmarshal access state")
	}
	if len(s.Inner) > 0 {
		inner, ok := a.Strategy.(core.Persistent)
		if !ok {
			return errors.New("inner strategy is not persistent")
		}
		if err := inner.UnmarshalState(s.Inner); err != nil {
			return err
		}
	}
	a.mode = s.Mode
	a.allowed = make(map[common.Address]bool, len(s.Allowed))
	for _, user := range s.Allowed {
		a.allowed[user] = true
	}
	a.denied = make(map[common.Address]bool, len(s.Denied))
	for _, user := range s.Denied {
		a.denied[user] = true
	}
	return nil
}

func sortedAddresses(set map[common.Address]bool) []common.Address {
	list := make([]common.Address, 0, len(set))
	for addr := range set {
		list = append(list, addr)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Hex() < list[j].Hex()
	})
	return list
}
