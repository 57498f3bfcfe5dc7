package core

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/axiomesh/allocator/core/amount"
)

// Asset is the backing fungible asset. The mechanism pulls deposits with
// TransferFrom and pays out of its own balance with Transfer.
type Asset interface {
	Address() common.Address

	BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error)

	// Transfer moves value out of from, which must be the calling account.
	Transfer(ctx context.Context, from, to common.Address, value *uint256.Int) error

	// TransferFrom moves value out of from using the allowance granted to spender.
	TransferFrom(ctx context.Context, spender, from, to common.Address, value *uint256.Int) error
}

// KV is the subset of a key value store a TokenAsset persists to.
// axiom-kit storage.Storage satisfies it.
type KV interface {
	Get(key []byte) []byte
	Put(key, value []byte)
}

var (
	_ Asset = (*TokenAsset)(nil)
	_ KV    = (*MemKV)(nil)
)

// TokenAsset is a minimal ERC-20 style balance table kept in a KV store.
type TokenAsset struct {
	addr common.Address
	kv   KV
	mu   sync.Mutex

	// BeforeTransfer runs before every transfer, returning an error fails
	// the transfer.
	BeforeTransfer func(from, to common.Address, value *uint256.Int) error
}

func NewTokenAsset(addr common.Address, kv KV) *TokenAsset {
	return &TokenAsset{addr: addr, kv: kv}
}

// NewMemAsset returns a TokenAsset held in memory.
func NewMemAsset(addr common.Address) *TokenAsset {
	return NewTokenAsset(addr, NewMemKV())
}

func (a *TokenAsset) Address() common.Address {
	return a.addr
}

func (a *TokenAsset) balanceKey(owner common.Address) []byte {
	return append(append([]byte("asset/balance/"), a.addr.Bytes()...), owner.Bytes()...)
}

func (a *TokenAsset) allowanceKey(owner, spender common.Address) []byte {
	key := append(append([]byte("asset/allowance/"), a.addr.Bytes()...), owner.Bytes()...)
	return append(key, spender.Bytes()...)
}

func (a *TokenAsset) read(key []byte) *uint256.Int {
	return new(uint256.Int).SetBytes(a.kv.Get(key))
}

func (a *TokenAsset) write(key []byte, value *uint256.Int) {
	a.kv.Put(key, value.Bytes())
}

func (a *TokenAsset) BalanceOf(_ context.Context, owner common.Address) (*uint256.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.read(a.balanceKey(owner)), nil
}

func (a *TokenAsset) Allowance(owner, spender common.Address) *uint256.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.read(a.allowanceKey(owner, spender))
}

// Mint credits value to owner out of thin air.
func (a *TokenAsset) Mint(owner common.Address, value *uint256.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	balance, err := amount.Add(a.read(a.balanceKey(owner)), value)
	if err != nil {
		return err
	}
	a.write(a.balanceKey(owner), balance)
	return nil
}

func (a *TokenAsset) Approve(owner, spender common.Address, value *uint256.Int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.write(a.allowanceKey(owner, spender), value)
}

func (a *TokenAsset) Transfer(_ context.Context, from, to common.Address, value *uint256.Int) error {
	if hook := a.BeforeTransfer; hook != nil {
		if err := hook(from, to, value); err != nil {
			return err
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.move(from, to, value)
}

func (a *TokenAsset) TransferFrom(_ context.Context, spender, from, to common.Address, value *uint256.Int) error {
	if hook := a.BeforeTransfer; hook != nil {
		if err := hook(from, to, value); err != nil {
			return err
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	allowance := a.read(a.allowanceKey(from, spender))
	if spender != from && !allowance.Eq(amount.Unlimited) {
		if allowance.Lt(value) {
			return errors.Errorf("allowance of %s over %s is %s, need %s", spender, from, allowance, value)
		}
		if err := a.move(from, to, value); err != nil {
			return err
		}
		a.write(a.allowanceKey(from, spender), allowance.Sub(allowance, value))
		return nil
	}
	return a.move(from, to, value)
}

func (a *TokenAsset) move(from, to common.Address, value *uint256.Int) error {
	if to == (common.Address{}) {
		return errors.New("transfer to zero address")
	}
	balance := a.read(a.balanceKey(from))
	if balance.Lt(value) {
		return errors.Errorf("balance of %s is %s, need %s", from, balance, value)
	}
	a.write(a.balanceKey(from), balance.Sub(balance, value))
	received, err := amount.Add(a.read(a.balanceKey(to)), value)
	if err != nil {
		return err
	}
	a.write(a.balanceKey(to), received)
	return nil
}

// MemKV is an in-memory KV.
type MemKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemKV() *MemKV {
	return &MemKV{data: make(map[string][]byte)}
}

func (m *MemKV) Get(key []byte) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[string(key)]
}

func (m *MemKV) Put(key, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = append([]byte(nil), value...)
}
