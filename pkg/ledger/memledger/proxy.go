package memledger

import (
	"context"
	"math/big"
	"sync"

	"github.com/accordsai/transferlane/pkg/ledger"
	"github.com/ethereum/go-ethereum/common"
)

// Ledger groups the in-memory tokens and registries a settlement instance
// talks to.
type Ledger struct {
	mu         sync.RWMutex
	tokens     map[common.Address]*Token
	registries map[common.Address]*Registry
}

func New() *Ledger {
	return &Ledger{
		tokens:     map[common.Address]*Token{},
		registries: map[common.Address]*Registry{},
	}
}

func (l *Ledger) AddToken(t *Token) *Token {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens[t.Address] = t
	return t
}

func (l *Ledger) AddRegistry(r *Registry) *Registry {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.registries[r.Address] = r
	return r
}

func (l *Ledger) Token(addr common.Address) (*Token, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.tokens[addr]
	if !ok {
		return nil, ledger.ErrUnknownToken
	}
	return t, nil
}

func (l *Ledger) AssetRegistry(addr common.Address) (*Registry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.registries[addr]
	if !ok {
		return nil, ledger.ErrUnknownRegistry
	}
	return r, nil
}

// Registry implements ledger.AssetRegistries.
func (l *Ledger) Registry(ctx context.Context, addr common.Address) (ledger.AssetRegistry, error) {
	r, err := l.AssetRegistry(addr)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// TokenProxy moves tokens as Address, the spender owners approved.
type TokenProxy struct {
	Address common.Address
	Ledger  *Ledger
}

func (p TokenProxy) TransferFrom(ctx context.Context, token, from, to common.Address, amount *big.Int) error {
	t, err := p.Ledger.Token(token)
	if err != nil {
		return err
	}
	return t.TransferFrom(ctx, p.Address, from, to, amount)
}

// AssetProxy moves unique assets as Address, the operator owners approved.
type AssetProxy struct {
	Address common.Address
	Ledger  *Ledger
}

func (p AssetProxy) TransferFrom(ctx context.Context, registry, from, to common.Address, assetID *big.Int) error {
	r, err := p.Ledger.AssetRegistry(registry)
	if err != nil {
		return err
	}
	return r.TransferFrom(ctx, p.Address, from, to, assetID)
}

var (
	_ ledger.TokenReader        = (*Token)(nil)
	_ ledger.AssetRegistry      = (*Registry)(nil)
	_ ledger.AssetRegistries    = (*Ledger)(nil)
	_ ledger.TokenTransferProxy = TokenProxy{}
	_ ledger.AssetTransferProxy = AssetProxy{}
)
