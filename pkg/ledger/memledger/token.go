package memledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/accordsai/transferlane/pkg/journal"
	"github.com/accordsai/transferlane/pkg/ledger"
	"github.com/ethereum/go-ethereum/common"
)

// Token is an in-memory fungible ledger with ERC-20 allowance semantics.
type Token struct {
	Address  common.Address
	Decimals int32

	mu         sync.Mutex
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

func NewToken(addr common.Address, decimals int32) *Token {
	return &Token{
		Address:    addr,
		Decimals:   decimals,
		balances:   map[common.Address]*big.Int{},
		allowances: map[common.Address]map[common.Address]*big.Int{},
	}
}

func (t *Token) Mint(owner common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[owner] = new(big.Int).Add(t.balanceLocked(owner), amount)
}

func (t *Token) Approve(owner, spender common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setAllowanceLocked(owner, spender, new(big.Int).Set(amount))
}

func (t *Token) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.balanceLocked(owner)), nil
}

func (t *Token) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.allowanceLocked(owner, spender)), nil
}

// TransferFrom moves amount from -> to on behalf of spender, consuming the
// allowance from granted to spender. The balance and allowance checks and
// the move happen under one lock.
func (t *Token) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return ledger.ErrZeroAddress
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	balance := t.balanceLocked(from)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ledger.ErrInsufficientBalance, from.Hex(), balance, amount)
	}
	allowance := t.allowanceLocked(from, spender)
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s allows %s %s, needs %s", ledger.ErrInsufficientAllowance, from.Hex(), spender.Hex(), allowance, amount)
	}

	t.balances[from] = new(big.Int).Sub(balance, amount)
	t.balances[to] = new(big.Int).Add(t.balanceLocked(to), amount)
	t.setAllowanceLocked(from, spender, new(big.Int).Sub(allowance, amount))

	moved := new(big.Int).Set(amount)
	journal.FromContext(ctx).Append(func() error {
		return t.reverse(spender, from, to, moved)
	})
	return nil
}

// reverse undoes a TransferFrom by moving amount back, leaving any change
// committed since then in place. It fails if to no longer holds amount.
func (t *Token) reverse(spender, from, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	held := t.balanceLocked(to)
	if held.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s of %s moved from %s", ledger.ErrIrreversible, to.Hex(), held, amount, from.Hex())
	}
	t.balances[to] = new(big.Int).Sub(held, amount)
	t.balances[from] = new(big.Int).Add(t.balanceLocked(from), amount)
	t.setAllowanceLocked(from, spender, new(big.Int).Add(t.allowanceLocked(from, spender), amount))
	return nil
}

func (t *Token) balanceLocked(owner common.Address) *big.Int {
	if b, ok := t.balances[owner]; ok {
		return b
	}
	return new(big.Int)
}

func (t *Token) allowanceLocked(owner, spender common.Address) *big.Int {
	if a, ok := t.allowances[owner][spender]; ok {
		return a
	}
	return new(big.Int)
}

func (t *Token) setAllowanceLocked(owner, spender common.Address, amount *big.Int) {
	m, ok := t.allowances[owner]
	if !ok {
		m = map[common.Address]*big.Int{}
		t.allowances[owner] = m
	}
	m[spender] = amount
}
