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

// ReceiveHook is called after an asset lands on an address that registered
// one, like an ERC-721 onERC721Received callback. A non-nil error fails the
// transfer. Hooks run without the registry lock held and may call back
// into anything, including the settlement that triggered the transfer.
type ReceiveHook func(ctx context.Context, operator, from common.Address, assetID *big.Int) error

// Registry is an in-memory unique-asset registry with ERC-721 approval and
// operator semantics.
type Registry struct {
	Address common.Address

	mu        sync.Mutex
	owners    map[string]common.Address
	approvals map[string]common.Address
	operators map[common.Address]map[common.Address]bool
	hooks     map[common.Address]ReceiveHook
}

func NewRegistry(addr common.Address) *Registry {
	return &Registry{
		Address:   addr,
		owners:    map[string]common.Address{},
		approvals: map[string]common.Address{},
		operators: map[common.Address]map[common.Address]bool{},
		hooks:     map[common.Address]ReceiveHook{},
	}
}

func key(id *big.Int) string { return id.String() }

func (r *Registry) Mint(to common.Address, assetID *big.Int) error {
	if to == (common.Address{}) {
		return ledger.ErrZeroAddress
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.owners[key(assetID)]; ok {
		return fmt.Errorf("asset %s already minted", assetID)
	}
	r.owners[key(assetID)] = to
	return nil
}

// Approve sets the single approved address for assetID. Only the owner may
// call it.
func (r *Registry) Approve(owner, approved common.Address, assetID *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.owners[key(assetID)]
	if !ok {
		return ledger.ErrUnknownAsset
	}
	if current != owner {
		return ledger.ErrNotOwner
	}
	r.approvals[key(assetID)] = approved
	return nil
}

func (r *Registry) SetApprovalForAll(owner, operator common.Address, approved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.operators[owner]
	if !ok {
		m = map[common.Address]bool{}
		r.operators[owner] = m
	}
	m[operator] = approved
}

func (r *Registry) SetReceiveHook(addr common.Address, hook ReceiveHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hook == nil {
		delete(r.hooks, addr)
		return
	}
	r.hooks[addr] = hook
}

func (r *Registry) OwnerOf(ctx context.Context, assetID *big.Int) (common.Address, error) {
	if err := ctx.Err(); err != nil {
		return common.Address{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[key(assetID)]
	if !ok {
		return common.Address{}, ledger.ErrUnknownAsset
	}
	return owner, nil
}

func (r *Registry) GetApproved(ctx context.Context, assetID *big.Int) (common.Address, error) {
	if err := ctx.Err(); err != nil {
		return common.Address{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.owners[key(assetID)]; !ok {
		return common.Address{}, ledger.ErrUnknownAsset
	}
	return r.approvals[key(assetID)], nil
}

func (r *Registry) IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.operators[owner][operator], nil
}

// TransferFrom moves assetID from -> to on behalf of operator, which must
// be the owner, the approved address, or an operator of the owner. The
// single approval is cleared on transfer.
func (r *Registry) TransferFrom(ctx context.Context, operator, from, to common.Address, assetID *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return ledger.ErrZeroAddress
	}
	k := key(assetID)

	r.mu.Lock()
	owner, ok := r.owners[k]
	if !ok {
		r.mu.Unlock()
		return ledger.ErrUnknownAsset
	}
	if owner != from {
		r.mu.Unlock()
		return ledger.ErrNotOwner
	}
	prevApproved, hadApproval := r.approvals[k]
	if operator != owner && prevApproved != operator && !r.operators[owner][operator] {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s may not move asset %s", ledger.ErrNotAuthorized, operator.Hex(), assetID)
	}
	r.owners[k] = to
	delete(r.approvals, k)
	hook := r.hooks[to]
	r.mu.Unlock()

	journal.FromContext(ctx).Append(func() error {
		r.mu.Lock()
		defer r.mu.Unlock()
		if current := r.owners[k]; current != to {
			return fmt.Errorf("%w: asset %s moved on to %s", ledger.ErrIrreversible, k, current.Hex())
		}
		r.owners[k] = owner
		delete(r.approvals, k)
		if hadApproval {
			r.approvals[k] = prevApproved
		}
		return nil
	})

	if hook != nil {
		if err := hook(ctx, operator, from, assetID); err != nil {
			return fmt.Errorf("receive hook: %w", err)
		}
	}
	return nil
}
