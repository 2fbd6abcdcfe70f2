// Package ledger declares the collaborators a settlement needs from the
// fungible token ledger and the unique-asset registries. Implementations
// live outside the settlement core; memledger is an in-process reference.
package ledger

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrNotAuthorized         = errors.New("not authorized")
	ErrNotOwner              = errors.New("from is not the asset owner")
	ErrUnknownAsset          = errors.New("unknown asset")
	ErrUnknownRegistry       = errors.New("unknown asset registry")
	ErrUnknownToken          = errors.New("unknown token")
	ErrZeroAddress           = errors.New("zero address")
	ErrIrreversible          = errors.New("change can no longer be reverted")
)

// TokenReader is the read-only view of the fungible ledger. It exposes no
// mutating call so the settlement can consult it without handing control
// to code that changes state.
type TokenReader interface {
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
}

// TokenTransferProxy moves fungible value under allowances owners granted
// to the proxy address.
type TokenTransferProxy interface {
	TransferFrom(ctx context.Context, token, from, to common.Address, amount *big.Int) error
}

type AssetRegistry interface {
	GetApproved(ctx context.Context, assetID *big.Int) (common.Address, error)
	IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error)
}

// AssetRegistries resolves the registry named by an order's asset address.
type AssetRegistries interface {
	Registry(ctx context.Context, registry common.Address) (AssetRegistry, error)
}

// AssetTransferProxy moves unique assets under approvals owners granted to
// the proxy address.
type AssetTransferProxy interface {
	TransferFrom(ctx context.Context, registry, from, to common.Address, assetID *big.Int) error
}
