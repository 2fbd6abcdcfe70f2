package settlement

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/accordsai/transferlane/pkg/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

// FeeDistributor checks fee affordability against the fungible ledger and
// pays fees through the token transfer proxy.
type FeeDistributor struct {
	Token       common.Address
	TokenProxy  common.Address
	Reader      ledger.TokenReader
	Transfers   ledger.TokenTransferProxy
	ReadTimeout time.Duration
}

// SumFees adds amounts, failing instead of wrapping past 2^256-1.
func SumFees(amounts []*big.Int) (*big.Int, error) {
	sum := new(big.Int)
	for i, a := range amounts {
		if a == nil || a.Sign() < 0 {
			return nil, newError(CodeInvalidInput, fmt.Sprintf("fee amount %d out of range", i), nil)
		}
		sum.Add(sum, a)
		if sum.Cmp(math.MaxBig256) > 0 {
			return nil, newError(CodeFeeOverflow, "fee amounts overflow uint256", nil)
		}
	}
	return sum, nil
}

// CanPayFee reports whether payer holds, and has allowed the token proxy to
// move, the sum of amounts.
func (f FeeDistributor) CanPayFee(ctx context.Context, payer common.Address, amounts []*big.Int) (bool, error) {
	sum, err := SumFees(amounts)
	if err != nil {
		return false, err
	}
	balance, err := f.read(ctx, func(ctx context.Context) (*big.Int, error) {
		return f.Reader.BalanceOf(ctx, payer)
	})
	if err != nil {
		return false, newError(CodeCollaboratorReadError, "token balance", err)
	}
	allowance, err := f.read(ctx, func(ctx context.Context) (*big.Int, error) {
		return f.Reader.Allowance(ctx, payer, f.TokenProxy)
	})
	if err != nil {
		return false, newError(CodeCollaboratorReadError, "token allowance", err)
	}
	return balance.Cmp(sum) >= 0 && allowance.Cmp(sum) >= 0, nil
}

// PayFees moves each non-zero amount to its non-zero recipient. The first
// failing transfer is returned; the caller reverts the whole settlement.
func (f FeeDistributor) PayFees(ctx context.Context, recipients []common.Address, amounts []*big.Int, payer common.Address) error {
	if len(recipients) != len(amounts) {
		return newError(CodeInvalidInput, "fee recipients and amounts differ in length", nil)
	}
	for i, to := range recipients {
		amount := amounts[i]
		if to == (common.Address{}) || amount == nil || amount.Sign() == 0 {
			continue
		}
		if err := f.Transfers.TransferFrom(ctx, f.Token, payer, to, amount); err != nil {
			return newError(CodeFeeTransferFailed, fmt.Sprintf("fee %d to %s", i, to.Hex()), err)
		}
	}
	return nil
}

func (f FeeDistributor) read(ctx context.Context, fn func(context.Context) (*big.Int, error)) (*big.Int, error) {
	if f.ReadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.ReadTimeout)
		defer cancel()
	}
	v, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return new(big.Int), nil
	}
	return v, nil
}
