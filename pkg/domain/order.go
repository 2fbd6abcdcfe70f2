package domain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

// Position of the fixed fields in the parallel addresses/uints encoding.
// Everything from FeeOffset onwards is an index-aligned fee pair.
const (
	idxFrom   = 0
	idxTo     = 1
	idxAsset  = 2
	idxID     = 0
	idxSeed   = 1
	idxExpiry = 2
	FeeOffset = 3
)

var (
	ErrLengthMismatch = errors.New("addresses and uints length mismatch")
	ErrTooShort       = errors.New("order encoding requires at least 3 entries")
	ErrNilValue       = errors.New("nil uint value")
	ErrNegativeValue  = errors.New("negative uint value")
	ErrValueOverflow  = errors.New("uint value exceeds 256 bits")
)

type Order struct {
	From          common.Address
	To            common.Address
	Asset         common.Address
	AssetID       *big.Int
	FeeRecipients []common.Address
	FeeAmounts    []*big.Int
	Seed          *big.Int
	Expiration    *big.Int
}

// DecodeOrder rebuilds an order from the caller supplied parallel sequences
// addresses=[from,to,asset,feeRecipient...] and uints=[assetId,seed,expiration,feeAmount...].
func DecodeOrder(addresses []common.Address, uints []*big.Int) (Order, error) {
	if len(addresses) != len(uints) {
		return Order{}, fmt.Errorf("%w: %d addresses, %d uints", ErrLengthMismatch, len(addresses), len(uints))
	}
	if len(addresses) < FeeOffset {
		return Order{}, ErrTooShort
	}
	for i, v := range uints {
		if err := CheckUint256(v); err != nil {
			return Order{}, fmt.Errorf("uints[%d]: %w", i, err)
		}
	}

	fees := len(addresses) - FeeOffset
	o := Order{
		From:          addresses[idxFrom],
		To:            addresses[idxTo],
		Asset:         addresses[idxAsset],
		AssetID:       new(big.Int).Set(uints[idxID]),
		Seed:          new(big.Int).Set(uints[idxSeed]),
		Expiration:    new(big.Int).Set(uints[idxExpiry]),
		FeeRecipients: make([]common.Address, fees),
		FeeAmounts:    make([]*big.Int, fees),
	}
	copy(o.FeeRecipients, addresses[FeeOffset:])
	for i, v := range uints[FeeOffset:] {
		o.FeeAmounts[i] = new(big.Int).Set(v)
	}
	return o, nil
}

// Encode is the inverse of DecodeOrder.
func (o Order) Encode() ([]common.Address, []*big.Int) {
	addresses := make([]common.Address, 0, FeeOffset+len(o.FeeRecipients))
	addresses = append(addresses, o.From, o.To, o.Asset)
	addresses = append(addresses, o.FeeRecipients...)

	uints := make([]*big.Int, 0, FeeOffset+len(o.FeeAmounts))
	uints = append(uints, bigOrZero(o.AssetID), bigOrZero(o.Seed), bigOrZero(o.Expiration))
	for _, v := range o.FeeAmounts {
		uints = append(uints, bigOrZero(v))
	}
	return addresses, uints
}

// Validate checks the structural invariants of an order built in code
// rather than decoded from the wire.
func (o Order) Validate() error {
	if len(o.FeeRecipients) != len(o.FeeAmounts) {
		return fmt.Errorf("%w: %d fee recipients, %d fee amounts", ErrLengthMismatch, len(o.FeeRecipients), len(o.FeeAmounts))
	}
	for _, v := range []*big.Int{o.AssetID, o.Seed, o.Expiration} {
		if err := CheckUint256(v); err != nil {
			return err
		}
	}
	for i, v := range o.FeeAmounts {
		if err := CheckUint256(v); err != nil {
			return fmt.Errorf("fee amount %d: %w", i, err)
		}
	}
	return nil
}

func CheckUint256(v *big.Int) error {
	switch {
	case v == nil:
		return ErrNilValue
	case v.Sign() < 0:
		return ErrNegativeValue
	case v.Cmp(math.MaxBig256) > 0:
		return ErrValueOverflow
	}
	return nil
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
