package domain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrInvalidUint    = errors.New("invalid uint256")
)

// Encoded is the wire form of the parallel addresses/uints sequences.
// Uints are decimal strings or 0x-prefixed hex.
type Encoded struct {
	Addresses []string `json:"addresses"`
	Uints     []string `json:"uints"`
}

func (e Encoded) Decode() ([]common.Address, []*big.Int, error) {
	addresses := make([]common.Address, len(e.Addresses))
	for i, s := range e.Addresses {
		a, err := ParseAddress(s)
		if err != nil {
			return nil, nil, fmt.Errorf("addresses[%d]: %w", i, err)
		}
		addresses[i] = a
	}
	uints := make([]*big.Int, len(e.Uints))
	for i, s := range e.Uints {
		v, err := ParseUint256(s)
		if err != nil {
			return nil, nil, fmt.Errorf("uints[%d]: %w", i, err)
		}
		uints[i] = v
	}
	return addresses, uints, nil
}

func EncodeWire(addresses []common.Address, uints []*big.Int) Encoded {
	out := Encoded{
		Addresses: make([]string, len(addresses)),
		Uints:     make([]string, len(uints)),
	}
	for i, a := range addresses {
		out.Addresses[i] = a.Hex()
	}
	for i, v := range uints {
		out.Uints[i] = bigOrZero(v).String()
	}
	return out
}

// OrderJSON is the human-editable order document used by xferctl.
type OrderJSON struct {
	From       string    `json:"from"`
	To         string    `json:"to"`
	Asset      string    `json:"asset"`
	AssetID    string    `json:"asset_id"`
	Seed       string    `json:"seed"`
	Expiration string    `json:"expiration"`
	Fees       []FeeJSON `json:"fees,omitempty"`
}

type FeeJSON struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

func (j OrderJSON) Order() (Order, error) {
	e := Encoded{
		Addresses: []string{j.From, j.To, j.Asset},
		Uints:     []string{j.AssetID, j.Seed, j.Expiration},
	}
	for _, f := range j.Fees {
		e.Addresses = append(e.Addresses, f.Recipient)
		e.Uints = append(e.Uints, f.Amount)
	}
	addresses, uints, err := e.Decode()
	if err != nil {
		return Order{}, err
	}
	return DecodeOrder(addresses, uints)
}

func ToOrderJSON(o Order) OrderJSON {
	out := OrderJSON{
		From:       o.From.Hex(),
		To:         o.To.Hex(),
		Asset:      o.Asset.Hex(),
		AssetID:    bigOrZero(o.AssetID).String(),
		Seed:       bigOrZero(o.Seed).String(),
		Expiration: bigOrZero(o.Expiration).String(),
	}
	for i, r := range o.FeeRecipients {
		amount := "0"
		if i < len(o.FeeAmounts) {
			amount = bigOrZero(o.FeeAmounts[i]).String()
		}
		out.Fees = append(out.Fees, FeeJSON{Recipient: r.Hex(), Amount: amount})
	}
	return out
}

func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

func ParseUint256(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidUint
	}
	v, ok := math.ParseBig256(s)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUint, s)
	}
	return v, nil
}
