package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/shopspring/decimal"
)

var (
	ErrNegativeAmount  = errors.New("amount is negative")
	ErrAmountPrecision = errors.New("amount has more fractional digits than the token")
	ErrAmountOverflow  = errors.New("amount exceeds 256 bits")
)

// FormatUnits renders a base-unit amount with the token's decimals, e.g.
// 1500000000000000000 with 18 decimals is "1.5".
func FormatUnits(amount *big.Int, decimals int32) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -decimals).String()
}

// ParseUnits is the inverse of FormatUnits. The result must be a whole number
// of base units that fits in 256 bits.
func ParseUnits(s string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", ErrNegativeAmount, s)
	}
	base := d.Shift(decimals)
	if !base.IsInteger() {
		return nil, fmt.Errorf("%w: %q with %d decimals", ErrAmountPrecision, s, decimals)
	}
	v := base.BigInt()
	if v.Cmp(math.MaxBig256) > 0 {
		return nil, fmt.Errorf("%w: %q", ErrAmountOverflow, s)
	}
	return v, nil
}
