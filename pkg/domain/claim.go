package domain

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var ErrInvalidClaim = errors.New("claim must be 32 bytes of 0x-prefixed hex")

// Claim is the canonical keccak256 fingerprint of an order.
type Claim [32]byte

func (c Claim) Hex() string { return hexutil.Encode(c[:]) }

func (c Claim) String() string { return c.Hex() }

func (c Claim) Bytes() []byte { return common.CopyBytes(c[:]) }

func (c Claim) IsZero() bool { return c == Claim{} }

func ParseClaim(s string) (Claim, error) {
	b, err := hexutil.Decode(strings.TrimSpace(s))
	if err != nil || len(b) != len(Claim{}) {
		return Claim{}, ErrInvalidClaim
	}
	var c Claim
	copy(c[:], b)
	return c, nil
}

func (c Claim) MarshalText() ([]byte, error) { return []byte(c.Hex()), nil }

func (c *Claim) UnmarshalText(b []byte) error {
	parsed, err := ParseClaim(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

type Status string

const (
	StatusUnset     Status = "UNSET"
	StatusPerformed Status = "PERFORMED"
	StatusCancelled Status = "CANCELLED"
)

func (s Status) Terminal() bool { return s == StatusPerformed || s == StatusCancelled }
