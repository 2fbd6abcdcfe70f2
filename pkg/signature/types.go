package signature

import (
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// VRS is a recoverable secp256k1 signature. V is 27 or 28.
type VRS struct {
	V uint8
	R [32]byte
	S [32]byte
}

// Bytes returns the 65 byte r ‖ s ‖ v form.
func (sig VRS) Bytes() []byte {
	out := make([]byte, 65)
	copy(out[:32], sig.R[:])
	copy(out[32:64], sig.S[:])
	out[64] = sig.V
	return out
}

func (sig VRS) Hex() string { return hexutil.Encode(sig.Bytes()) }

// FromBytes parses r ‖ s ‖ v. A recovery id of 0 or 1 is shifted to 27/28.
func FromBytes(b []byte) (VRS, error) {
	if len(b) != 65 {
		return VRS{}, ErrInvalidEncoding
	}
	var sig VRS
	copy(sig.R[:], b[:32])
	copy(sig.S[:], b[32:64])
	sig.V = b[64]
	if sig.V < 27 {
		sig.V += 27
	}
	return sig, nil
}

func ParseHex(s string) (VRS, error) {
	b, err := hexutil.Decode(strings.TrimSpace(s))
	if err != nil {
		return VRS{}, ErrInvalidEncoding
	}
	return FromBytes(b)
}
