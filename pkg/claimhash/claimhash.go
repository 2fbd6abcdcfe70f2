package claimhash

import (
	"math/big"

	"github.com/accordsai/transferlane/pkg/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

const wordSize = 32

// Compute returns keccak256 over the packed encoding
// instance ‖ from ‖ to ‖ asset ‖ assetId ‖ feeRecipients ‖ feeAmounts ‖ seed ‖ expiration.
// Addresses in the fixed positions are 20 bytes; sequence elements and
// scalars occupy one 32 byte word each. The field order must not change:
// signatures are made over this digest.
func Compute(instance common.Address, o domain.Order) domain.Claim {
	return domain.Claim(crypto.Keccak256Hash(Encode(instance, o)))
}

func Encode(instance common.Address, o domain.Order) []byte {
	n := 4*common.AddressLength + (4+len(o.FeeRecipients)+len(o.FeeAmounts))*wordSize
	buf := make([]byte, 0, n)
	buf = append(buf, instance.Bytes()...)
	buf = append(buf, o.From.Bytes()...)
	buf = append(buf, o.To.Bytes()...)
	buf = append(buf, o.Asset.Bytes()...)
	buf = append(buf, word(o.AssetID)...)
	for _, r := range o.FeeRecipients {
		buf = append(buf, common.LeftPadBytes(r.Bytes(), wordSize)...)
	}
	for _, a := range o.FeeAmounts {
		buf = append(buf, word(a)...)
	}
	buf = append(buf, word(o.Seed)...)
	buf = append(buf, word(o.Expiration)...)
	return buf
}

// word is the two's complement 256-bit big-endian form of v. Callers are
// expected to have range checked v with domain.CheckUint256.
func word(v *big.Int) []byte {
	if v == nil {
		return make([]byte, wordSize)
	}
	return math.U256Bytes(new(big.Int).Set(v))
}
