package signature

import (
	"crypto/ecdsa"
	"errors"
	"math/big"

	"github.com/accordsai/transferlane/pkg/domain"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidEncoding  = errors.New("invalid encoding")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrMissingKey       = errors.New("private key is required")
)

// Digest wraps a 32 byte hash in the "\x19Ethereum Signed Message:\n32"
// prefix so an order signature cannot double as a transaction or any other
// signable payload.
func Digest(hash []byte) []byte {
	return accounts.TextHash(hash)
}

// IsValid reports whether sig over the prefixed claim recovers exactly to signer.
func IsValid(signer common.Address, claim domain.Claim, sig VRS) bool {
	got, err := Recover(claim, sig)
	if err != nil {
		return false
	}
	return got == signer
}

func Recover(claim domain.Claim, sig VRS) (common.Address, error) {
	return RecoverHash(claim[:], sig)
}

// RecoverHash recovers the address that signed the prefixed form of hash.
func RecoverHash(hash []byte, sig VRS) (common.Address, error) {
	if sig.V != 27 && sig.V != 28 {
		return common.Address{}, ErrInvalidSignature
	}
	r := new(big.Int).SetBytes(sig.R[:])
	s := new(big.Int).SetBytes(sig.S[:])
	if !crypto.ValidateSignatureValues(sig.V-27, r, s, false) {
		return common.Address{}, ErrInvalidSignature
	}
	raw := sig.Bytes()
	raw[64] -= 27
	pub, err := crypto.SigToPub(Digest(hash), raw)
	if err != nil {
		return common.Address{}, ErrInvalidSignature
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func Sign(claim domain.Claim, key *ecdsa.PrivateKey) (VRS, error) {
	return SignHash(claim[:], key)
}

func SignHash(hash []byte, key *ecdsa.PrivateKey) (VRS, error) {
	if key == nil {
		return VRS{}, ErrMissingKey
	}
	raw, err := crypto.Sign(Digest(hash), key)
	if err != nil {
		return VRS{}, err
	}
	return FromBytes(raw)
}
