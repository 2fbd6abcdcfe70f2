package domain

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

var (
	addrA = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	addrB = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	addrR = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	addrD = common.HexToAddress("0x00000000000000000000000000000000000000d4")
)

func TestDecodeOrderSplitsFixedFieldsAndFees(t *testing.T) {
	o, err := DecodeOrder(
		[]common.Address{addrA, addrB, addrR, addrD},
		[]*big.Int{big.NewInt(1), big.NewInt(42), big.NewInt(1700000000), big.NewInt(10)},
	)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if o.From != addrA || o.To != addrB || o.Asset != addrR {
		t.Fatalf("unexpected parties: %+v", o)
	}
	if o.AssetID.Int64() != 1 || o.Seed.Int64() != 42 || o.Expiration.Int64() != 1700000000 {
		t.Fatalf("unexpected scalars: %+v", o)
	}
	if len(o.FeeRecipients) != 1 || o.FeeRecipients[0] != addrD || o.FeeAmounts[0].Int64() != 10 {
		t.Fatalf("unexpected fees: %+v %+v", o.FeeRecipients, o.FeeAmounts)
	}
}

func TestDecodeOrderRejectsLengthMismatch(t *testing.T) {
	_, err := DecodeOrder(
		[]common.Address{addrA, addrB, addrR, addrD},
		[]*big.Int{big.NewInt(1), big.NewInt(42), big.NewInt(1)},
	)
	if !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestDecodeOrderRejectsShortEncoding(t *testing.T) {
	_, err := DecodeOrder([]common.Address{addrA, addrB}, []*big.Int{big.NewInt(1), big.NewInt(2)})
	if !errors.Is(err, ErrTooShort) {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
}

func TestDecodeOrderRejectsOutOfRangeValues(t *testing.T) {
	tooBig := new(big.Int).Add(math.MaxBig256, big.NewInt(1))
	_, err := DecodeOrder([]common.Address{addrA, addrB, addrR}, []*big.Int{tooBig, big.NewInt(0), big.NewInt(0)})
	if !errors.Is(err, ErrValueOverflow) {
		t.Fatalf("expected ErrValueOverflow, got %v", err)
	}
	_, err = DecodeOrder([]common.Address{addrA, addrB, addrR}, []*big.Int{big.NewInt(-1), big.NewInt(0), big.NewInt(0)})
	if !errors.Is(err, ErrNegativeValue) {
		t.Fatalf("expected ErrNegativeValue, got %v", err)
	}
	_, err = DecodeOrder([]common.Address{addrA, addrB, addrR}, []*big.Int{nil, big.NewInt(0), big.NewInt(0)})
	if !errors.Is(err, ErrNilValue) {
		t.Fatalf("expected ErrNilValue, got %v", err)
	}
}

func TestDecodeOrderCopiesInputs(t *testing.T) {
	uints := []*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3), big.NewInt(4)}
	o, err := DecodeOrder([]common.Address{addrA, addrB, addrR, addrD}, uints)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	uints[3].SetInt64(99)
	if o.FeeAmounts[0].Int64() != 4 {
		t.Fatalf("order aliases caller slice")
	}
}

func TestEncodeInvertsDecode(t *testing.T) {
	addresses := []common.Address{addrA, addrB, addrR, addrD, common.Address{}}
	uints := []*big.Int{big.NewInt(7), big.NewInt(8), big.NewInt(9), big.NewInt(10), big.NewInt(0)}
	o, err := DecodeOrder(addresses, uints)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	gotA, gotU := o.Encode()
	if len(gotA) != len(addresses) || len(gotU) != len(uints) {
		t.Fatalf("unexpected lengths %d/%d", len(gotA), len(gotU))
	}
	for i := range addresses {
		if gotA[i] != addresses[i] || gotU[i].Cmp(uints[i]) != 0 {
			t.Fatalf("mismatch at %d", i)
		}
	}
}

func TestOrderJSONParsesDecimalAndHex(t *testing.T) {
	j := OrderJSON{
		From:       addrA.Hex(),
		To:         addrB.Hex(),
		Asset:      addrR.Hex(),
		AssetID:    "0x01",
		Seed:       "42",
		Expiration: "1700000000",
		Fees:       []FeeJSON{{Recipient: addrD.Hex(), Amount: "10"}},
	}
	o, err := j.Order()
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if o.AssetID.Int64() != 1 || o.FeeAmounts[0].Int64() != 10 {
		t.Fatalf("unexpected order %+v", o)
	}
	back := ToOrderJSON(o)
	if back.AssetID != "1" || back.Fees[0].Recipient != addrD.Hex() {
		t.Fatalf("unexpected json %+v", back)
	}
}

func TestEncodedDecodeRejectsBadAddress(t *testing.T) {
	_, _, err := Encoded{Addresses: []string{"0x123"}, Uints: []string{"1"}}.Decode()
	if !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestParseClaimRoundTrip(t *testing.T) {
	var c Claim
	c[0], c[31] = 0xab, 0xcd
	parsed, err := ParseClaim(c.Hex())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != c {
		t.Fatalf("round trip mismatch")
	}
	if _, err := ParseClaim("0xabcd"); !errors.Is(err, ErrInvalidClaim) {
		t.Fatalf("expected ErrInvalidClaim, got %v", err)
	}
}
