package memledger

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/accordsai/transferlane/pkg/domain"
	"github.com/accordsai/transferlane/pkg/ledger"
)

// Fixture seeds a Ledger from JSON. Token balances and allowances are given
// in display units and scaled by the token's decimals, so "1.5" with 18
// decimals mints 1500000000000000000 base units. Asset ids are decimal or
// 0x-prefixed hex strings.
type Fixture struct {
	Tokens     []TokenFixture    `json:"tokens"`
	Registries []RegistryFixture `json:"registries"`
}

type TokenFixture struct {
	Address    string             `json:"address"`
	Decimals   int32              `json:"decimals"`
	Balances   map[string]string  `json:"balances"`
	Allowances []AllowanceFixture `json:"allowances"`
}

type AllowanceFixture struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type RegistryFixture struct {
	Address   string            `json:"address"`
	Assets    []AssetFixture    `json:"assets"`
	Operators []OperatorFixture `json:"operators"`
}

type AssetFixture struct {
	ID       string `json:"id"`
	Owner    string `json:"owner"`
	Approved string `json:"approved,omitempty"`
}

type OperatorFixture struct {
	Owner    string `json:"owner"`
	Operator string `json:"operator"`
}

// maxDecimals bounds the scaling applied to fixture amounts.
const maxDecimals = 77

func LoadFixtureFile(path string) (*Ledger, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ledger fixture: %w", err)
	}
	var f Fixture
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decode ledger fixture: %w", err)
	}
	return f.Build()
}

func (f Fixture) Build() (*Ledger, error) {
	l := New()
	for _, tf := range f.Tokens {
		addr, err := domain.ParseAddress(tf.Address)
		if err != nil {
			return nil, fmt.Errorf("token: %w", err)
		}
		if tf.Decimals < 0 || tf.Decimals > maxDecimals {
			return nil, fmt.Errorf("token %s: decimals %d out of range", addr.Hex(), tf.Decimals)
		}
		t := l.AddToken(NewToken(addr, tf.Decimals))
		for owner, amount := range tf.Balances {
			o, err := domain.ParseAddress(owner)
			if err != nil {
				return nil, fmt.Errorf("token %s balance: %w", addr.Hex(), err)
			}
			v, err := ledger.ParseUnits(amount, tf.Decimals)
			if err != nil {
				return nil, fmt.Errorf("token %s balance of %s: %w", addr.Hex(), o.Hex(), err)
			}
			t.Mint(o, v)
		}
		for _, af := range tf.Allowances {
			o, err := domain.ParseAddress(af.Owner)
			if err != nil {
				return nil, fmt.Errorf("token %s allowance: %w", addr.Hex(), err)
			}
			s, err := domain.ParseAddress(af.Spender)
			if err != nil {
				return nil, fmt.Errorf("token %s allowance: %w", addr.Hex(), err)
			}
			v, err := ledger.ParseUnits(af.Amount, tf.Decimals)
			if err != nil {
				return nil, fmt.Errorf("token %s allowance of %s: %w", addr.Hex(), o.Hex(), err)
			}
			t.Approve(o, s, v)
		}
	}
	for _, rf := range f.Registries {
		addr, err := domain.ParseAddress(rf.Address)
		if err != nil {
			return nil, fmt.Errorf("registry: %w", err)
		}
		r := l.AddRegistry(NewRegistry(addr))
		for _, af := range rf.Assets {
			id, err := domain.ParseUint256(af.ID)
			if err != nil {
				return nil, fmt.Errorf("registry %s asset: %w", addr.Hex(), err)
			}
			owner, err := domain.ParseAddress(af.Owner)
			if err != nil {
				return nil, fmt.Errorf("registry %s asset %s: %w", addr.Hex(), id, err)
			}
			if err := r.Mint(owner, id); err != nil {
				return nil, fmt.Errorf("registry %s: %w", addr.Hex(), err)
			}
			if af.Approved != "" {
				approved, err := domain.ParseAddress(af.Approved)
				if err != nil {
					return nil, fmt.Errorf("registry %s asset %s: %w", addr.Hex(), id, err)
				}
				if err := r.Approve(owner, approved, id); err != nil {
					return nil, fmt.Errorf("registry %s asset %s: %w", addr.Hex(), id, err)
				}
			}
		}
		for _, of := range rf.Operators {
			owner, err := domain.ParseAddress(of.Owner)
			if err != nil {
				return nil, fmt.Errorf("registry %s operator: %w", addr.Hex(), err)
			}
			op, err := domain.ParseAddress(of.Operator)
			if err != nil {
				return nil, fmt.Errorf("registry %s operator: %w", addr.Hex(), err)
			}
			r.SetApprovalForAll(owner, op, true)
		}
	}
	return l, nil
}
