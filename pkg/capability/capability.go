// Package capability advertises which interfaces a settlement instance
// supports, keyed by ERC-165 style 4 byte identifiers.
package capability

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

type InterfaceID [4]byte

var (
	// ERC165 is the id of the supportsInterface(bytes4) query itself.
	ERC165  = InterfaceOf("supportsInterface(bytes4)")
	Invalid = InterfaceID{0xff, 0xff, 0xff, 0xff}
)

// SettlementMethods are the externally callable operations of a settlement
// instance; their combined id is Settlement.
var SettlementMethods = []string{
	"performTransfer(address[],uint256[],uint8,bytes32,bytes32,bool)",
	"cancelTransfer(address[],uint256[])",
	"getTransferDataClaim(address[],uint256[])",
	"isValidSignature(address,bytes32,uint8,bytes32,bytes32)",
	"getTokenAddress()",
	"getTokenTransferProxyAddress()",
	"getNFTokenTransferProxyAddress()",
}

var Settlement = InterfaceOf(SettlementMethods...)

// Selector is the first four bytes of keccak256(signature).
func Selector(signature string) InterfaceID {
	var id InterfaceID
	copy(id[:], crypto.Keccak256([]byte(signature))[:4])
	return id
}

// InterfaceOf XORs the selectors of signatures.
func InterfaceOf(signatures ...string) InterfaceID {
	var id InterfaceID
	for _, s := range signatures {
		sel := Selector(s)
		for i := range id {
			id[i] ^= sel[i]
		}
	}
	return id
}

func (id InterfaceID) Hex() string { return hexutil.Encode(id[:]) }

func ParseInterfaceID(s string) (InterfaceID, bool) {
	b, err := hexutil.Decode(strings.TrimSpace(s))
	if err != nil || len(b) != 4 {
		return InterfaceID{}, false
	}
	var id InterfaceID
	copy(id[:], b)
	return id, true
}

type Registry struct {
	mu        sync.RWMutex
	supported map[InterfaceID]bool
}

// NewRegistry returns a registry that already advertises ERC165 and ids.
func NewRegistry(ids ...InterfaceID) *Registry {
	r := &Registry{supported: map[InterfaceID]bool{}}
	r.Register(ERC165)
	for _, id := range ids {
		r.Register(id)
	}
	return r
}

// Register marks id as supported. The invalid id 0xffffffff is ignored.
func (r *Registry) Register(id InterfaceID) {
	if id == Invalid {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.supported[id] = true
}

func (r *Registry) Supports(id InterfaceID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.supported[id]
}
