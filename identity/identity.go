// Package identity derives ledger keys for balance shares.
package identity

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	solsha3 "github.com/miguelmota/go-solidity-sha3"

	"github.com/clearledger/go-allocations/types"
)

// DeriveLedgerKey hashes a client address and a client-chosen id into the
// key of one balance share's ledger. The derivation is the tightly packed
// keccak256 of (address, uint256), so two clients reusing the same local id
// still map to distinct keys.
func DeriveLedgerKey(client common.Address, clientLocalID *big.Int) types.LedgerKey {
	hash := solsha3.SoliditySHA3(
		solsha3.Address(client.Hex()),
		solsha3.Uint256(clientLocalID),
	)
	return types.LedgerKey(common.BytesToHash(hash))
}
