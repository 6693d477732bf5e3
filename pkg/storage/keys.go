package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema for the ledger.
// Design principles:
// 1. Prefix-based for range scans (all balances of an asset, all orders of an owner)
// 2. Zero-padded ids for lexicographic ordering
// 3. Checksummed hex addresses so keys are stable regardless of input casing

// Key prefixes
const (
	prefixBalance    = "bal:"  // Balance entry per (asset, owner)
	prefixOrder      = "ord:"  // Order by id
	prefixOwnerOrder = "oidx:" // Owner → order id index
	prefixNonce      = "nonce:"
	keyConfig        = "cfg"
	keyOrderSeq      = "seq:order"
)

// BalanceKey returns the key for a balance entry
// Format: "bal:{asset}:{owner}"
func BalanceKey(asset, owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, asset.Hex(), owner.Hex()))
}

// BalanceAssetPrefix returns the prefix for all balances of an asset
// Format: "bal:{asset}:"
func BalanceAssetPrefix(asset common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixBalance, asset.Hex()))
}

// BalancePrefix returns the prefix of every balance entry.
func BalancePrefix() []byte {
	return []byte(prefixBalance)
}

// OrderKey returns the key for an order
// Format: "ord:{id}" with the id zero-padded to 20 digits
func OrderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

// OrderPrefix returns the prefix of every order.
func OrderPrefix() []byte {
	return []byte(prefixOrder)
}

// OwnerOrderKey returns the owner index entry for an order
// Format: "oidx:{owner}:{id}"
func OwnerOrderKey(owner common.Address, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixOwnerOrder, owner.Hex(), id))
}

// OwnerOrderPrefix returns the prefix for all orders of an owner
// Format: "oidx:{owner}:"
func OwnerOrderPrefix(owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixOwnerOrder, owner.Hex()))
}

// NonceKey returns the key for the last relay nonce consumed by a signer
// Format: "nonce:{address}"
func NonceKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixNonce, addr.Hex()))
}

// ConfigKey is the single configuration record.
func ConfigKey() []byte { return []byte(keyConfig) }

// OrderSeqKey holds the last allocated order id.
func OrderSeqKey() []byte { return []byte(keyOrderSeq) }

// keyUpperBound returns the exclusive upper bound for a prefix scan
// Example: prefix "bal:0xabc:" -> upper bound "bal:0xabc;"
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
