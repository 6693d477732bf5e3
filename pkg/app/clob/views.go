package clob

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperclob/pkg/app/core/access"
	"github.com/uhyunpark/hyperclob/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperclob/pkg/app/core/orders"
	"github.com/uhyunpark/hyperclob/pkg/storage"
)

// Config returns a copy of the current configuration.
func (e *Exchange) Config(ctx context.Context) (*access.Config, error) {
	var cfg *access.Config
	err := e.view(ctx, func(txn *storage.Txn) error {
		c, _, err := access.LoadConfig(txn)
		cfg = c
		return err
	})
	return cfg, err
}

// Balance returns owner's entry for asset. Unknown accounts read as zero.
func (e *Exchange) Balance(ctx context.Context, owner, asset common.Address) (ledger.Balance, error) {
	var bal ledger.Balance
	err := e.view(ctx, func(txn *storage.Txn) (err error) {
		bal, err = e.ledger.Balance(txn, owner, asset)
		return err
	})
	return bal, err
}

// Balances returns owner's base and quote entries keyed by asset.
func (e *Exchange) Balances(ctx context.Context, owner common.Address) (map[common.Address]ledger.Balance, error) {
	out := make(map[common.Address]ledger.Balance, 2)
	err := e.view(ctx, func(txn *storage.Txn) error {
		for _, asset := range []common.Address{e.ledger.Base(), e.ledger.Quote()} {
			bal, err := e.ledger.Balance(txn, owner, asset)
			if err != nil {
				return err
			}
			out[asset] = bal
		}
		return nil
	})
	return out, err
}

// Totals sums every account's entry for asset.
func (e *Exchange) Totals(ctx context.Context, asset common.Address) (ledger.Totals, error) {
	var t ledger.Totals
	err := e.view(ctx, func(txn *storage.Txn) (err error) {
		t, err = e.ledger.Totals(txn, asset)
		return err
	})
	return t, err
}

func (e *Exchange) Order(ctx context.Context, id uint64) (*orders.Order, error) {
	var o *orders.Order
	err := e.view(ctx, func(txn *storage.Txn) (err error) {
		o, err = e.registry.Get(txn, id)
		return err
	})
	return o, err
}

func (e *Exchange) OrdersByOwner(ctx context.Context, owner common.Address, openOnly bool) ([]*orders.Order, error) {
	var list []*orders.Order
	err := e.view(ctx, func(txn *storage.Txn) (err error) {
		list, err = e.registry.ListByOwner(txn, owner, openOnly)
		return err
	})
	return list, err
}

// OpenOrders lists every open or partially filled order in id order.
func (e *Exchange) OpenOrders(ctx context.Context) ([]*orders.Order, error) {
	var list []*orders.Order
	err := e.view(ctx, func(txn *storage.Txn) error {
		return e.registry.ForEach(txn, func(o *orders.Order) error {
			if !o.IsClosed() {
				list = append(list, o)
			}
			return nil
		})
	})
	return list, err
}

// LastNonce is the highest relay nonce consumed for addr (zero if none).
func (e *Exchange) LastNonce(ctx context.Context, addr common.Address) (*uint256.Int, error) {
	var n *uint256.Int
	err := e.view(ctx, func(txn *storage.Txn) (err error) {
		n, err = access.LastNonce(txn, addr)
		return err
	})
	return n, err
}

// StateHash is a sha256 over every balance and order record in key order,
// 0x-prefixed. Two exchanges that applied the same operations agree on it.
func (e *Exchange) StateHash(ctx context.Context) (string, error) {
	h := sha256.New()
	write := func(key, value []byte) error {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(key)))
		h.Write(n[:])
		h.Write(key)
		binary.BigEndian.PutUint32(n[:], uint32(len(value)))
		h.Write(n[:])
		h.Write(value)
		return nil
	}
	err := e.view(ctx, func(txn *storage.Txn) error {
		if err := txn.Scan(storage.BalancePrefix(), write); err != nil {
			return err
		}
		return txn.Scan(storage.OrderPrefix(), write)
	})
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(h.Sum(nil)), nil
}
