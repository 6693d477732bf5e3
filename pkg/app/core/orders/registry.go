// Package orders manages the order lifecycle: placing a limit order locks
// the funds it could need, cancelling releases whatever is still locked.
package orders

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperclob/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperclob/pkg/num"
	"github.com/uhyunpark/hyperclob/pkg/storage"
	"github.com/uhyunpark/hyperclob/pkg/util"
)

// Registry stores orders and keeps their locks in step with the ledger.
type Registry struct {
	ledger *ledger.Ledger
	clock  util.Clock
}

func NewRegistry(l *ledger.Ledger, clock util.Clock) *Registry {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Registry{ledger: l, clock: clock}
}

// PlaceBuy locks amount*limitPrice/1e18 of quote and records an open buy.
func (r *Registry) PlaceBuy(txn *storage.Txn, owner common.Address, limitPrice, amount *uint256.Int) (*Order, error) {
	return r.place(txn, owner, SideBuy, limitPrice, amount)
}

// PlaceSell locks amount of base and records an open sell.
func (r *Registry) PlaceSell(txn *storage.Txn, owner common.Address, limitPrice, amount *uint256.Int) (*Order, error) {
	return r.place(txn, owner, SideSell, limitPrice, amount)
}

func (r *Registry) place(txn *storage.Txn, owner common.Address, side Side, limitPrice, amount *uint256.Int) (*Order, error) {
	if amount == nil || amount.IsZero() {
		return nil, fmt.Errorf("%w: order amount must be positive", ledger.ErrInvalidAmount)
	}
	if limitPrice == nil || limitPrice.IsZero() {
		return nil, fmt.Errorf("%w: limit price must be positive", ledger.ErrInvalidPrice)
	}

	var (
		lockAsset  common.Address
		lockAmount *uint256.Int
	)
	switch side {
	case SideBuy:
		required, err := num.MulPrice(amount, limitPrice)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ledger.ErrOverflow, err)
		}
		if required.IsZero() {
			return nil, fmt.Errorf("%w: buy of %s at %s locks nothing", ledger.ErrInvalidAmount, amount.Dec(), limitPrice.Dec())
		}
		lockAsset, lockAmount = r.ledger.Quote(), required
	case SideSell:
		lockAsset, lockAmount = r.ledger.Base(), num.Clone(amount)
	default:
		return nil, fmt.Errorf("%w: side %d", ledger.ErrInvalidOrderState, side)
	}

	if err := r.ledger.Lock(txn, owner, lockAsset, lockAmount); err != nil {
		return nil, err
	}

	id, err := r.nextID(txn)
	if err != nil {
		return nil, err
	}
	now := r.clock.Now().UnixMilli()
	o := &Order{
		ID:              id,
		Owner:           owner,
		Side:            side,
		Base:            r.ledger.Base(),
		Quote:           r.ledger.Quote(),
		LimitPrice:      num.Clone(limitPrice),
		OriginalAmount:  num.Clone(amount),
		RemainingAmount: num.Clone(amount),
		LockedAmount:    lockAmount,
		Status:          StatusOpen,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := r.put(txn, o); err != nil {
		return nil, err
	}
	if err := txn.Put(storage.OwnerOrderKey(owner, id), nil); err != nil {
		return nil, err
	}
	return o, nil
}

// Cancel releases the order's remaining lock. Only the owner may cancel.
// Returns the cancelled order and the refunded amount.
func (r *Registry) Cancel(txn *storage.Txn, caller common.Address, id uint64) (*Order, *uint256.Int, error) {
	o, err := r.Get(txn, id)
	if err != nil {
		return nil, nil, err
	}
	if o.Owner != caller {
		return nil, nil, fmt.Errorf("%w: %s does not own order %d", ledger.ErrUnauthorized, caller.Hex(), id)
	}
	if o.IsClosed() {
		return nil, nil, fmt.Errorf("%w: order %d is %s", ledger.ErrInvalidOrderState, id, o.Status)
	}

	refund := num.Clone(o.LockedAmount)
	if err := r.ledger.Unlock(txn, o.Owner, o.LockedAsset(), refund); err != nil {
		return nil, nil, err
	}
	o.LockedAmount = num.Zero()
	o.Status = StatusCancelled
	if err := r.Save(txn, o); err != nil {
		return nil, nil, err
	}
	return o, refund, nil
}

// Get loads an order by id.
func (r *Registry) Get(txn *storage.Txn, id uint64) (*Order, error) {
	var rec orderRecord
	ok, err := txn.GetJSON(storage.OrderKey(id), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ledger.ErrOrderNotFound, id)
	}
	return fromRecord(rec)
}

// Save persists a modified order and stamps UpdatedAt.
func (r *Registry) Save(txn *storage.Txn, o *Order) error {
	o.UpdatedAt = r.clock.Now().UnixMilli()
	return r.put(txn, o)
}

// ListByOwner returns the owner's orders in id order.
func (r *Registry) ListByOwner(txn *storage.Txn, owner common.Address, openOnly bool) ([]*Order, error) {
	prefix := storage.OwnerOrderPrefix(owner)
	var ids []uint64
	err := txn.Scan(prefix, func(key, _ []byte) error {
		id, err := strconv.ParseUint(string(key[len(prefix):]), 10, 64)
		if err != nil {
			return fmt.Errorf("bad owner index key %s: %w", key, err)
		}
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]*Order, 0, len(ids))
	for _, id := range ids {
		o, err := r.Get(txn, id)
		if err != nil {
			return nil, err
		}
		if openOnly && o.IsClosed() {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// ForEach visits every order in id order.
func (r *Registry) ForEach(txn *storage.Txn, fn func(*Order) error) error {
	return txn.Scan(storage.OrderPrefix(), func(key, value []byte) error {
		var rec orderRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("order %s: %w", key, err)
		}
		o, err := fromRecord(rec)
		if err != nil {
			return err
		}
		return fn(o)
	})
}

func (r *Registry) put(txn *storage.Txn, o *Order) error {
	return txn.PutJSON(storage.OrderKey(o.ID), toRecord(o))
}

// nextID allocates ids monotonically from 1.
func (r *Registry) nextID(txn *storage.Txn) (uint64, error) {
	raw, ok, err := txn.Get(storage.OrderSeqKey())
	if err != nil {
		return 0, err
	}
	var last uint64
	if ok {
		if len(raw) != 8 {
			return 0, fmt.Errorf("%w: order sequence has %d bytes", ledger.ErrInvariantViolation, len(raw))
		}
		last = binary.BigEndian.Uint64(raw)
	}
	next := last + 1
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next)
	if err := txn.Put(storage.OrderSeqKey(), buf[:]); err != nil {
		return 0, err
	}
	return next, nil
}
