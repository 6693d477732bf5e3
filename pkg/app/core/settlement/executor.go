// Package settlement validates an externally proposed buy/sell pairing and
// applies it to the ledger in one step.
package settlement

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperclob/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperclob/pkg/app/core/orders"
	"github.com/uhyunpark/hyperclob/pkg/num"
	"github.com/uhyunpark/hyperclob/pkg/storage"
)

// Terms are the configuration values a settlement depends on.
type Terms struct {
	FeeBps       uint16
	FeeRecipient common.Address
}

// Match is a proposed pairing from the matcher.
type Match struct {
	BuyID      uint64
	SellID     uint64
	FillAmount *uint256.Int
	ExecPrice  *uint256.Int
}

// Result describes an applied settlement.
type Result struct {
	Buy       *orders.Order // state after the fill
	Sell      *orders.Order
	Breakdown Breakdown
	Refund    *uint256.Int // unlocked back to the buyer
	Shortfall *uint256.Int // pulled from the buyer's available when the fee exceeds the improvement
}

// Executor applies matches. It holds no state of its own.
type Executor struct {
	ledger   *ledger.Ledger
	registry *orders.Registry
}

func NewExecutor(l *ledger.Ledger, r *orders.Registry) *Executor {
	return &Executor{ledger: l, registry: r}
}

// Validate checks every precondition of m without writing anything.
func (x *Executor) Validate(txn *storage.Txn, m Match) (buy, sell *orders.Order, err error) {
	buy, err = x.registry.Get(txn, m.BuyID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: buy: %w", ledger.ErrInvalidOrderState, err)
	}
	sell, err = x.registry.Get(txn, m.SellID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: sell: %w", ledger.ErrInvalidOrderState, err)
	}

	switch {
	case buy.Side != orders.SideBuy:
		return nil, nil, fmt.Errorf("%w: order %d is not a buy", ledger.ErrInvalidOrderState, buy.ID)
	case sell.Side != orders.SideSell:
		return nil, nil, fmt.Errorf("%w: order %d is not a sell", ledger.ErrInvalidOrderState, sell.ID)
	case buy.Base != sell.Base || buy.Quote != sell.Quote:
		return nil, nil, fmt.Errorf("%w: orders %d and %d trade different pairs", ledger.ErrInvalidOrderState, buy.ID, sell.ID)
	case buy.IsClosed():
		return nil, nil, fmt.Errorf("%w: buy %d is %s", ledger.ErrInvalidOrderState, buy.ID, buy.Status)
	case sell.IsClosed():
		return nil, nil, fmt.Errorf("%w: sell %d is %s", ledger.ErrInvalidOrderState, sell.ID, sell.Status)
	}

	if m.FillAmount == nil || m.FillAmount.IsZero() {
		return nil, nil, fmt.Errorf("%w: fill amount is zero", ledger.ErrAmountExceedsRemaining)
	}
	maxFill := num.Min(buy.RemainingAmount, sell.RemainingAmount)
	if m.FillAmount.Gt(maxFill) {
		return nil, nil, fmt.Errorf("%w: fill %s > %s", ledger.ErrAmountExceedsRemaining, m.FillAmount.Dec(), maxFill.Dec())
	}

	if m.ExecPrice == nil || m.ExecPrice.Lt(sell.LimitPrice) || m.ExecPrice.Gt(buy.LimitPrice) {
		price := "nil"
		if m.ExecPrice != nil {
			price = m.ExecPrice.Dec()
		}
		return nil, nil, fmt.Errorf("%w: price %s not in [%s, %s]",
			ledger.ErrInvalidPriceCross, price, sell.LimitPrice.Dec(), buy.LimitPrice.Dec())
	}
	return buy, sell, nil
}

// Apply validates m and moves the funds. Any error leaves txn in a state the
// caller must discard.
func (x *Executor) Apply(txn *storage.Txn, terms Terms, m Match) (*Result, error) {
	buy, sell, err := x.Validate(txn, m)
	if err != nil {
		return nil, err
	}

	bd, err := Compute(m.FillAmount, m.ExecPrice, buy.LimitPrice, terms.FeeBps)
	if err != nil {
		return nil, err
	}
	if bd.QuoteAmount.IsZero() {
		return nil, fmt.Errorf("%w: fill %s at %s is worth zero quote",
			ledger.ErrAmountExceedsRemaining, m.FillAmount.Dec(), m.ExecPrice.Dec())
	}

	buyRemaining := num.Sub(buy.RemainingAmount, m.FillAmount)
	sellRemaining := num.Sub(sell.RemainingAmount, m.FillAmount)

	// Per-fill truncation keeps the sum of LockedAtLimit within the original
	// lock; anything short of that is corrupted bookkeeping.
	if buy.LockedAmount.Lt(bd.LockedAtLimit) {
		return nil, fmt.Errorf("%w: buy %d locks %s, fill needs %s",
			ledger.ErrInvariantViolation, buy.ID, buy.LockedAmount.Dec(), bd.LockedAtLimit.Dec())
	}
	released := bd.LockedAtLimit
	if buyRemaining.IsZero() {
		released = num.Clone(buy.LockedAmount) // dust goes back with the refund
	}

	cost := bd.Cost()
	refund, shortfall := num.Zero(), num.Zero()
	if cost.Gt(released) {
		shortfall = num.Sub(cost, released)
		if err := x.ledger.Lock(txn, buy.Owner, buy.Quote, shortfall); err != nil {
			return nil, err
		}
	} else {
		refund = num.Sub(released, cost)
	}

	if err := x.ledger.Settle(txn, buy.Owner, sell.Owner, buy.Quote, bd.QuoteAmount); err != nil {
		return nil, err
	}
	if err := x.ledger.Settle(txn, buy.Owner, terms.FeeRecipient, buy.Quote, bd.FeeAmount); err != nil {
		return nil, err
	}
	if err := x.ledger.Unlock(txn, buy.Owner, buy.Quote, refund); err != nil {
		return nil, err
	}
	if err := x.ledger.Settle(txn, sell.Owner, buy.Owner, sell.Base, m.FillAmount); err != nil {
		return nil, err
	}

	buy.RemainingAmount = buyRemaining
	buy.LockedAmount = num.Sub(buy.LockedAmount, released)
	buy.Status = statusAfterFill(buyRemaining)

	sell.RemainingAmount = sellRemaining
	sell.LockedAmount = num.Sub(sell.LockedAmount, m.FillAmount)
	sell.Status = statusAfterFill(sellRemaining)

	if err := x.registry.Save(txn, buy); err != nil {
		return nil, err
	}
	if err := x.registry.Save(txn, sell); err != nil {
		return nil, err
	}

	return &Result{
		Buy:       buy,
		Sell:      sell,
		Breakdown: bd,
		Refund:    refund,
		Shortfall: shortfall,
	}, nil
}

func statusAfterFill(remaining *uint256.Int) orders.Status {
	if remaining.IsZero() {
		return orders.StatusFilled
	}
	return orders.StatusPartiallyFilled
}
