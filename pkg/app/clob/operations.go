package clob

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperclob/pkg/app/core/access"
	"github.com/uhyunpark/hyperclob/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperclob/pkg/app/core/orders"
	"github.com/uhyunpark/hyperclob/pkg/app/core/settlement"
	"github.com/uhyunpark/hyperclob/pkg/events"
)

// Deposit pulls amount of asset from caller through custody and credits it.
func (e *Exchange) Deposit(ctx context.Context, caller, asset common.Address, amount *uint256.Int) error {
	return e.update(ctx, "deposit", func(o *op) error {
		return e.deposit(ctx, o, caller, asset, amount)
	})
}

// Withdraw debits caller's available balance and pushes it out through custody.
func (e *Exchange) Withdraw(ctx context.Context, caller, asset common.Address, amount *uint256.Int) error {
	return e.update(ctx, "withdraw", func(o *op) error {
		return e.withdraw(ctx, o, caller, asset, amount)
	})
}

func (e *Exchange) PlaceBuy(ctx context.Context, caller common.Address, limitPrice, amount *uint256.Int) (*orders.Order, error) {
	var placed *orders.Order
	err := e.update(ctx, "place_buy", func(o *op) (err error) {
		placed, err = e.place(o, caller, orders.SideBuy, limitPrice, amount)
		return err
	})
	return placed, err
}

func (e *Exchange) PlaceSell(ctx context.Context, caller common.Address, limitPrice, amount *uint256.Int) (*orders.Order, error) {
	var placed *orders.Order
	err := e.update(ctx, "place_sell", func(o *op) (err error) {
		placed, err = e.place(o, caller, orders.SideSell, limitPrice, amount)
		return err
	})
	return placed, err
}

// Cancel closes one of caller's orders and returns it with its lock released.
func (e *Exchange) Cancel(ctx context.Context, caller common.Address, id uint64) (*orders.Order, error) {
	var cancelled *orders.Order
	err := e.update(ctx, "cancel", func(o *op) (err error) {
		cancelled, err = e.cancel(o, caller, id)
		return err
	})
	return cancelled, err
}

// MatchOrders settles a proposed match. Only allowlisted matchers may call it.
func (e *Exchange) MatchOrders(ctx context.Context, caller common.Address, m settlement.Match) (*settlement.Result, error) {
	var res *settlement.Result
	err := e.update(ctx, "match_orders", func(o *op) (err error) {
		res, err = e.match(o, caller, m)
		return err
	})
	return res, err
}

func (e *Exchange) SetFeeBps(ctx context.Context, caller common.Address, bps uint16) error {
	return e.configure(ctx, "set_fee_bps", caller, func(cfg *access.Config) (access.Update, error) {
		return cfg.SetFeeBps(bps)
	})
}

func (e *Exchange) SetFeeRecipient(ctx context.Context, caller, recipient common.Address) error {
	return e.configure(ctx, "set_fee_recipient", caller, func(cfg *access.Config) (access.Update, error) {
		return cfg.SetFeeRecipient(recipient)
	})
}

func (e *Exchange) SetMatcherAllowed(ctx context.Context, caller, matcher common.Address, allowed bool) error {
	return e.configure(ctx, "set_matcher_allowed", caller, func(cfg *access.Config) (access.Update, error) {
		return cfg.SetMatcherAllowed(matcher, allowed)
	})
}

// SetTrustedRelay replaces the relay. The zero address disables relaying.
func (e *Exchange) SetTrustedRelay(ctx context.Context, caller, relay common.Address) error {
	return e.configure(ctx, "set_trusted_relay", caller, func(cfg *access.Config) (access.Update, error) {
		return cfg.SetTrustedRelay(relay)
	})
}

func (e *Exchange) TransferOwnership(ctx context.Context, caller, owner common.Address) error {
	return e.configure(ctx, "transfer_ownership", caller, func(cfg *access.Config) (access.Update, error) {
		return cfg.TransferOwnership(owner)
	})
}

func (e *Exchange) configure(ctx context.Context, name string, caller common.Address, set func(*access.Config) (access.Update, error)) error {
	return e.update(ctx, name, func(o *op) error {
		return e.applyConfig(o, caller, set)
	})
}

func (e *Exchange) deposit(ctx context.Context, o *op, owner, asset common.Address, amount *uint256.Int) error {
	if err := e.ledger.Deposit(ctx, o.txn, owner, asset, amount); err != nil {
		return err
	}
	o.compensate = append(o.compensate, func(ctx context.Context) error {
		return e.custody.Push(ctx, owner, asset, amount)
	})
	o.emit(events.NewDeposited(o.now, events.Transfer{
		Owner:  owner.Hex(),
		Asset:  asset.Hex(),
		Amount: amount.Dec(),
	}))
	e.logger.Info("deposited",
		zap.String("owner", owner.Hex()),
		zap.String("asset", asset.Hex()),
		zap.String("amount", amount.Dec()),
	)
	return nil
}

func (e *Exchange) withdraw(ctx context.Context, o *op, owner, asset common.Address, amount *uint256.Int) error {
	if err := e.ledger.Withdraw(ctx, o.txn, owner, asset, amount); err != nil {
		return err
	}
	o.compensate = append(o.compensate, func(ctx context.Context) error {
		return e.custody.Pull(ctx, owner, asset, amount)
	})
	o.emit(events.NewWithdrawn(o.now, events.Transfer{
		Owner:  owner.Hex(),
		Asset:  asset.Hex(),
		Amount: amount.Dec(),
	}))
	e.logger.Info("withdrawn",
		zap.String("owner", owner.Hex()),
		zap.String("asset", asset.Hex()),
		zap.String("amount", amount.Dec()),
	)
	return nil
}

func (e *Exchange) place(o *op, owner common.Address, side orders.Side, limitPrice, amount *uint256.Int) (*orders.Order, error) {
	var (
		placed *orders.Order
		err    error
	)
	if side == orders.SideBuy {
		placed, err = e.registry.PlaceBuy(o.txn, owner, limitPrice, amount)
	} else {
		placed, err = e.registry.PlaceSell(o.txn, owner, limitPrice, amount)
	}
	if err != nil {
		return nil, err
	}

	o.emit(events.NewOrderPlaced(o.now, events.OrderPlaced{
		OrderID: placed.ID,
		Owner:   owner.Hex(),
		Side:    side.String(),
		Price:   placed.LimitPrice.Dec(),
		Amount:  placed.OriginalAmount.Dec(),
		Locked:  placed.LockedAmount.Dec(),
	}))
	e.logger.Info("order_placed",
		zap.Uint64("order_id", placed.ID),
		zap.String("owner", owner.Hex()),
		zap.Stringer("side", side),
		zap.String("price", placed.LimitPrice.Dec()),
		zap.String("amount", placed.OriginalAmount.Dec()),
	)
	return placed, nil
}

func (e *Exchange) cancel(o *op, caller common.Address, id uint64) (*orders.Order, error) {
	cancelled, refund, err := e.registry.Cancel(o.txn, caller, id)
	if err != nil {
		return nil, err
	}
	o.emit(events.NewOrderCancelled(o.now, events.OrderCancelled{
		OrderID:        id,
		Owner:          cancelled.Owner.Hex(),
		RefundedAmount: refund.Dec(),
	}))
	e.logger.Info("order_cancelled",
		zap.Uint64("order_id", id),
		zap.String("owner", cancelled.Owner.Hex()),
		zap.String("refunded", refund.Dec()),
	)
	return cancelled, nil
}

func (e *Exchange) match(o *op, caller common.Address, m settlement.Match) (*settlement.Result, error) {
	if err := access.Require(o.cfg, caller, access.RoleMatcher); err != nil {
		return nil, err
	}
	if m.FillAmount == nil || m.ExecPrice == nil {
		return nil, fmt.Errorf("%w: fill amount and exec price are required", ledger.ErrInvalidCall)
	}

	terms := settlement.Terms{FeeBps: o.cfg.FeeBps, FeeRecipient: o.cfg.FeeRecipient}
	res, err := e.executor.Apply(o.txn, terms, m)
	if err != nil {
		return nil, err
	}

	for _, filled := range []*orders.Order{res.Buy, res.Sell} {
		o.emit(events.NewOrderFilled(o.now, events.OrderFilled{
			OrderID:         filled.ID,
			Owner:           filled.Owner.Hex(),
			FillAmount:      m.FillAmount.Dec(),
			ExecPrice:       m.ExecPrice.Dec(),
			RemainingAmount: filled.RemainingAmount.Dec(),
			Status:          filled.Status.String(),
		}))
	}
	o.emit(events.NewTradeSettled(o.now, events.TradeSettled{
		BuyID:        m.BuyID,
		SellID:       m.SellID,
		Buyer:        res.Buy.Owner.Hex(),
		Seller:       res.Sell.Owner.Hex(),
		FillAmount:   m.FillAmount.Dec(),
		ExecPrice:    m.ExecPrice.Dec(),
		QuoteAmount:  res.Breakdown.QuoteAmount.Dec(),
		FeeAmount:    res.Breakdown.FeeAmount.Dec(),
		FeeRecipient: terms.FeeRecipient.Hex(),
		Refund:       amountString(res.Refund),
	}))

	e.logger.Info("trade_settled",
		zap.Uint64("buy_id", m.BuyID),
		zap.Uint64("sell_id", m.SellID),
		zap.String("fill", m.FillAmount.Dec()),
		zap.String("exec_price", m.ExecPrice.Dec()),
		zap.String("quote", res.Breakdown.QuoteAmount.Dec()),
		zap.String("fee", res.Breakdown.FeeAmount.Dec()),
		zap.String("refund", amountString(res.Refund)),
		zap.String("shortfall", amountString(res.Shortfall)),
		zap.String("matcher", caller.Hex()),
	)
	return res, nil
}

func (e *Exchange) applyConfig(o *op, caller common.Address, set func(*access.Config) (access.Update, error)) error {
	if err := access.Require(o.cfg, caller, access.RoleOwner); err != nil {
		return err
	}
	next := o.cfg.Clone()
	upd, err := set(next)
	if err != nil {
		return err
	}
	if err := access.SaveConfig(o.txn, next); err != nil {
		return err
	}
	o.cfg = next
	o.emit(events.NewConfigUpdated(o.now, events.ConfigUpdated{Field: upd.Field, Value: upd.Value}))
	e.logger.Info("config_updated",
		zap.String("field", upd.Field),
		zap.String("value", upd.Value),
		zap.String("by", caller.Hex()),
	)
	return nil
}
