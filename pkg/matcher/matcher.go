// Package matcher is an off-ledger matching service. It mirrors open orders
// from the exchange's committed events and submits crossing pairs to
// MatchOrders as an authorized matcher.
package matcher

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperclob/pkg/app/core/access"
	"github.com/uhyunpark/hyperclob/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperclob/pkg/app/core/orders"
	"github.com/uhyunpark/hyperclob/pkg/app/core/settlement"
	"github.com/uhyunpark/hyperclob/pkg/events"
	"github.com/uhyunpark/hyperclob/pkg/num"
)

// Settler is the part of the exchange the matcher drives.
type Settler interface {
	Config(ctx context.Context) (*access.Config, error)
	MatchOrders(ctx context.Context, caller common.Address, m settlement.Match) (*settlement.Result, error)
}

// Matcher implements events.Sink. Publish only touches the book, so it is
// safe to call while the exchange holds its lock.
type Matcher struct {
	book     *Book
	settler  Settler
	self     common.Address
	interval time.Duration
	logger   *zap.Logger

	wake chan struct{}
}

// New returns a matcher acting as self, which must hold the matcher role.
func New(settler Settler, self common.Address, interval time.Duration, logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Matcher{
		book:     NewBook(),
		settler:  settler,
		self:     self,
		interval: interval,
		logger:   logger,
		wake:     make(chan struct{}, 1),
	}
}

func (m *Matcher) Book() *Book { return m.book }

// Publish applies order events to the book and wakes the run loop.
func (m *Matcher) Publish(_ context.Context, evs []events.Event) {
	placed := false
	for _, ev := range evs {
		switch p := ev.Data.(type) {
		case events.OrderPlaced:
			o, err := restingFrom(p)
			if err != nil {
				m.logger.Warn("matcher_bad_event", zap.String("id", ev.ID), zap.Error(err))
				continue
			}
			m.book.Add(o)
			placed = true
		case events.OrderFilled:
			remaining, err := num.ParseInt(p.RemainingAmount)
			if err != nil {
				m.logger.Warn("matcher_bad_event", zap.String("id", ev.ID), zap.Error(err))
				m.book.Remove(p.OrderID)
				continue
			}
			m.book.Update(p.OrderID, remaining)
		case events.OrderCancelled:
			m.book.Remove(p.OrderID)
		}
	}
	if placed {
		select {
		case m.wake <- struct{}{}:
		default:
		}
	}
}

// Load rests already open orders, typically read once at startup before
// the exchange accepts traffic.
func (m *Matcher) Load(open []*orders.Order) {
	for _, o := range open {
		if o.IsClosed() {
			continue
		}
		m.book.Add(Resting{ID: o.ID, Owner: o.Owner, Side: o.Side, Price: o.LimitPrice, Remaining: o.RemainingAmount})
	}
	m.logger.Info("matcher_loaded", zap.Int("resting", m.book.Len()))
}

func restingFrom(p events.OrderPlaced) (Resting, error) {
	side, err := orders.ParseSide(p.Side)
	if err != nil {
		return Resting{}, err
	}
	price, err := num.ParseInt(p.Price)
	if err != nil {
		return Resting{}, err
	}
	amount, err := num.ParseInt(p.Amount)
	if err != nil {
		return Resting{}, err
	}
	return Resting{ID: p.OrderID, Owner: common.HexToAddress(p.Owner), Side: side, Price: price, Remaining: amount}, nil
}

// Run matches whenever an order is placed and on every interval tick,
// until ctx is done.
func (m *Matcher) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("matcher_started", zap.String("self", m.self.Hex()), zap.Duration("interval", m.interval))
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("matcher_stopped", zap.Int("resting", m.book.Len()))
			return
		case <-m.wake:
		case <-ticker.C:
		}
		if _, err := m.MatchAll(ctx); err != nil && ctx.Err() == nil {
			m.logger.Error("matcher_round_failed", zap.Error(err))
		}
	}
}

// MatchAll settles crossings until the book no longer crosses. Orders in a
// pairing the ledger rejects are parked (dropped from the book, still open
// on the ledger) so the round makes progress.
func (m *Matcher) MatchAll(ctx context.Context) (int, error) {
	cfg, err := m.settler.Config(ctx)
	if err != nil {
		return 0, err
	}
	matched := 0
	for {
		if err := ctx.Err(); err != nil {
			return matched, err
		}
		c, ok := m.book.NextCross()
		if !ok {
			return matched, nil
		}
		if c.Price, err = priceWithinLock(c, cfg.FeeBps); err != nil {
			return matched, err
		}
		res, err := m.settler.MatchOrders(ctx, m.self, settlement.Match{
			BuyID:      c.Buy.ID,
			SellID:     c.Sell.ID,
			FillAmount: c.Fill,
			ExecPrice:  c.Price,
		})
		if err != nil {
			parked, ok := parkOn(err, c)
			if !ok {
				return matched, err
			}
			for _, id := range parked {
				m.book.Remove(id)
			}
			m.logger.Info("orders_parked",
				zap.Uint64s("orders", parked),
				zap.Uint64("buy", c.Buy.ID),
				zap.Uint64("sell", c.Sell.ID),
				zap.Error(err),
			)
			continue
		}
		matched++
		// the exchange's events already updated the book; reapply in case
		// this matcher is not subscribed to them
		m.book.Update(res.Buy.ID, res.Buy.RemainingAmount)
		m.book.Update(res.Sell.ID, res.Sell.RemainingAmount)
		m.logger.Debug("matched",
			zap.Uint64("buy", c.Buy.ID),
			zap.Uint64("sell", c.Sell.ID),
			zap.String("fill", c.Fill.Dec()),
			zap.String("price", c.Price.Dec()),
		)
	}
}

// priceWithinLock lowers a resting buy's limit price until quote plus fee
// fits in what the buy locked at its limit, but never below the sell limit.
func priceWithinLock(c Cross, feeBps uint16) (*uint256.Int, error) {
	if feeBps == 0 || c.Sell.ID < c.Buy.ID {
		return c.Price, nil
	}
	capped, err := num.MulDiv(c.Buy.Price,
		uint256.NewInt(num.BpsDenominator),
		uint256.NewInt(num.BpsDenominator+uint64(feeBps)))
	if err != nil {
		return nil, err
	}
	if capped.Lt(c.Sell.Price) {
		return new(uint256.Int).Set(c.Sell.Price), nil
	}
	return capped, nil
}

// parkOn picks the orders to drop after the ledger rejected c. A stale
// order drops both sides; a buyer that cannot cover the fee shortfall or a
// fill too small to carry quote drops the buy. Other errors abort the round.
func parkOn(err error, c Cross) ([]uint64, bool) {
	switch {
	case errors.Is(err, ledger.ErrInvalidOrderState):
		return []uint64{c.Buy.ID, c.Sell.ID}, true
	case errors.Is(err, ledger.ErrInsufficientAvailable),
		errors.Is(err, ledger.ErrAmountExceedsRemaining),
		errors.Is(err, ledger.ErrInvalidPriceCross):
		return []uint64{c.Buy.ID}, true
	default:
		return nil, false
	}
}

// Levels is a depth snapshot, best first.
func (m *Matcher) Levels(side orders.Side) []PriceLevel { return m.book.Levels(side) }
