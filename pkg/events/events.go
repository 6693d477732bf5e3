package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind names a notification type.
type Kind string

const (
	KindOrderPlaced    Kind = "order-placed"
	KindOrderFilled    Kind = "order-filled"
	KindOrderCancelled Kind = "order-cancelled"
	KindDeposited      Kind = "deposited"
	KindWithdrawn      Kind = "withdrawn"
	KindConfigUpdated  Kind = "config-updated"
	KindTradeSettled   Kind = "trade-settled"
)

// Subscription channels a payload is broadcast on.
const (
	ChannelOrders   = "orders"
	ChannelTrades   = "trades"
	ChannelConfig   = "config"
	channelBalances = "balances:"
)

// BalanceChannel is the per-account balance channel name.
func BalanceChannel(owner string) string {
	return channelBalances + owner
}

// Event is one committed state change. Amounts and prices are base-10
// integers in base units (prices in 1e18 fixed point).
type Event struct {
	ID      string `json:"id"`
	Kind    Kind   `json:"kind"`
	Time    int64  `json:"time"` // unix ms
	Subject string `json:"subject"`
	Data    any    `json:"data"`

	// channels is derived at construction and not serialized.
	channels []string
}

// Channels returns the subscription channels this event is delivered on.
func (e Event) Channels() []string {
	return e.channels
}

// JSON encodes the event as sent to sinks.
func (e Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

type OrderPlaced struct {
	OrderID uint64 `json:"orderId"`
	Owner   string `json:"owner"`
	Side    string `json:"side"`
	Price   string `json:"price"`
	Amount  string `json:"amount"`
	Locked  string `json:"locked"`
}

type OrderFilled struct {
	OrderID         uint64 `json:"orderId"`
	Owner           string `json:"owner"`
	FillAmount      string `json:"fillAmount"`
	ExecPrice       string `json:"execPrice"`
	RemainingAmount string `json:"remainingAmount"`
	Status          string `json:"status"`
}

type OrderCancelled struct {
	OrderID        uint64 `json:"orderId"`
	Owner          string `json:"owner"`
	RefundedAmount string `json:"refundedAmount"`
}

type Transfer struct {
	Owner  string `json:"owner"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type ConfigUpdated struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type TradeSettled struct {
	BuyID        uint64 `json:"buyId"`
	SellID       uint64 `json:"sellId"`
	Buyer        string `json:"buyer"`
	Seller       string `json:"seller"`
	FillAmount   string `json:"fillAmount"`
	ExecPrice    string `json:"execPrice"`
	QuoteAmount  string `json:"quoteAmount"`
	FeeAmount    string `json:"feeAmount"`
	FeeRecipient string `json:"feeRecipient"`
	Refund       string `json:"refund"`
}

func newEvent(kind Kind, now time.Time, subject string, data any, channels ...string) Event {
	return Event{
		ID:       uuid.NewString(),
		Kind:     kind,
		Time:     now.UnixMilli(),
		Subject:  subject,
		Data:     data,
		channels: channels,
	}
}

func NewOrderPlaced(now time.Time, p OrderPlaced) Event {
	return newEvent(KindOrderPlaced, now, p.Owner, p, ChannelOrders, BalanceChannel(p.Owner))
}

func NewOrderFilled(now time.Time, p OrderFilled) Event {
	return newEvent(KindOrderFilled, now, p.Owner, p, ChannelOrders, BalanceChannel(p.Owner))
}

func NewOrderCancelled(now time.Time, p OrderCancelled) Event {
	return newEvent(KindOrderCancelled, now, p.Owner, p, ChannelOrders, BalanceChannel(p.Owner))
}

func NewDeposited(now time.Time, p Transfer) Event {
	return newEvent(KindDeposited, now, p.Owner, p, BalanceChannel(p.Owner))
}

func NewWithdrawn(now time.Time, p Transfer) Event {
	return newEvent(KindWithdrawn, now, p.Owner, p, BalanceChannel(p.Owner))
}

func NewConfigUpdated(now time.Time, p ConfigUpdated) Event {
	return newEvent(KindConfigUpdated, now, p.Field, p, ChannelConfig)
}

// NewTradeSettled is delivered to both counterparties and the fee recipient.
func NewTradeSettled(now time.Time, p TradeSettled) Event {
	chans := []string{ChannelTrades, BalanceChannel(p.Buyer)}
	if p.Seller != p.Buyer {
		chans = append(chans, BalanceChannel(p.Seller))
	}
	if p.FeeRecipient != p.Buyer && p.FeeRecipient != p.Seller {
		chans = append(chans, BalanceChannel(p.FeeRecipient))
	}
	return newEvent(KindTradeSettled, now, p.Buyer, p, chans...)
}
