package orders

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperclob/pkg/num"
)

// Side is the order direction. Values match the signing encoding (1 = buy, 2 = sell).
type Side uint8

const (
	SideBuy  Side = 1
	SideSell Side = 2
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// ParseSide accepts "buy"/"sell" in either case.
func ParseSide(s string) (Side, error) {
	switch s {
	case "buy", "BUY":
		return SideBuy, nil
	case "sell", "SELL":
		return SideSell, nil
	default:
		return 0, fmt.Errorf("unknown side %q", s)
	}
}

// Status represents the lifecycle state of an order
type Status int8

const (
	StatusOpen Status = iota
	StatusPartiallyFilled
	StatusFilled
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusPartiallyFilled:
		return "partially_filled"
	case StatusFilled:
		return "filled"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func parseStatus(s string) (Status, error) {
	switch s {
	case "open":
		return StatusOpen, nil
	case "partially_filled":
		return StatusPartiallyFilled, nil
	case "filled":
		return StatusFilled, nil
	case "cancelled":
		return StatusCancelled, nil
	default:
		return 0, fmt.Errorf("unknown status %q", s)
	}
}

// Order is a resting limit order with the funds it holds locked.
type Order struct {
	ID    uint64
	Owner common.Address
	Side  Side
	Base  common.Address
	Quote common.Address

	LimitPrice      *uint256.Int // quote per base, 1e18 fixed point
	OriginalAmount  *uint256.Int // base units
	RemainingAmount *uint256.Int // base units
	LockedAmount    *uint256.Int // quote for buys, base for sells

	Status    Status
	CreatedAt int64 // unix ms
	UpdatedAt int64
}

// IsClosed returns true once the order reached a terminal state.
func (o *Order) IsClosed() bool {
	return o.Status == StatusFilled || o.Status == StatusCancelled
}

// LockedAsset is the asset LockedAmount is denominated in.
func (o *Order) LockedAsset() common.Address {
	if o.Side == SideBuy {
		return o.Quote
	}
	return o.Base
}

// Clone returns a deep copy.
func (o *Order) Clone() *Order {
	c := *o
	c.LimitPrice = num.Clone(o.LimitPrice)
	c.OriginalAmount = num.Clone(o.OriginalAmount)
	c.RemainingAmount = num.Clone(o.RemainingAmount)
	c.LockedAmount = num.Clone(o.LockedAmount)
	return &c
}

// orderRecord is the persisted form; amounts are decimal strings.
type orderRecord struct {
	ID              uint64 `json:"id"`
	Owner           string `json:"owner"`
	Side            string `json:"side"`
	Base            string `json:"base"`
	Quote           string `json:"quote"`
	LimitPrice      string `json:"limit_price"`
	OriginalAmount  string `json:"original_amount"`
	RemainingAmount string `json:"remaining_amount"`
	LockedAmount    string `json:"locked_amount"`
	Status          string `json:"status"`
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
}

func toRecord(o *Order) orderRecord {
	return orderRecord{
		ID:              o.ID,
		Owner:           o.Owner.Hex(),
		Side:            o.Side.String(),
		Base:            o.Base.Hex(),
		Quote:           o.Quote.Hex(),
		LimitPrice:      o.LimitPrice.Dec(),
		OriginalAmount:  o.OriginalAmount.Dec(),
		RemainingAmount: o.RemainingAmount.Dec(),
		LockedAmount:    o.LockedAmount.Dec(),
		Status:          o.Status.String(),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func fromRecord(rec orderRecord) (*Order, error) {
	side, err := ParseSide(rec.Side)
	if err != nil {
		return nil, err
	}
	status, err := parseStatus(rec.Status)
	if err != nil {
		return nil, err
	}
	o := &Order{
		ID:        rec.ID,
		Owner:     common.HexToAddress(rec.Owner),
		Side:      side,
		Base:      common.HexToAddress(rec.Base),
		Quote:     common.HexToAddress(rec.Quote),
		Status:    status,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	fields := []struct {
		dst **uint256.Int
		src string
	}{
		{&o.LimitPrice, rec.LimitPrice},
		{&o.OriginalAmount, rec.OriginalAmount},
		{&o.RemainingAmount, rec.RemainingAmount},
		{&o.LockedAmount, rec.LockedAmount},
	}
	for _, f := range fields {
		v, err := num.ParseInt(f.src)
		if err != nil {
			return nil, fmt.Errorf("order %d: %w", rec.ID, err)
		}
		*f.dst = v
	}
	return o, nil
}
