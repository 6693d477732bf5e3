package matcher

import (
	"container/heap"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperclob/pkg/app/core/orders"
)

// Resting is the matcher's view of an open order on the ledger.
type Resting struct {
	ID        uint64
	Owner     common.Address
	Side      orders.Side
	Price     *uint256.Int
	Remaining *uint256.Int
}

// Cross is a proposed pairing: fill at the earlier order's limit price.
type Cross struct {
	Buy   Resting
	Sell  Resting
	Fill  *uint256.Int
	Price *uint256.Int
}

type PriceLevel struct {
	Price *uint256.Int
	Qty   *uint256.Int // total remaining at this price level
}

type priceKey [32]byte

// Book mirrors the ledger's open orders with price-time priority. It never
// moves funds; crossings are settled by the ledger.
type Book struct {
	mu sync.Mutex

	// Heap-based best price tracking
	bidHeap *priceHeap
	askHeap *priceHeap

	// Price level queues (FIFO by order id at each price)
	bids map[priceKey][]*Resting
	asks map[priceKey][]*Resting

	// Order index for O(1) lookup on fills and cancels
	index map[uint64]*Resting
}

func NewBook() *Book {
	return &Book{
		bidHeap: newPriceHeap(true),
		askHeap: newPriceHeap(false),
		bids:    make(map[priceKey][]*Resting),
		asks:    make(map[priceKey][]*Resting),
		index:   make(map[uint64]*Resting),
	}
}

func (b *Book) side(s orders.Side) (map[priceKey][]*Resting, *priceHeap) {
	if s == orders.SideBuy {
		return b.bids, b.bidHeap
	}
	return b.asks, b.askHeap
}

// Add rests o. Re-adding a known id is a no-op.
func (b *Book) Add(o Resting) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.index[o.ID]; ok || o.Remaining == nil || o.Remaining.IsZero() {
		return
	}
	cp := o
	cp.Price = new(uint256.Int).Set(o.Price)
	cp.Remaining = new(uint256.Int).Set(o.Remaining)

	levels, h := b.side(o.Side)
	key := priceKey(cp.Price.Bytes32())
	if len(levels[key]) == 0 {
		// New price level - add to heap
		heap.Push(h, cp.Price)
	}
	// ids are assigned in placement order, so appending keeps time priority
	// unless events arrive out of order
	level := append(levels[key], &cp)
	sort.SliceStable(level, func(i, j int) bool { return level[i].ID < level[j].ID })
	levels[key] = level
	b.index[cp.ID] = &cp
}

// Update sets the remaining amount after a fill, removing the order when
// nothing is left.
func (b *Book) Update(id uint64, remaining *uint256.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.index[id]
	if !ok {
		return
	}
	if remaining == nil || remaining.IsZero() {
		b.remove(o)
		return
	}
	o.Remaining.Set(remaining)
}

// Remove drops id from the book. It reports whether the order was present.
func (b *Book) Remove(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.index[id]
	if !ok {
		return false
	}
	b.remove(o)
	return true
}

func (b *Book) remove(o *Resting) {
	levels, h := b.side(o.Side)
	key := priceKey(o.Price.Bytes32())
	level := levels[key]
	for i, r := range level {
		if r.ID == o.ID {
			levels[key] = append(level[:i], level[i+1:]...)
			break
		}
	}
	// If price level is now empty, remove from heap and map (O(N) scan, but rare)
	if len(levels[key]) == 0 {
		delete(levels, key)
		if i := h.index(o.Price); i >= 0 {
			heap.Remove(h, i)
		}
	}
	delete(b.index, o.ID)
}

// Best returns the head of the best bid and best ask levels.
func (b *Book) Best() (bid, ask *Resting) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bestLocked(orders.SideBuy), b.bestLocked(orders.SideSell)
}

func (b *Book) bestLocked(s orders.Side) *Resting {
	levels, h := b.side(s)
	top := h.top()
	if top == nil {
		return nil
	}
	level := levels[priceKey(top.Bytes32())]
	if len(level) == 0 {
		return nil
	}
	cp := *level[0]
	return &cp
}

// NextCross returns the best bid and ask when they cross. The fill is the
// smaller remaining amount; the price is the earlier order's limit, which
// always lies inside [ask, bid].
func (b *Book) NextCross() (Cross, bool) {
	bid, ask := b.Best()
	if bid == nil || ask == nil || bid.Price.Lt(ask.Price) {
		return Cross{}, false
	}
	price := ask.Price
	if bid.ID < ask.ID {
		price = bid.Price
	}
	fill := bid.Remaining
	if ask.Remaining.Lt(fill) {
		fill = ask.Remaining
	}
	return Cross{
		Buy:   *bid,
		Sell:  *ask,
		Fill:  new(uint256.Int).Set(fill),
		Price: new(uint256.Int).Set(price),
	}, true
}

// Len is the number of resting orders.
func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.index)
}

// Levels aggregates one side by price, best first.
func (b *Book) Levels(s orders.Side) []PriceLevel {
	b.mu.Lock()
	defer b.mu.Unlock()

	levels, _ := b.side(s)
	out := make([]PriceLevel, 0, len(levels))
	for _, level := range levels {
		if len(level) == 0 {
			continue
		}
		total := new(uint256.Int)
		for _, o := range level {
			total.Add(total, o.Remaining)
		}
		out = append(out, PriceLevel{Price: level[0].Price, Qty: total})
	}

	sort.Slice(out, func(i, j int) bool {
		if s == orders.SideBuy {
			return out[i].Price.Gt(out[j].Price)
		}
		return out[i].Price.Lt(out[j].Price)
	})
	return out
}
