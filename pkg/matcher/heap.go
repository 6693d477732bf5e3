package matcher

import "github.com/holiman/uint256"

// priceHeap orders the distinct prices of one book side: highest on top for
// bids, lowest for asks. Manipulate it through container/heap.
type priceHeap struct {
	prices []*uint256.Int
	desc   bool
}

func newPriceHeap(desc bool) *priceHeap { return &priceHeap{desc: desc} }

func (h *priceHeap) Len() int { return len(h.prices) }

func (h *priceHeap) Less(i, j int) bool {
	if h.desc {
		return h.prices[i].Gt(h.prices[j])
	}
	return h.prices[i].Lt(h.prices[j])
}

func (h *priceHeap) Swap(i, j int) { h.prices[i], h.prices[j] = h.prices[j], h.prices[i] }

func (h *priceHeap) Push(x any) { h.prices = append(h.prices, x.(*uint256.Int)) }

func (h *priceHeap) Pop() any {
	n := len(h.prices)
	x := h.prices[n-1]
	h.prices = h.prices[:n-1]
	return x
}

// top is the best price, or nil when the side is empty.
func (h *priceHeap) top() *uint256.Int {
	if len(h.prices) == 0 {
		return nil
	}
	return h.prices[0]
}

// index finds price in the heap, -1 if absent.
func (h *priceHeap) index(price *uint256.Int) int {
	for i, p := range h.prices {
		if p.Eq(price) {
			return i
		}
	}
	return -1
}
