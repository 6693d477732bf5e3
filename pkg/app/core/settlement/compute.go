package settlement

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperclob/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperclob/pkg/num"
)

// Breakdown is the quote-side arithmetic of one fill, all truncating.
type Breakdown struct {
	QuoteAmount   *uint256.Int // fill * execPrice / 1e18, paid to the seller
	FeeAmount     *uint256.Int // QuoteAmount * feeBps / 10000, paid to the fee recipient
	LockedAtLimit *uint256.Int // fill * buyLimit / 1e18, released from the buy lock
}

// Cost is what the buyer pays for the fill.
func (b Breakdown) Cost() *uint256.Int {
	return new(uint256.Int).Add(b.QuoteAmount, b.FeeAmount)
}

// Compute evaluates the fill arithmetic. Inputs are assumed validated.
func Compute(fill, execPrice, buyLimit *uint256.Int, feeBps uint16) (Breakdown, error) {
	quoteAmount, err := num.MulPrice(fill, execPrice)
	if err != nil {
		return Breakdown{}, fmt.Errorf("%w: quote amount: %v", ledger.ErrOverflow, err)
	}
	fee, err := num.ApplyBps(quoteAmount, feeBps)
	if err != nil {
		return Breakdown{}, fmt.Errorf("%w: fee: %v", ledger.ErrOverflow, err)
	}
	atLimit, err := num.MulPrice(fill, buyLimit)
	if err != nil {
		return Breakdown{}, fmt.Errorf("%w: locked at limit: %v", ledger.ErrOverflow, err)
	}
	return Breakdown{QuoteAmount: quoteAmount, FeeAmount: fee, LockedAtLimit: atLimit}, nil
}
