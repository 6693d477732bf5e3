package api

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperclob/pkg/app/clob"
	"github.com/uhyunpark/hyperclob/pkg/app/core/access"
	"github.com/uhyunpark/hyperclob/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperclob/pkg/app/core/orders"
	"github.com/uhyunpark/hyperclob/pkg/app/core/settlement"
	"github.com/uhyunpark/hyperclob/pkg/crypto"
	"github.com/uhyunpark/hyperclob/pkg/matcher"
	"github.com/uhyunpark/hyperclob/pkg/num"
)

func dec(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return x.Dec()
}

func toConfigInfo(cfg *access.Config, base, quote common.Address, domain crypto.Domain) ConfigInfo {
	info := ConfigInfo{
		Base:         base.Hex(),
		Quote:        quote.Hex(),
		Owner:        cfg.Owner.Hex(),
		FeeBps:       cfg.FeeBps,
		FeeRecipient: cfg.FeeRecipient.Hex(),
		Matchers:     make([]string, 0, len(cfg.Matchers)),
		Domain: DomainInfo{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainID:           domain.ChainID.String(),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
	}
	for _, m := range cfg.Matchers {
		info.Matchers = append(info.Matchers, m.Hex())
	}
	if cfg.HasRelay() {
		info.TrustedRelay = cfg.TrustedRelay.Hex()
	}
	return info
}

func toBalanceInfo(asset common.Address, bal ledger.Balance) BalanceInfo {
	return BalanceInfo{
		Asset:          asset.Hex(),
		Available:      dec(bal.Available),
		Locked:         dec(bal.Locked),
		AvailableUnits: num.FormatUnits(bal.Available),
		LockedUnits:    num.FormatUnits(bal.Locked),
	}
}

func toOrderInfo(o *orders.Order) OrderInfo {
	return OrderInfo{
		ID:              o.ID,
		Owner:           o.Owner.Hex(),
		Side:            o.Side.String(),
		LimitPrice:      dec(o.LimitPrice),
		LimitPriceUnits: num.FormatUnits(o.LimitPrice),
		OriginalAmount:  dec(o.OriginalAmount),
		RemainingAmount: dec(o.RemainingAmount),
		LockedAmount:    dec(o.LockedAmount),
		Status:          o.Status.String(),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func toSettlementInfo(res *settlement.Result) SettlementInfo {
	return SettlementInfo{
		Buy:         toOrderInfo(res.Buy),
		Sell:        toOrderInfo(res.Sell),
		QuoteAmount: dec(res.Breakdown.QuoteAmount),
		FeeAmount:   dec(res.Breakdown.FeeAmount),
		Refund:      dec(res.Refund),
		Shortfall:   dec(res.Shortfall),
	}
}

func toRelayResponse(res *clob.RelayResult) RelayResponse {
	out := RelayResponse{
		Signer: res.Signer.Hex(),
		Nonce:  dec(res.Nonce),
		Method: string(res.Method),
	}
	switch v := res.Result.(type) {
	case *orders.Order:
		out.Result = toOrderInfo(v)
	case *settlement.Result:
		out.Result = toSettlementInfo(v)
	}
	return out
}

func toLevelInfos(levels []matcher.PriceLevel) []LevelInfo {
	out := make([]LevelInfo, len(levels))
	for i, l := range levels {
		out[i] = LevelInfo{
			Price:       dec(l.Price),
			Amount:      dec(l.Qty),
			PriceUnits:  num.FormatUnits(l.Price),
			AmountUnits: num.FormatUnits(l.Qty),
		}
	}
	return out
}
