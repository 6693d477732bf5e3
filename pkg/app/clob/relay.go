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
	"github.com/uhyunpark/hyperclob/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperclob/pkg/metrics"
	"github.com/uhyunpark/hyperclob/pkg/num"
)

// RelayResult describes an executed relayed call. Result holds the method's
// return value: *orders.Order for placements and cancels,
// *settlement.Result for matches, nil otherwise.
type RelayResult struct {
	Signer common.Address
	Nonce  *uint256.Int
	Method transaction.Method
	Result any
}

var relayReasons = []metrics.Reason{
	{Label: "unauthorized", Err: ledger.ErrUnauthorized},
	{Label: "expired", Err: ledger.ErrExpired},
	{Label: "bad_signature", Err: ledger.ErrBadSignature},
	{Label: "already_processed", Err: ledger.ErrAlreadyProcessed},
	{Label: "invalid_call", Err: ledger.ErrInvalidCall},
}

// Relay executes env on behalf of its signer. caller must be the trusted
// relay. The signer's nonce and the inner call commit together, so a failed
// call leaves the nonce unused.
func (e *Exchange) Relay(ctx context.Context, caller common.Address, env *transaction.Envelope) (*RelayResult, error) {
	var out *RelayResult
	err := e.update(ctx, "relay", func(o *op) error {
		relayed, err := e.gate.Resolve(o.txn, o.cfg, caller, env)
		if err != nil {
			e.metrics.RelayRejected(metrics.ReasonOf(err, relayReasons))
			return err
		}
		result, err := e.dispatch(ctx, o, relayed.Signer, relayed.Call)
		if err != nil {
			return err
		}
		out = &RelayResult{
			Signer: relayed.Signer,
			Nonce:  relayed.Nonce,
			Method: relayed.Call.Method,
			Result: result,
		}
		e.logger.Info("relay_executed",
			zap.String("relay", caller.Hex()),
			zap.String("signer", relayed.Signer.Hex()),
			zap.String("nonce", relayed.Nonce.Dec()),
			zap.String("method", string(relayed.Call.Method)),
		)
		return nil
	})
	return out, err
}

// dispatch runs call with signer as the effective caller inside o.
func (e *Exchange) dispatch(ctx context.Context, o *op, signer common.Address, call *transaction.Call) (any, error) {
	switch call.Method {
	case transaction.MethodDeposit, transaction.MethodWithdraw:
		var args transaction.TransferArgs
		if err := call.DecodeArgs(&args); err != nil {
			return nil, invalidCall(call, err)
		}
		asset, err := parseAddress(args.Asset)
		if err != nil {
			return nil, invalidCall(call, err)
		}
		amount, err := num.ParseInt(args.Amount)
		if err != nil {
			return nil, invalidCall(call, err)
		}
		if call.Method == transaction.MethodDeposit {
			return nil, e.deposit(ctx, o, signer, asset, amount)
		}
		return nil, e.withdraw(ctx, o, signer, asset, amount)

	case transaction.MethodPlaceBuy, transaction.MethodPlaceSell:
		var args transaction.OrderArgs
		if err := call.DecodeArgs(&args); err != nil {
			return nil, invalidCall(call, err)
		}
		price, err := num.ParseInt(args.LimitPrice)
		if err != nil {
			return nil, invalidCall(call, err)
		}
		amount, err := num.ParseInt(args.Amount)
		if err != nil {
			return nil, invalidCall(call, err)
		}
		return e.place(o, signer, sideOf(call.Method), price, amount)

	case transaction.MethodCancel:
		var args transaction.CancelArgs
		if err := call.DecodeArgs(&args); err != nil {
			return nil, invalidCall(call, err)
		}
		return e.cancel(o, signer, args.OrderID)

	case transaction.MethodMatchOrders:
		var args transaction.MatchArgs
		if err := call.DecodeArgs(&args); err != nil {
			return nil, invalidCall(call, err)
		}
		fill, err := num.ParseInt(args.FillAmount)
		if err != nil {
			return nil, invalidCall(call, err)
		}
		price, err := num.ParseInt(args.ExecPrice)
		if err != nil {
			return nil, invalidCall(call, err)
		}
		return e.match(o, signer, settlement.Match{
			BuyID:      args.BuyID,
			SellID:     args.SellID,
			FillAmount: fill,
			ExecPrice:  price,
		})

	case transaction.MethodSetFeeBps:
		var args transaction.FeeArgs
		if err := call.DecodeArgs(&args); err != nil {
			return nil, invalidCall(call, err)
		}
		return nil, e.applyConfig(o, signer, func(cfg *access.Config) (access.Update, error) {
			return cfg.SetFeeBps(args.Bps)
		})

	case transaction.MethodSetFeeRecipient, transaction.MethodSetTrustedRelay, transaction.MethodTransferOwnership:
		var args transaction.AddressArgs
		if err := call.DecodeArgs(&args); err != nil {
			return nil, invalidCall(call, err)
		}
		addr, err := parseAddress(args.Address)
		if err != nil {
			return nil, invalidCall(call, err)
		}
		return nil, e.applyConfig(o, signer, func(cfg *access.Config) (access.Update, error) {
			switch call.Method {
			case transaction.MethodSetFeeRecipient:
				return cfg.SetFeeRecipient(addr)
			case transaction.MethodSetTrustedRelay:
				return cfg.SetTrustedRelay(addr)
			default:
				return cfg.TransferOwnership(addr)
			}
		})

	case transaction.MethodSetMatcherAllowed:
		var args transaction.MatcherArgs
		if err := call.DecodeArgs(&args); err != nil {
			return nil, invalidCall(call, err)
		}
		matcher, err := parseAddress(args.Matcher)
		if err != nil {
			return nil, invalidCall(call, err)
		}
		return nil, e.applyConfig(o, signer, func(cfg *access.Config) (access.Update, error) {
			return cfg.SetMatcherAllowed(matcher, args.Allowed)
		})

	default:
		return nil, fmt.Errorf("%w: unknown method %q", ledger.ErrInvalidCall, call.Method)
	}
}

func invalidCall(call *transaction.Call, err error) error {
	return fmt.Errorf("%w: %s: %v", ledger.ErrInvalidCall, call.Method, err)
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func sideOf(m transaction.Method) orders.Side {
	if m == transaction.MethodPlaceBuy {
		return orders.SideBuy
	}
	return orders.SideSell
}
