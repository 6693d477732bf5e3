package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/uhyunpark/hyperclob/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperclob/pkg/num"
)

// amount converts a flag value to the base-unit integer string calls carry.
func (o *globalOpts) amount(name, s string) (string, error) {
	x, err := num.ParseAmount(s, o.decimal)
	if err != nil {
		return "", fmt.Errorf("--%s: %w", name, err)
	}
	return x.Dec(), nil
}

func address(name, s string) (string, error) {
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("--%s: invalid address %q", name, s)
	}
	return common.HexToAddress(s).Hex(), nil
}

func callCommands(opts *globalOpts) []callSpec {
	return []callSpec{
		transferCall(opts, "deposit", "Credit the signer's balance from custody", transaction.MethodDeposit),
		transferCall(opts, "withdraw", "Return available balance to the signer's wallet", transaction.MethodWithdraw),
		orderCall(opts, "place-buy", "Rest a buy order, locking quote at the limit price", transaction.MethodPlaceBuy),
		orderCall(opts, "place-sell", "Rest a sell order, locking base", transaction.MethodPlaceSell),
		cancelCall(),
		matchCall(opts),
		feeCall(),
		addressCall("set-fee-recipient", "Change the fee recipient (owner only)", transaction.MethodSetFeeRecipient),
		addressCall("set-relay", "Change the trusted relay; the zero address disables relaying (owner only)", transaction.MethodSetTrustedRelay),
		addressCall("transfer-ownership", "Hand the owner role to another address (owner only)", transaction.MethodTransferOwnership),
		matcherCall(),
	}
}

func transferCall(opts *globalOpts, use, short string, method transaction.Method) callSpec {
	var asset, amount string
	cmd := &cobra.Command{Use: use, Short: short, Args: cobra.NoArgs}
	cmd.Flags().StringVar(&asset, "asset", "", "asset (token) address")
	cmd.Flags().StringVar(&amount, "amount", "", "amount")
	cmd.MarkFlagRequired("asset")
	cmd.MarkFlagRequired("amount")
	return callSpec{cmd: cmd, build: func() (transaction.Method, any, error) {
		a, err := address("asset", asset)
		if err != nil {
			return "", nil, err
		}
		amt, err := opts.amount("amount", amount)
		if err != nil {
			return "", nil, err
		}
		return method, transaction.TransferArgs{Asset: a, Amount: amt}, nil
	}}
}

func orderCall(opts *globalOpts, use, short string, method transaction.Method) callSpec {
	var price, amount string
	cmd := &cobra.Command{Use: use, Short: short, Args: cobra.NoArgs}
	cmd.Flags().StringVar(&price, "price", "", "limit price, quote per base")
	cmd.Flags().StringVar(&amount, "amount", "", "base amount")
	cmd.MarkFlagRequired("price")
	cmd.MarkFlagRequired("amount")
	return callSpec{cmd: cmd, build: func() (transaction.Method, any, error) {
		p, err := opts.amount("price", price)
		if err != nil {
			return "", nil, err
		}
		amt, err := opts.amount("amount", amount)
		if err != nil {
			return "", nil, err
		}
		return method, transaction.OrderArgs{LimitPrice: p, Amount: amt}, nil
	}}
}

func cancelCall() callSpec {
	var id uint64
	cmd := &cobra.Command{Use: "cancel", Short: "Cancel an open order and release its lock", Args: cobra.NoArgs}
	cmd.Flags().Uint64Var(&id, "order-id", 0, "order id")
	cmd.MarkFlagRequired("order-id")
	return callSpec{cmd: cmd, build: func() (transaction.Method, any, error) {
		return transaction.MethodCancel, transaction.CancelArgs{OrderID: id}, nil
	}}
}

func matchCall(opts *globalOpts) callSpec {
	var (
		buyID, sellID uint64
		fill, price   string
	)
	cmd := &cobra.Command{Use: "match", Short: "Settle a buy against a sell (matcher only)", Args: cobra.NoArgs}
	cmd.Flags().Uint64Var(&buyID, "buy", 0, "buy order id")
	cmd.Flags().Uint64Var(&sellID, "sell", 0, "sell order id")
	cmd.Flags().StringVar(&fill, "fill", "", "base amount to fill")
	cmd.Flags().StringVar(&price, "price", "", "execution price")
	for _, name := range []string{"buy", "sell", "fill", "price"} {
		cmd.MarkFlagRequired(name)
	}
	return callSpec{cmd: cmd, build: func() (transaction.Method, any, error) {
		f, err := opts.amount("fill", fill)
		if err != nil {
			return "", nil, err
		}
		p, err := opts.amount("price", price)
		if err != nil {
			return "", nil, err
		}
		return transaction.MethodMatchOrders, transaction.MatchArgs{BuyID: buyID, SellID: sellID, FillAmount: f, ExecPrice: p}, nil
	}}
}

func feeCall() callSpec {
	var bps uint16
	cmd := &cobra.Command{Use: "set-fee", Short: "Set the taker fee in basis points (owner only)", Args: cobra.NoArgs}
	cmd.Flags().Uint16Var(&bps, "bps", 0, "fee in basis points, 0..10000")
	cmd.MarkFlagRequired("bps")
	return callSpec{cmd: cmd, build: func() (transaction.Method, any, error) {
		if bps > num.BpsDenominator {
			return "", nil, fmt.Errorf("--bps: %d exceeds %d", bps, num.BpsDenominator)
		}
		return transaction.MethodSetFeeBps, transaction.FeeArgs{Bps: bps}, nil
	}}
}

func addressCall(use, short string, method transaction.Method) callSpec {
	var addr string
	cmd := &cobra.Command{Use: use, Short: short, Args: cobra.NoArgs}
	cmd.Flags().StringVar(&addr, "address", "", "address")
	cmd.MarkFlagRequired("address")
	return callSpec{cmd: cmd, build: func() (transaction.Method, any, error) {
		a, err := address("address", addr)
		if err != nil {
			return "", nil, err
		}
		return method, transaction.AddressArgs{Address: a}, nil
	}}
}

func matcherCall() callSpec {
	var (
		matcher string
		allowed bool
	)
	cmd := &cobra.Command{Use: "set-matcher", Short: "Grant or revoke the matcher role (owner only)", Args: cobra.NoArgs}
	cmd.Flags().StringVar(&matcher, "matcher", "", "matcher address")
	cmd.Flags().BoolVar(&allowed, "allowed", true, "grant (true) or revoke (false)")
	cmd.MarkFlagRequired("matcher")
	return callSpec{cmd: cmd, build: func() (transaction.Method, any, error) {
		a, err := address("matcher", matcher)
		if err != nil {
			return "", nil, err
		}
		return transaction.MethodSetMatcherAllowed, transaction.MatcherArgs{Matcher: a, Allowed: allowed}, nil
	}}
}
