// Package custody models the external asset holder the ledger pulls deposits
// from and pushes withdrawals to.
package custody

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// Custody moves assets between an external owner and the ledger's escrow.
// Implementations receive a context marked with WithTransfer; anything that
// calls back into the exchange with that context is rejected as reentrant.
type Custody interface {
	Pull(ctx context.Context, from, asset common.Address, amount *uint256.Int) error
	Push(ctx context.Context, to, asset common.Address, amount *uint256.Int) error
}

var (
	ErrInsufficientFunds = errors.New("insufficient external funds")
	ErrRejected          = errors.New("transfer rejected")
)

type transferKey struct{}

// WithTransfer marks ctx as being inside an external transfer.
func WithTransfer(ctx context.Context) context.Context {
	return context.WithValue(ctx, transferKey{}, true)
}

// InTransfer reports whether ctx was marked by WithTransfer.
func InTransfer(ctx context.Context) bool {
	v, _ := ctx.Value(transferKey{}).(bool)
	return v
}

// Hook is invoked before every transfer. A non-nil error rejects the transfer.
type Hook func(ctx context.Context, op string, who, asset common.Address, amount *uint256.Int) error

// Vault is an in-process custody used by devnets and tests: it tracks
// external holdings per (owner, asset) and the escrow held for the ledger.
type Vault struct {
	mu       sync.Mutex
	holdings map[common.Address]map[common.Address]*uint256.Int
	escrow   map[common.Address]*uint256.Int
	hook     Hook
	logger   *zap.Logger
}

func NewVault(logger *zap.Logger) *Vault {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Vault{
		holdings: make(map[common.Address]map[common.Address]*uint256.Int),
		escrow:   make(map[common.Address]*uint256.Int),
		logger:   logger,
	}
}

// SetHook installs a pre-transfer hook (failure injection, reentrancy probes).
func (v *Vault) SetHook(h Hook) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hook = h
}

// Fund credits external holdings out of thin air (devnet faucet).
func (v *Vault) Fund(owner, asset common.Address, amount *uint256.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	bal := v.holdingLocked(owner, asset)
	bal.Add(bal, amount)
}

// BalanceOf returns the external holding of owner.
func (v *Vault) BalanceOf(owner, asset common.Address) *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(uint256.Int).Set(v.holdingLocked(owner, asset))
}

// Escrow returns how much of asset the ledger currently holds.
func (v *Vault) Escrow(asset common.Address) *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(uint256.Int).Set(v.escrowLocked(asset))
}

func (v *Vault) Pull(ctx context.Context, from, asset common.Address, amount *uint256.Int) error {
	if err := v.runHook(ctx, "pull", from, asset, amount); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	bal := v.holdingLocked(from, asset)
	if bal.Lt(amount) {
		return fmt.Errorf("%w: %s has %s of %s, need %s",
			ErrInsufficientFunds, from.Hex(), bal.Dec(), asset.Hex(), amount.Dec())
	}
	bal.Sub(bal, amount)
	esc := v.escrowLocked(asset)
	esc.Add(esc, amount)

	v.logger.Debug("custody_pull",
		zap.String("from", from.Hex()),
		zap.String("asset", asset.Hex()),
		zap.String("amount", amount.Dec()),
	)
	return nil
}

func (v *Vault) Push(ctx context.Context, to, asset common.Address, amount *uint256.Int) error {
	if err := v.runHook(ctx, "push", to, asset, amount); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	esc := v.escrowLocked(asset)
	if esc.Lt(amount) {
		return fmt.Errorf("%w: escrow holds %s of %s, need %s",
			ErrInsufficientFunds, esc.Dec(), asset.Hex(), amount.Dec())
	}
	esc.Sub(esc, amount)
	bal := v.holdingLocked(to, asset)
	bal.Add(bal, amount)

	v.logger.Debug("custody_push",
		zap.String("to", to.Hex()),
		zap.String("asset", asset.Hex()),
		zap.String("amount", amount.Dec()),
	)
	return nil
}

// runHook is called without v.mu held so a hook may inspect the vault.
func (v *Vault) runHook(ctx context.Context, op string, who, asset common.Address, amount *uint256.Int) error {
	v.mu.Lock()
	h := v.hook
	v.mu.Unlock()
	if h == nil {
		return nil
	}
	if err := h(ctx, op, who, asset, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return nil
}

func (v *Vault) holdingLocked(owner, asset common.Address) *uint256.Int {
	byAsset, ok := v.holdings[owner]
	if !ok {
		byAsset = make(map[common.Address]*uint256.Int)
		v.holdings[owner] = byAsset
	}
	bal, ok := byAsset[asset]
	if !ok {
		bal = new(uint256.Int)
		byAsset[asset] = bal
	}
	return bal
}

func (v *Vault) escrowLocked(asset common.Address) *uint256.Int {
	esc, ok := v.escrow[asset]
	if !ok {
		esc = new(uint256.Int)
		v.escrow[asset] = esc
	}
	return esc
}

var _ Custody = (*Vault)(nil)
