// Package ledger is the per-account, per-asset balance book. It is the only
// place value is created (deposit), destroyed (withdraw) or moved.
//
// All mutating methods stage writes into a storage.Txn; the caller owns the
// transaction and decides to commit or discard it.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperclob/pkg/custody"
	"github.com/uhyunpark/hyperclob/pkg/num"
	"github.com/uhyunpark/hyperclob/pkg/storage"
)

// Balance is one (owner, asset) entry.
type Balance struct {
	Available *uint256.Int
	Locked    *uint256.Int
}

// Total returns available + locked.
func (b Balance) Total() *uint256.Int {
	return new(uint256.Int).Add(b.Available, b.Locked)
}

// Totals aggregates every balance entry of one asset.
type Totals struct {
	Available *uint256.Int
	Locked    *uint256.Int
	Accounts  int
}

// balanceRecord is the persisted form (decimal strings).
type balanceRecord struct {
	Available string `json:"available"`
	Locked    string `json:"locked"`
}

// Ledger holds the pair configuration and the custody capability.
// It keeps no state of its own; everything lives in the store.
type Ledger struct {
	base    common.Address
	quote   common.Address
	custody custody.Custody
}

// New creates a ledger for the (base, quote) pair.
func New(base, quote common.Address, c custody.Custody) *Ledger {
	return &Ledger{base: base, quote: quote, custody: c}
}

func (l *Ledger) Base() common.Address  { return l.base }
func (l *Ledger) Quote() common.Address { return l.quote }

// Supports reports whether asset is one of the pair's two assets.
func (l *Ledger) Supports(asset common.Address) bool {
	return asset == l.base || asset == l.quote
}

// Balance returns the entry for (owner, asset); missing entries are zero.
func (l *Ledger) Balance(txn *storage.Txn, owner, asset common.Address) (Balance, error) {
	var rec balanceRecord
	ok, err := txn.GetJSON(storage.BalanceKey(asset, owner), &rec)
	if err != nil {
		return Balance{}, err
	}
	if !ok {
		return Balance{Available: num.Zero(), Locked: num.Zero()}, nil
	}
	return decodeBalance(rec)
}

// Deposit credits available and pulls amount from external custody.
// The credit is staged first; if the pull fails nothing must be committed.
func (l *Ledger) Deposit(ctx context.Context, txn *storage.Txn, owner, asset common.Address, amount *uint256.Int) error {
	if err := l.checkAsset(asset); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("%w: deposit must be positive", ErrInvalidAmount)
	}

	bal, err := l.Balance(txn, owner, asset)
	if err != nil {
		return err
	}
	avail, err := num.Add(bal.Available, amount)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOverflow, err)
	}
	bal.Available = avail
	if err := l.put(txn, owner, asset, bal); err != nil {
		return err
	}

	if err := l.custody.Pull(custody.WithTransfer(ctx), owner, asset, amount); err != nil {
		return fmt.Errorf("%w: pull %s of %s from %s: %v", ErrTransferFailed, amount.Dec(), asset.Hex(), owner.Hex(), err)
	}
	return nil
}

// Withdraw debits available and pushes amount out through custody.
func (l *Ledger) Withdraw(ctx context.Context, txn *storage.Txn, owner, asset common.Address, amount *uint256.Int) error {
	if err := l.checkAsset(asset); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("%w: withdrawal must be positive", ErrInvalidAmount)
	}

	bal, err := l.Balance(txn, owner, asset)
	if err != nil {
		return err
	}
	if bal.Available.Lt(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientAvailable, bal.Available.Dec(), amount.Dec())
	}
	bal.Available = num.Sub(bal.Available, amount)
	if err := l.put(txn, owner, asset, bal); err != nil {
		return err
	}

	if err := l.custody.Push(custody.WithTransfer(ctx), owner, asset, amount); err != nil {
		return fmt.Errorf("%w: push %s of %s to %s: %v", ErrTransferFailed, amount.Dec(), asset.Hex(), owner.Hex(), err)
	}
	return nil
}

// Lock moves amount from available to locked.
func (l *Ledger) Lock(txn *storage.Txn, owner, asset common.Address, amount *uint256.Int) error {
	if err := l.checkAsset(asset); err != nil {
		return err
	}
	if amount.IsZero() {
		return nil
	}

	bal, err := l.Balance(txn, owner, asset)
	if err != nil {
		return err
	}
	if bal.Available.Lt(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientAvailable, bal.Available.Dec(), amount.Dec())
	}
	bal.Available = num.Sub(bal.Available, amount)
	bal.Locked, err = num.Add(bal.Locked, amount)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOverflow, err)
	}
	return l.put(txn, owner, asset, bal)
}

// Unlock moves amount from locked back to available.
// amount > locked means the order bookkeeping is broken.
func (l *Ledger) Unlock(txn *storage.Txn, owner, asset common.Address, amount *uint256.Int) error {
	if err := l.checkAsset(asset); err != nil {
		return err
	}
	if amount.IsZero() {
		return nil
	}

	bal, err := l.Balance(txn, owner, asset)
	if err != nil {
		return err
	}
	if bal.Locked.Lt(amount) {
		return fmt.Errorf("%w: unlock %s exceeds locked %s for %s",
			ErrInvariantViolation, amount.Dec(), bal.Locked.Dec(), owner.Hex())
	}
	bal.Locked = num.Sub(bal.Locked, amount)
	bal.Available, err = num.Add(bal.Available, amount)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOverflow, err)
	}
	return l.put(txn, owner, asset, bal)
}

// Settle moves amount from debit's locked to credit's available.
// Only the settlement executor calls this.
func (l *Ledger) Settle(txn *storage.Txn, debit, credit, asset common.Address, amount *uint256.Int) error {
	if err := l.checkAsset(asset); err != nil {
		return err
	}
	if amount.IsZero() {
		return nil
	}

	from, err := l.Balance(txn, debit, asset)
	if err != nil {
		return err
	}
	if from.Locked.Lt(amount) {
		return fmt.Errorf("%w: settle %s exceeds locked %s for %s",
			ErrInvariantViolation, amount.Dec(), from.Locked.Dec(), debit.Hex())
	}
	from.Locked = num.Sub(from.Locked, amount)
	if err := l.put(txn, debit, asset, from); err != nil {
		return err
	}

	// Re-read after the debit write so a self-settlement sees it.
	to, err := l.Balance(txn, credit, asset)
	if err != nil {
		return err
	}
	to.Available, err = num.Add(to.Available, amount)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOverflow, err)
	}
	return l.put(txn, credit, asset, to)
}

// Totals sums every balance entry of asset.
func (l *Ledger) Totals(txn *storage.Txn, asset common.Address) (Totals, error) {
	if err := l.checkAsset(asset); err != nil {
		return Totals{}, err
	}

	out := Totals{Available: num.Zero(), Locked: num.Zero()}
	err := txn.Scan(storage.BalanceAssetPrefix(asset), func(key, value []byte) error {
		var rec balanceRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("balance %s: %w", key, err)
		}
		bal, err := decodeBalance(rec)
		if err != nil {
			return err
		}
		out.Available.Add(out.Available, bal.Available)
		out.Locked.Add(out.Locked, bal.Locked)
		out.Accounts++
		return nil
	})
	return out, err
}

func (l *Ledger) checkAsset(asset common.Address) error {
	if !l.Supports(asset) {
		return fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset.Hex())
	}
	return nil
}

// put persists bal; an all-zero entry is removed.
func (l *Ledger) put(txn *storage.Txn, owner, asset common.Address, bal Balance) error {
	key := storage.BalanceKey(asset, owner)
	if bal.Available.IsZero() && bal.Locked.IsZero() {
		return txn.Delete(key)
	}
	return txn.PutJSON(key, balanceRecord{
		Available: bal.Available.Dec(),
		Locked:    bal.Locked.Dec(),
	})
}

func decodeBalance(rec balanceRecord) (Balance, error) {
	avail, err := num.ParseInt(rec.Available)
	if err != nil {
		return Balance{}, fmt.Errorf("%w: available: %v", ErrInvariantViolation, err)
	}
	locked, err := num.ParseInt(rec.Locked)
	if err != nil {
		return Balance{}, fmt.Errorf("%w: locked: %v", ErrInvariantViolation, err)
	}
	return Balance{Available: avail, Locked: locked}, nil
}
