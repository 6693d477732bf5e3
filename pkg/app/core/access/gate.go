// Package access decides who may do what: role checks for privileged
// operations and effective-caller resolution for relayed calls.
package access

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperclob/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperclob/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperclob/pkg/crypto"
	"github.com/uhyunpark/hyperclob/pkg/num"
	"github.com/uhyunpark/hyperclob/pkg/storage"
	"github.com/uhyunpark/hyperclob/pkg/util"
)

// Role is a privilege checked by Require.
type Role uint8

const (
	RoleOwner Role = iota + 1
	RoleMatcher
)

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleMatcher:
		return "matcher"
	default:
		return "unknown"
	}
}

// Require returns ErrUnauthorized unless caller holds role under cfg.
func Require(cfg *Config, caller common.Address, role Role) error {
	var ok bool
	switch role {
	case RoleOwner:
		ok = caller == cfg.Owner
	case RoleMatcher:
		ok = cfg.IsMatcher(caller)
	}
	if !ok {
		return fmt.Errorf("%w: %s is not %s", ledger.ErrUnauthorized, caller.Hex(), role)
	}
	return nil
}

// Gate resolves the effective caller of relayed calls.
type Gate struct {
	verifier *transaction.Verifier
	clock    util.Clock
}

func NewGate(v *transaction.Verifier, clock util.Clock) *Gate {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Gate{verifier: v, clock: clock}
}

// Domain is the EIP-712 domain envelopes are verified under.
func (g *Gate) Domain() crypto.Domain {
	return g.verifier.Domain()
}

// Relayed is a verified relay call.
type Relayed struct {
	Signer common.Address
	Nonce  *uint256.Int
	Call   *transaction.Call
}

// Resolve checks an envelope submitted by caller and stages the signer's
// nonce in txn. Checks run in order: relay identity, expiry, signature,
// nonce, call data. The nonce write is only durable if txn commits.
func (g *Gate) Resolve(txn *storage.Txn, cfg *Config, caller common.Address, env *transaction.Envelope) (*Relayed, error) {
	if !cfg.HasRelay() || caller != cfg.TrustedRelay {
		return nil, fmt.Errorf("%w: %s is not the trusted relay", ledger.ErrUnauthorized, caller.Hex())
	}

	req, err := env.Request()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrBadSignature, err)
	}

	now := g.clock.Now().Unix()
	if req.Deadline.IsInt64() && req.Deadline.Int64() < now {
		return nil, fmt.Errorf("%w: deadline %s < now %d", ledger.ErrExpired, req.Deadline, now)
	}

	signer, err := g.verifier.VerifySignature(req, env.Signature)
	if err != nil {
		return nil, err
	}
	if signer == cfg.TrustedRelay {
		return nil, fmt.Errorf("%w: relay cannot forward its own calls", ledger.ErrUnauthorized)
	}

	nonce, overflow := uint256.FromBig(req.Nonce)
	if overflow {
		return nil, fmt.Errorf("%w: nonce overflows", ledger.ErrBadSignature)
	}
	last, err := LastNonce(txn, signer)
	if err != nil {
		return nil, err
	}
	if !nonce.Gt(last) {
		return nil, fmt.Errorf("%w: nonce %s <= last %s for %s", ledger.ErrAlreadyProcessed, nonce.Dec(), last.Dec(), signer.Hex())
	}

	call, err := transaction.ParseCall(env.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrInvalidCall, err)
	}

	if err := txn.PutJSON(storage.NonceKey(signer), nonceRecord{Nonce: nonce.Dec()}); err != nil {
		return nil, err
	}
	return &Relayed{Signer: signer, Nonce: nonce, Call: call}, nil
}

type nonceRecord struct {
	Nonce string `json:"nonce"`
}

// LastNonce returns the last relay nonce consumed by addr (zero if none).
func LastNonce(txn *storage.Txn, addr common.Address) (*uint256.Int, error) {
	var rec nonceRecord
	ok, err := txn.GetJSON(storage.NonceKey(addr), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return num.Zero(), nil
	}
	n, err := num.ParseInt(rec.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce record: %v", ledger.ErrInvariantViolation, err)
	}
	return n, nil
}
