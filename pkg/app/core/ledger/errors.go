package ledger

import "errors"

// Error taxonomy shared by every core component. Callers match with errors.Is;
// the wrapped message carries the specifics.
var (
	ErrInsufficientAvailable  = errors.New("insufficient available balance")
	ErrInvalidOrderState      = errors.New("invalid order state")
	ErrInvalidPriceCross      = errors.New("execution price outside limit prices")
	ErrAmountExceedsRemaining = errors.New("fill amount exceeds remaining")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrExpired                = errors.New("request expired")
	ErrBadSignature           = errors.New("bad signature")
	ErrAlreadyProcessed       = errors.New("nonce already processed")
	ErrTransferFailed         = errors.New("external transfer failed")

	ErrOrderNotFound      = errors.New("order not found")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidPrice       = errors.New("invalid price")
	ErrInvalidFee         = errors.New("invalid fee")
	ErrInvalidAddress     = errors.New("invalid address")
	ErrUnsupportedAsset   = errors.New("unsupported asset")
	ErrOverflow           = errors.New("arithmetic overflow")
	ErrReentrant          = errors.New("reentrant call")
	ErrInvariantViolation = errors.New("internal invariant violation")
	ErrInvalidCall        = errors.New("invalid call")
)
