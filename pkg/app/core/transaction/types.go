package transaction

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperclob/pkg/crypto"
)

// Method names a ledger operation that can be carried in a relayed call.
type Method string

const (
	MethodDeposit           Method = "deposit"
	MethodWithdraw          Method = "withdraw"
	MethodPlaceBuy          Method = "placeBuy"
	MethodPlaceSell         Method = "placeSell"
	MethodCancel            Method = "cancel"
	MethodMatchOrders       Method = "matchOrders"
	MethodSetFeeBps         Method = "setFeeBps"
	MethodSetFeeRecipient   Method = "setFeeRecipient"
	MethodSetMatcherAllowed Method = "setMatcherAllowed"
	MethodSetTrustedRelay   Method = "setTrustedRelay"
	MethodTransferOwnership Method = "transferOwnership"
)

// Envelope is a signed ForwardRequest plus the call it commits to.
// All big integers travel as base-10 strings.
type Envelope struct {
	From      string `json:"from"`      // Signer address (0x...)
	To        string `json:"to"`        // Ledger address
	Value     string `json:"value"`     // Must be "0"
	Data      string `json:"data"`      // Call JSON; hashed byte-for-byte
	Nonce     string `json:"nonce"`     // Per-signer, strictly increasing
	Deadline  string `json:"deadline"`  // Unix seconds
	Signature string `json:"signature"` // Hex-encoded 65-byte signature (0x...)
}

// Call is the decoded Data of an envelope.
type Call struct {
	Method Method          `json:"method"`
	Args   json.RawMessage `json:"args"`
}

// Argument payloads, one per method family. Amounts and prices are base-10
// integers in base units (prices in 1e18 fixed point).
type (
	TransferArgs struct {
		Asset  string `json:"asset"`
		Amount string `json:"amount"`
	}
	OrderArgs struct {
		LimitPrice string `json:"limitPrice"`
		Amount     string `json:"amount"`
	}
	CancelArgs struct {
		OrderID uint64 `json:"orderId"`
	}
	MatchArgs struct {
		BuyID      uint64 `json:"buyId"`
		SellID     uint64 `json:"sellId"`
		FillAmount string `json:"fillAmount"`
		ExecPrice  string `json:"execPrice"`
	}
	FeeArgs struct {
		Bps uint16 `json:"bps"`
	}
	AddressArgs struct {
		Address string `json:"address"`
	}
	MatcherArgs struct {
		Matcher string `json:"matcher"`
		Allowed bool   `json:"allowed"`
	}
)

// EncodeCall produces the Data string for a call. json.Marshal of a struct
// is deterministic, so the same arguments always hash the same.
func EncodeCall(method Method, args any) (string, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("failed to marshal args: %w", err)
	}
	out, err := json.Marshal(Call{Method: method, Args: raw})
	if err != nil {
		return "", fmt.Errorf("failed to marshal call: %w", err)
	}
	return string(out), nil
}

// ParseCall decodes an envelope's Data.
func ParseCall(data string) (*Call, error) {
	var c Call
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("invalid call data: %w", err)
	}
	if c.Method == "" {
		return nil, fmt.Errorf("call data has no method")
	}
	return &c, nil
}

// DecodeArgs unmarshals the call arguments into v, rejecting unknown fields.
func (c *Call) DecodeArgs(v any) error {
	if len(c.Args) == 0 {
		return fmt.Errorf("%s: missing args", c.Method)
	}
	if err := strictUnmarshal(c.Args, v); err != nil {
		return fmt.Errorf("%s: invalid args: %w", c.Method, err)
	}
	return nil
}

// Validate checks the envelope is well formed. It does not check the signature.
func (e *Envelope) Validate() error {
	if !common.IsHexAddress(e.From) {
		return fmt.Errorf("invalid from address: %q", e.From)
	}
	if !common.IsHexAddress(e.To) {
		return fmt.Errorf("invalid to address: %q", e.To)
	}
	if e.Data == "" {
		return fmt.Errorf("missing call data")
	}
	if e.Signature == "" {
		return fmt.Errorf("missing signature")
	}
	for name, v := range map[string]string{"value": e.Value, "nonce": e.Nonce, "deadline": e.Deadline} {
		if _, ok := parseBig(v); !ok {
			return fmt.Errorf("invalid %s: %q", name, v)
		}
	}
	return nil
}

// Request converts the envelope into the typed request that was signed.
func (e *Envelope) Request() (*crypto.ForwardRequest, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	value, _ := parseBig(e.Value)
	nonce, _ := parseBig(e.Nonce)
	deadline, _ := parseBig(e.Deadline)
	return &crypto.ForwardRequest{
		From:     common.HexToAddress(e.From),
		To:       common.HexToAddress(e.To),
		Value:    value,
		DataHash: crypto.Keccak256([]byte(e.Data)),
		Nonce:    nonce,
		Deadline: deadline,
	}, nil
}

// NewEnvelope builds and signs an envelope for call data.
func NewEnvelope(domain crypto.Domain, signer *crypto.Signer, data string, nonce uint64, deadline int64) (*Envelope, error) {
	req := &crypto.ForwardRequest{
		From:     signer.Address(),
		To:       domain.VerifyingContract,
		Value:    big.NewInt(0),
		DataHash: crypto.Keccak256([]byte(data)),
		Nonce:    new(big.Int).SetUint64(nonce),
		Deadline: big.NewInt(deadline),
	}
	sig, err := domain.SignForwardRequest(signer, req)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		From:      req.From.Hex(),
		To:        req.To.Hex(),
		Value:     "0",
		Data:      data,
		Nonce:     req.Nonce.String(),
		Deadline:  req.Deadline.String(),
		Signature: crypto.EncodeSignature(sig),
	}, nil
}

// ParseEnvelope parses JSON bytes into an Envelope
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	return &env, nil
}

// ToJSON converts the envelope to JSON bytes
func (e *Envelope) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func parseBig(s string) (*big.Int, bool) {
	if s == "" {
		return nil, false
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 || v.BitLen() > 256 {
		return nil, false
	}
	return v, true
}
