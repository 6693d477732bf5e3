package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Domain is the EIP-712 domain separator input.
// Binding chain id and ledger address keeps signatures from replaying elsewhere.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// ForwarderDomain returns the domain relayed calls are signed under.
func ForwarderDomain(chainID *big.Int, ledger common.Address) Domain {
	return Domain{
		Name:              "HyperCLOBForwarder",
		Version:           "1",
		ChainID:           chainID,
		VerifyingContract: ledger,
	}
}

// ForwardRequest is what a user signs so a relay can submit a call on their behalf.
type ForwardRequest struct {
	From     common.Address // Signer; becomes the effective caller
	To       common.Address // Must be the ledger address
	Value    *big.Int       // Always zero; the ledger takes no native value
	DataHash common.Hash    // Keccak256 of the call JSON
	Nonce    *big.Int       // Strictly greater than the signer's last used nonce
	Deadline *big.Int       // Unix seconds
}

var forwardRequestTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"ForwardRequest": []apitypes.Type{
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "dataHash", Type: "bytes32"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
}

func (d Domain) typedData(req *ForwardRequest) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       forwardRequestTypes,
		PrimaryType: "ForwardRequest",
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           d.Version,
			ChainId:           (*math.HexOrDecimal256)(d.ChainID),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":     req.From.Hex(),
			"to":       req.To.Hex(),
			"value":    bigString(req.Value),
			"dataHash": req.DataHash.Hex(),
			"nonce":    bigString(req.Nonce),
			"deadline": bigString(req.Deadline),
		},
	}
}

// HashForwardRequest returns the EIP-712 digest to sign:
// keccak256("\x19\x01" || domainSeparator || hashStruct(request))
func (d Domain) HashForwardRequest(req *ForwardRequest) ([]byte, error) {
	typedData := d.typedData(req)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	raw := make([]byte, 0, 66)
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, structHash...)
	return Keccak256(raw).Bytes(), nil
}

// SignForwardRequest hashes and signs req.
func (d Domain) SignForwardRequest(signer *Signer, req *ForwardRequest) ([]byte, error) {
	hash, err := d.HashForwardRequest(req)
	if err != nil {
		return nil, fmt.Errorf("failed to hash request: %w", err)
	}
	sig, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}
	return sig, nil
}

// RecoverForwardSigner returns the address that signed req.
func (d Domain) RecoverForwardSigner(req *ForwardRequest, signature []byte) (common.Address, error) {
	hash, err := d.HashForwardRequest(req)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash request: %w", err)
	}
	return RecoverAddress(hash, signature)
}

// TypedDataJSON renders req in the eth_signTypedData_v4 shape so a wallet
// can produce the same signature.
func (d Domain) TypedDataJSON(req *ForwardRequest) (string, error) {
	out, err := json.MarshalIndent(d.typedData(req), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(out), nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
