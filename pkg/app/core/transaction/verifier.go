package transaction

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperclob/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperclob/pkg/crypto"
)

// Verifier checks relay envelopes against the forwarder domain.
type Verifier struct {
	domain crypto.Domain
}

// NewVerifier creates a verifier for envelopes addressed to domain.VerifyingContract
func NewVerifier(domain crypto.Domain) *Verifier {
	return &Verifier{domain: domain}
}

// Domain returns the signing domain.
func (v *Verifier) Domain() crypto.Domain {
	return v.domain
}

// VerifySignature checks that req was signed by req.From, targets this
// ledger and carries no value. Deadline and nonce are the caller's concern.
func (v *Verifier) VerifySignature(req *crypto.ForwardRequest, sigHex string) (common.Address, error) {
	sig, err := crypto.DecodeSignature(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ledger.ErrBadSignature, err)
	}
	if req.To != v.domain.VerifyingContract {
		return common.Address{}, fmt.Errorf("%w: request targets %s, not %s",
			ledger.ErrBadSignature, req.To.Hex(), v.domain.VerifyingContract.Hex())
	}
	if req.Value != nil && req.Value.Sign() != 0 {
		return common.Address{}, fmt.Errorf("%w: non-zero value %s", ledger.ErrBadSignature, req.Value)
	}

	recovered, err := v.domain.RecoverForwardSigner(req, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ledger.ErrBadSignature, err)
	}
	if recovered != req.From {
		return common.Address{}, fmt.Errorf("%w: signed by %s, claims %s",
			ledger.ErrBadSignature, recovered.Hex(), req.From.Hex())
	}
	return recovered, nil
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
