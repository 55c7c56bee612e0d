package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sigweihq/knowpay/pkg/constants"
	"github.com/sigweihq/knowpay/pkg/types"
)

// headerWire accepts both the flat and the nested header shape
type headerWire struct {
	types.PaymentPayload
	TxHash string `json:"txHash"`
	Asset  string `json:"asset"`
}

// proof flattens wire, preferring the nested payload when it carries a hash
func (w *headerWire) proof() *types.PaymentProof {
	if p := w.PaymentPayload.ToProof(); p != nil && p.TxHash != "" {
		if p.Asset == "" {
			p.Asset = w.Asset
		}
		return p
	}
	return &types.PaymentProof{
		TxHash:  w.TxHash,
		Network: w.Network,
		Scheme:  w.Scheme,
		Asset:   w.Asset,
	}
}

var headerEncodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

// ParsePaymentHeader decodes an X-PAYMENT header. Only txHash is required.
// It returns false for oversized, undecodable or incomplete values and for
// schemes other than "exact"; callers then answer with a fresh 402.
func ParsePaymentHeader(value string) (*types.PaymentProof, bool) {
	value = strings.TrimSpace(value)
	if value == "" || len(value) > constants.MaxPaymentHeaderSize {
		return nil, false
	}

	raw, ok := decodeBase64(value)
	if !ok {
		return nil, false
	}

	var wire headerWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, false
	}

	proof := wire.proof()
	// network may be omitted and then means the server's network; scheme must be exact when given
	if proof.Scheme != "" && proof.Scheme != constants.SchemeExact {
		return nil, false
	}

	proof.TxHash = strings.TrimSpace(proof.TxHash)
	if proof.TxHash == "" || len(proof.TxHash) > 128 || strings.ContainsAny(proof.TxHash, " \t\r\n") {
		return nil, false
	}
	if proof.Asset == "" {
		proof.Asset = constants.NativeAsset
	}

	return proof, true
}

func decodeBase64(value string) ([]byte, bool) {
	for _, enc := range headerEncodings {
		if raw, err := enc.DecodeString(value); err == nil {
			return raw, true
		}
	}
	return nil, false
}

// EncodePaymentHeader builds an X-PAYMENT value for proof, flat or nested under "payload"
func EncodePaymentHeader(proof *types.PaymentProof, nested bool) (string, error) {
	if proof == nil || proof.TxHash == "" {
		return "", fmt.Errorf("txHash is required")
	}

	var body any = proof
	if nested {
		body = &types.PaymentPayload{
			X402Version: constants.X402Version,
			Scheme:      proof.Scheme,
			Network:     proof.Network,
			Payload:     &types.ExactTxPayload{TxHash: proof.TxHash, Asset: proof.Asset},
		}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment header: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
