package types

// PaymentProof is what a buyer hands back after paying on-chain
type PaymentProof struct {
	TxHash  string `json:"txHash"`
	Network string `json:"network,omitempty"`
	Scheme  string `json:"scheme,omitempty"`
	Asset   string `json:"asset,omitempty"`
}

// ExactTxPayload is the payload of an "exact" scheme proof
type ExactTxPayload struct {
	TxHash string `json:"txHash"`
	Asset  string `json:"asset,omitempty"`
}

// PaymentPayload is the nested X-PAYMENT shape
// {"x402Version":1,"scheme":"exact","network":"solana","payload":{"txHash":"..."}}
type PaymentPayload struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     *ExactTxPayload `json:"payload"`
}

// ToProof flattens the nested shape
func (p *PaymentPayload) ToProof() *PaymentProof {
	if p == nil || p.Payload == nil {
		return nil
	}
	return &PaymentProof{
		TxHash:  p.Payload.TxHash,
		Network: p.Network,
		Scheme:  p.Scheme,
		Asset:   p.Payload.Asset,
	}
}

// PurchaseRequest is the settlement endpoint body. Any amount a client sends is ignored.
type PurchaseRequest struct {
	TxHash string `json:"tx_hash" validate:"required,max=128"`
	Token  string `json:"token,omitempty" validate:"omitempty,oneof=native usdc"`
	Chain  string `json:"chain,omitempty" validate:"omitempty,max=32"`
}

// PurchaseResponse is returned by the settlement endpoint
type PurchaseResponse struct {
	Status      string       `json:"status"`
	Transaction *Transaction `json:"transaction,omitempty"`
}

// ErrorResponse is the JSON error body of every API endpoint
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RegisterWebhookRequest is the webhook registration body
type RegisterWebhookRequest struct {
	URL    string   `json:"url" validate:"required,url,max=2048"`
	Events []string `json:"events" validate:"required,min=1,max=10,dive,oneof=purchase.completed review.created listing.published"`
}

// RegisterWebhookResponse carries the signing secret, shown exactly once
type RegisterWebhookResponse struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}
