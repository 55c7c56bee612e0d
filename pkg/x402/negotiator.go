// Package x402 builds HTTP 402 payment requirements for knowledge items and
// parses the payment proof header buyers send back after paying on-chain.
package x402

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	x402types "github.com/coinbase/x402/go/pkg/types"

	"github.com/sigweihq/knowpay/pkg/chains"
	"github.com/sigweihq/knowpay/pkg/config"
	"github.com/sigweihq/knowpay/pkg/constants"
	"github.com/sigweihq/knowpay/pkg/types"
	"github.com/sigweihq/knowpay/pkg/units"
	"github.com/sigweihq/knowpay/pkg/verifier"
)

// ErrNotReady is returned while the network configuration is inconsistent
var ErrNotReady = errors.New("payment network configuration is inconsistent")

// PricedTokens is the order in which accepts entries are advertised
var PricedTokens = []string{constants.TokenNative, constants.TokenUSDC}

// PaymentRequired is the body of an HTTP 402 response
type PaymentRequired struct {
	X402Version int                             `json:"x402Version"`
	Accepts     []x402types.PaymentRequirements `json:"accepts"`
	Error       string                          `json:"error,omitempty"`
}

// AcceptExtra is carried in each requirement's extra field
type AcceptExtra struct {
	Token          string `json:"token"`
	Decimals       int32  `json:"decimals"`
	FeeVault       string `json:"feeVault,omitempty"`
	ProgramID      string `json:"programId,omitempty"`
	FeeBasisPoints int    `json:"feeBasisPoints,omitempty"`
}

// Negotiator builds payment requirements for the configured network
type Negotiator struct {
	network        string
	reader         chains.ChainReader
	programID      string
	feeVault       string
	feeBasisPoints int
	timeoutSeconds int
	readiness      *config.Readiness
	logger         *slog.Logger
}

// NewNegotiator creates a negotiator for cfg.Network. The registry must hold a reader for it.
func NewNegotiator(cfg *config.Config, registry *chains.Registry, readiness *config.Readiness, logger *slog.Logger) (*Negotiator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	reader, err := registry.Get(cfg.Network)
	if err != nil {
		return nil, err
	}

	timeout := cfg.PaymentTimeoutSeconds
	if timeout <= 0 {
		timeout = constants.DefaultPaymentTimeoutSeconds
	}

	return &Negotiator{
		network:        cfg.Network,
		reader:         reader,
		programID:      cfg.ProgramID,
		feeVault:       cfg.FeeVault,
		feeBasisPoints: cfg.FeeBasisPoints,
		timeoutSeconds: timeout,
		readiness:      readiness,
		logger:         logger,
	}, nil
}

// Network returns the network payments are negotiated on
func (n *Negotiator) Network() string {
	return n.network
}

// SplitEnabled reports whether accepts entries advertise a fee split
func (n *Negotiator) SplitEnabled() bool {
	return verifier.SplitEnabled(n.reader, n.programID, n.feeVault)
}

// BuildPaymentRequired lists one accepts entry per positively priced token of item.
// Prices that round to zero atomic units are not advertised.
func (n *Negotiator) BuildPaymentRequired(item *types.KnowledgeItem, sellerAddress, resource string) (*PaymentRequired, error) {
	if n.readiness != nil {
		if err := n.readiness.Check(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotReady, err)
		}
	}
	if item == nil {
		return nil, fmt.Errorf("item is required")
	}
	if err := n.reader.ValidateAddress(sellerAddress); err != nil {
		return nil, fmt.Errorf("invalid seller address: %w", err)
	}

	split := n.SplitEnabled()
	accepts := make([]x402types.PaymentRequirements, 0, len(PricedTokens))

	for _, name := range PricedTokens {
		price := item.PriceFor(name)
		if !price.IsPositive() {
			continue
		}

		token, err := verifier.ResolveToken(n.network, name)
		if err != nil {
			n.logger.Warn("token not available on network", "network", n.network, "token", name, "error", err)
			continue
		}

		atomic, err := units.ToAtomic(price, token.Decimals)
		if err != nil {
			return nil, fmt.Errorf("failed to convert %s price: %w", name, err)
		}
		if atomic.Sign() == 0 {
			n.logger.Debug("price below smallest unit, not advertised", "item_id", item.ID, "token", name, "price", price.String())
			continue
		}

		extra := AcceptExtra{Token: name, Decimals: token.Decimals}
		if split {
			extra.FeeVault = n.feeVault
			extra.ProgramID = n.programID
			extra.FeeBasisPoints = n.feeBasisPoints
		}
		raw, err := json.Marshal(extra)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal extra: %w", err)
		}
		extraJSON := json.RawMessage(raw)

		accepts = append(accepts, x402types.PaymentRequirements{
			Scheme:            constants.SchemeExact,
			Network:           n.network,
			MaxAmountRequired: atomic.String(),
			Resource:          resource,
			Description:       describe(item, name),
			MimeType:          "application/json",
			PayTo:             sellerAddress,
			MaxTimeoutSeconds: n.timeoutSeconds,
			Asset:             token.Asset,
			Extra:             &extraJSON,
		})
	}

	return &PaymentRequired{
		X402Version: constants.X402Version,
		Accepts:     accepts,
	}, nil
}

func describe(item *types.KnowledgeItem, token string) string {
	if token == constants.TokenNative {
		return fmt.Sprintf("Purchase of %q, paid in the native coin", item.Title)
	}
	return fmt.Sprintf("Purchase of %q, paid in %s", item.Title, token)
}

// TokenForAsset maps an accepts asset back to its token name on the negotiator's network
func (n *Negotiator) TokenForAsset(asset string) (string, bool) {
	if asset == "" || asset == constants.NativeAsset {
		return constants.TokenNative, true
	}
	usdc, ok := constants.NetworkToUSDCAddress[n.network]
	if ok && n.reader.NormalizeAddress(asset) == n.reader.NormalizeAddress(usdc) {
		return constants.TokenUSDC, true
	}
	return "", false
}
