// Package verifier decides whether a claimed on-chain transaction really paid
// the expected amount to the expected recipient.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sigweihq/knowpay/pkg/chains"
	"github.com/sigweihq/knowpay/pkg/constants"
	"github.com/sigweihq/knowpay/pkg/units"
)

// Reason is a machine readable verification failure code
type Reason string

const (
	ReasonInvalidHash        Reason = "invalid_hash"
	ReasonInvalidRequest     Reason = "invalid_request"
	ReasonUnsupportedNetwork Reason = "unsupported_network"
	ReasonNotFound           Reason = "not_found"
	ReasonOnChainFailure     Reason = "on_chain_failure"
	ReasonSenderMismatch     Reason = "sender_mismatch"
	ReasonRecipientNotFound  Reason = "recipient_not_found"
	ReasonAmountMismatch     Reason = "amount_mismatch"
	ReasonFeeSplitMismatch   Reason = "fee_split_mismatch"
	ReasonVerificationFailed Reason = "verification_failed"
)

// Token describes the asset a payment is expected in
type Token struct {
	// Asset is constants.NativeAsset or the mint/contract address
	Asset    string
	Decimals int32
}

// IsNative reports whether the token is the chain's native coin
func (t Token) IsNative() bool {
	return t.Asset == constants.NativeAsset
}

// Request is a single verification query
type Request struct {
	TxHash            string
	Network           string
	Token             Token
	ExpectedSender    string
	ExpectedRecipient string

	// ExpectedAmount is the full price, always taken from the stored item
	ExpectedAmount decimal.Decimal

	// Optional fee split. Checked only when both addresses are valid for the network.
	FeeVault       string
	ProgramID      string
	FeeBasisPoints int
}

// Result is the verification outcome. Reason is empty when Valid.
type Result struct {
	Valid  bool
	Reason Reason
}

func invalid(reason Reason) Result {
	return Result{Valid: false, Reason: reason}
}

// Verifier checks transactions using the registered chain readers
type Verifier struct {
	registry *chains.Registry
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates a verifier. timeout bounds each chain lookup.
func New(registry *chains.Registry, timeout time.Duration, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = constants.TransactionReceiptTimeout
	}
	return &Verifier{
		registry: registry,
		timeout:  timeout,
		logger:   logger,
	}
}

// SplitEnabled reports whether a fee split applies for the given addresses on reader's network.
// Negotiation and verification both use this so they never disagree about the split.
func SplitEnabled(reader chains.ChainReader, programID, feeVault string) bool {
	if programID == "" || feeVault == "" {
		return false
	}
	return reader.ValidateAddress(programID) == nil && reader.ValidateAddress(feeVault) == nil
}

// Verify checks the transaction behind req.TxHash. It never returns an error:
// every failure, including chain client errors and panics, becomes an invalid Result.
// Safe to call repeatedly for the same hash.
func (v *Verifier) Verify(ctx context.Context, req Request) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("panic during transaction verification", "tx_hash", req.TxHash, "panic", r)
			result = invalid(ReasonVerificationFailed)
		}
	}()

	reader, err := v.registry.Get(req.Network)
	if err != nil {
		return invalid(ReasonUnsupportedNetwork)
	}

	// fail fast before any network call
	if err := reader.ValidateTxHash(req.TxHash); err != nil {
		return invalid(ReasonInvalidHash)
	}
	if !req.ExpectedAmount.IsPositive() || req.ExpectedSender == "" || req.ExpectedRecipient == "" {
		return invalid(ReasonInvalidRequest)
	}

	total, err := units.ToAtomic(req.ExpectedAmount, req.Token.Decimals)
	if err != nil || total.Sign() <= 0 {
		return invalid(ReasonInvalidRequest)
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	effects, err := reader.GetTransaction(ctx, req.TxHash)
	if err != nil {
		if errors.Is(err, chains.ErrTxNotFound) {
			return invalid(ReasonNotFound)
		}
		v.logger.Warn("chain lookup failed", "network", req.Network, "tx_hash", req.TxHash, "error", err)
		return invalid(ReasonVerificationFailed)
	}

	if effects.Failed {
		return invalid(ReasonOnChainFailure)
	}

	sender := reader.NormalizeAddress(req.ExpectedSender)
	if effects.Signer != sender {
		v.logger.Info("sender mismatch", "tx_hash", req.TxHash, "expected", sender, "actual", effects.Signer)
		return invalid(ReasonSenderMismatch)
	}

	recipient := reader.NormalizeAddress(req.ExpectedRecipient)
	if !effects.Touches(recipient) {
		return invalid(ReasonRecipientNotFound)
	}

	expectedNet := total
	var expectedFee *big.Int
	var vault string
	if SplitEnabled(reader, req.ProgramID, req.FeeVault) {
		fee, net, err := units.SplitFee(total, req.FeeBasisPoints)
		if err != nil {
			v.logger.Error("invalid fee split configuration", "error", err)
			return invalid(ReasonVerificationFailed)
		}
		expectedNet, expectedFee = net, fee
		vault = reader.NormalizeAddress(req.FeeVault)
	}

	received := receivedBy(effects, req.Token, recipient, reader)
	if !units.WithinTolerance(received, expectedNet) {
		v.logger.Info("amount mismatch", "tx_hash", req.TxHash, "expected", expectedNet.String(), "received", received.String())
		return invalid(ReasonAmountMismatch)
	}

	if expectedFee != nil && expectedFee.Sign() > 0 {
		vaultReceived := receivedBy(effects, req.Token, vault, reader)
		if !units.WithinTolerance(vaultReceived, expectedFee) {
			v.logger.Info("fee split mismatch", "tx_hash", req.TxHash, "expected_fee", expectedFee.String(), "received", vaultReceived.String())
			return invalid(ReasonFeeSplitMismatch)
		}
	}

	return Result{Valid: true}
}

// receivedBy is the amount of token that addr gained in the transaction
func receivedBy(effects *chains.TxEffects, token Token, addr string, reader chains.ChainReader) *big.Int {
	if token.IsNative() {
		return effects.NativeDelta(addr)
	}
	return effects.TokenDelta(addr, reader.NormalizeAddress(token.Asset))
}

// String implements fmt.Stringer for log output
func (r Result) String() string {
	if r.Valid {
		return "valid"
	}
	return fmt.Sprintf("invalid(%s)", r.Reason)
}

// ErrUnsupportedToken is returned by ResolveToken for unknown token names
var ErrUnsupportedToken = errors.New("unsupported token")

// ResolveToken maps a token name ("native", "usdc") to its asset and decimals on network
func ResolveToken(network, name string) (Token, error) {
	switch name {
	case constants.TokenNative:
		if chains.IsSVMNetwork(network) {
			return Token{Asset: constants.NativeAsset, Decimals: constants.LamportsDecimals}, nil
		}
		if chains.IsEVMNetwork(network) {
			return Token{Asset: constants.NativeAsset, Decimals: constants.WeiDecimals}, nil
		}
		return Token{}, &chains.UnsupportedNetworkError{Network: network}
	case constants.TokenUSDC:
		asset, ok := constants.NetworkToUSDCAddress[network]
		if !ok {
			return Token{}, &chains.UnsupportedNetworkError{Network: network}
		}
		return Token{Asset: asset, Decimals: constants.USDCDecimals}, nil
	}
	return Token{}, fmt.Errorf("%w: %s", ErrUnsupportedToken, name)
}
