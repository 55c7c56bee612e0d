package svm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/sigweihq/knowpay/pkg/chains"
	"github.com/sigweihq/knowpay/pkg/constants"
)

// Reader implements chains.ChainReader for SVM chains
type Reader struct {
	network   string
	endpoints []string
	clients   []*rpc.Client
	timeout   time.Duration
	logger    *slog.Logger
}

// NewReader creates a new SVM reader over one or more RPC endpoints
func NewReader(network string, endpoints []string, timeout time.Duration, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = constants.TransactionReceiptTimeout
	}

	clients := make([]*rpc.Client, len(endpoints))
	for i, endpoint := range endpoints {
		clients[i] = rpc.New(endpoint)
	}

	return &Reader{
		network:   network,
		endpoints: endpoints,
		clients:   clients,
		timeout:   timeout,
		logger:    logger,
	}
}

// Verify Reader implements interface
var _ chains.ChainReader = (*Reader)(nil)

// Network implements chains.ChainReader
func (r *Reader) Network() string {
	return r.network
}

// ValidateTxHash implements chains.ChainReader
func (r *Reader) ValidateTxHash(txHash string) error {
	return chains.ValidateTxHash(r.network, txHash)
}

// ValidateAddress implements chains.ChainReader
func (r *Reader) ValidateAddress(addr string) error {
	return chains.ValidateAddress(r.network, addr)
}

// NormalizeAddress implements chains.ChainReader
func (r *Reader) NormalizeAddress(addr string) string {
	return addr
}

// NormalizeTxHash implements chains.ChainReader
func (r *Reader) NormalizeTxHash(txHash string) string {
	return txHash
}

// GetTransaction implements chains.ChainReader
// Retries with progressive backoff, cycling through endpoints with random start for load balancing.
// A null result is definitive and is not retried.
func (r *Reader) GetTransaction(ctx context.Context, txHash string) (*chains.TxEffects, error) {
	if len(r.clients) == 0 {
		return nil, fmt.Errorf("no RPC endpoints configured for network %s", r.network)
	}

	sig, err := solana.SignatureFromBase58(txHash)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction signature: %w", err)
	}

	startIdx := rand.Intn(len(r.clients))
	var lastErr error

	for attempt := 0; attempt < constants.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt*constants.DelayBetweenRPCCalls) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		idx := (startIdx + attempt) % len(r.clients)
		effects, err := r.getTransaction(ctx, r.clients[idx], sig, txHash)
		if err == nil {
			return effects, nil
		}
		if errors.Is(err, chains.ErrTxNotFound) {
			return nil, err
		}

		lastErr = &chains.RPCError{Endpoint: r.endpoints[idx], Err: err}
		r.logger.Warn("svm getTransaction failed", "network", r.network, "endpoint", r.endpoints[idx], "attempt", attempt+1, "error", err)

		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("all RPC endpoints failed for network %s: %w", r.network, lastErr)
}

// getTransaction fetches a single transaction from one endpoint
func (r *Reader) getTransaction(ctx context.Context, client *rpc.Client, sig solana.Signature, txHash string) (*chains.TxEffects, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	maxVersion := rpc.MaxSupportedTransactionVersion0
	result, err := client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, chains.ErrTxNotFound
		}
		return nil, err
	}

	if result.Transaction == nil || result.Meta == nil {
		return nil, fmt.Errorf("incomplete transaction result for %s", txHash)
	}

	tx, err := decodeTransaction(result.Transaction.GetBinary())
	if err != nil {
		return nil, err
	}

	return effectsFromTransaction(r.network, txHash, tx, result.Meta)
}
