package evm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/sigweihq/knowpay/pkg/chains"
	"github.com/sigweihq/knowpay/pkg/constants"
)

// Transfer(address indexed from, address indexed to, uint256 value)
var transferEventSignature = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// Reader implements chains.ChainReader for EVM chains
type Reader struct {
	network   string
	chainID   *big.Int
	endpoints []string
	timeout   time.Duration
	logger    *slog.Logger
}

// NewReader creates a new EVM reader over one or more RPC endpoints
func NewReader(network string, endpoints []string, timeout time.Duration, logger *slog.Logger) (*Reader, error) {
	chainID, ok := constants.NetworkToChainID[network]
	if !ok {
		return nil, &chains.UnsupportedNetworkError{Network: network}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = constants.TransactionReceiptTimeout
	}

	return &Reader{
		network:   network,
		chainID:   big.NewInt(chainID),
		endpoints: endpoints,
		timeout:   timeout,
		logger:    logger,
	}, nil
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
	return chains.NormalizeAddress(r.network, addr)
}

// NormalizeTxHash implements chains.ChainReader
func (r *Reader) NormalizeTxHash(txHash string) string {
	return chains.NormalizeTxHash(r.network, txHash)
}

// GetTransaction implements chains.ChainReader
// Uses random start position for load balancing across RPC endpoints
func (r *Reader) GetTransaction(ctx context.Context, txHash string) (*chains.TxEffects, error) {
	if len(r.endpoints) == 0 {
		return nil, fmt.Errorf("no RPC endpoints configured for network %s", r.network)
	}
	if err := r.ValidateTxHash(txHash); err != nil {
		return nil, err
	}

	startIdx := rand.Intn(len(r.endpoints))
	var lastErr error

	for i := 0; i < len(r.endpoints); i++ {
		if i > 0 {
			delay := time.Duration(i*constants.DelayBetweenRPCCalls) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		// Wrap around using modulo for round-robin
		endpoint := r.endpoints[(startIdx+i)%len(r.endpoints)]

		effects, err := r.getTransaction(ctx, endpoint, common.HexToHash(txHash))
		if err == nil {
			return effects, nil
		}
		if errors.Is(err, chains.ErrTxNotFound) {
			return nil, err
		}

		lastErr = &chains.RPCError{Endpoint: endpoint, Err: err}
		r.logger.Warn("evm transaction lookup failed", "network", r.network, "endpoint", endpoint, "error", err)

		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("all RPC endpoints failed for network %s: %w", r.network, lastErr)
}

// getTransaction fetches the transaction and its receipt from one endpoint
func (r *Reader) getTransaction(ctx context.Context, endpoint string, hash common.Hash) (*chains.TxEffects, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	tx, isPending, err := client.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, chains.ErrTxNotFound
		}
		return nil, err
	}
	if isPending {
		// not mined yet, there is no execution result to verify
		return nil, chains.ErrTxNotFound
	}

	receipt, err := patchedTransactionReceipt(ctx, client, hash)
	if err != nil {
		return nil, err
	}

	sender, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(r.chainID), tx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover sender: %w", err)
	}

	return effectsFromReceipt(r.network, hash.Hex(), sender, tx, receipt), nil
}

// patchedTransactionReceipt gets a transaction receipt with Base-specific fixes
func patchedTransactionReceipt(ctx context.Context, client *ethclient.Client, txHash common.Hash) (*ethtypes.Receipt, error) {
	var raw json.RawMessage
	err := client.Client().CallContext(ctx, &raw, "eth_getTransactionReceipt", txHash)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, chains.ErrTxNotFound
	}

	cleaned, err := stripBlockTimestampFromLogs(raw)
	if err != nil {
		return nil, err
	}

	var receipt ethtypes.Receipt
	err = json.Unmarshal(cleaned, &receipt)
	if err != nil {
		return nil, err
	}

	return &receipt, nil
}

// stripBlockTimestampFromLogs removes the blockTimestamp field from transaction logs
func stripBlockTimestampFromLogs(raw json.RawMessage) ([]byte, error) {
	var receiptMap map[string]interface{}
	if err := json.Unmarshal(raw, &receiptMap); err != nil {
		return nil, err
	}

	logs, ok := receiptMap["logs"].([]interface{})
	if ok {
		for _, log := range logs {
			logMap, ok := log.(map[string]interface{})
			if ok {
				delete(logMap, "blockTimestamp")
			}
		}
	}

	return json.Marshal(receiptMap)
}

// effectsFromReceipt builds TxEffects from a mined transaction: the native
// value moves from sender to recipient and every ERC-20 Transfer log moves
// tokens between its indexed parties
func effectsFromReceipt(network, txHash string, sender common.Address, tx *ethtypes.Transaction, receipt *ethtypes.Receipt) *chains.TxEffects {
	effects := chains.NewTxEffects(network, txHash)
	effects.Signer = sender.Hex()
	effects.Failed = receipt.Status != ethtypes.ReceiptStatusSuccessful
	effects.AddAccount(sender.Hex())

	if tx.To() != nil {
		effects.AddAccount(tx.To().Hex())
	}
	if effects.Failed {
		return effects
	}

	if tx.To() != nil && tx.Value() != nil && tx.Value().Sign() > 0 {
		effects.AddNativeDelta(tx.To().Hex(), tx.Value())
		effects.AddNativeDelta(sender.Hex(), new(big.Int).Neg(tx.Value()))
	}

	for _, log := range receipt.Logs {
		if len(log.Topics) < 3 || log.Topics[0] != transferEventSignature || len(log.Data) != 32 {
			continue
		}

		from := common.BytesToAddress(log.Topics[1].Bytes())
		to := common.BytesToAddress(log.Topics[2].Bytes())
		value := new(big.Int).SetBytes(log.Data)
		asset := log.Address.Hex()

		effects.AddTokenDelta(to.Hex(), asset, value)
		effects.AddTokenDelta(from.Hex(), asset, new(big.Int).Neg(value))
	}

	return effects
}
