package evm

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigweihq/knowpay/pkg/chains"
	"github.com/sigweihq/knowpay/pkg/constants"
)

func signedTx(t *testing.T, to common.Address, value *big.Int) (*ethtypes.Transaction, common.Address) {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	chainID := big.NewInt(constants.NetworkToChainID[constants.NetworkBaseSepolia])
	tx, err := ethtypes.SignTx(ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    1,
		GasPrice: big.NewInt(1_000_000_000),
		Gas:      21000,
		To:       &to,
		Value:    value,
	}), ethtypes.LatestSignerForChainID(chainID), key)
	require.NoError(t, err)

	sender, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(chainID), tx)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), sender)

	return tx, sender
}

func transferLog(asset, from, to common.Address, value *big.Int) *ethtypes.Log {
	return &ethtypes.Log{
		Address: asset,
		Topics: []common.Hash{
			transferEventSignature,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: common.LeftPadBytes(value.Bytes(), 32),
	}
}

func TestEffectsFromReceiptNativeTransfer(t *testing.T) {
	recipient := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	value := big.NewInt(500_000_000_000_000_000)
	tx, sender := signedTx(t, recipient, value)

	receipt := &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful}
	effects := effectsFromReceipt("base-sepolia", tx.Hash().Hex(), sender, tx, receipt)

	assert.Equal(t, sender.Hex(), effects.Signer)
	assert.False(t, effects.Failed)
	assert.True(t, effects.Touches(recipient.Hex()))
	assert.Equal(t, value.String(), effects.NativeDelta(recipient.Hex()).String())
	assert.Equal(t, new(big.Int).Neg(value).String(), effects.NativeDelta(sender.Hex()).String())
}

func TestEffectsFromReceiptTokenTransfer(t *testing.T) {
	usdc := common.HexToAddress(constants.USDCAddressBaseSepolia)
	seller := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	vault := common.HexToAddress("0x00000000000000000000000000000000000000cc")

	tx, sender := signedTx(t, usdc, big.NewInt(0))
	receipt := &ethtypes.Receipt{
		Status: ethtypes.ReceiptStatusSuccessful,
		Logs: []*ethtypes.Log{
			transferLog(usdc, sender, seller, big.NewInt(975000)),
			transferLog(usdc, sender, vault, big.NewInt(25000)),
			// unrelated event with the wrong topic count
			{Address: usdc, Topics: []common.Hash{transferEventSignature}},
		},
	}

	effects := effectsFromReceipt("base-sepolia", tx.Hash().Hex(), sender, tx, receipt)

	assert.Equal(t, int64(975000), effects.TokenDelta(seller.Hex(), usdc.Hex()).Int64())
	assert.Equal(t, int64(25000), effects.TokenDelta(vault.Hex(), usdc.Hex()).Int64())
	assert.Equal(t, int64(-1000000), effects.TokenDelta(sender.Hex(), usdc.Hex()).Int64())
	assert.Equal(t, int64(0), effects.NativeDelta(seller.Hex()).Int64())
}

func TestEffectsFromReceiptFailed(t *testing.T) {
	recipient := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tx, sender := signedTx(t, recipient, big.NewInt(1000))

	receipt := &ethtypes.Receipt{Status: ethtypes.ReceiptStatusFailed}
	effects := effectsFromReceipt("base", tx.Hash().Hex(), sender, tx, receipt)

	assert.True(t, effects.Failed)
	assert.Equal(t, int64(0), effects.NativeDelta(recipient.Hex()).Int64(), "reverted value transfers move nothing")
}

func TestStripBlockTimestampFromLogs(t *testing.T) {
	raw := json.RawMessage(`{"status":"0x1","logs":[{"address":"0x01","blockTimestamp":"0x5"}]}`)

	cleaned, err := stripBlockTimestampFromLogs(raw)
	require.NoError(t, err)
	assert.NotContains(t, string(cleaned), "blockTimestamp")
	assert.Contains(t, string(cleaned), "address")
}

func TestReaderGetTransactionNotFound(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req["id"],
			"result":  nil,
		})
	}))
	defer server.Close()

	reader, err := NewReader("base-sepolia", []string{server.URL}, time.Second, logger)
	require.NoError(t, err)

	_, err = reader.GetTransaction(context.Background(), "0x"+"ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12")
	assert.True(t, errors.Is(err, chains.ErrTxNotFound))
}

func TestReaderRejectsMalformedHash(t *testing.T) {
	reader, err := NewReader("base", []string{"http://127.0.0.1:1"}, time.Second, nil)
	require.NoError(t, err)

	_, err = reader.GetTransaction(context.Background(), "0x1234")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, chains.ErrTxNotFound))
}

func TestNewReaderUnsupportedNetwork(t *testing.T) {
	_, err := NewReader("solana", []string{"https://api.mainnet-beta.solana.com"}, time.Second, nil)

	var unsupported *chains.UnsupportedNetworkError
	assert.True(t, errors.As(err, &unsupported))
}

func TestRegisterEVMReaders(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	registry := chains.NewRegistry()

	RegisterEVMReaders(registry, logger, map[string][]string{
		"base":         {"https://mainnet.base.org"},
		"base-sepolia": {},
		"solana":       {"https://api.mainnet-beta.solana.com"},
	}, time.Second)

	assert.Equal(t, []string{"base", "base-sepolia"}, registry.GetSupportedNetworks())

	reader, err := registry.Get("base")
	require.NoError(t, err)
	assert.Equal(t,
		"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		reader.NormalizeAddress("0x833589fcd6edb6e08f4c7c32d4f71b54bda02913"))
}
