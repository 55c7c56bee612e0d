package chains

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockChainReader is a simple test reader
type mockChainReader struct {
	network string
}

func (m *mockChainReader) Network() string { return m.network }

func (m *mockChainReader) ValidateTxHash(string) error { return nil }

func (m *mockChainReader) ValidateAddress(string) error { return nil }

func (m *mockChainReader) NormalizeAddress(a string) string { return a }

func (m *mockChainReader) NormalizeTxHash(h string) string { return h }

func (m *mockChainReader) GetTransaction(context.Context, string) (*TxEffects, error) {
	return nil, ErrTxNotFound
}

func TestRegistryIdempotent(t *testing.T) {
	registry := NewRegistry()

	reader1 := &mockChainReader{network: "test-network"}
	reader2 := &mockChainReader{network: "test-network"}

	registry.Register(reader1)
	registry.Register(reader2)

	// Verify the second reader replaced the first
	retrieved, err := registry.Get("test-network")
	assert.NoError(t, err)
	assert.Same(t, reader2, retrieved, "Second reader should have replaced the first")
}

func TestRegistryConcurrentRegistration(t *testing.T) {
	registry := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			registry.Register(&mockChainReader{network: "test-network"})
		}()
	}
	wg.Wait()

	assert.True(t, registry.IsSupported("test-network"))
}

func TestRegistryMultipleNetworks(t *testing.T) {
	registry := NewRegistry()

	networks := []string{"solana", "base", "solana-devnet", "base-sepolia"}
	for _, network := range networks {
		registry.Register(&mockChainReader{network: network})
	}

	supported := registry.GetSupportedNetworks()
	assert.Equal(t, []string{"base", "base-sepolia", "solana", "solana-devnet"}, supported)
}

func TestRegistryUnregister(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&mockChainReader{network: "test-network"})
	assert.True(t, registry.IsSupported("test-network"))

	registry.Unregister("test-network")
	assert.False(t, registry.IsSupported("test-network"))

	_, err := registry.Get("test-network")
	var unsupported *UnsupportedNetworkError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, "test-network", unsupported.Network)
}

func TestTxEffectsAccumulatesDeltas(t *testing.T) {
	effects := NewTxEffects("solana", "sig")

	effects.AddNativeDelta("alice", big.NewInt(-100))
	effects.AddNativeDelta("bob", big.NewInt(60))
	effects.AddNativeDelta("bob", big.NewInt(40))
	effects.AddTokenDelta("bob", "mint", big.NewInt(7))

	assert.Equal(t, []string{"alice", "bob"}, effects.Accounts)
	assert.Equal(t, int64(100), effects.NativeDelta("bob").Int64())
	assert.Equal(t, int64(0), effects.NativeDelta("carol").Int64())
	assert.Equal(t, int64(7), effects.TokenDelta("bob", "mint").Int64())
	assert.Equal(t, int64(0), effects.TokenDelta("bob", "other").Int64())
	assert.False(t, effects.Touches("carol"))

	// Returned values are copies.
	effects.NativeDelta("bob").SetInt64(0)
	assert.Equal(t, int64(100), effects.NativeDelta("bob").Int64())
}

func TestValidateTxHash(t *testing.T) {
	validSignature := solana.SignatureFromBytes(bytes.Repeat([]byte{7}, 64)).String()

	tests := []struct {
		name    string
		network string
		hash    string
		wantErr bool
	}{
		{"valid evm", "base", "0x" + "ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12", false},
		{"evm missing prefix", "base", "ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12", true},
		{"evm short", "base-sepolia", "0x1234", true},
		{"valid solana", "solana", validSignature, false},
		{"solana with 0x", "solana", "0x" + validSignature[2:], true},
		{"solana garbage", "solana-devnet", "not-a-signature", true},
		{"unknown network", "dogechain", "0x00", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTxHash(tt.network, tt.hash)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress("solana", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"))
	assert.Error(t, ValidateAddress("solana", "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"))
	assert.NoError(t, ValidateAddress("base", "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"))
	assert.Error(t, ValidateAddress("base", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"))
	assert.Error(t, ValidateAddress("unknown", "anything"))
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t,
		"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		NormalizeAddress("base", "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913"))
	assert.Equal(t,
		"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		NormalizeAddress("solana", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"))
}

func TestNormalizeTxHash(t *testing.T) {
	assert.Equal(t,
		"0x9a3f00000000000000000000000000000000000000000000000000000000abcd",
		NormalizeTxHash("base-sepolia", "0x9A3F00000000000000000000000000000000000000000000000000000000AbCd"))

	sig := "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"
	assert.Equal(t, sig, NormalizeTxHash("solana", sig))
}

func TestFamily(t *testing.T) {
	assert.Equal(t, FamilySVM, Family("solana"))
	assert.Equal(t, FamilySVM, Family("solana-devnet"))
	assert.Equal(t, FamilyEVM, Family("base"))
	assert.Equal(t, FamilyEVM, Family("base-sepolia"))
	assert.Equal(t, "", Family("polygon"))
}
