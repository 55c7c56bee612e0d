package chains

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
)

var evmTxHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// ValidateAddress checks addr against the address format of the network's family
func ValidateAddress(network, addr string) error {
	switch {
	case IsSVMNetwork(network):
		if _, err := solana.PublicKeyFromBase58(addr); err != nil {
			return fmt.Errorf("invalid solana address %q: %w", addr, err)
		}
		return nil
	case IsEVMNetwork(network):
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid evm address %q", addr)
		}
		return nil
	default:
		return &UnsupportedNetworkError{Network: network}
	}
}

// ValidateTxHash checks txHash against the transaction hash format of the network's family
func ValidateTxHash(network, txHash string) error {
	switch {
	case IsSVMNetwork(network):
		// base58 encoding of a 64-byte ed25519 signature
		if len(txHash) < 64 || len(txHash) > 90 {
			return fmt.Errorf("invalid solana signature length: %d", len(txHash))
		}
		if _, err := solana.SignatureFromBase58(txHash); err != nil {
			return fmt.Errorf("invalid solana signature: %w", err)
		}
		return nil
	case IsEVMNetwork(network):
		if !evmTxHashPattern.MatchString(txHash) {
			return fmt.Errorf("invalid evm transaction hash format")
		}
		return nil
	default:
		return &UnsupportedNetworkError{Network: network}
	}
}

// NormalizeAddress returns the canonical representation of addr for the network
func NormalizeAddress(network, addr string) string {
	if IsEVMNetwork(network) && common.IsHexAddress(addr) {
		return common.HexToAddress(addr).Hex()
	}
	return addr
}

// NormalizeTxHash returns the canonical form of txHash for the network.
// EVM hashes are hex and compare case-insensitively, so they are lowercased.
// Solana signatures are base58 and left unchanged.
func NormalizeTxHash(network, txHash string) string {
	if IsEVMNetwork(network) {
		return strings.ToLower(txHash)
	}
	return txHash
}
