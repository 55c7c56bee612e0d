package chains

import (
	"sort"
	"sync"

	"github.com/sigweihq/knowpay/pkg/constants"
)

// Registry manages chain readers for different blockchain networks
type Registry struct {
	readers map[string]ChainReader
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		readers: make(map[string]ChainReader),
	}
}

// Register registers a chain reader (uses reader.Network() as key)
// If a reader already exists for the network, it will be replaced (idempotent)
func (r *Registry) Register(reader ChainReader) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.readers[reader.Network()] = reader
}

// Get retrieves a chain reader by network name
func (r *Registry) Get(network string) (ChainReader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reader, exists := r.readers[network]
	if !exists {
		return nil, &UnsupportedNetworkError{Network: network}
	}

	return reader, nil
}

// GetSupportedNetworks returns a sorted list of all registered networks
func (r *Registry) GetSupportedNetworks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	networks := make([]string, 0, len(r.readers))
	for network := range r.readers {
		networks = append(networks, network)
	}
	sort.Strings(networks)
	return networks
}

// IsSupported checks if a network is supported
func (r *Registry) IsSupported(network string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.readers[network]
	return exists
}

// Unregister removes a chain reader (useful for testing)
func (r *Registry) Unregister(network string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.readers, network)
}

// IsEVMNetwork reports whether the network has a chain ID mapping
func IsEVMNetwork(network string) bool {
	_, ok := constants.NetworkToChainID[network]
	return ok
}

// IsSVMNetwork reports whether the network is a Solana cluster
func IsSVMNetwork(network string) bool {
	return network == constants.NetworkSolana || network == constants.NetworkSolanaDevnet
}

// IsKnownNetwork reports whether the network belongs to a supported family
func IsKnownNetwork(network string) bool {
	return IsEVMNetwork(network) || IsSVMNetwork(network)
}

// Chain families share address formats, so a wallet is stored once per family
const (
	FamilySVM = "svm"
	FamilyEVM = "evm"
)

// Family returns the chain family of network, or "" when unknown
func Family(network string) string {
	switch {
	case IsSVMNetwork(network):
		return FamilySVM
	case IsEVMNetwork(network):
		return FamilyEVM
	}
	return ""
}
