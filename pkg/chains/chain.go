package chains

import (
	"context"
	"errors"
	"math/big"
)

// Design inspired by renproject/multichain, reduced to the read-only surface
// needed to verify that a settlement transaction happened.
// https://github.com/renproject/multichain

// ErrTxNotFound is returned when the chain has no record of a transaction hash
var ErrTxNotFound = errors.New("transaction not found")

// ChainReader is a read-only client for one blockchain network
type ChainReader interface {
	// Network returns the network name (e.g., "base", "solana")
	Network() string

	// ValidateTxHash checks the hash against the chain's native format without any network call
	ValidateTxHash(txHash string) error

	// ValidateAddress checks that addr is a syntactically valid account address
	ValidateAddress(addr string) error

	// NormalizeAddress returns the canonical form used as key in TxEffects
	// For EVM: EIP-55 checksum (addresses compare case-insensitively)
	// For SVM: unchanged (base58 is case-sensitive)
	NormalizeAddress(addr string) string

	// NormalizeTxHash returns the canonical form stored and looked up by the ledger
	// For EVM: lowercase hex
	// For SVM: unchanged
	NormalizeTxHash(txHash string) string

	// GetTransaction fetches a transaction and its execution effects.
	// Returns ErrTxNotFound when the chain does not know the hash.
	GetTransaction(ctx context.Context, txHash string) (*TxEffects, error)
}

// TokenKey identifies a token balance by wallet owner and mint/contract
type TokenKey struct {
	Owner string
	Mint  string
}

// TxEffects is the chain-agnostic view of an executed transaction
type TxEffects struct {
	Hash    string
	Network string

	// Signer is the fee payer (SVM) or the sender (EVM)
	Signer string

	// Failed is true when the chain reports the transaction reverted or errored
	Failed bool

	// Accounts lists every account the transaction touched, normalized
	Accounts []string

	// NativeDeltas is post minus pre balance of the native asset per account
	NativeDeltas map[string]*big.Int

	// TokenDeltas is post minus pre token balance per (owner, mint)
	TokenDeltas map[TokenKey]*big.Int
}

// NewTxEffects returns an empty TxEffects with initialized maps
func NewTxEffects(network, hash string) *TxEffects {
	return &TxEffects{
		Hash:         hash,
		Network:      network,
		NativeDeltas: make(map[string]*big.Int),
		TokenDeltas:  make(map[TokenKey]*big.Int),
	}
}

// Touches reports whether addr is among the transaction's accounts
func (e *TxEffects) Touches(addr string) bool {
	for _, a := range e.Accounts {
		if a == addr {
			return true
		}
	}
	return false
}

// AddAccount records addr as touched, once
func (e *TxEffects) AddAccount(addr string) {
	if addr == "" || e.Touches(addr) {
		return
	}
	e.Accounts = append(e.Accounts, addr)
}

// AddNativeDelta accumulates a native balance change for addr
func (e *TxEffects) AddNativeDelta(addr string, delta *big.Int) {
	e.AddAccount(addr)
	if cur, ok := e.NativeDeltas[addr]; ok {
		cur.Add(cur, delta)
		return
	}
	e.NativeDeltas[addr] = new(big.Int).Set(delta)
}

// AddTokenDelta accumulates a token balance change for (owner, mint)
func (e *TxEffects) AddTokenDelta(owner, mint string, delta *big.Int) {
	e.AddAccount(owner)
	key := TokenKey{Owner: owner, Mint: mint}
	if cur, ok := e.TokenDeltas[key]; ok {
		cur.Add(cur, delta)
		return
	}
	e.TokenDeltas[key] = new(big.Int).Set(delta)
}

// NativeDelta returns the native balance change of addr (zero when untouched)
func (e *TxEffects) NativeDelta(addr string) *big.Int {
	if d, ok := e.NativeDeltas[addr]; ok {
		return new(big.Int).Set(d)
	}
	return new(big.Int)
}

// TokenDelta returns the token balance change of (owner, mint) (zero when untouched)
func (e *TxEffects) TokenDelta(owner, mint string) *big.Int {
	if d, ok := e.TokenDeltas[TokenKey{Owner: owner, Mint: mint}]; ok {
		return new(big.Int).Set(d)
	}
	return new(big.Int)
}
