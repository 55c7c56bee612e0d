package svm

import (
	"fmt"
	"math/big"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/sigweihq/knowpay/pkg/chains"
)

// decodeTransaction decodes a wire-format transaction returned with base64 encoding
func decodeTransaction(data []byte) (*solana.Transaction, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty transaction payload")
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return tx, nil
}

// accountKeys returns the keys in balance-index order: static keys, then
// addresses loaded from lookup tables (writable before readonly)
func accountKeys(tx *solana.Transaction, meta *rpc.TransactionMeta) solana.PublicKeySlice {
	keys := make(solana.PublicKeySlice, 0, len(tx.Message.AccountKeys)+len(meta.LoadedAddresses.Writable)+len(meta.LoadedAddresses.ReadOnly))
	keys = append(keys, tx.Message.AccountKeys...)
	keys = append(keys, meta.LoadedAddresses.Writable...)
	keys = append(keys, meta.LoadedAddresses.ReadOnly...)
	return keys
}

// effectsFromTransaction turns a decoded transaction and its execution meta into TxEffects
func effectsFromTransaction(network, txHash string, tx *solana.Transaction, meta *rpc.TransactionMeta) (*chains.TxEffects, error) {
	if tx == nil || meta == nil {
		return nil, fmt.Errorf("missing transaction or meta")
	}
	if len(tx.Message.AccountKeys) == 0 {
		return nil, fmt.Errorf("transaction has no account keys")
	}
	if len(tx.Signatures) > 0 && tx.Signatures[0].String() != txHash {
		return nil, fmt.Errorf("signature mismatch: requested %s, got %s", txHash, tx.Signatures[0].String())
	}

	keys := accountKeys(tx, meta)
	if len(meta.PreBalances) != len(keys) || len(meta.PostBalances) != len(keys) {
		return nil, fmt.Errorf("balance count mismatch: %d keys, %d pre, %d post",
			len(keys), len(meta.PreBalances), len(meta.PostBalances))
	}

	effects := chains.NewTxEffects(network, txHash)
	effects.Signer = tx.Message.AccountKeys[0].String()
	effects.Failed = meta.Err != nil

	for i, key := range keys {
		pre := new(big.Int).SetUint64(meta.PreBalances[i])
		post := new(big.Int).SetUint64(meta.PostBalances[i])
		effects.AddNativeDelta(key.String(), post.Sub(post, pre))
	}

	if err := applyTokenBalances(effects, keys, meta.PreTokenBalances, -1); err != nil {
		return nil, err
	}
	if err := applyTokenBalances(effects, keys, meta.PostTokenBalances, 1); err != nil {
		return nil, err
	}

	return effects, nil
}

// applyTokenBalances adds (sign=1) or subtracts (sign=-1) token balances keyed by owner and mint.
// The owner falls back to the token account itself when the RPC omits it.
func applyTokenBalances(effects *chains.TxEffects, keys solana.PublicKeySlice, balances []rpc.TokenBalance, sign int64) error {
	for _, balance := range balances {
		if int(balance.AccountIndex) >= len(keys) {
			return fmt.Errorf("token balance account index %d out of range", balance.AccountIndex)
		}
		if balance.UiTokenAmount == nil {
			return fmt.Errorf("token balance at index %d has no amount", balance.AccountIndex)
		}

		amount, ok := new(big.Int).SetString(balance.UiTokenAmount.Amount, 10)
		if !ok {
			return fmt.Errorf("invalid token amount %q", balance.UiTokenAmount.Amount)
		}

		owner := keys[balance.AccountIndex].String()
		if balance.Owner != nil {
			owner = balance.Owner.String()
		}

		effects.AddTokenDelta(owner, balance.Mint.String(), amount.Mul(amount, big.NewInt(sign)))
	}
	return nil
}
