package services

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// KeyManagementService local keystore signer for development and tests.
// Production deployments use the remote custody signer.
type KeyManagementService struct {
	mu   sync.RWMutex
	keys map[common.Address]*ecdsa.PrivateKey
}

// NewKeyManagementService loads hex private keys (with or without 0x).
func NewKeyManagementService(hexKeys []string) (*KeyManagementService, error) {
	k := &KeyManagementService{keys: make(map[common.Address]*ecdsa.PrivateKey)}
	for i, hexKey := range hexKeys {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid private key #%d: %w", i, err)
		}
		k.Add(key)
	}
	return k, nil
}

// Add registers key and returns its address.
func (k *KeyManagementService) Add(key *ecdsa.PrivateKey) common.Address {
	address := crypto.PubkeyToAddress(key.PublicKey)
	k.mu.Lock()
	k.keys[address] = key
	k.mu.Unlock()
	return address
}

// Addresses managed accounts, sorted
func (k *KeyManagementService) Addresses() []common.Address {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]common.Address, 0, len(k.keys))
	for address := range k.keys {
		out = append(out, address)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hex() < out[j].Hex() })
	return out
}

func (k *KeyManagementService) key(account common.Address) (*ecdsa.PrivateKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.keys[account]
	if !ok {
		return nil, fmt.Errorf("no key for account %s", account.Hex())
	}
	return key, nil
}

// SignTypedData EIP-712 signature with v in {27, 28}
func (k *KeyManagementService) SignTypedData(ctx context.Context, account common.Address, typedData apitypes.TypedData) ([]byte, error) {
	key, err := k.key(account)
	if err != nil {
		return nil, err
	}
	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// SignTx signs tx with account's key
func (k *KeyManagementService) SignTx(ctx context.Context, account common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	key, err := k.key(account)
	if err != nil {
		return nil, err
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
}
