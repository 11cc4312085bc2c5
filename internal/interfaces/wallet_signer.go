package interfaces

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// WalletSigner signing provider holding the users' wallet keys.
// Implemented by the remote custody client and the local keystore; kept here to
// avoid a cycle between clients and services.
type WalletSigner interface {
	// SignTypedData returns a 65-byte EIP-712 signature (r || s || v).
	SignTypedData(ctx context.Context, account common.Address, typedData apitypes.TypedData) ([]byte, error)
	// SignTx signs tx for chainID with account's key.
	SignTx(ctx context.Context, account common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}
