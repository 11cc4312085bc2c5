package dto

import "github.com/ethereum/go-ethereum/signer/core/apitypes"

// ==================== Wallet signer DTOs ====================

// SignTypedDataRequest EIP-712 signing request for the custody signer
type SignTypedDataRequest struct {
	Address   string             `json:"address"`
	ChainID   int64              `json:"chain_id"`
	TypedData apitypes.TypedData `json:"typed_data"`
}

// SignHashRequest raw digest signing request (transactions)
type SignHashRequest struct {
	Address string `json:"address"`
	ChainID int64  `json:"chain_id"`
	Data    string `json:"data"` // digest to sign (hex)
}

// SignResponse custody signer response
type SignResponse struct {
	Success   bool   `json:"success"`
	Signature string `json:"signature,omitempty"` // hex, 65 bytes
	Error     string `json:"error,omitempty"`
}
