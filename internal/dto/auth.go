package dto

import "github.com/golang-jwt/jwt/v5"

// ==================== Auth DTOs ====================

// NonceResponse login challenge the wallet signs with personal_sign
type NonceResponse struct {
	Success   bool   `json:"success"`
	Nonce     string `json:"nonce"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// AuthRequest Authentication request structure
type AuthRequest struct {
	UserAddress string `json:"user_address" binding:"required"` // user wallet address
	Message     string `json:"message" binding:"required"`      // challenge returned by the nonce endpoint
	Signature   string `json:"signature" binding:"required"`    // 0x-prefixed personal_sign signature
}

// AuthResponse Authentication response structure
type AuthResponse struct {
	Success   bool   `json:"success"`
	Token     string `json:"token,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
	Message   string `json:"message"`
}

// JWTClaims JWT Claims structure
type JWTClaims struct {
	UserAddress string `json:"user_address"` // checksummed wallet address
	jwt.RegisteredClaims
}
