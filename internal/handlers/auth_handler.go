package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"withdraw-backend/internal/config"
	"withdraw-backend/internal/dto"
)

// nonces expire if not used for login within this window
const nonceTTL = 5 * time.Minute

var nonceInMessage = regexp.MustCompile(`Nonce: ([0-9a-f]{32})`)

// AuthHandler wallet login: the user signs a one-time challenge and gets a JWT
type AuthHandler struct {
	secret []byte
	ttl    time.Duration
	issuer string
	logger *logrus.Logger
	now    func() time.Time

	mu     sync.Mutex
	nonces map[string]time.Time // nonce -> expiry
}

// NewAuthHandler creates the login handler
func NewAuthHandler(cfg config.AuthConfig, logger *logrus.Logger) *AuthHandler {
	ttl := 24 * time.Hour
	if cfg.TokenTTL > 0 {
		ttl = time.Duration(cfg.TokenTTL) * time.Hour
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = "withdraw-backend"
	}
	return &AuthHandler{
		secret: []byte(cfg.JWTSecret),
		ttl:    ttl,
		issuer: issuer,
		logger: logger,
		now:    time.Now,
		nonces: make(map[string]time.Time),
	}
}

// GenerateNonceHandler issues a login challenge
// POST /api/v1/auth/nonce
func (h *AuthHandler) GenerateNonceHandler(c *gin.Context) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		h.logger.WithError(err).Error("failed to generate nonce")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "failed to generate nonce",
		})
		return
	}

	nonce := hex.EncodeToString(raw)
	now := h.now()

	h.mu.Lock()
	h.pruneLocked(now)
	h.nonces[nonce] = now.Add(nonceTTL)
	h.mu.Unlock()

	c.JSON(http.StatusOK, dto.NonceResponse{
		Success:   true,
		Nonce:     nonce,
		Message:   ChallengeMessage(nonce, now.Unix()),
		Timestamp: now.Unix(),
	})
}

// ChallengeMessage text the wallet signs for login
func ChallengeMessage(nonce string, timestamp int64) string {
	return fmt.Sprintf("Withdrawal Authentication\nNonce: %s\nTimestamp: %d", nonce, timestamp)
}

// AuthenticateHandler verifies the signed challenge and returns a JWT
// POST /api/v1/auth/login
func (h *AuthHandler) AuthenticateHandler(c *gin.Context) {
	var req dto.AuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.AuthResponse{
			Success: false,
			Message: fmt.Sprintf("invalid request: %v", err),
		})
		return
	}

	if !common.IsHexAddress(req.UserAddress) {
		c.JSON(http.StatusBadRequest, dto.AuthResponse{Success: false, Message: "invalid user address"})
		return
	}
	user := common.HexToAddress(req.UserAddress)

	if err := h.consumeNonce(req.Message); err != nil {
		c.JSON(http.StatusUnauthorized, dto.AuthResponse{Success: false, Message: err.Error()})
		return
	}

	signer, err := RecoverPersonalSign(req.Message, req.Signature)
	if err != nil || signer != user {
		h.logger.WithFields(logrus.Fields{
			"user":      user.Hex(),
			"recovered": signer.Hex(),
		}).Warn("login signature rejected")
		c.JSON(http.StatusUnauthorized, dto.AuthResponse{Success: false, Message: "signature verification failed"})
		return
	}

	token, expiresAt, err := h.GenerateToken(user)
	if err != nil {
		h.logger.WithError(err).Error("failed to sign JWT")
		c.JSON(http.StatusInternalServerError, dto.AuthResponse{Success: false, Message: "failed to issue token"})
		return
	}

	h.logger.WithField("user", user.Hex()).Info("user authenticated")
	c.JSON(http.StatusOK, dto.AuthResponse{
		Success:   true,
		Token:     token,
		ExpiresAt: expiresAt.Unix(),
		Message:   "success",
	})
}

func (h *AuthHandler) consumeNonce(message string) error {
	match := nonceInMessage.FindStringSubmatch(message)
	if match == nil {
		return errors.New("message carries no nonce")
	}

	now := h.now()
	h.mu.Lock()
	defer h.mu.Unlock()
	expiry, ok := h.nonces[match[1]]
	if !ok {
		return errors.New("unknown or already used nonce")
	}
	delete(h.nonces, match[1])
	if now.After(expiry) {
		return errors.New("nonce expired")
	}
	return nil
}

// pruneLocked drops expired nonces; h.mu must be held.
func (h *AuthHandler) pruneLocked(now time.Time) {
	for nonce, expiry := range h.nonces {
		if now.After(expiry) {
			delete(h.nonces, nonce)
		}
	}
}

// RecoverPersonalSign address that produced an EIP-191 personal_sign signature
func RecoverPersonalSign(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(strings.TrimSpace(signature))
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// GenerateToken signs a JWT for user
func (h *AuthHandler) GenerateToken(user common.Address) (string, time.Time, error) {
	now := h.now()
	expiresAt := now.Add(h.ttl)
	claims := dto.JWTClaims{
		UserAddress: user.Hex(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    h.issuer,
			Subject:   user.Hex(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(h.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken parses and verifies tokenString
func (h *AuthHandler) ValidateToken(tokenString string) (*dto.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &dto.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return h.secret, nil
	}, jwt.WithIssuer(h.issuer))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*dto.JWTClaims)
	if !ok || !token.Valid || !common.IsHexAddress(claims.UserAddress) {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
