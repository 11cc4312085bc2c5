package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"withdraw-backend/internal/config"
	"withdraw-backend/internal/dto"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newAuthRouter(h *AuthHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/auth/nonce", h.GenerateNonceHandler)
	r.POST("/auth/login", h.AuthenticateHandler)
	return r
}

func postJSON(r http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func requestNonce(t *testing.T, r http.Handler) dto.NonceResponse {
	t.Helper()
	w := postJSON(r, "/auth/nonce", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.NonceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func personalSign(t *testing.T, message string) (string, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)
	sig[64] += 27
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), hexutil.Encode(sig)
}

func TestAuthHandler_Login(t *testing.T) {
	h := NewAuthHandler(config.AuthConfig{JWTSecret: "test-secret"}, quietLogger())
	r := newAuthRouter(h)

	nonce := requestNonce(t, r)
	assert.Len(t, nonce.Nonce, 32)
	assert.Contains(t, nonce.Message, nonce.Nonce)

	user, sig := personalSign(t, nonce.Message)
	w := postJSON(r, "/auth/login", dto.AuthRequest{UserAddress: user, Message: nonce.Message, Signature: sig})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp dto.AuthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)

	claims, err := h.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, user, claims.UserAddress)

	// the nonce is single use
	w = postJSON(r, "/auth/login", dto.AuthRequest{UserAddress: user, Message: nonce.Message, Signature: sig})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandler_LoginWrongSigner(t *testing.T) {
	h := NewAuthHandler(config.AuthConfig{JWTSecret: "test-secret"}, quietLogger())
	r := newAuthRouter(h)

	nonce := requestNonce(t, r)
	_, sig := personalSign(t, nonce.Message)
	other, _ := personalSign(t, nonce.Message)

	w := postJSON(r, "/auth/login", dto.AuthRequest{UserAddress: other, Message: nonce.Message, Signature: sig})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandler_LoginExpiredNonce(t *testing.T) {
	h := NewAuthHandler(config.AuthConfig{JWTSecret: "test-secret"}, quietLogger())
	r := newAuthRouter(h)

	nonce := requestNonce(t, r)
	h.now = func() time.Time { return time.Now().Add(nonceTTL + time.Minute) }

	user, sig := personalSign(t, nonce.Message)
	w := postJSON(r, "/auth/login", dto.AuthRequest{UserAddress: user, Message: nonce.Message, Signature: sig})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "nonce expired")
}

func TestAuthHandler_LoginBadRequest(t *testing.T) {
	h := NewAuthHandler(config.AuthConfig{JWTSecret: "test-secret"}, quietLogger())
	r := newAuthRouter(h)

	w := postJSON(r, "/auth/login", map[string]string{"userAddress": "0x1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(r, "/auth/login", dto.AuthRequest{UserAddress: "not-hex", Message: "m", Signature: "0x00"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthHandler_ValidateToken(t *testing.T) {
	h := NewAuthHandler(config.AuthConfig{JWTSecret: "test-secret", Issuer: "a"}, quietLogger())
	other := NewAuthHandler(config.AuthConfig{JWTSecret: "test-secret", Issuer: "b"}, quietLogger())
	user, _ := personalSign(t, "x")

	token, expiresAt, err := h.GenerateToken(common.HexToAddress(user))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), expiresAt, time.Minute)

	_, err = other.ValidateToken(token)
	assert.Error(t, err)

	_, err = h.ValidateToken(token + "x")
	assert.Error(t, err)
}
