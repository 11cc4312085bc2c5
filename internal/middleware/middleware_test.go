package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"withdraw-backend/internal/config"
	"withdraw-backend/internal/dto"
)

const validToken = "valid-token"

var tokenUser = common.HexToAddress("0xaaaa000000000000000000000000000000000001")

type staticValidator struct{}

func (staticValidator) ValidateToken(tokenString string) (*dto.JWTClaims, error) {
	if tokenString != validToken {
		return nil, errors.New("signature is invalid")
	}
	return &dto.JWTClaims{UserAddress: tokenUser.Hex()}, nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func serve(r *gin.Engine, method, target, remoteAddr string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func echoUser(c *gin.Context) {
	user, ok := UserAddress(c)
	if !ok {
		c.String(http.StatusOK, "anonymous")
		return
	}
	c.String(http.StatusOK, user.Hex())
}

func newAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewAuthMiddleware(staticValidator{}, quietLogger()).RequireAuth())
	r.GET("/me", echoUser)
	return r
}

func TestRequireAuth(t *testing.T) {
	r := newAuthRouter()

	tests := []struct {
		name   string
		target string
		header http.Header
		status int
		code   string
	}{
		{"missing header", "/me", nil, http.StatusUnauthorized, "MISSING_AUTH_HEADER"},
		{"basic scheme", "/me", http.Header{"Authorization": {"Basic abc"}}, http.StatusUnauthorized, "INVALID_AUTH_FORMAT"},
		{"empty bearer", "/me", http.Header{"Authorization": {"Bearer   "}}, http.StatusUnauthorized, "EMPTY_TOKEN"},
		{"bad token", "/me", http.Header{"Authorization": {"Bearer nope"}}, http.StatusUnauthorized, "INVALID_TOKEN"},
		{"bearer", "/me", http.Header{"Authorization": {"Bearer " + validToken}}, http.StatusOK, ""},
		{"query token", "/me?token=" + validToken, nil, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(r, http.MethodGet, tt.target, "", tt.header)
			assert.Equal(t, tt.status, w.Code)
			if tt.code != "" {
				assert.Contains(t, w.Body.String(), `"code":"`+tt.code+`"`)
				return
			}
			assert.Equal(t, tokenUser.Hex(), w.Body.String())
		})
	}
}

func TestUserAddress_Unset(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", echoUser)

	w := serve(r, http.MethodGet, "/me", "", nil)
	assert.Equal(t, "anonymous", w.Body.String())
}

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limit, err := RateLimit("2-M")
	require.NoError(t, err)

	r := gin.New()
	r.Use(limit)
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		w := serve(r, http.MethodGet, "/ping", "10.0.0.1:5000", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}
	w := serve(r, http.MethodGet, "/ping", "10.0.0.1:5000", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "RATE_LIMITED")

	// separate bucket per client
	w = serve(r, http.MethodGet, "/ping", "10.0.0.2:5000", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit_InvalidRate(t *testing.T) {
	_, err := RateLimit("five per minute")
	assert.Error(t, err)
}

func TestLocalhostOnly(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewLocalhostOnly(quietLogger(), []string{"10.1.0.0/16", "192.168.5.5", "not-a-cidr/99"}).Restrict())
	r.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		remote string
		status int
	}{
		{"127.0.0.1:4000", http.StatusOK},
		{"[::1]:4000", http.StatusOK},
		{"10.1.200.3:4000", http.StatusOK},
		{"192.168.5.5:4000", http.StatusOK},
		{"192.168.5.6:4000", http.StatusForbidden},
		{"8.8.8.8:4000", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.remote, func(t *testing.T) {
			w := serve(r, http.MethodGet, "/metrics", tt.remote, nil)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS(config.CORSConfig{
		AllowedOrigins:   []string{"https://app.example.com"},
		AllowCredentials: true,
	}))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, http.MethodOptions, "/health", "", http.Header{"Origin": {"https://app.example.com"}})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "3600", w.Header().Get("Access-Control-Max-Age"))

	w = serve(r, http.MethodGet, "/health", "", http.Header{"Origin": {"https://evil.example.com"}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_AllowAll(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS(config.CORSConfig{MaxAge: 60}))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, http.MethodGet, "/health", "", http.Header{"Origin": {"https://anything.example"}})
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "60", w.Header().Get("Access-Control-Max-Age"))
}
