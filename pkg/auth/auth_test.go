package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetops/armada/pkg/auth"
)

func tokenServer(t *testing.T, status int, calls *atomic.Int32) *httptest.Server {
	t.Helper()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"aud":   "api://backend",
		"appid": "integration-tests",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test"))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/tenant/oauth2/v2.0/token", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "api://backend/.default", r.PostForm.Get("scope"))

		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": signed,
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestConfig_TokenURL(t *testing.T) {
	cfg := auth.Config{TenantID: "tenant", Audience: "backend"}
	assert.Equal(t, "https://login.microsoftonline.com/tenant/oauth2/v2.0/token", cfg.TokenURL())
	assert.Equal(t, "api://backend/.default", cfg.Scope())

	cfg.Authority = "http://localhost:8080/"
	assert.Equal(t, "http://localhost:8080/tenant/oauth2/v2.0/token", cfg.TokenURL())
}

func TestAuthenticator_TokenIsCached(t *testing.T) {
	var calls atomic.Int32
	srv := tokenServer(t, http.StatusOK, &calls)

	a := auth.New(auth.Config{
		Authority:    srv.URL,
		TenantID:     "tenant",
		ClientID:     "client",
		ClientSecret: "secret",
		Audience:     "backend",
	}, nil)

	first, err := a.Token(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	second, err := a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAuthenticator_LogsClaimsOncePerToken(t *testing.T) {
	var calls atomic.Int32
	srv := tokenServer(t, http.StatusOK, &calls)

	var buf bytes.Buffer
	logger := hclog.New(&hclog.LoggerOptions{Output: &buf, Level: hclog.Debug})
	a := auth.New(auth.Config{
		Authority:    srv.URL,
		TenantID:     "tenant",
		ClientID:     "client",
		ClientSecret: "secret",
		Audience:     "backend",
	}, logger)

	for i := 0; i < 3; i++ {
		_, err := a.Token(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, strings.Count(buf.String(), "acquired access token"))
	assert.Contains(t, buf.String(), "appid=integration-tests")
	assert.Equal(t, int32(1), calls.Load())
}

func TestAuthenticator_CancelledContext(t *testing.T) {
	var calls atomic.Int32
	srv := tokenServer(t, http.StatusOK, &calls)
	a := auth.New(auth.Config{Authority: srv.URL, TenantID: "tenant", Audience: "backend"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Token(ctx)
	assert.ErrorIs(t, err, auth.ErrTokenAcquisition)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls.Load())
}

func TestAuthenticator_Failure(t *testing.T) {
	var calls atomic.Int32
	srv := tokenServer(t, http.StatusUnauthorized, &calls)

	a := auth.New(auth.Config{
		Authority:    srv.URL,
		TenantID:     "tenant",
		ClientID:     "client",
		ClientSecret: "wrong",
		Audience:     "backend",
	}, nil)

	_, err := a.Token(context.Background())
	assert.ErrorIs(t, err, auth.ErrTokenAcquisition)
}

func TestStatic(t *testing.T) {
	token, err := auth.Static("abc").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", token)
}
