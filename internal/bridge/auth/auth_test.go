package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenFromHeader(t *testing.T) {
	assert.Equal(t, "abc123", TokenFromHeader("Bearer abc123"))
	assert.Equal(t, "", TokenFromHeader("abc123"))
	assert.Equal(t, "", TokenFromHeader(""))
	assert.Equal(t, "", TokenFromHeader("Basic abc123"))
}

func TestAuthenticator_Equal(t *testing.T) {
	a := New("correct-token", false)
	assert.True(t, a.Equal("correct-token"))
	assert.False(t, a.Equal("wrong-token"))
	assert.False(t, a.Equal(""))
	assert.False(t, a.Equal("correct-token-but-longer"))
}

func TestAuthenticate_BearerHeader(t *testing.T) {
	a := New("secret", false)
	req := httptest.NewRequest(http.MethodGet, "/rpc", nil)
	req.Header.Set("Authorization", "Bearer secret")
	assert.True(t, a.Authenticate(req))
}

func TestAuthenticate_WrongBearerHeaderRejected(t *testing.T) {
	a := New("secret", false)
	req := httptest.NewRequest(http.MethodGet, "/rpc", nil)
	req.Header.Set("Authorization", "Bearer nope")
	assert.False(t, a.Authenticate(req))
}

func TestAuthenticate_QueryTokenDisabledByDefault(t *testing.T) {
	a := New("secret", false)
	req := httptest.NewRequest(http.MethodGet, "/rpc?token=secret", nil)
	assert.False(t, a.Authenticate(req))
}

func TestAuthenticate_QueryTokenAllowedWhenEnabled(t *testing.T) {
	a := New("secret", true)
	req := httptest.NewRequest(http.MethodGet, "/rpc?token=secret", nil)
	assert.True(t, a.Authenticate(req))
}

func TestAuthenticate_HeaderTakesPrecedenceOverQuery(t *testing.T) {
	a := New("secret", true)
	req := httptest.NewRequest(http.MethodGet, "/rpc?token=wrong", nil)
	req.Header.Set("Authorization", "Bearer secret")
	assert.True(t, a.Authenticate(req))
}

func TestAuthenticate_NoTokenPresentRejected(t *testing.T) {
	a := New("secret", true)
	req := httptest.NewRequest(http.MethodGet, "/rpc", nil)
	assert.False(t, a.Authenticate(req))
}
