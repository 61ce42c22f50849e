package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tavern/support/internal/model/chat"
)

func TestResolveValidToken(t *testing.T) {
	res := NewResolver("test-secret")
	token, err := res.Issue(chat.Identity{AccountID: "staff-7", DisplayName: "Hà"}, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	identity := res.Resolve(req)
	assert.Equal(t, "staff-7", identity.AccountID)
	assert.Equal(t, "Hà", identity.DisplayName)
}

func TestResolveQueryToken(t *testing.T) {
	res := NewResolver("test-secret")
	token, err := res.Issue(chat.Identity{AccountID: "acct-1"}, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/ws/s-1?access_token="+token, nil)
	assert.Equal(t, "acct-1", res.Resolve(req).AccountID)
}

func TestResolveDegradesToAnonymous(t *testing.T) {
	res := NewResolver("test-secret")
	other := NewResolver("other-secret")
	foreign, err := other.Issue(chat.Identity{AccountID: "x"}, time.Hour)
	require.NoError(t, err)
	expired, err := res.Issue(chat.Identity{AccountID: "x"}, -time.Minute)
	require.NoError(t, err)
	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"name": "n"}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	for name, header := range map[string]string{
		"missing":      "",
		"not bearer":   "Basic abc",
		"garbage":      "Bearer not-a-jwt",
		"wrong secret": "Bearer " + foreign,
		"expired":      "Bearer " + expired,
		"no subject":   "Bearer " + noSub,
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		assert.True(t, res.Resolve(req).Anonymous(), name)
	}
}

func TestResolveWithoutSecret(t *testing.T) {
	signer := NewResolver("s")
	token, err := signer.Issue(chat.Identity{AccountID: "a"}, time.Hour)
	require.NoError(t, err)

	_, err = NewResolver("").Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddlewareStoresIdentity(t *testing.T) {
	res := NewResolver("test-secret")
	token, err := res.Issue(chat.Identity{AccountID: "acct-9"}, time.Hour)
	require.NoError(t, err)

	var got chat.Identity
	handler := res.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "acct-9", got.AccountID)
	assert.True(t, FromContext(req.Context()).Anonymous())
}
