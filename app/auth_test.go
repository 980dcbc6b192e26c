package livechat

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopdesk/livechat/core"
	"github.com/shopdesk/livechat/pkg/router"
)

var testSecret = []byte("test-secret")

func newAuthTestServer(t *testing.T) (*httptest.Server, *core.Identity) {
	var seen core.Identity

	r := router.New()
	r.Use(BearerMiddleware(core.NewJWTValidator(testSecret, nil)))
	r.Get("/me", func(w http.ResponseWriter, req *http.Request) error {
		seen = IdentityFromRequest(req)
		w.WriteHeader(http.StatusOK)
		return nil
	})

	server := httptest.NewServer(r.Router)
	t.Cleanup(server.Close)
	return server, &seen
}

func TestBearerMiddleware(t *testing.T) {
	id := core.Identity{UserID: "user-1", Role: core.RoleAgent, DisplayName: "Sam"}

	t.Run("valid header token", func(t *testing.T) {
		server, seen := newAuthTestServer(t)
		token, _, err := core.NewToken(id, time.Hour, testSecret)
		require.NoError(t, err)

		req, _ := http.NewRequest(http.MethodGet, server.URL+"/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer res.Body.Close()

		assert.Equal(t, http.StatusOK, res.StatusCode)
		assert.Equal(t, id, *seen)
	})

	t.Run("query token fallback", func(t *testing.T) {
		server, seen := newAuthTestServer(t)
		token, _, err := core.NewToken(id, time.Hour, testSecret)
		require.NoError(t, err)

		res, err := http.Get(server.URL + "/me?token=" + token)
		require.NoError(t, err)
		defer res.Body.Close()

		assert.Equal(t, http.StatusOK, res.StatusCode)
		assert.Equal(t, id.UserID, seen.UserID)
	})

	t.Run("missing token", func(t *testing.T) {
		server, _ := newAuthTestServer(t)

		res, err := http.Get(server.URL + "/me")
		require.NoError(t, err)
		defer res.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

		var body router.JsonError
		require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
		assert.Equal(t, core.ErrTokenMissing.Error(), body.Err)
	})

	t.Run("expired token", func(t *testing.T) {
		server, _ := newAuthTestServer(t)
		token, _, err := core.NewToken(id, -time.Minute, testSecret)
		require.NoError(t, err)

		req, _ := http.NewRequest(http.MethodGet, server.URL+"/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer res.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

		var body router.JsonError
		require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
		assert.Equal(t, core.ErrTokenExpired.Error(), body.Err)
	})

	t.Run("not yet valid token", func(t *testing.T) {
		server, _ := newAuthTestServer(t)

		claims := &core.AuthClaims{
			Role: id.Role,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   id.UserID,
				NotBefore: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(2 * time.Hour)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
		require.NoError(t, err)

		req, _ := http.NewRequest(http.MethodGet, server.URL+"/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer res.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

		var body router.JsonError
		require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
		assert.Equal(t, core.ErrUnrecognizedToken.Error(), body.Err)
	})

	t.Run("garbage token", func(t *testing.T) {
		server, _ := newAuthTestServer(t)

		req, _ := http.NewRequest(http.MethodGet, server.URL+"/me", nil)
		req.Header.Set("Authorization", "Bearer garbage")
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer res.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	})
}

func TestTokenFromRequest(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "/ws?token=from-query", nil)
	assert.Equal(t, "from-query", tokenFromRequest(req))

	req.Header.Set("Authorization", "Bearer from-header")
	assert.Equal(t, "from-header", tokenFromRequest(req))

	req, _ = http.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, tokenFromRequest(req))
}
