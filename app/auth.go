package livechat

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/shopdesk/livechat/core"
	"github.com/shopdesk/livechat/pkg/router"
)

type identityKey struct{}

func contextWithIdentity(ctx context.Context, id core.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func identityFromContext(ctx context.Context) (core.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(core.Identity)
	return id, ok
}

// IdentityFromRequest extracts the identity from the request context.
// It must be called in handlers that are protected by BearerMiddleware.
// It panics if the identity is not found in the request context.
func IdentityFromRequest(r *http.Request) core.Identity {
	id, ok := identityFromContext(r.Context())
	if !ok {
		panic("identity not found in request context: call this function in handlers that are protected by BearerMiddleware")
	}
	return id
}

// tokenFromRequest extracts the bearer token from the handshake: the
// Authorization header is preferred, the token query parameter is the fallback
// for browser websocket clients that cannot set headers.
func tokenFromRequest(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// BearerMiddleware validates the bearer token on the request and attaches the
// resolved identity to the request context. Requests with a missing token and
// requests with an invalid or expired one are rejected with distinct messages,
// before any other handler runs.
func BearerMiddleware(v core.TokenValidator) router.Middleware {

	return func(next http.Handler) router.HandlerFunc {

		return router.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
			ctx := r.Context()

			token := tokenFromRequest(r)
			if token == "" {
				return router.NewJsonError(http.StatusUnauthorized, core.ErrTokenMissing.Error())
			}

			id, err := v.Validate(ctx, token)
			if err != nil {
				if errors.Is(err, core.ErrTokenExpired) ||
					errors.Is(err, core.ErrTokenInvalid) ||
					errors.Is(err, core.ErrTokenRevoked) ||
					errors.Is(err, core.ErrUnrecognizedToken) {
					return router.NewJsonError(http.StatusUnauthorized, err.Error())
				}
				return err
			}

			next.ServeHTTP(w, r.WithContext(contextWithIdentity(ctx, *id)))

			return nil
		})
	}
}
