package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenMissing      = NewInsensitiveError("missing authentication token")
	ErrTokenExpired      = NewInsensitiveError("token expired")
	ErrTokenInvalid      = NewInsensitiveError("token invalid")
	ErrTokenRevoked      = NewInsensitiveError("token revoked")
	ErrUnrecognizedToken = errors.New("unrecognized token")
)

// Identity is the result of validating a bearer token. It is attached to the
// connection at accept time and never re-resolved for the connection's lifetime.
type Identity struct {
	UserID      string `json:"user_id"`
	Role        Role   `json:"role"`
	DisplayName string `json:"display_name"`
}

// TokenValidator resolves an opaque bearer token to an identity. The chat core
// treats token issuance as an external concern; it only consumes this interface.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*Identity, error)
}

// RevocationStore is a durable list of tokens that were invalidated before
// their natural expiry (sign-out, compromised credentials).
type RevocationStore interface {
	Revoke(ctx context.Context, token string) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}

type AuthClaims struct {
	Role        Role   `json:"role"`
	DisplayName string `json:"display_name"`
	jwt.RegisteredClaims
}

// NewToken signs a token for the given identity. The chat server itself never
// issues tokens in production; this exists for tooling and tests.
func NewToken(id Identity, expiration time.Duration, secret []byte) (string, time.Time, error) {
	exp := time.Now().Add(expiration)
	claims := &AuthClaims{
		Role:        id.Role,
		DisplayName: id.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			ExpiresAt: jwt.NewNumericDate(exp),
			Issuer:    "livechat",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(secret)
	return signed, exp, err
}

// JWTValidator validates HS256 signed bearer tokens against a shared secret
// and an optional revocation list.
type JWTValidator struct {
	secret      []byte
	revocations RevocationStore
}

func NewJWTValidator(secret []byte, revocations RevocationStore) *JWTValidator {
	return &JWTValidator{secret: secret, revocations: revocations}
}

func (v *JWTValidator) Validate(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrTokenMissing
	}

	claims := &AuthClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))

	switch {
	case parsed != nil && parsed.Valid:
	case errors.Is(err, jwt.ErrTokenMalformed):
		return nil, ErrTokenInvalid
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, ErrTokenInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	default:
		return nil, ErrUnrecognizedToken
	}

	if claims.Subject == "" {
		return nil, ErrTokenInvalid
	}

	if v.revocations != nil {
		revoked, err := v.revocations.IsRevoked(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("checking revocation list: %w", err)
		}
		if revoked {
			return nil, ErrTokenRevoked
		}
	}

	role := claims.Role
	if role == "" {
		role = RoleCustomer
	}

	return &Identity{
		UserID:      claims.Subject,
		Role:        role,
		DisplayName: claims.DisplayName,
	}, nil
}
