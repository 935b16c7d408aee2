package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	domainerrors "github.com/aegisops/aegis-soc-backend/internal/domain/errors"
)

// Claims are the verified contents of a platform access token. Tenant
// scoping for every repository call originates here.
type Claims struct {
	TenantID    string   `json:"tenant_id"`
	TenantTier  string   `json:"tenant_tier"`
	Subject     string   `json:"sub"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// HasPermission reports whether the token carries the named permission.
func (c *Claims) HasPermission(p string) bool {
	for _, have := range c.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// Verifier validates bearer tokens. Error values are typed by failure kind
// and never echo token material.
type Verifier struct {
	secret []byte
}

// NewVerifier creates an HMAC verifier.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a token, returning its claims.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, domainerrors.NewAuthError(domainerrors.AuthErrorMalformed)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithLeeway(30*time.Second))

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, domainerrors.NewAuthError(domainerrors.AuthErrorExpired)
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, domainerrors.NewAuthError(domainerrors.AuthErrorMalformed)
		default:
			return nil, domainerrors.NewAuthError(domainerrors.AuthErrorInvalid)
		}
	}
	if !token.Valid {
		return nil, domainerrors.NewAuthError(domainerrors.AuthErrorInvalid)
	}
	if claims.TenantID == "" {
		return nil, domainerrors.NewAuthError(domainerrors.AuthErrorInvalid)
	}
	return claims, nil
}

// Issue mints a token for the claims. Used by tests and the dev CLI; the
// production issuer lives in the identity service.
func (v *Verifier) Issue(claims *Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
