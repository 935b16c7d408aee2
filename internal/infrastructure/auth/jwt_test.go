package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/aegisops/aegis-soc-backend/internal/domain/errors"
)

func TestVerifyRoundTrip(t *testing.T) {
	v := NewVerifier("test-secret")

	token, err := v.Issue(&Claims{
		TenantID:    "tenant-a",
		TenantTier:  "premium",
		Subject:     "analyst-1",
		Permissions: []string{"evidence:read"},
	}, time.Hour)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", claims.TenantID)
	assert.Equal(t, "premium", claims.TenantTier)
	assert.True(t, claims.HasPermission("evidence:read"))
	assert.False(t, claims.HasPermission("evidence:write"))
}

func TestVerifyExpiredToken(t *testing.T) {
	v := NewVerifier("test-secret")
	token, err := v.Issue(&Claims{TenantID: "tenant-a"}, -2*time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	var authErr *domainerrors.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, domainerrors.AuthErrorExpired, authErr.Kind)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := NewVerifier("secret-one").Issue(&Claims{TenantID: "tenant-a"}, time.Hour)
	require.NoError(t, err)

	_, err = NewVerifier("secret-two").Verify(token)
	var authErr *domainerrors.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, domainerrors.AuthErrorInvalid, authErr.Kind)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	v := NewVerifier("test-secret")

	for _, input := range []string{"", "not-a-token", "a.b"} {
		_, err := v.Verify(input)
		var authErr *domainerrors.AuthError
		require.ErrorAs(t, err, &authErr, "input %q", input)
		assert.Equal(t, domainerrors.AuthErrorMalformed, authErr.Kind)
	}
}

func TestVerifyRequiresTenant(t *testing.T) {
	v := NewVerifier("test-secret")
	token, err := v.Issue(&Claims{Subject: "no-tenant"}, time.Hour)
	require.NoError(t, err)

	_, err = v.Verify(token)
	var authErr *domainerrors.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, domainerrors.AuthErrorInvalid, authErr.Kind)
}
