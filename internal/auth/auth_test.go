package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accordo-ai/accordo/internal/auth"
)

func TestJWTIssueAndValidate(t *testing.T) {
	mgr, err := auth.NewJWTManager("test-secret", time.Hour)
	require.NoError(t, err)

	token, expiresAt, err := mgr.IssueToken("procurement-orchestrator")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "procurement-orchestrator", claims.Caller)
	assert.Equal(t, "procurement-orchestrator", claims.Subject)
	assert.Equal(t, "accordo", claims.Issuer)
}

func TestEphemeralSecret(t *testing.T) {
	mgr, err := auth.NewJWTManager("", time.Hour)
	require.NoError(t, err)

	token, _, err := mgr.IssueToken("dev")
	require.NoError(t, err)

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "dev", claims.Caller)

	// A second manager has a different ephemeral secret.
	other, err := auth.NewJWTManager("", time.Hour)
	require.NoError(t, err)
	_, err = other.ValidateToken(token)
	assert.Error(t, err)
}

// forgeToken signs a JWT with the given secret and claims.
func forgeToken(t *testing.T, secret string, claims jwt.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestValidateToken_WrongIssuer(t *testing.T) {
	mgr, err := auth.NewJWTManager("test-secret", time.Hour)
	require.NoError(t, err)

	now := time.Now().UTC()
	token := forgeToken(t, "test-secret", &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "someone",
			Issuer:    "not-accordo",
			Audience:  jwt.ClaimStrings{"accordo"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			ID:        uuid.New().String(),
		},
		Caller: "someone",
	})

	_, err = mgr.ValidateToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid issuer")
}

func TestValidateToken_WrongSecret(t *testing.T) {
	mgr, err := auth.NewJWTManager("test-secret", time.Hour)
	require.NoError(t, err)

	now := time.Now().UTC()
	token := forgeToken(t, "other-secret", &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "someone",
			Issuer:    "accordo",
			Audience:  jwt.ClaimStrings{"accordo"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			ID:        uuid.New().String(),
		},
		Caller: "someone",
	})

	_, err = mgr.ValidateToken(token)
	require.Error(t, err)
}

func TestValidateToken_Expired(t *testing.T) {
	mgr, err := auth.NewJWTManager("test-secret", time.Hour)
	require.NoError(t, err)

	now := time.Now().UTC()
	token := forgeToken(t, "test-secret", &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "someone",
			Issuer:    "accordo",
			Audience:  jwt.ClaimStrings{"accordo"},
			IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
			ID:        uuid.New().String(),
		},
		Caller: "someone",
	})

	_, err = mgr.ValidateToken(token)
	require.Error(t, err)
}
