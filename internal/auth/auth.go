// Package auth provides JWT-based authentication for the Accordo API.
//
// Tokens are HS256-signed with a shared secret. If no secret is configured an
// ephemeral one is generated, which is fine for development and useless in
// production (tokens die with the process).
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims extends jwt.RegisteredClaims with Accordo-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	// Caller is the orchestration-layer service or operator identity the
	// token was issued to.
	Caller string `json:"caller"`
}

const issuer = "accordo"

// JWTManager handles JWT creation and validation using HS256.
type JWTManager struct {
	secret     []byte
	expiration time.Duration
}

// NewJWTManager creates a JWTManager from a shared secret. An empty secret
// generates an ephemeral one (for development).
func NewJWTManager(secret string, expiration time.Duration) (*JWTManager, error) {
	if secret == "" {
		slog.Warn("auth: no JWT secret configured, generating ephemeral secret (not for production)")
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("auth: generate secret: %w", err)
		}
		secret = hex.EncodeToString(buf)
	}
	return &JWTManager{secret: []byte(secret), expiration: expiration}, nil
}

// IssueToken creates a signed JWT for the given caller identity.
func (m *JWTManager) IssueToken(caller string) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(m.expiration)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{issuer},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		Caller: caller,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (m *JWTManager) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return m.secret, nil
		},
		jwt.WithAudience(issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: validate token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}

	if claims.Issuer != issuer {
		return nil, fmt.Errorf("auth: invalid issuer: %s", claims.Issuer)
	}

	return claims, nil
}
