// Package authtoken issues and validates the bearer tokens agents present
// as agent_auth on POST /pay, adapted from the gateway's batch
// RPC token manager.
package authtoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers any parse, signature, or expiry failure.
var ErrInvalidToken = errors.New("authtoken: invalid or expired token")

// Claims identifies the agent and its owning organization to the
// facilitator. The facilitator accepts any token that validates; it does
// not compare AgentID against agent_wallet or the wallet on file
// (store.Agent.Wallet).
type Claims struct {
	jwt.RegisteredClaims
	AgentID string `json:"aid"`
	OrgID   string `json:"oid"`
}

// Manager issues and verifies HS256 JWTs scoped to one agent.
type Manager struct {
	secret []byte
	expiry time.Duration
}

// NewManager creates a Manager with the given HMAC secret and token
// lifetime.
func NewManager(secret []byte, expiry time.Duration) *Manager {
	return &Manager{secret: secret, expiry: expiry}
}

// Issue signs a token scoped to agentID/orgID.
func (m *Manager) Issue(agentID, orgID string) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   agentID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
		},
		AgentID: agentID,
		OrgID:   orgID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("authtoken: signing: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies tokenString, returning its claims.
func (m *Manager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
