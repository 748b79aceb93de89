package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/treygoff24/scenestream/internal/config"
)

const tokenIssuer = "scenestream-server"

// Claims is the session token payload. Viewers are anonymous; the token binds
// a browser tab to its server-side session state, nothing more.
type Claims struct {
	jwt.RegisteredClaims

	SessionID string `json:"session_id"`
	Mobile    bool   `json:"mobile"`
	Room      string `json:"room,omitempty"`
}

// TokenService issues and validates session tokens.
type TokenService struct {
	secret []byte
	expiry time.Duration
}

// NewTokenService creates a token service from configuration.
func NewTokenService(cfg *config.Config) *TokenService {
	return &TokenService{
		secret: []byte(cfg.Auth.JWTSecret),
		expiry: cfg.Auth.JWTExpiration,
	}
}

// IssueSessionToken generates a signed token for a new viewer session. room,
// when non-empty, is the starting room the viewer asked for; it travels in
// the claims so the WebSocket upgrade can honor it without a second request.
func (s *TokenService) IssueSessionToken(sessionID string, mobile bool, room string) (string, error) {
	now := time.Now()

	tokenID, err := generateTokenID()
	if err != nil {
		return "", fmt.Errorf("failed to generate token ID: %w", err)
	}

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   sessionID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        tokenID,
		},
		SessionID: sessionID,
		Mobile:    mobile,
		Room:      room,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateSessionToken validates a token and returns its claims.
func (s *TokenService) ValidateSessionToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.Issuer != tokenIssuer {
		return nil, errors.New("invalid token issuer")
	}
	if claims.SessionID == "" {
		return nil, errors.New("token missing session id")
	}
	return claims, nil
}

// TokenExpiry returns how long issued tokens remain valid.
func (s *TokenService) TokenExpiry() time.Duration {
	return s.expiry
}

// NewSessionID generates a random session identifier.
func NewSessionID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return "sess_" + hex.EncodeToString(bytes), nil
}

// generateTokenID generates a unique token ID
func generateTokenID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
