package auth

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ContextKey is a type for context keys
type ContextKey string

const (
	// SessionIDKey is the context key for the session ID
	SessionIDKey ContextKey = "session_id"
	// ClaimsKey is the context key for session token claims
	ClaimsKey ContextKey = "claims"
)

// SessionMiddleware validates the session token and adds its claims to the
// request context. The token is read from the Authorization header or, for
// WebSocket upgrades where custom headers are awkward, the token query
// parameter.
func (s *TokenService) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r)
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}
		if tokenString == "" {
			writeAuthError(w, http.StatusUnauthorized, "MissingToken", "session token required")
			return
		}

		claims, err := s.ValidateSessionToken(tokenString)
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, "InvalidToken", "invalid or expired session token")
			return
		}

		ctx := context.WithValue(r.Context(), SessionIDKey, claims.SessionID)
		ctx = context.WithValue(ctx, ClaimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OperatorGate verifies the shared operator key for debug and report
// endpoints. Only the bcrypt hash of the key is ever configured.
type OperatorGate struct {
	keyHash string
}

// NewOperatorGate builds a gate from the configured hash. An empty hash
// disables operator access entirely.
func NewOperatorGate(keyHash string) *OperatorGate {
	return &OperatorGate{keyHash: keyHash}
}

// VerifyKey checks a presented operator key against the configured hash.
func (g *OperatorGate) VerifyKey(key string) bool {
	if g.keyHash == "" || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(g.keyHash), []byte(key)) == nil
}

// RequireOperator rejects requests that do not carry a valid operator key in
// the X-Operator-Key header.
func (g *OperatorGate) RequireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.VerifyKey(r.Header.Get("X-Operator-Key")) {
			writeAuthError(w, http.StatusForbidden, "InvalidOperatorKey", "operator key required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HashOperatorKey produces the bcrypt hash to configure for an operator key.
func HashOperatorKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// GetSessionID extracts the session ID from the request context.
func GetSessionID(r *http.Request) (string, bool) {
	sessionID, ok := r.Context().Value(SessionIDKey).(string)
	return sessionID, ok
}

// GetClaims extracts the session token claims from the request context.
func GetClaims(r *http.Request) (*Claims, bool) {
	claims, ok := r.Context().Value(ClaimsKey).(*Claims)
	return claims, ok
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   code,
		"message": message,
	}); err != nil {
		log.Printf("[Auth] failed to write error response: %v", err)
	}
}
