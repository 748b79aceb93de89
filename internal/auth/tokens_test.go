package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/treygoff24/scenestream/internal/config"
)

func newTestService(expiry time.Duration) *TokenService {
	return NewTokenService(&config.Config{
		Auth: config.AuthConfig{
			JWTSecret:     "test-secret-not-for-production",
			JWTExpiration: expiry,
		},
	})
}

func TestSessionTokenRoundTrip(t *testing.T) {
	svc := newTestService(time.Hour)

	sessionID, err := NewSessionID()
	if err != nil {
		t.Fatalf("failed to generate session id: %v", err)
	}
	if !strings.HasPrefix(sessionID, "sess_") {
		t.Fatalf("unexpected session id format: %s", sessionID)
	}

	token, err := svc.IssueSessionToken(sessionID, true, "library")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	claims, err := svc.ValidateSessionToken(token)
	if err != nil {
		t.Fatalf("failed to validate token: %v", err)
	}
	if claims.SessionID != sessionID {
		t.Fatalf("expected session id %s, got %s", sessionID, claims.SessionID)
	}
	if !claims.Mobile {
		t.Fatalf("mobile flag lost in round trip")
	}
	if claims.Room != "library" {
		t.Fatalf("expected room claim library, got %q", claims.Room)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	svc := newTestService(-time.Minute)

	token, err := svc.IssueSessionToken("sess_expired", false, "")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	if _, err := svc.ValidateSessionToken(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestTokenSignedWithDifferentSecretRejected(t *testing.T) {
	issuer := newTestService(time.Hour)
	validator := NewTokenService(&config.Config{
		Auth: config.AuthConfig{
			JWTSecret:     "a-different-secret",
			JWTExpiration: time.Hour,
		},
	})

	token, err := issuer.IssueSessionToken("sess_abc", false, "")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	if _, err := validator.ValidateSessionToken(token); err == nil {
		t.Fatalf("expected token with wrong signature to be rejected")
	}
}

func TestGarbageTokenRejected(t *testing.T) {
	svc := newTestService(time.Hour)
	if _, err := svc.ValidateSessionToken("not.a.jwt"); err == nil {
		t.Fatalf("expected garbage token to be rejected")
	}
}

func TestSessionMiddleware(t *testing.T) {
	svc := newTestService(time.Hour)
	token, err := svc.IssueSessionToken("sess_mw", false, "")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	var gotSession string
	handler := svc.SessionMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSession, _ = GetSessionID(r)
		w.WriteHeader(http.StatusOK)
	}))

	// Bearer header path.
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || gotSession != "sess_mw" {
		t.Fatalf("bearer auth failed: status=%d session=%s", rec.Code, gotSession)
	}

	// Query parameter path used by WebSocket clients.
	gotSession = ""
	req = httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || gotSession != "sess_mw" {
		t.Fatalf("query token auth failed: status=%d session=%s", rec.Code, gotSession)
	}

	// Missing token.
	req = httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestOperatorGate(t *testing.T) {
	hash, err := HashOperatorKey("correct horse battery staple")
	if err != nil {
		t.Fatalf("failed to hash key: %v", err)
	}
	gate := NewOperatorGate(hash)

	if !gate.VerifyKey("correct horse battery staple") {
		t.Fatalf("expected configured key to verify")
	}
	if gate.VerifyKey("wrong key") {
		t.Fatalf("wrong key must not verify")
	}
	if NewOperatorGate("").VerifyKey("anything") {
		t.Fatalf("empty hash must disable operator access")
	}

	handler := gate.RequireOperator(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/debug/report", nil)
	req.Header.Set("X-Operator-Key", "correct horse battery staple")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected operator access, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/debug/report", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without key, got %d", rec.Code)
	}
}
