package api

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/treygoff24/scenestream/internal/auth"
)

const (
	rateLimitExceededJSON = `{"error":"Rate limit exceeded","message":"Too many requests. Please try again later.","retry_after":%d}`
)

// RateLimitMiddleware creates an IP-keyed rate limiting middleware.
func RateLimitMiddleware(limit int, window time.Duration) func(http.Handler) http.Handler {
	store := memory.NewStore()
	rate := limiter.Rate{
		Period: window,
		Limit:  int64(limit),
	}
	instance := limiter.New(store, rate)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !checkLimit(instance, getClientIP(r), w, r) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SessionRateLimitMiddleware creates a rate limiting middleware keyed by the
// authenticated session. Requests without a session fall back to IP keying.
func SessionRateLimitMiddleware(limit int, window time.Duration) func(http.Handler) http.Handler {
	store := memory.NewStore()
	rate := limiter.Rate{
		Period: window,
		Limit:  int64(limit),
	}
	instance := limiter.New(store, rate)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := getClientIP(r)
			if sessionID, ok := auth.GetSessionID(r); ok {
				key = "session:" + sessionID
			}
			if !checkLimit(instance, key, w, r) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// checkLimit consumes one token for key, writes rate headers, and reports
// whether the request may proceed. A limiter failure allows the request
// through rather than taking the service down with it.
func checkLimit(instance *limiter.Limiter, key string, w http.ResponseWriter, r *http.Request) bool {
	context, err := instance.Get(r.Context(), key)
	if err != nil {
		log.Printf("[API] rate limiter error: %v", err)
		return true
	}

	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(context.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(context.Remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(context.Reset, 10))

	if !context.Reached {
		return true
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	retryAfter := int(time.Until(time.Unix(context.Reset, 0)).Seconds())
	if retryAfter < 0 {
		retryAfter = 0
	}
	if _, err := fmt.Fprintf(w, rateLimitExceededJSON, retryAfter); err != nil {
		log.Printf("[API] error writing rate limit response: %v", err)
	}
	return false
}

// getClientIP extracts the client IP address from the request, honoring
// proxy headers.
func getClientIP(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		return forwarded
	}
	realIP := r.Header.Get("X-Real-IP")
	if realIP != "" {
		return realIP
	}

	ip := r.RemoteAddr
	for i := len(ip) - 1; i >= 0; i-- {
		if ip[i] == ':' {
			return ip[:i]
		}
	}
	return ip
}
