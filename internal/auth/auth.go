// Package auth authenticates the Token API: a single shared secret
// presented as a bearer token, compared in constant time. The webhook
// endpoint is authenticated separately, by payment.Verifier signatures, and
// never passes through this middleware.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// ErrMissingToken and ErrInvalidToken distinguish an absent Authorization
// header from a present-but-wrong one, for logging only; both map to 401.
var (
	ErrMissingToken = "missing bearer token"
	ErrInvalidToken = "invalid bearer token"
)

// ExtractTokenFromHeader extracts the bearer token from the Authorization
// header, rejecting anything that isn't "Bearer <token>".
func ExtractTokenFromHeader(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", &authError{ErrMissingToken}
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", &authError{ErrInvalidToken}
	}
	return parts[1], nil
}

type authError struct{ msg string }

func (e *authError) Error() string { return e.msg }

// Middleware builds a bearer-secret auth middleware for the Token API. A
// missing or wrong token gets a 401 with the same error envelope the rest
// of the API uses.
func Middleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := ExtractTokenFromHeader(r)
			if err != nil || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": "missing or invalid bearer token",
	})
}
