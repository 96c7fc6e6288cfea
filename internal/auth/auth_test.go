package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractTokenFromHeader(t *testing.T) {
	t.Run("missing header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if _, err := ExtractTokenFromHeader(r); err == nil {
			t.Fatal("expected error for missing header")
		}
	})

	t.Run("malformed header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "sometoken")
		if _, err := ExtractTokenFromHeader(r); err == nil {
			t.Fatal("expected error for malformed header")
		}
	})

	t.Run("valid bearer header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer abc123")
		token, err := ExtractTokenFromHeader(r)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if token != "abc123" {
			t.Fatalf("expected token 'abc123', got %q", token)
		}
	})
}

func TestMiddleware_RejectsWrongOrMissingSecret(t *testing.T) {
	mw := Middleware("correct-secret")
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong secret", "Bearer wrong-secret", http.StatusUnauthorized},
		{"correct secret", "Bearer correct-secret", http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/v1/users/1/balance", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)
			if w.Code != tc.want {
				t.Fatalf("expected status %d, got %d", tc.want, w.Code)
			}
		})
	}
}
