package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAuthJWTRoundTrip(t *testing.T) {
	secret := "test-secret"
	token, err := SignJWT(secret, "user-42", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	var gotUser string
	handler := AuthJWT(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/queue/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if gotUser != "user-42" {
		t.Fatalf("user id = %q", gotUser)
	}
}

func TestAuthJWTRejectsBadTokens(t *testing.T) {
	secret := "test-secret"
	expired, err := SignJWT(secret, "user-42", -time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	wrongKey, err := SignJWT("other-secret", "user-42", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	cases := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"malformed scheme", "Token abc"},
		{"garbage", "Bearer not.a.jwt"},
		{"expired", "Bearer " + expired},
		{"wrong key", "Bearer " + wrongKey},
	}

	handler := AuthJWT(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler reached with invalid auth")
	}))

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/v1/queue/stats", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status = %d, want 401", tc.name, rec.Code)
		}
	}
}
