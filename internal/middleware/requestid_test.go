package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func runRequestID(t *testing.T, inbound string) (seen string, rec *httptest.ResponseRecorder) {
	t.Helper()
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if inbound != "" {
		req.Header.Set("X-Request-ID", inbound)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return seen, rec
}

func TestRequestIDGeneratedWhenAbsent(t *testing.T) {
	seen, rec := runRequestID(t, "")
	if seen == "" {
		t.Fatal("no request id in context")
	}
	if got := rec.Header().Get("X-Request-ID"); got != seen {
		t.Fatalf("response header %q != context id %q", got, seen)
	}
}

func TestRequestIDReusesCleanInboundValue(t *testing.T) {
	seen, rec := runRequestID(t, "upstream-id_01.a")
	if seen != "upstream-id_01.a" {
		t.Fatalf("context id = %q, want inbound value", seen)
	}
	if got := rec.Header().Get("X-Request-ID"); got != seen {
		t.Fatalf("response header %q != %q", got, seen)
	}
}

func TestRequestIDReplacesUnsafeInboundValue(t *testing.T) {
	for _, bad := range []string{
		"has space",
		"new\nline",
		strings.Repeat("x", 65),
	} {
		seen, _ := runRequestID(t, bad)
		if seen == bad || seen == "" {
			t.Fatalf("unsafe inbound id %q was kept as %q", bad, seen)
		}
	}
}
