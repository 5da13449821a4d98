package admission

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGate_AllowsWithinBurst(t *testing.T) {
	g := NewGate(60, 3)

	for i := 0; i < 3; i++ {
		ok, _ := g.Allow("10.0.0.1:1234")
		if !ok {
			t.Fatalf("request %d rejected, want admitted", i)
		}
	}
}

func TestGate_RejectsBeyondBurst(t *testing.T) {
	g := NewGate(1, 2) // 1/min sustained, burst 2

	g.Allow("10.0.0.1:1234")
	g.Allow("10.0.0.1:1234")

	ok, retryAfter := g.Allow("10.0.0.1:1234")
	if ok {
		t.Fatal("third burst request admitted, want rejected")
	}
	if retryAfter <= 0 {
		t.Errorf("retryAfter = %v, want positive", retryAfter)
	}
}

func TestGate_BucketsPerIP(t *testing.T) {
	g := NewGate(1, 1)

	if ok, _ := g.Allow("10.0.0.1:1234"); !ok {
		t.Fatal("first IP rejected")
	}
	if ok, _ := g.Allow("10.0.0.1:9999"); ok {
		t.Fatal("same IP on a different port got a fresh bucket")
	}
	if ok, _ := g.Allow("10.0.0.2:1234"); !ok {
		t.Fatal("second IP rejected, want its own bucket")
	}
}

func TestGate_DisabledAdmitsEverything(t *testing.T) {
	g := NewGate(0, 0)

	for i := 0; i < 100; i++ {
		if ok, _ := g.Allow("10.0.0.1:1234"); !ok {
			t.Fatal("disabled gate rejected a request")
		}
	}
}

func TestMiddleware_SetsRetryAfter(t *testing.T) {
	g := NewGate(1, 1)
	handler := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRequest("POST", "/api/voice/ask", nil)
	first.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, first)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec.Code)
	}

	second := httptest.NewRequest("POST", "/api/voice/ask", nil)
	second.RemoteAddr = "10.0.0.1:1234"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, second)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header not set on 429 response")
	}
}
