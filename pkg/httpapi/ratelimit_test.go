package httpapi

import (
	"net/http"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestRateLimitMiddleware(t *testing.T) {
	// Burst of 2 at one request per minute
	s := setupServer(t, nil, 1)

	for i := 0; i < 2; i++ {
		if w := get(s, "/history"); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, w.Code)
		}
	}

	w := get(s, "/history")
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}

	// Health stays outside the limit
	if w := get(s, "/health"); w.Code != http.StatusOK {
		t.Errorf("health status = %d", w.Code)
	}
}

func TestRateLimiterPerClient(t *testing.T) {
	rl := NewRateLimiter(rate.Every(time.Hour), 1, time.Minute)
	now := time.Now()

	if !rl.getLimiter("10.0.0.1", now).Allow() {
		t.Fatal("first request should pass")
	}
	if rl.getLimiter("10.0.0.1", now).Allow() {
		t.Error("second request from the same client should be limited")
	}
	if !rl.getLimiter("10.0.0.2", now).Allow() {
		t.Error("another client has its own budget")
	}
}

func TestRateLimiterEvictsIdle(t *testing.T) {
	rl := NewRateLimiter(rate.Every(time.Second), 1, time.Minute)
	start := time.Now()

	rl.getLimiter("10.0.0.1", start)
	rl.getLimiter("10.0.0.2", start.Add(30*time.Second))
	if rl.Len() != 2 {
		t.Fatalf("len = %d, want 2", rl.Len())
	}

	// A new client past the ttl of the first one evicts it
	rl.getLimiter("10.0.0.3", start.Add(90*time.Second))
	if rl.Len() != 2 {
		t.Errorf("len = %d, want 2 after eviction", rl.Len())
	}
}
