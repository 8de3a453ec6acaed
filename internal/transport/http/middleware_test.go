package http

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestIPLimiters_SweepsIdleBuckets(t *testing.T) {
	l := newIPLimiters(1, 1)
	start := time.Now()

	l.allow("10.0.0.1", start)
	l.allow("10.0.0.2", start.Add(limiterIdleTTL))

	l.mu.Lock()
	l.sweepLocked(start.Add(limiterIdleTTL + time.Second))
	_, stale := l.buckets["10.0.0.1"]
	_, fresh := l.buckets["10.0.0.2"]
	l.mu.Unlock()

	if stale {
		t.Error("idle bucket survived sweep")
	}
	if !fresh {
		t.Error("recent bucket was swept")
	}
}

func TestIPLimiters_PerClientBudget(t *testing.T) {
	l := newIPLimiters(0.001, 1)
	now := time.Now()

	if !l.allow("a", now) {
		t.Fatal("first request from a rejected")
	}
	if l.allow("a", now) {
		t.Error("second request from a allowed past burst")
	}
	if !l.allow("b", now) {
		t.Error("b shares a's bucket")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		xff    string
		remote string
		want   string
	}{
		{"remote only", "", "192.0.2.1:5000", "192.0.2.1"},
		{"forwarded first hop", "203.0.113.7, 10.0.0.1", "192.0.2.1:5000", "203.0.113.7"},
		{"forwarded garbage", "not-an-ip", "192.0.2.1:5000", "192.0.2.1"},
		{"no port", "", "192.0.2.9", "192.0.2.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/health", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := clientIP(r); got != tt.want {
				t.Errorf("clientIP: want %q, got %q", tt.want, got)
			}
		})
	}
}
