package relay

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRateLimiterRefill(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := newRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	for i, want := range []bool{true, true, false} {
		if got := rl.allow("a"); got != want {
			t.Errorf("call %d: got %v, want %v", i, got, want)
		}
	}
	if !rl.allow("b") {
		t.Error("other client limited")
	}
	now = now.Add(30 * time.Second)
	if !rl.allow("a") {
		t.Error("token not refilled after window/n")
	}
	if rl.allow("a") {
		t.Error("refill exceeded one token")
	}
}

func TestInjectRateLimited(t *testing.T) {
	hub := NewHub()
	srv := NewServer(hub, "test", WithInjectLimit(1, time.Hour))
	ts := httptest.NewServer(srv)
	defer func() {
		hub.Close()
		ts.Close()
	}()

	post := func() *http.Response {
		resp, err := http.Post(ts.URL+"/sessions/s1/messages", "application/json", strings.NewReader(`{"name":"host"}`))
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		resp.Body.Close()
		return resp
	}
	if resp := post(); resp.StatusCode != http.StatusNotFound {
		t.Errorf("first: got %d, want 404", resp.StatusCode)
	}
	resp := post()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second: got %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") != "3600" {
		t.Errorf("Retry-After: got %q, want 3600", resp.Header.Get("Retry-After"))
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}
