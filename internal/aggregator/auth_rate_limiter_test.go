package aggregator

import (
	"testing"
	"time"
)

func TestAuthRateLimiter_Allow(t *testing.T) {
	tests := []struct {
		name        string
		maxAttempts int
		window      time.Duration
		attempts    int
		wantAllowed int
	}{
		{
			name:        "allows up to max attempts",
			maxAttempts: 5,
			window:      time.Minute,
			attempts:    5,
			wantAllowed: 5,
		},
		{
			name:        "blocks after max attempts",
			maxAttempts: 5,
			window:      time.Minute,
			attempts:    10,
			wantAllowed: 5,
		},
		{
			name:        "single attempt allowed",
			maxAttempts: 1,
			window:      time.Minute,
			attempts:    3,
			wantAllowed: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := NewAuthRateLimiter(AuthRateLimiterConfig{
				MaxAttempts: tt.maxAttempts,
				Window:      tt.window,
			})

			allowed := 0
			for i := 0; i < tt.attempts; i++ {
				if rl.Allow("198.51.100.7") {
					allowed++
				}
			}

			if allowed != tt.wantAllowed {
				t.Errorf("Allow() allowed %d attempts, want %d", allowed, tt.wantAllowed)
			}
		})
	}
}

func TestAuthRateLimiter_RemainingAttempts(t *testing.T) {
	rl := NewAuthRateLimiter(AuthRateLimiterConfig{
		MaxAttempts: 5,
		Window:      time.Minute,
	})

	client := "198.51.100.7"

	if got := rl.RemainingAttempts(client); got != 5 {
		t.Errorf("RemainingAttempts() = %d, want 5", got)
	}

	for i := 0; i < 3; i++ {
		rl.Allow(client)
	}

	if got := rl.RemainingAttempts(client); got != 2 {
		t.Errorf("RemainingAttempts() = %d, want 2", got)
	}

	rl.Allow(client)
	rl.Allow(client)

	if got := rl.RemainingAttempts(client); got != 0 {
		t.Errorf("RemainingAttempts() = %d, want 0", got)
	}
}

func TestAuthRateLimiter_Reset(t *testing.T) {
	rl := NewAuthRateLimiter(AuthRateLimiterConfig{
		MaxAttempts: 3,
		Window:      time.Minute,
	})

	client := "198.51.100.7"

	for i := 0; i < 3; i++ {
		rl.Allow(client)
	}

	if rl.Allow(client) {
		t.Error("Allow() should return false when rate limited")
	}

	rl.Reset(client)

	if !rl.Allow(client) {
		t.Error("Allow() should return true after reset")
	}

	if got := rl.RemainingAttempts(client); got != 2 {
		t.Errorf("RemainingAttempts() = %d, want 2 after reset and one attempt", got)
	}
}

func TestAuthRateLimiter_PerClientIsolation(t *testing.T) {
	rl := NewAuthRateLimiter(AuthRateLimiterConfig{
		MaxAttempts: 2,
		Window:      time.Minute,
	})

	rl.Allow("198.51.100.7")
	rl.Allow("198.51.100.7")

	if rl.Allow("198.51.100.7") {
		t.Error("first client should be rate limited")
	}

	if !rl.Allow("203.0.113.9") {
		t.Error("second client should not be affected by the first client's limit")
	}
}

func TestAuthRateLimiter_WindowExpiry(t *testing.T) {
	rl := NewAuthRateLimiter(AuthRateLimiterConfig{
		MaxAttempts: 2,
		Window:      10 * time.Millisecond,
	})

	client := "198.51.100.7"

	rl.Allow(client)
	rl.Allow(client)
	if rl.Allow(client) {
		t.Error("client should be rate limited inside the window")
	}

	time.Sleep(20 * time.Millisecond)

	if !rl.Allow(client) {
		t.Error("client should be allowed again after the window expired")
	}
}

func TestAuthRateLimiter_Cleanup(t *testing.T) {
	rl := NewAuthRateLimiter(AuthRateLimiterConfig{
		MaxAttempts: 5,
		Window:      10 * time.Millisecond,
	})

	for i := 0; i < 3; i++ {
		rl.Allow("198.51.100.7")
	}

	time.Sleep(20 * time.Millisecond)
	rl.Cleanup()

	rl.mu.Lock()
	entries := len(rl.attempts)
	rl.mu.Unlock()
	if entries != 0 {
		t.Errorf("Cleanup() left %d entries, want 0", entries)
	}

	if got := rl.RemainingAttempts("198.51.100.7"); got != 5 {
		t.Errorf("RemainingAttempts() = %d, want 5 after cleanup", got)
	}
}

func TestAuthRateLimiter_DefaultConfig(t *testing.T) {
	config := DefaultAuthRateLimiterConfig()

	if config.MaxAttempts != 10 {
		t.Errorf("DefaultAuthRateLimiterConfig().MaxAttempts = %d, want 10", config.MaxAttempts)
	}

	if config.Window != time.Minute {
		t.Errorf("DefaultAuthRateLimiterConfig().Window = %v, want %v", config.Window, time.Minute)
	}
}

func TestNewAuthRateLimiter_InvalidConfig(t *testing.T) {
	rl := NewAuthRateLimiter(AuthRateLimiterConfig{
		MaxAttempts: -1,
		Window:      -time.Second,
	})

	if rl.maxAttempts != 10 {
		t.Errorf("maxAttempts = %d, want 10 (default)", rl.maxAttempts)
	}
	if rl.window != time.Minute {
		t.Errorf("window = %v, want %v (default)", rl.window, time.Minute)
	}
}
