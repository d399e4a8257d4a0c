package aggregator

import (
	"sync"
	"time"

	"mcphub/pkg/logging"
)

// AuthRateLimiter throttles bearer authentication attempts per client
// address, so a misbehaving client cannot brute-force the hub key.
//
// Rate limiting uses a sliding window: each client gets at most maxAttempts
// attempts within the window, tracked independently per address. A
// successful authentication resets the client's counter.
type AuthRateLimiter struct {
	mu sync.Mutex

	maxAttempts int
	window      time.Duration

	// attempts maps a client address to its attempt timestamps within the
	// current window.
	attempts  map[string][]time.Time
	lastSweep time.Time
}

// AuthRateLimiterConfig holds configuration for the rate limiter.
type AuthRateLimiterConfig struct {
	// MaxAttempts is the maximum number of attempts per client within the
	// window. Default: 10.
	MaxAttempts int

	// Window is the sliding window length. Default: 1 minute.
	Window time.Duration
}

// DefaultAuthRateLimiterConfig returns the default rate limiter configuration.
func DefaultAuthRateLimiterConfig() AuthRateLimiterConfig {
	return AuthRateLimiterConfig{
		MaxAttempts: 10,
		Window:      time.Minute,
	}
}

// NewAuthRateLimiter creates a rate limiter with the given configuration.
// Non-positive values fall back to the defaults.
func NewAuthRateLimiter(config AuthRateLimiterConfig) *AuthRateLimiter {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 10
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}

	return &AuthRateLimiter{
		maxAttempts: config.MaxAttempts,
		window:      config.Window,
		attempts:    make(map[string][]time.Time),
		lastSweep:   time.Now(),
	}
}

// Allow checks whether an authentication attempt from client is permitted.
// If allowed, the attempt is recorded and true is returned. If rate limited,
// false is returned and the attempt is not recorded.
func (rl *AuthRateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastSweep) > rl.window {
		rl.sweepLocked(now)
	}

	windowStart := now.Add(-rl.window)
	var recent []time.Time
	for _, t := range rl.attempts[client] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= rl.maxAttempts {
		rl.attempts[client] = recent
		logging.Warn("AuthRateLimiter", "Rate limit exceeded for client %s (%d attempts in %v)",
			client, len(recent), rl.window)
		return false
	}

	rl.attempts[client] = append(recent, now)
	return true
}

// RemainingAttempts returns how many attempts client has left in the window.
func (rl *AuthRateLimiter) RemainingAttempts(client string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	windowStart := time.Now().Add(-rl.window)
	count := 0
	for _, t := range rl.attempts[client] {
		if t.After(windowStart) {
			count++
		}
	}

	if count >= rl.maxAttempts {
		return 0
	}
	return rl.maxAttempts - count
}

// Reset clears the counter for client. Called after a successful
// authentication so steady legitimate traffic never accumulates attempts.
func (rl *AuthRateLimiter) Reset(client string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, client)
}

// Window returns the sliding window length. The edge uses it for the
// Retry-After header on rate-limited responses.
func (rl *AuthRateLimiter) Window() time.Duration {
	return rl.window
}

// Cleanup drops clients whose attempts have all aged out of the window.
// Allow triggers it lazily, at most once per window, so the map cannot grow
// unbounded without a dedicated janitor goroutine.
func (rl *AuthRateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.sweepLocked(time.Now())
}

func (rl *AuthRateLimiter) sweepLocked(now time.Time) {
	windowStart := now.Add(-rl.window)
	for client, attempts := range rl.attempts {
		var recent []time.Time
		for _, t := range attempts {
			if t.After(windowStart) {
				recent = append(recent, t)
			}
		}

		if len(recent) == 0 {
			delete(rl.attempts, client)
		} else {
			rl.attempts[client] = recent
		}
	}
	rl.lastSweep = now
}
