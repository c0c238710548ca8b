package realtime

import "time"

// maxBackoffExponent bounds the doubling so the delay cannot overflow.
const maxBackoffExponent = 6

// BackoffDelay returns min(max, base*2^min(attempt, 6)) without jitter.
func BackoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxBackoffExponent {
		attempt = maxBackoffExponent
	}
	delay := base << uint(attempt)
	if delay <= 0 || delay > max {
		return max
	}
	return delay
}
