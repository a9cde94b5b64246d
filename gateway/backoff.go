package gateway

import "time"

// backoff sequence per spec.md §4.8: base 200ms, factor 2, capped at 5s.
// Matches the concrete scenario in spec.md §8 S5: 400, 800, 1600, 3200,
// 5000ms for five consecutive attempts (attempt index is 1-based, and the
// first computed delay is base*factor = 400ms, not the bare 200ms base).
const (
	backoffBase   = 200 * time.Millisecond
	backoffFactor = 2
	backoffCap    = 5 * time.Second
	// MaxReconnectAttempts bounds how many consecutive reconnects
	// Connection.Run will attempt before giving up permanently.
	MaxReconnectAttempts = 5
)

// reconnectDelay returns the backoff delay before reconnect attempt n
// (1-based).
func reconnectDelay(attempt int) time.Duration {
	delay := backoffBase
	for i := 0; i < attempt; i++ {
		delay *= backoffFactor
		if delay >= backoffCap {
			return backoffCap
		}
	}
	return delay
}
