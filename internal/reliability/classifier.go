package reliability

import (
	"time"

	"github.com/gorilla/websocket"
)

// IsPermanentCloseCode reports websocket close codes that must not be
// retried: policy violations, unsupported payloads, and closes that carry
// no status at all.
func IsPermanentCloseCode(code int) bool {
	switch code {
	case websocket.ClosePolicyViolation, websocket.CloseUnsupportedData, websocket.CloseNoStatusReceived:
		return true
	default:
		return false
	}
}

// IsRetryableUpstreamCode classifies retryable upstream realtime error codes.
func IsRetryableUpstreamCode(code string) bool {
	switch code {
	case "rate_limit_exceeded", "server_error", "session_expired", "overloaded":
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
// Attempt 0 returns base; each further attempt doubles up to cap.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
