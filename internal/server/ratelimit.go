package server

import (
	"golang.org/x/time/rate"
)

// CodeTooManyRequests is sent when a connection exceeds its message rate.
const CodeTooManyRequests = 429

// connLimiter is a token bucket for one connection.
type connLimiter struct {
	limiter *rate.Limiter
	dropped int
}

func newConnLimiter(rps float64, burst int) *connLimiter {
	return &connLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// allow reports whether another message may be dispatched now.
func (l *connLimiter) allow() bool {
	if l.limiter.Allow() {
		return true
	}
	l.dropped++
	return false
}
