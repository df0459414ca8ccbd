package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	visitorIdleTimeout = 5 * time.Minute
	visitorSweepPeriod = time.Minute
)

// IPRateLimiter keeps a token bucket per client IP.
type IPRateLimiter struct {
	visitors sync.Map
	rps      rate.Limit
	burst    int
	logger   *logrus.Logger
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// NewIPRateLimiter starts a sweeper that drops idle visitors until ctx is done.
func NewIPRateLimiter(ctx context.Context, rps float64, burst int, logger *logrus.Logger) *IPRateLimiter {
	l := &IPRateLimiter{
		rps:    rate.Limit(rps),
		burst:  burst,
		logger: logger,
	}
	go l.cleanupVisitors(ctx)
	return l
}

func (l *IPRateLimiter) getLimiter(ip string) *rate.Limiter {
	now := time.Now().UnixNano()
	if v, ok := l.visitors.Load(ip); ok {
		vi := v.(*visitor)
		vi.lastSeen.Store(now)
		return vi.limiter
	}

	vi := &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
	vi.lastSeen.Store(now)
	actual, _ := l.visitors.LoadOrStore(ip, vi)
	return actual.(*visitor).limiter
}

func (l *IPRateLimiter) cleanupVisitors(ctx context.Context) {
	ticker := time.NewTicker(visitorSweepPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-visitorIdleTimeout).UnixNano()
			l.visitors.Range(func(k, v interface{}) bool {
				if v.(*visitor).lastSeen.Load() < cutoff {
					l.visitors.Delete(k)
				}
				return true
			})
		}
	}
}

func (l *IPRateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !l.getLimiter(ip).Allow() {
			l.logger.WithFields(logrus.Fields{
				"ip":   ip,
				"path": r.URL.Path,
			}).Warn("Rate limit exceeded")
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests, please try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	if r.RemoteAddr == "" {
		return "unknown"
	}
	return r.RemoteAddr
}
