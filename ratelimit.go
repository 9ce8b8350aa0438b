package main

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"

	"github.com/galadrimteam/goodfriend-relay/internal/guard"
)

// defaultMaxClients bounds the number of tracked client addresses.
const defaultMaxClients = 100_000

// RateLimiter hands out one token bucket per client address. Buckets that
// stay unused for the idle TTL are dropped, and the least recently used bucket
// is evicted once maxClients addresses are tracked.
type RateLimiter struct {
	limit    rate.Limit
	burst    int
	limiters *ttlcache.Cache[string, *rate.Limiter]
	logger   *slog.Logger

	// OnReject, when set, observes every request turned away.
	OnReject func(r *http.Request, err error)
}

// NewRateLimiter returns nil when perSecond is not positive, which disables
// limiting.
func NewRateLimiter(perSecond float64, burst int, idle time.Duration, maxClients int, logger *slog.Logger) *RateLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	if maxClients < 1 {
		maxClients = defaultMaxClients
	}

	l := &RateLimiter{
		limit: rate.Limit(perSecond),
		burst: burst,
		limiters: ttlcache.New(
			ttlcache.WithTTL[string, *rate.Limiter](idle),
			ttlcache.WithCapacity[string, *rate.Limiter](uint64(maxClients)),
		),
		logger: logger.With("component", "rate-limiter"),
	}
	go l.limiters.Start()

	l.logger.Info("Initialized rate limiter", "limit", perSecond, "burst", burst, "idle_ttl", idle, "max_clients", maxClients)
	return l
}

func (l *RateLimiter) limiterFor(addr string) *rate.Limiter {
	item, _ := l.limiters.GetOrSet(addr, rate.NewLimiter(l.limit, l.burst))
	return item.Value()
}

// Middleware rejects requests over the limit with 429. A nil limiter lets
// everything through.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := clientAddr(r)
		res := l.limiterFor(addr).Reserve()
		if delay := res.Delay(); delay > 0 {
			// The request is not served, so hand the token back.
			res.Cancel()
			l.logger.Warn("Rate limit exceeded", "path", r.URL.Path, "remote_addr", addr)
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			if l.OnReject != nil {
				l.OnReject(r, guard.ErrRateLimited)
			}
			guard.WriteError(w, guard.ErrRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Len returns the number of client addresses currently tracked.
func (l *RateLimiter) Len() int {
	if l == nil {
		return 0
	}
	return l.limiters.Len()
}

// Close stops the expiry loop.
func (l *RateLimiter) Close() {
	if l != nil {
		l.limiters.Stop()
	}
}

// clientAddr returns the host part of RemoteAddr. Forwarding headers are only
// honoured when middleware.RealIP rewrote RemoteAddr upstream.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
