package main

import (
	"sync"
	"time"

	"github.com/cuemby/jstorage/pkg/config"
	"github.com/cuemby/jstorage/pkg/jserr"
	"github.com/cuemby/jstorage/pkg/metrics"
	"github.com/cuemby/jstorage/pkg/ratelimit"
)

// requestGate is the admission check handed to the external request layer:
// it resolves a caller's token through the UserDirectory and charges the
// caller's per-user rate limiter. Storage-internal calls never pass
// through it.
type requestGate struct {
	users  UserDirectory
	clock  config.Clock
	window time.Duration
	bucket int

	mu       sync.Mutex
	limiters map[string]*ratelimit.Limiter
}

func newRequestGate(users UserDirectory, clock config.Clock, window time.Duration, buckets int) *requestGate {
	return &requestGate{
		users:    users,
		clock:    clock,
		window:   window,
		bucket:   buckets,
		limiters: make(map[string]*ratelimit.Limiter),
	}
}

// Admit authenticates token and consumes one rate-limit bucket for the
// resolved user. On an exhausted bucket it returns NotReady carrying the
// epoch-millis at which the bucket refills, so the request layer can map
// it to a retry-after response.
func (g *requestGate) Admit(token string) (string, error) {
	user, err := g.users.ByToken(token)
	if err != nil {
		return "", err
	}
	limiter := g.limiterFor(user)
	if !limiter.Take() {
		metrics.RateLimitRejectionsTotal.WithLabelValues(user).Inc()
		return "", jserr.New(jserr.NotReady, "rate limit exceeded for user %s, refill at %d", user, limiter.GetRefillTime())
	}
	return user, nil
}

func (g *requestGate) limiterFor(user string) *ratelimit.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.limiters[user]
	if !ok {
		l = ratelimit.New(g.clock, g.window, g.bucket)
		g.limiters[user] = l
	}
	return l
}
