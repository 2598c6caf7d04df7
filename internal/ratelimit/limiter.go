// Package ratelimit implements fixed-window request limiting backed by the
// shared cache. Two counters guard every request: one scoped to the matched
// endpoint prefix, one global per client. Cache failure is fail-open by
// design; availability wins over strict enforcement.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/oneirolab/dreamgate/internal/cms"
	"github.com/oneirolab/dreamgate/internal/telemetry"
)

// GlobalScope is the literal scope used for the per-client global counter.
const GlobalScope = "global"

// Rule binds an endpoint prefix to a window configuration.
type Rule struct {
	Prefix string
	Window time.Duration
	Max    int
}

// Config controls limiter behavior. TrustedHeaders is the ordered list of
// proxy headers consulted for the client identifier.
type Config struct {
	Default        Rule
	Global         Rule
	Rules          []Rule
	TrustedHeaders []string
}

// Decision is the outcome of one limiter check.
type Decision struct {
	Allowed    bool
	Scope      string
	RetryAfter time.Duration
}

type counter struct {
	Count     int   `json:"count"`
	ResetTime int64 `json:"reset_time"`
}

// Limiter enforces the two-counter fixed-window policy.
type Limiter struct {
	cache  cms.Cache
	cfg    Config
	clock  cms.Clock
	logger *zap.Logger
}

// New constructs a Limiter. Rules are sorted longest-prefix-first so lookup
// can take the first match.
func New(cache cms.Cache, cfg Config, clock cms.Clock, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	rules := append([]Rule(nil), cfg.Rules...)
	sort.Slice(rules, func(i, j int) bool { return len(rules[i].Prefix) > len(rules[j].Prefix) })
	cfg.Rules = rules
	if cfg.Global.Window <= 0 {
		cfg.Global = Rule{Window: cfg.Default.Window, Max: cfg.Default.Max}
	}
	return &Limiter{
		cache:  cache,
		cfg:    cfg,
		clock:  clock,
		logger: logger,
	}
}

// RuleFor returns the window configuration for a path: the longest
// configured prefix that matches, or the default.
func (l *Limiter) RuleFor(path string) Rule {
	for _, r := range l.cfg.Rules {
		if strings.HasPrefix(path, r.Prefix) {
			return r
		}
	}
	return l.cfg.Default
}

// ClientID derives the client identifier from the first trusted header
// carrying a value, falling back to "unknown".
func (l *Limiter) ClientID(r *http.Request) string {
	for _, h := range l.cfg.TrustedHeaders {
		v := r.Header.Get(h)
		if v == "" {
			continue
		}
		if strings.EqualFold(h, "X-Forwarded-For") {
			if idx := strings.Index(v, ","); idx >= 0 {
				v = v[:idx]
			}
		}
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return "unknown"
}

// Check runs both counters for the request. The request is allowed only if
// the endpoint and global checks both pass. RetryAfter on rejection is the
// endpoint window length.
func (l *Limiter) Check(ctx context.Context, clientID, path string) Decision {
	rule := l.RuleFor(path)

	endpointScope := rule.Prefix
	if endpointScope == "" {
		endpointScope = "default"
	}
	if !l.checkScope(ctx, clientID, endpointScope, rule.Window, rule.Max) {
		telemetry.ObserveRateLimit(endpointScope, false)
		return Decision{Scope: endpointScope, RetryAfter: rule.Window}
	}
	if !l.checkScope(ctx, clientID, GlobalScope, l.cfg.Global.Window, l.cfg.Global.Max) {
		telemetry.ObserveRateLimit(GlobalScope, false)
		return Decision{Scope: GlobalScope, RetryAfter: rule.Window}
	}
	telemetry.ObserveRateLimit(endpointScope, true)
	return Decision{Allowed: true, Scope: endpointScope}
}

// checkScope applies the fixed-window algorithm to one counter key. Any
// cache error allows the request.
func (l *Limiter) checkScope(ctx context.Context, clientID, scope string, window time.Duration, max int) bool {
	key := fmt.Sprintf("ratelimit:%s:%s", clientID, scope)
	now := l.clock.Now()

	var c counter
	err := l.cache.GetJSON(ctx, key, &c)
	switch {
	case errors.Is(err, cms.ErrCacheMiss):
		l.writeCounter(ctx, key, counter{Count: 1, ResetTime: now.Add(window).UnixMilli()}, window)
		return true
	case err != nil:
		l.logger.Warn("rate limit read failed, allowing request", zap.String("key", key), zap.Error(err))
		return true
	}

	if now.UnixMilli() > c.ResetTime {
		// Window rollover: start a fresh window counting this request.
		l.writeCounter(ctx, key, counter{Count: 1, ResetTime: now.Add(window).UnixMilli()}, window)
		return true
	}
	if c.Count >= max {
		return false
	}
	c.Count++
	remaining := time.Duration(c.ResetTime-now.UnixMilli()) * time.Millisecond
	l.writeCounter(ctx, key, c, remaining)
	return true
}

func (l *Limiter) writeCounter(ctx context.Context, key string, c counter, ttl time.Duration) {
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := l.cache.SetJSON(ctx, key, c, ttl); err != nil {
		l.logger.Warn("rate limit write failed, allowing request", zap.String("key", key), zap.Error(err))
	}
}
