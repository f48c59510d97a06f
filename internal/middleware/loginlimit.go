package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/opsdash/dashboard-server/internal/audit"
	apperrors "github.com/opsdash/dashboard-server/internal/errors"
	"github.com/opsdash/dashboard-server/internal/httputil"
	"github.com/opsdash/dashboard-server/internal/messages"
	"github.com/opsdash/dashboard-server/internal/sessionctx"
)

const loginCleanupPeriod = 5 * time.Minute

// LoginLimiter decides whether another login attempt from key is allowed.
type LoginLimiter interface {
	Allow(ctx context.Context, key string) (allowed bool, resetAt time.Time)
}

type loginAttempt struct {
	count       int
	windowStart time.Time
}

// MemoryLoginLimiter is a fixed-window limiter for a single process.
type MemoryLoginLimiter struct {
	mu          sync.Mutex
	attempts    map[string]*loginAttempt
	maxAttempts int
	window      time.Duration
	lastCleanup time.Time
	now         func() time.Time
}

func NewMemoryLoginLimiter(maxAttempts int, window time.Duration) *MemoryLoginLimiter {
	return &MemoryLoginLimiter{
		attempts:    make(map[string]*loginAttempt),
		maxAttempts: maxAttempts,
		window:      window,
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

func (l *MemoryLoginLimiter) cleanup(now time.Time) {
	if now.Sub(l.lastCleanup) < loginCleanupPeriod {
		return
	}
	l.lastCleanup = now

	for key, attempt := range l.attempts {
		if now.Sub(attempt.windowStart) > l.window {
			delete(l.attempts, key)
		}
	}
}

func (l *MemoryLoginLimiter) Allow(ctx context.Context, key string) (bool, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.cleanup(now)

	attempt, exists := l.attempts[key]
	if !exists || now.Sub(attempt.windowStart) > l.window {
		l.attempts[key] = &loginAttempt{count: 1, windowStart: now}
		return true, now.Add(l.window)
	}

	resetAt := attempt.windowStart.Add(l.window)
	if attempt.count >= l.maxAttempts {
		return false, resetAt
	}

	attempt.count++
	return true, resetAt
}

// Limiter key prefixes. Attempts are counted per client address and, once the
// body is decoded, per submitted username.
const (
	loginKeyIP      = "ip:"
	loginKeyAccount = "user:"
)

type LoginLimitMiddleware struct {
	limiter   LoginLimiter
	extractor *sessionctx.Extractor
}

func NewLoginLimitMiddleware(limiter LoginLimiter, extractor *sessionctx.Extractor) *LoginLimitMiddleware {
	return &LoginLimitMiddleware{limiter: limiter, extractor: extractor}
}

func (m *LoginLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc := m.extractor.Capture(r)

		allowed, resetAt := m.limiter.Allow(r.Context(), loginKeyIP+sc.ClientIP)
		if !allowed {
			m.reject(w, r, sc, resetAt, "")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// AllowAccount counts an attempt against username. When the budget is spent
// it writes the 429 response and returns false.
func (m *LoginLimitMiddleware) AllowAccount(w http.ResponseWriter, r *http.Request, username string) bool {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return true
	}

	allowed, resetAt := m.limiter.Allow(r.Context(), loginKeyAccount+username)
	if allowed {
		return true
	}
	m.reject(w, r, m.extractor.Capture(r), resetAt, username)
	return false
}

func (m *LoginLimitMiddleware) reject(w http.ResponseWriter, r *http.Request, sc sessionctx.Context, resetAt time.Time, username string) {
	secondsLeft := int(time.Until(resetAt).Seconds()) + 1
	if secondsLeft < 1 {
		secondsLeft = 1
	}
	log.Warn().Str("ip", sc.ClientIP).Str("username", username).Msg("login rate limit exceeded")
	audit.LogFromRequest(r, audit.Event{Type: audit.EventRateLimitExceed, IP: sc.ClientIP, Username: username})

	w.Header().Set("Retry-After", strconv.Itoa(secondsLeft))
	httputil.WriteError(w, apperrors.RateLimitExceeded(messages.Get(sc.Locale, messages.TooManyAttempts)))
}
