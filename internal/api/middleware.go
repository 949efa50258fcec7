package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/hackgods/clinical-scheduling/internal/clock"
	"github.com/hackgods/clinical-scheduling/internal/tenancy"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestIDMiddleware adds a unique request ID to each request context
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware writes one structured line per request.
func LoggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			evt := logger.Info()
			if wrapped.statusCode >= http.StatusInternalServerError {
				evt = logger.Error()
			}
			evt.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.statusCode).
				Dur("duration", time.Since(start)).
				Str("request_id", GetRequestID(r.Context())).
				Str("tenant_id", r.Header.Get(tenancy.TenantHeader)).
				Msg("http request")
		})
	}
}

// TenantMiddleware resolves the caller before any handler runs. Unresolved
// callers get 401 and reach no operation.
func TenantMiddleware(p tenancy.Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := p.Resolve(r)
			if err != nil {
				msg := "missing or invalid tenant"
				if errors.Is(err, tenancy.ErrMissingActor) {
					msg = "missing or invalid actor"
				}
				writeError(w, http.StatusUnauthorized, "unauthenticated", msg)
				return
			}

			next.ServeHTTP(w, r.WithContext(tenancy.WithActor(r.Context(), actor)))
		})
	}
}

// TimeoutMiddleware bounds the context of every request.
func TimeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Limiters idle for longer than this are dropped on the next sweep.
const limiterIdleTTL = 10 * time.Minute

type tenantLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// TenantRateLimiter keeps one token bucket per active tenant.
type TenantRateLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	clock     clock.Clock
	lastSweep time.Time
	limiters  map[uuid.UUID]*tenantLimiter
}

func NewTenantRateLimiter(rps float64, burst int) *TenantRateLimiter {
	if burst < 1 {
		burst = 1
	}
	c := clock.System()
	return &TenantRateLimiter{
		limit:     rate.Limit(rps),
		burst:     burst,
		clock:     c,
		lastSweep: c.Now(),
		limiters:  make(map[uuid.UUID]*tenantLimiter),
	}
}

func (l *TenantRateLimiter) WithClock(c clock.Clock) *TenantRateLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clock = c
	l.lastSweep = c.Now()
	return l
}

func (l *TenantRateLimiter) allow(tenantID uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.Sub(l.lastSweep) >= limiterIdleTTL {
		for id, tl := range l.limiters {
			if now.Sub(tl.lastSeen) >= limiterIdleTTL {
				delete(l.limiters, id)
			}
		}
		l.lastSweep = now
	}

	tl, ok := l.limiters[tenantID]
	if !ok {
		tl = &tenantLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[tenantID] = tl
	}
	tl.lastSeen = now
	return tl.limiter.AllowN(now, 1)
}

func (l *TenantRateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Middleware must run after TenantMiddleware.
func (l *TenantRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, _ := tenancy.ActorFromContext(r.Context())
		if !l.allow(actor.TenantID) {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
