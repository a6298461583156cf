package main

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"
)

// ClientRateLimiter manages per-client token buckets for the status API
type ClientRateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

// NewClientRateLimiter allows requestsPerMinute per client, bursting to the same
func NewClientRateLimiter(requestsPerMinute int) *ClientRateLimiter {
	return &ClientRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    requestsPerMinute,
	}
}

// Limiter returns the bucket for client, creating it on first use
func (l *ClientRateLimiter) Limiter(client string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[client]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[client] = limiter
	}
	return limiter
}

// RateLimitMiddleware rejects clients that exhausted their bucket with 429
func RateLimitMiddleware(limiter *ClientRateLimiter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := limiter.Limiter(clientAddr(r))
			if !l.Allow() {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(l.Tokens())))
			next.ServeHTTP(w, r)
		})
	}
}

// clientAddr identifies the caller, honouring a single proxy hop
func clientAddr(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type contextKey string

// RequestIDContextKey is the context key for request IDs
const RequestIDContextKey contextKey = "requestID"

// RequestIDMiddleware tags every request with a UUID, reusing X-Request-ID when present
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), RequestIDContextKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDContextKey).(string); ok {
		return id
	}
	return ""
}

// MetricsMiddleware records request counts and latency per route template,
// so node ids in paths do not explode label cardinality. Each request is
// logged at debug level with its request ID.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		elapsed := time.Since(start)
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		logger.Debug("Status API request",
			"requestId", GetRequestID(r.Context()),
			"method", r.Method,
			"route", route,
			"status", wrapped.statusCode,
			"duration", elapsed)
	})
}

// statusResponseWriter captures the status code written by a handler
type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
