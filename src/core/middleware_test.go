package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestClientRateLimiter(t *testing.T) {
	t.Run("returns same limiter for same client", func(t *testing.T) {
		limiter := NewClientRateLimiter(100)
		if limiter.Limiter("10.0.0.1") != limiter.Limiter("10.0.0.1") {
			t.Error("Expected same limiter for same client")
		}
	})

	t.Run("returns different limiters for different clients", func(t *testing.T) {
		limiter := NewClientRateLimiter(100)
		if limiter.Limiter("10.0.0.1") == limiter.Limiter("10.0.0.2") {
			t.Error("Expected different limiters for different clients")
		}
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Run("allows requests under limit", func(t *testing.T) {
		handler := RateLimitMiddleware(NewClientRateLimiter(100))(okHandler())

		req := httptest.NewRequest("GET", "/api/health", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Expected status 200, got %d", w.Code)
		}
		if w.Header().Get("X-RateLimit-Remaining") == "" {
			t.Error("Expected X-RateLimit-Remaining header")
		}
	})

	t.Run("returns 429 when rate limit exceeded", func(t *testing.T) {
		handler := RateLimitMiddleware(NewClientRateLimiter(5))(okHandler())

		var exceeded bool
		for i := 0; i < 20; i++ {
			req := httptest.NewRequest("GET", "/api/health", nil)
			req.RemoteAddr = "192.168.1.100:12345"
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code == http.StatusTooManyRequests {
				if w.Header().Get("Retry-After") == "" {
					t.Error("Expected Retry-After header on 429")
				}
				exceeded = true
				break
			}
		}
		if !exceeded {
			t.Error("Expected rate limit to be exceeded")
		}
	})

	t.Run("limits clients independently", func(t *testing.T) {
		handler := RateLimitMiddleware(NewClientRateLimiter(1))(okHandler())

		for _, addr := range []string{"10.0.0.1:1", "10.0.0.2:1"} {
			req := httptest.NewRequest("GET", "/api/health", nil)
			req.RemoteAddr = addr
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			if w.Code != http.StatusOK {
				t.Errorf("Expected first request from %s to pass, got %d", addr, w.Code)
			}
		}
	})
}

func TestClientAddr(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{name: "remote addr host", remoteAddr: "192.168.1.1:5000", want: "192.168.1.1"},
		{name: "remote addr without port", remoteAddr: "192.168.1.1", want: "192.168.1.1"},
		{name: "forwarded chain", remoteAddr: "10.0.0.1:80", xff: "203.0.113.7, 10.0.0.1", want: "203.0.113.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := clientAddr(req); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Run("generates request ID", func(t *testing.T) {
		var seen string
		handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetRequestID(r.Context())
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

		if seen == "" {
			t.Error("Expected request ID in context")
		}
		if w.Header().Get("X-Request-ID") != seen {
			t.Errorf("Expected response header %q, got %q", seen, w.Header().Get("X-Request-ID"))
		}
	})

	t.Run("reuses incoming request ID", func(t *testing.T) {
		handler := RequestIDMiddleware(okHandler())
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-Request-ID", "trace-42")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if got := w.Header().Get("X-Request-ID"); got != "trace-42" {
			t.Errorf("Expected trace-42, got %s", got)
		}
	})
}

func TestMetricsMiddlewareUsesRouteTemplate(t *testing.T) {
	router := mux.NewRouter()
	router.Use(MetricsMiddleware)
	router.HandleFunc("/sensors/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	counter := httpRequestsTotal.WithLabelValues("GET", "/sensors/{id}", "418")
	before := testutil.ToFloat64(counter)

	for _, path := range []string{"/sensors/1", "/sensors/2"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, nil))
	}

	if got := testutil.ToFloat64(counter) - before; got != 2 {
		t.Errorf("Expected 2 requests under one route label, got %v", got)
	}
}

func TestMetricsMiddlewareLogsRequestID(t *testing.T) {
	saved := logger
	defer func() { logger = saved }()
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	router := mux.NewRouter()
	router.Use(RequestIDMiddleware, MetricsMiddleware)
	router.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-7")
	router.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("Expected one JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["requestId"] != "req-7" {
		t.Errorf("Expected requestId req-7, got %v", entry["requestId"])
	}
	if entry["route"] != "/api/health" {
		t.Errorf("Expected route /api/health, got %v", entry["route"])
	}
	if entry["status"] != float64(http.StatusOK) {
		t.Errorf("Expected status 200, got %v", entry["status"])
	}
}
