package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusServer serves the read-only status API over a StatusBoard
type StatusServer struct {
	board   *StatusBoard
	limiter *ClientRateLimiter
}

// NewStatusServer creates a server limited to requestsPerMinute per client
func NewStatusServer(board *StatusBoard, requestsPerMinute int) *StatusServer {
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultRateLimitPerMinute
	}
	return &StatusServer{
		board:   board,
		limiter: NewClientRateLimiter(requestsPerMinute),
	}
}

// Router builds the API routes and middleware chain
func (s *StatusServer) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(RequestIDMiddleware, MetricsMiddleware, RateLimitMiddleware(s.limiter))

	router.HandleFunc("/api/health", s.HealthCheckHandler).Methods("GET")
	router.HandleFunc("/api/nodes", s.GetNodesHandler).Methods("GET")
	router.HandleFunc("/api/nodes/{id}", s.GetNodeHandler).Methods("GET")
	router.HandleFunc("/api/blacklist", s.GetBlacklistHandler).Methods("GET")
	router.HandleFunc("/api/exposure", s.GetExposureHandler).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return router
}

// Serve listens on ln until ctx is done, then shuts down within
// shutdownTimeout.
func (s *StatusServer) Serve(ctx context.Context, ln net.Listener, shutdownTimeout time.Duration) error {
	srv := &http.Server{Handler: s.Router()}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// HealthCheckHandler handles health check requests
func (s *StatusServer) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	lines, uptime, finished := s.board.Health()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"run_id":   s.board.RunID(),
		"lines":    lines,
		"finished": finished,
		"uptime":   int64(uptime.Seconds()),
	})
}

// GetNodesHandler returns every tracked relay
func (s *StatusServer) GetNodesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"nodes": s.board.Nodes(),
	})
}

// GetNodeHandler returns one relay by id
func (s *StatusServer) GetNodeHandler(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		http.Error(w, "Invalid node id", http.StatusBadRequest)
		return
	}

	ns, ok := s.board.Node(NodeID(id))
	if !ok {
		http.Error(w, "Node not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ns)
}

// GetBlacklistHandler returns the latched node ids
func (s *StatusServer) GetBlacklistHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"blacklist": s.board.Blacklisted(),
	})
}

// GetExposureHandler returns the latest exposure snapshot
func (s *StatusServer) GetExposureHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.board.Exposure())
}
