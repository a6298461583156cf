package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestBoard() *StatusBoard {
	board := NewStatusBoard("run-1")
	board.PublishNode(NodeStatus{Node: 4, Phase: "trusted", Trust: 0.95, Success: 20})
	board.PublishNode(NodeStatus{Node: 2, Phase: "blacklisted", Success: 5, Failed: 5, Blacklisted: true})
	board.PublishExposure(ExposureStatus{
		ExposureSnapshot: ExposureSnapshot{Line: 12, TxTotal: 4, E1: 25, E1Num: 1, E1Den: 4, AttackerID: 2},
		PDR:              100,
	})
	return board
}

func getJSON(t *testing.T, srv *StatusServer, path string, out interface{}) int {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	req.RemoteAddr = "127.0.0.1:40000"
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if out != nil && w.Code == http.StatusOK {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("Failed to parse response: %v", err)
		}
	}
	return w.Code
}

func TestHealthCheckHandler(t *testing.T) {
	srv := NewStatusServer(newTestBoard(), 100)

	var response map[string]interface{}
	if code := getJSON(t, srv, "/api/health", &response); code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", code)
	}
	if response["status"] != "ok" {
		t.Errorf("Expected status 'ok', got '%v'", response["status"])
	}
	if response["run_id"] != "run-1" {
		t.Errorf("Expected run_id 'run-1', got '%v'", response["run_id"])
	}
	if response["lines"] != float64(12) {
		t.Errorf("Expected 12 lines, got %v", response["lines"])
	}
	if response["finished"] != false {
		t.Errorf("Expected run still in progress, got %v", response["finished"])
	}
}

func TestGetNodesHandler(t *testing.T) {
	srv := NewStatusServer(newTestBoard(), 100)

	var response struct {
		Nodes []NodeStatus `json:"nodes"`
	}
	if code := getJSON(t, srv, "/api/nodes", &response); code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", code)
	}
	if len(response.Nodes) != 2 {
		t.Fatalf("Expected 2 nodes, got %d", len(response.Nodes))
	}
	if response.Nodes[0].Node != 2 || response.Nodes[1].Node != 4 {
		t.Errorf("Expected nodes ordered by id, got %+v", response.Nodes)
	}
}

func TestGetNodeHandler(t *testing.T) {
	srv := NewStatusServer(newTestBoard(), 100)

	t.Run("known node", func(t *testing.T) {
		var ns NodeStatus
		if code := getJSON(t, srv, "/api/nodes/4", &ns); code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", code)
		}
		if ns.Phase != "trusted" || ns.Success != 20 {
			t.Errorf("Unexpected node status: %+v", ns)
		}
	})

	t.Run("unknown node", func(t *testing.T) {
		if code := getJSON(t, srv, "/api/nodes/99", nil); code != http.StatusNotFound {
			t.Errorf("Expected status 404, got %d", code)
		}
	})

	t.Run("invalid id", func(t *testing.T) {
		for _, path := range []string{"/api/nodes/abc", "/api/nodes/70000"} {
			if code := getJSON(t, srv, path, nil); code != http.StatusBadRequest {
				t.Errorf("%s: expected status 400, got %d", path, code)
			}
		}
	})
}

func TestGetBlacklistHandler(t *testing.T) {
	srv := NewStatusServer(newTestBoard(), 100)

	var response struct {
		Blacklist []NodeID `json:"blacklist"`
	}
	if code := getJSON(t, srv, "/api/blacklist", &response); code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", code)
	}
	if len(response.Blacklist) != 1 || response.Blacklist[0] != 2 {
		t.Errorf("Expected blacklist [2], got %v", response.Blacklist)
	}

	empty := NewStatusServer(NewStatusBoard("run-2"), 100)
	req := httptest.NewRequest("GET", "/api/blacklist", nil)
	w := httptest.NewRecorder()
	empty.Router().ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), `"blacklist":[]`) {
		t.Errorf("Expected empty JSON array, got %s", w.Body.String())
	}
}

func TestGetExposureHandler(t *testing.T) {
	srv := NewStatusServer(newTestBoard(), 100)

	var exp ExposureStatus
	if code := getJSON(t, srv, "/api/exposure", &exp); code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", code)
	}
	if exp.E1 != 25 || exp.E1Den != 4 || exp.PDR != 100 || exp.AttackerID != 2 {
		t.Errorf("Unexpected exposure: %+v", exp)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := NewStatusServer(newTestBoard(), 100)
	RecordLine()

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "trustengine_lines_total") {
		t.Error("Expected trustengine metrics in exposition")
	}
}

func TestStatusServerServe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	srv := NewStatusServer(newTestBoard(), 100)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx, ln, time.Second)
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/health")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Server did not shut down")
	}
}
