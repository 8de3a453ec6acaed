package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/sneh-joshi/litemq/internal/broker"
	"github.com/sneh-joshi/litemq/internal/config"
	"github.com/sneh-joshi/litemq/internal/metrics"
	"github.com/sneh-joshi/litemq/internal/storage/memory"
	transphttp "github.com/sneh-joshi/litemq/internal/transport/http"
	"github.com/sneh-joshi/litemq/internal/transport/websocket"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

func newTestServer(t *testing.T, mutate func(*config.Config)) (http.Handler, *broker.Broker) {
	t.Helper()
	cfg := config.Default()
	cfg.Node.DataDir = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}
	reg := metrics.New()
	b, err := broker.Open(cfg, broker.WithEngine(memory.New()), broker.WithMetrics(reg))
	if err != nil {
		t.Fatalf("broker.Open: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	srv := transphttp.New(b, transphttp.WithMetrics(reg))
	return srv.Handler(), b
}

func doRequest(t *testing.T, h http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeResp(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v, body: %s", err, rr.Body.String())
	}
}

func waitForWaiters(t *testing.T, b *broker.Broker, queue string, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, q := range b.Queues() {
			if q.Name == queue && q.Waiters >= n {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("queue %q never reached %d waiters", queue, n)
}

// ─── Health ───────────────────────────────────────────────────────────────────

func TestHTTP_Health(t *testing.T) {
	h, b := newTestServer(t, nil)
	rr := doRequest(t, h, "GET", "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("health: want 200, got %d, body: %s", rr.Code, rr.Body)
	}
	var resp map[string]any
	decodeResp(t, rr, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status: want ok, got %v", resp["status"])
	}
	if resp["node_id"] != b.NodeID().String() {
		t.Errorf("node_id: want %s, got %v", b.NodeID(), resp["node_id"])
	}
}

func TestHTTP_Health_UnavailableAfterClose(t *testing.T) {
	h, b := newTestServer(t, nil)
	_ = b.Close()
	rr := doRequest(t, h, "GET", "/health", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("health: want 503, got %d", rr.Code)
	}
}

// ─── Messages ─────────────────────────────────────────────────────────────────

func TestHTTP_EnqueueDequeue_FIFO(t *testing.T) {
	h, _ := newTestServer(t, nil)

	for i, body := range []string{"first", "second", "third"} {
		rr := doRequest(t, h, "POST", "/queues/jobs", []byte(body))
		if rr.Code != http.StatusOK {
			t.Fatalf("enqueue: want 200, got %d, body: %s", rr.Code, rr.Body)
		}
		var resp struct {
			Length int64 `json:"length"`
		}
		decodeResp(t, rr, &resp)
		if resp.Length != int64(i+1) {
			t.Errorf("enqueue %q: want length %d, got %d", body, i+1, resp.Length)
		}
	}

	for _, want := range []string{"first", "second", "third"} {
		rr := doRequest(t, h, "DELETE", "/queues/jobs", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("dequeue: want 200, got %d", rr.Code)
		}
		if got := rr.Body.String(); got != want {
			t.Errorf("dequeue: want %q, got %q", want, got)
		}
	}
}

func TestHTTP_Dequeue_TimeoutReturnsNoContent(t *testing.T) {
	h, b := newTestServer(t, nil)

	start := time.Now()
	rr := doRequest(t, h, "DELETE", "/queues/empty?timeout=50ms", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("dequeue: want 204, got %d, body: %s", rr.Code, rr.Body)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Error("dequeue returned before its timeout")
	}

	doRequest(t, h, "POST", "/queues/empty", []byte("late"))
	if n := b.Length("empty"); n != 1 {
		t.Errorf("length after timed-out dequeue: want 1, got %d", n)
	}
}

func TestHTTP_Dequeue_BadTimeout(t *testing.T) {
	h, _ := newTestServer(t, nil)
	for _, v := range []string{"soon", "-1s", "0"} {
		rr := doRequest(t, h, "DELETE", "/queues/q?timeout="+v, nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("timeout=%s: want 400, got %d", v, rr.Code)
		}
	}
}

func TestHTTP_Dequeue_BlocksUntilEnqueue(t *testing.T) {
	h, b := newTestServer(t, nil)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- doRequest(t, h, "DELETE", "/queues/jobs", nil) }()
	waitForWaiters(t, b, "jobs", 1)

	select {
	case <-done:
		t.Fatal("dequeue returned before anything was enqueued")
	default:
	}

	rr := doRequest(t, h, "POST", "/queues/jobs", []byte("wake"))
	var resp struct {
		Length int64 `json:"length"`
	}
	decodeResp(t, rr, &resp)
	if resp.Length != 1 {
		t.Errorf("enqueue to a waiting consumer: want length 1, got %d", resp.Length)
	}

	select {
	case rr := <-done:
		if rr.Code != http.StatusOK || rr.Body.String() != "wake" {
			t.Errorf("dequeue: got %d %q", rr.Code, rr.Body)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("dequeue did not wake")
	}
}

func TestHTTP_Dequeue_BrokerClosed(t *testing.T) {
	h, b := newTestServer(t, nil)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- doRequest(t, h, "DELETE", "/queues/jobs", nil) }()
	waitForWaiters(t, b, "jobs", 1)
	_ = b.Close()

	select {
	case rr := <-done:
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("dequeue after close: want 503, got %d", rr.Code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("close did not release the blocked dequeue")
	}
}

func TestHTTP_Enqueue_Limits(t *testing.T) {
	h, _ := newTestServer(t, func(c *config.Config) {
		c.Queue.MaxMessageSizeKB = 1
		c.Queue.MaxNameBytes = 8
	})

	cases := []struct {
		desc string
		path string
		body []byte
		want int
	}{
		{"at size limit", "/queues/q", bytes.Repeat([]byte("x"), 1024), http.StatusOK},
		{"over size limit", "/queues/q", bytes.Repeat([]byte("x"), 1025), http.StatusRequestEntityTooLarge},
		{"empty body", "/queues/q", nil, http.StatusOK},
		{"name too long", "/queues/" + strings.Repeat("n", 9), []byte("x"), http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			rr := doRequest(t, h, "POST", tc.path, tc.body)
			if rr.Code != tc.want {
				t.Errorf("want %d, got %d, body: %s", tc.want, rr.Code, rr.Body)
			}
		})
	}
}

// ─── Queue management ─────────────────────────────────────────────────────────

func TestHTTP_LengthAndList(t *testing.T) {
	h, _ := newTestServer(t, nil)
	doRequest(t, h, "POST", "/queues/b", []byte("1"))
	doRequest(t, h, "POST", "/queues/a", []byte("1"))
	doRequest(t, h, "POST", "/queues/a", []byte("2"))

	rr := doRequest(t, h, "GET", "/queues/a", nil)
	var length struct {
		Queue  string `json:"queue"`
		Length int64  `json:"length"`
	}
	decodeResp(t, rr, &length)
	if length.Queue != "a" || length.Length != 2 {
		t.Errorf("length: got %+v", length)
	}

	rr = doRequest(t, h, "GET", "/queues/never-used", nil)
	decodeResp(t, rr, &length)
	if length.Length != 0 {
		t.Errorf("unknown queue length: want 0, got %d", length.Length)
	}

	rr = doRequest(t, h, "GET", "/queues", nil)
	var list struct {
		Queues []broker.QueueInfo `json:"queues"`
	}
	decodeResp(t, rr, &list)
	if len(list.Queues) != 2 || list.Queues[0].Name != "a" || list.Queues[1].Name != "b" {
		t.Errorf("list: got %+v", list.Queues)
	}
}

func TestHTTP_PurgeAndFlush(t *testing.T) {
	h, b := newTestServer(t, nil)
	for range 3 {
		doRequest(t, h, "POST", "/queues/a", []byte("x"))
	}
	doRequest(t, h, "POST", "/queues/b", []byte("y"))

	rr := doRequest(t, h, "POST", "/queues/a/purge", nil)
	var purge struct {
		Removed int64 `json:"removed"`
	}
	decodeResp(t, rr, &purge)
	if purge.Removed != 3 {
		t.Errorf("purge: want removed 3, got %d", purge.Removed)
	}

	rr = doRequest(t, h, "POST", "/queues/a/purge", nil)
	decodeResp(t, rr, &purge)
	if purge.Removed != 0 {
		t.Errorf("second purge: want removed 0, got %d", purge.Removed)
	}

	rr = doRequest(t, h, "POST", "/flush", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("flush: want 204, got %d", rr.Code)
	}
	if n := b.Length("b"); n != 0 {
		t.Errorf("length after flush: want 0, got %d", n)
	}
}

// ─── Middleware ───────────────────────────────────────────────────────────────

func TestHTTP_Auth(t *testing.T) {
	h, _ := newTestServer(t, func(c *config.Config) {
		c.Auth.Enabled = true
		c.Auth.APIKey = "s3cret"
	})

	rr := doRequest(t, h, "GET", "/queues", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("no key: want 401, got %d", rr.Code)
	}

	req := httptest.NewRequest("GET", "/queues", nil)
	req.Header.Set("X-Api-Key", "s3cret")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("valid key: want 200, got %d", rr.Code)
	}
}

func TestHTTP_RateLimit(t *testing.T) {
	h, _ := newTestServer(t, func(c *config.Config) {
		c.HTTP.RateLimitRPS = 0.001
		c.HTTP.RateLimitBurst = 2
	})

	codes := make([]int, 3)
	for i := range codes {
		codes[i] = doRequest(t, h, "GET", "/queues", nil).Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("want [200 200 429], got %v", codes)
	}
}

func TestHTTP_RequestID(t *testing.T) {
	h, _ := newTestServer(t, nil)

	rr := doRequest(t, h, "GET", "/queues", nil)
	if id := rr.Header().Get("X-Request-Id"); len(id) != 26 {
		t.Errorf("generated request id: want a 26-char ULID, got %q", id)
	}

	req := httptest.NewRequest("GET", "/queues", nil)
	req.Header.Set("X-Request-Id", "abc")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if id := rr.Header().Get("X-Request-Id"); id != "abc" {
		t.Errorf("propagated request id: want abc, got %q", id)
	}
}

func TestHTTP_CORSPreflight(t *testing.T) {
	h, _ := newTestServer(t, nil)
	req := httptest.NewRequest("OPTIONS", "/queues/jobs", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("preflight: want 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("allow-origin: got %q", got)
	}
}

func TestHTTP_Metrics(t *testing.T) {
	h, _ := newTestServer(t, nil)
	doRequest(t, h, "POST", "/queues/jobs", []byte("x"))

	rr := doRequest(t, h, "GET", "/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics: want 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`litemq_http_requests_total{method="POST",route="POST /queues/{queue}",status="200"} 1`,
		`litemq_messages_enqueued_total{queue="jobs"} 1`,
		`litemq_queue_length{queue="jobs"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

// ─── WebSocket ────────────────────────────────────────────────────────────────

// The stream route sits behind the full middleware chain, so the upgrade
// must get through the wrapped ResponseWriter.
func TestHTTP_WebSocketThroughMiddleware(t *testing.T) {
	cfg := config.Default()
	cfg.Node.DataDir = t.TempDir()
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "k"
	reg := metrics.New()
	b, err := broker.Open(cfg, broker.WithEngine(memory.New()), broker.WithMetrics(reg))
	if err != nil {
		t.Fatalf("broker.Open: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	srv := transphttp.New(b, transphttp.WithMetrics(reg))

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Serve(l) }()
	url := "ws://" + l.Addr().String() + "/queues/jobs/ws"

	if _, resp, err := gorillaws.DefaultDialer.Dial(url, nil); err == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no key: got %v, %v", err, resp)
	}

	conn, _, err := gorillaws.DefaultDialer.Dial(url, http.Header{"X-Api-Key": []string{"k"}})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(websocket.ClientFrame{Type: websocket.TypeEnqueue, Data: []byte("hi")}); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(websocket.ClientFrame{Type: websocket.TypePull}); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got []websocket.ServerFrame
	for len(got) < 2 {
		var f websocket.ServerFrame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}
		got = append(got, f)
	}
	if got[0].Type != websocket.TypeEnqueued || got[1].Type != websocket.TypeMessage || string(got[1].Data) != "hi" {
		t.Fatalf("frames: %+v", got)
	}

	// Shutdown does not wait for hijacked connections; the stream is closed
	// by the registered hook instead.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, _, err := conn.ReadMessage(); !gorillaws.IsCloseError(err, gorillaws.CloseGoingAway) {
		t.Fatalf("after shutdown: want going-away close, got %v", err)
	}
}
