package client_test

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/sneh-joshi/litemq/internal/broker"
	"github.com/sneh-joshi/litemq/internal/config"
	"github.com/sneh-joshi/litemq/internal/storage/memory"
	grpcserver "github.com/sneh-joshi/litemq/internal/transport/grpc"
	transphttp "github.com/sneh-joshi/litemq/internal/transport/http"
	"github.com/sneh-joshi/litemq/pkg/client"
)

// ─── test server helpers ──────────────────────────────────────────────────────

type testEnv struct {
	b     *broker.Broker
	c     *client.Client
	admin *client.Admin
}

// newTestEnv spins up a broker with both transports: gRPC over bufconn and
// the admin API on an httptest.Server. All resources are cleaned up in
// t.Cleanup.
func newTestEnv(t *testing.T, mutate func(*config.Config), adminOpts ...client.AdminOption) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Node.DataDir = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}
	b, err := broker.Open(cfg, broker.WithEngine(memory.New()))
	if err != nil {
		t.Fatalf("broker.Open: %v", err)
	}

	gs := grpcserver.New(b)
	lis := bufconn.Listen(1 << 20)
	go func() { _ = gs.Serve(lis) }()

	hs := httptest.NewServer(transphttp.New(b).Handler())

	c, err := client.New("passthrough:///bufnet", client.WithDialOptions(
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
	))
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Close()
		_ = b.Close()
		hs.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		gs.Shutdown(ctx)
	})
	return &testEnv{b: b, c: c, admin: client.NewAdmin(hs.URL, adminOpts...)}
}

func ctxT(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ─── Message operations ───────────────────────────────────────────────────────

func TestClient_EnqueueDequeue(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := ctxT(t)

	for i, body := range []string{"a", "b"} {
		n, err := env.c.Enqueue(ctx, "jobs", []byte(body))
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		if n != int64(i+1) {
			t.Errorf("Enqueue %q: want length %d, got %d", body, i+1, n)
		}
	}
	if n, err := env.c.Length(ctx, "jobs"); err != nil || n != 2 {
		t.Errorf("Length: want 2, got %d (%v)", n, err)
	}
	for _, want := range []string{"a", "b"} {
		got, err := env.c.Dequeue(ctx, "jobs")
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		if string(got) != want {
			t.Errorf("Dequeue: want %q, got %q", want, got)
		}
	}
}

func TestClient_BinaryPayload(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := ctxT(t)

	payload := []byte{0, 1, 2, 0xff, 0}
	if _, err := env.c.Enqueue(ctx, "bin", payload); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	got, err := env.c.Dequeue(ctx, "bin")
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Dequeue: want %v, got %v", payload, got)
	}
}

func TestClient_DequeueDeadline(t *testing.T) {
	env := newTestEnv(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := env.c.Dequeue(ctx, "empty")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Dequeue: want DeadlineExceeded, got %v", err)
	}

	if _, err := env.c.Enqueue(ctxT(t), "empty", []byte("x")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if n := env.b.Length("empty"); n != 1 {
		t.Errorf("length after expired dequeue: want 1, got %d", n)
	}
}

func TestClient_PurgeFlushHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := ctxT(t)

	for range 3 {
		_, _ = env.c.Enqueue(ctx, "a", []byte("x"))
	}
	_, _ = env.c.Enqueue(ctx, "b", []byte("y"))

	if n, err := env.c.Purge(ctx, "a"); err != nil || n != 3 {
		t.Errorf("Purge: want 3, got %d (%v)", n, err)
	}
	if err := env.c.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n, _ := env.c.Length(ctx, "b"); n != 0 {
		t.Errorf("Length after Flush: want 0, got %d", n)
	}
	if err := env.c.Health(ctx); err != nil {
		t.Errorf("Health: %v", err)
	}
}

func TestClient_Errors(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Queue.MaxMessageSizeKB = 1 })
	ctx := ctxT(t)

	_, err := env.c.Enqueue(ctx, "", []byte("x"))
	if !client.IsInvalidArgument(err) {
		t.Errorf("empty name: want InvalidArgument, got %v", err)
	}
	_, err = env.c.Enqueue(ctx, "q", make([]byte, 2048))
	if !client.IsInvalidArgument(err) {
		t.Errorf("oversized payload: want InvalidArgument, got %v", err)
	}

	_ = env.b.Close()
	if err := env.c.Health(ctx); !client.IsUnavailable(err) {
		t.Errorf("Health after close: want Unavailable, got %v", err)
	}
}

// ─── Admin ────────────────────────────────────────────────────────────────────

func TestAdmin_QueuesAndHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := ctxT(t)

	_, _ = env.c.Enqueue(ctx, "beta", []byte("1"))
	_, _ = env.c.Enqueue(ctx, "alpha", []byte("1"))
	_, _ = env.c.Enqueue(ctx, "alpha", []byte("2"))

	qs, err := env.admin.Queues(ctx)
	if err != nil {
		t.Fatalf("Queues: %v", err)
	}
	want := []client.QueueInfo{{Name: "alpha", Length: 2}, {Name: "beta", Length: 1}}
	if len(qs) != len(want) {
		t.Fatalf("Queues: want %v, got %v", want, qs)
	}
	for i := range want {
		if qs[i] != want[i] {
			t.Errorf("Queues[%d]: want %+v, got %+v", i, want[i], qs[i])
		}
	}

	h, err := env.admin.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h.Status != "ok" || h.NodeID != env.b.NodeID().String() || h.Queues != 2 {
		t.Errorf("Health: got %+v", h)
	}

	_ = env.b.Close()
	_, err = env.admin.Health(ctx)
	var he *client.HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Health after close: want 503, got %v", err)
	}
}

func TestAdmin_APIKey(t *testing.T) {
	enable := func(c *config.Config) {
		c.Auth.Enabled = true
		c.Auth.APIKey = "k"
	}

	env := newTestEnv(t, enable)
	if _, err := env.admin.Queues(ctxT(t)); !client.IsUnauthorized(err) {
		t.Errorf("no key: want unauthorized, got %v", err)
	}

	env = newTestEnv(t, enable, client.WithAPIKey("k"))
	if _, err := env.admin.Queues(ctxT(t)); err != nil {
		t.Errorf("valid key: %v", err)
	}
}
