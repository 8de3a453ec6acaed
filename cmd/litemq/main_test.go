package main

import (
	"bytes"
	"context"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/sneh-joshi/litemq/internal/broker"
	"github.com/sneh-joshi/litemq/internal/config"
	"github.com/sneh-joshi/litemq/internal/storage/memory"
	grpcserver "github.com/sneh-joshi/litemq/internal/transport/grpc"
	transphttp "github.com/sneh-joshi/litemq/internal/transport/http"
)

type cliTestEnv struct {
	grpcAddr string
	httpURL  string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Node.DataDir = t.TempDir()
	b, err := broker.Open(cfg, broker.WithEngine(memory.New()))
	if err != nil {
		t.Fatalf("broker.Open: %v", err)
	}

	gs := grpcserver.New(b)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = gs.Serve(lis) }()
	hs := httptest.NewServer(transphttp.New(b).Handler())

	t.Cleanup(func() {
		_ = b.Close()
		hs.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		gs.Shutdown(ctx)
	})
	return &cliTestEnv{grpcAddr: lis.Addr().String(), httpURL: hs.URL}
}

func (e *cliTestEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--addr", e.grpcAddr, "--http-addr", e.httpURL, "--timeout", "5s"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCLI_ClientCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	steps := []struct {
		stdin string
		args  []string
		want  string
	}{
		{"", []string{"enqueue", "jobs", "one"}, "1\n"},
		{"two from stdin", []string{"enqueue", "jobs"}, "2\n"},
		{"", []string{"length", "jobs"}, "2\n"},
		{"", []string{"dequeue", "jobs"}, "one"},
		{"", []string{"dequeue", "jobs"}, "two from stdin"},
		{"", []string{"enqueue", "other", "x"}, "1\n"},
		{"", []string{"purge", "other"}, "1\n"},
		{"", []string{"flush"}, ""},
		{"", []string{"health"}, "ok\n"},
	}
	for _, s := range steps {
		got, err := env.run(t, s.stdin, s.args...)
		if err != nil {
			t.Fatalf("%v: %v", s.args, err)
		}
		if got != s.want {
			t.Errorf("%v: want %q, got %q", s.args, s.want, got)
		}
	}
}

func TestCLI_DequeueNoWaitTimesOut(t *testing.T) {
	env := setupCLITestEnv(t)
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--addr", env.grpcAddr, "--timeout", "50ms", "dequeue", "--wait=false", "empty"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("dequeue --wait=false on an empty queue: want error")
	}
}

func TestCLI_Queues(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _ = env.run(t, "", "enqueue", "beta", "x")
	_, _ = env.run(t, "", "enqueue", "alpha", "x")
	_, _ = env.run(t, "", "enqueue", "alpha", "y")

	out, err := env.run(t, "", "queues")
	if err != nil {
		t.Fatalf("queues: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("queues: want header and 2 rows, got %q", out)
	}
	if !strings.Contains(lines[0], "QUEUE") {
		t.Errorf("header: got %q", lines[0])
	}
	if f := strings.Fields(lines[1]); len(f) != 3 || f[0] != "alpha" || f[1] != "2" {
		t.Errorf("first row: got %q", lines[1])
	}

	out, err = env.run(t, "", "queues", "--json")
	if err != nil {
		t.Fatalf("queues --json: %v", err)
	}
	if !strings.Contains(out, `"name": "beta"`) {
		t.Errorf("json output: got %q", out)
	}
}

func TestServeFlags_ApplyOnlyChanged(t *testing.T) {
	var sf serveFlags
	cmd := &cobra.Command{Use: "serve"}
	sf.register(cmd)
	if err := cmd.Flags().Parse([]string{"--port", "5000", "--engine", "bolt", "--no-http"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg := config.Default()
	sf.apply(cmd, cfg)

	if cfg.Node.Port != 5000 || cfg.Storage.Engine != config.EngineBolt || cfg.HTTP.Enabled {
		t.Errorf("changed flags not applied: %+v", cfg)
	}
	if cfg.Node.HTTPPort != config.Default().Node.HTTPPort || cfg.Log.Level != "info" {
		t.Errorf("unset flags overrode config: %+v", cfg)
	}
}
