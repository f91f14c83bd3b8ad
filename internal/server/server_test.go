package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wudi/rewriter/internal/config"
	"go.uber.org/zap"
)

func testConfig(rules ...string) *config.Config {
	cfg := config.DefaultConfig()
	for i := 0; i+1 < len(rules); i += 2 {
		cfg.Rewrite.Rules = append(cfg.Rewrite.Rules, config.Rule{Pattern: rules[i], Replacement: rules[i+1]})
	}
	return cfg
}

func newServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := New(cfg, WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, string(body)
}

func TestServer_StaticDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "page.txt"), []byte("Hello foo"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig("foo", "rewriter")
	cfg.StaticDir = dir
	ts := httptest.NewServer(newServer(t, cfg).Handler())
	defer ts.Close()

	resp, body := get(t, ts.URL+"/page.txt")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body != "Hello rewriter" {
		t.Errorf("expected %q, got %q", "Hello rewriter", body)
	}
	if resp.ContentLength != int64(len("Hello rewriter")) {
		t.Errorf("expected Content-Length %d, got %d", len("Hello rewriter"), resp.ContentLength)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID on the response")
	}
}

func TestServer_Upstream(t *testing.T) {
	var forwardedID string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forwardedID = r.Header.Get("X-Request-ID")
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Content-Length", "30")
		io.WriteString(w, "<a href=http://internal.local>")
	}))
	defer upstream.Close()

	cfg := testConfig(`http://internal\.local`, "https://public.example.com")
	cfg.Upstream = upstream.URL
	ts := httptest.NewServer(newServer(t, cfg).Handler())
	defer ts.Close()

	resp, body := get(t, ts.URL+"/")

	want := "<a href=https://public.example.com>"
	if body != want {
		t.Errorf("expected %q, got %q", want, body)
	}
	if resp.ContentLength != int64(len(want)) {
		t.Errorf("expected Content-Length %d, got %d", len(want), resp.ContentLength)
	}
	if forwardedID == "" || forwardedID != resp.Header.Get("X-Request-ID") {
		t.Errorf("expected request ID forwarded upstream, got %q", forwardedID)
	}
}

func TestServer_UpstreamDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	cfg := testConfig("a", "b")
	cfg.Upstream = "http://" + addr
	ts := httptest.NewServer(newServer(t, cfg).Handler())
	defer ts.Close()

	resp, body := get(t, ts.URL+"/")

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, "Bad Gateway") {
		t.Errorf("expected JSON error body, got %q", body)
	}
}

func TestServer_HealthAndMetrics(t *testing.T) {
	cfg := testConfig("foo", "bar")
	cfg.StaticDir = t.TempDir()
	ts := httptest.NewServer(newServer(t, cfg).Handler())
	defer ts.Close()

	resp, body := get(t, ts.URL+"/healthz")
	if resp.StatusCode != http.StatusOK || body != "ok\n" {
		t.Errorf("unexpected health response: %d %q", resp.StatusCode, body)
	}

	get(t, ts.URL+"/missing.txt")

	resp, body = get(t, ts.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	for _, name := range []string{"rewriter_requests_total", "rewriter_rules 1"} {
		if !strings.Contains(body, name) {
			t.Errorf("expected %q in metrics output", name)
		}
	}
}

func TestServer_HealthDraining(t *testing.T) {
	cfg := testConfig()
	cfg.StaticDir = t.TempDir()
	s := newServer(t, cfg)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	s.draining.Store(true)

	resp, body := get(t, ts.URL+"/healthz")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 while draining, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, "Service Unavailable") {
		t.Errorf("expected JSON error body, got %q", body)
	}
}

func TestServer_MetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.StaticDir = t.TempDir()
	cfg.Metrics.Enabled = false
	ts := httptest.NewServer(newServer(t, cfg).Handler())
	defer ts.Close()

	resp, _ := get(t, ts.URL+"/metrics")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected /metrics to fall through to the directory, got %d", resp.StatusCode)
	}
}

func TestServer_InvalidRulesRejected(t *testing.T) {
	cfg := testConfig("(", "x")
	cfg.StaticDir = t.TempDir()

	if _, err := New(cfg, WithLogger(zap.NewNop())); err == nil {
		t.Fatal("expected error for invalid pattern with validation on")
	}
}

func TestServer_Reload(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("foo"), 0o644)

	cfg := testConfig("foo", "one")
	cfg.StaticDir = dir
	s := newServer(t, cfg)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	next := testConfig("foo", "two")
	s.reload(next)
	if _, body := get(t, ts.URL+"/a.txt"); body != "two" {
		t.Errorf("expected reloaded rules, got %q", body)
	}

	// A broken reload keeps the rules in effect
	s.reload(testConfig("[", "three"))
	if _, body := get(t, ts.URL+"/a.txt"); body != "two" {
		t.Errorf("expected previous rules kept, got %q", body)
	}
}

func TestServer_ServeAndShutdown(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("foo"), 0o644)

	cfg := testConfig("foo", "bar")
	cfg.StaticDir = dir
	cfg.ShutdownTimeout = time.Second
	s := newServer(t, cfg)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	if _, body := get(t, "http://"+ln.Addr().String()+"/a.txt"); body != "bar" {
		t.Errorf("expected %q, got %q", "bar", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	if n := len(s.Filter().Rules()); n != 0 {
		t.Errorf("expected rules cleared on shutdown, got %d", n)
	}
}

func TestServer_WatchReloadsRules(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("foo"), 0o644)

	cfgPath := filepath.Join(t.TempDir(), "rewriter.yaml")
	write := func(replacement string) {
		data := "listen: \"127.0.0.1:0\"\nstatic_dir: " + dir + "\nwatch: true\nrewrite:\n  rules:\n    foo: " + replacement + "\n"
		if err := os.WriteFile(cfgPath, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("first")

	cfg, err := config.NewLoader().Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	s, err := New(cfg, WithLogger(zap.NewNop()), WithConfigPath(cfgPath))
	if err != nil {
		t.Fatal(err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()
	defer func() {
		cancel()
		<-done
	}()

	url := "http://" + ln.Addr().String() + "/a.txt"
	if _, body := get(t, url); body != "first" {
		t.Fatalf("expected %q, got %q", "first", body)
	}

	write("second")

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, body := get(t, url); body == "second" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("rules were not reloaded after the config file changed")
		}
		time.Sleep(50 * time.Millisecond)
	}
}
