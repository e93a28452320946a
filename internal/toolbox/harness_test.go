package toolbox

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/toolbox/internal/fetch"
	"github.com/danmuck/toolbox/internal/settings"
)

const testClientID = "0b9e3c2a-6f4d-4f0e-9a51-2d7c8e1f3a40"

// releaseServer serves fake release assets by URL path and counts requests.
type releaseServer struct {
	*httptest.Server
	mu     sync.Mutex
	assets map[string][]byte
	hits   map[string]int
	delay  time.Duration
}

func newReleaseServer(t *testing.T) *releaseServer {
	t.Helper()
	rs := &releaseServer{assets: make(map[string][]byte), hits: make(map[string]int)}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.mu.Lock()
		rs.hits[r.URL.Path]++
		body, ok := rs.assets[r.URL.Path]
		delay := rs.delay
		rs.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *releaseServer) put(path string, body []byte) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.assets[path] = body
}

func (rs *releaseServer) hitCount(path string) int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.hits[path]
}

// Asset paths for linux/amd64 once the github.com prefix is swapped out.
const (
	tunnelAsset  = "/cloudflare/cloudflared/releases/latest/download/cloudflared-linux-amd64"
	nezhaV0Asset = "/naiba/nezha/releases/latest/download/nezha-agent_linux_amd64.gz"
	nezhaV1Asset = "/nezhahq/agent/releases/latest/download/nezha-agent_linux_amd64.zip"
	komariAsset  = "/komari-monitor/komari-agent/releases/latest/download/komari-agent-linux-amd64"
)

type harness struct {
	dir     string
	release *releaseServer
	ctl     *Controller
	timing  Timing
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithPlatform(t, func() (fetch.Platform, error) {
		return fetch.ResolvePlatform("linux", "amd64")
	})
}

func newHarnessWithPlatform(t *testing.T, platform func() (fetch.Platform, error)) *harness {
	t.Helper()
	rs := newReleaseServer(t)
	defs := DefaultDefinitions()
	for i := range defs {
		for channel, src := range defs[i].Sources {
			src.URL = strings.Replace(src.URL, "https://github.com", rs.URL, 1)
			defs[i].Sources[channel] = src
		}
	}
	catalog, err := NewCatalog(defs...)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	timing := Timing{
		CleanupGrace: 150 * time.Millisecond,
		PlaintextTTL: 300 * time.Millisecond,
		RestartDelay: 20 * time.Millisecond,
	}
	dir := t.TempDir()
	ctl, err := New(Options{
		DataDir:    dir,
		Catalog:    catalog,
		Downloader: fetch.NewDownloader(rs.Client()),
		Platform:   platform,
		NewID:      func() string { return testClientID },
		Timing:     timing,
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	t.Cleanup(ctl.Shutdown)
	return &harness{dir: dir, release: rs, ctl: ctl, timing: timing}
}

func (h *harness) configure(t *testing.T, fn func(*settings.Document)) {
	t.Helper()
	err := h.ctl.Store().Update(func(d *settings.Document) error {
		fn(d)
		return nil
	})
	if err != nil {
		t.Fatalf("configure: %v", err)
	}
}

func (h *harness) binaryPath(t *testing.T, id settings.ToolID) string {
	t.Helper()
	def, _ := h.ctl.Catalog().Get(id)
	paths := h.ctl.existingPaths(binaryArtifact(def))
	if len(paths) != 1 {
		t.Fatalf("no binary name assigned for %s", id)
	}
	return paths[0]
}

// script returns a shell script body; every fake agent records its argv
// into $TOOLBOX_TEST_OUT and then parks.
func script(body string) []byte {
	return []byte("#!/bin/sh\n" + body + "\nexec sleep 30\n")
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func zipBytes(t *testing.T, name string, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("zip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// outFile points fake agents at a file they write their argv or config into.
func outFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.out")
	t.Setenv("TOOLBOX_TEST_OUT", path)
	return path
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func readWhenPresent(t *testing.T, path string) string {
	t.Helper()
	var data []byte
	waitFor(t, "agent output "+path, func() bool {
		b, err := os.ReadFile(path)
		if err != nil || len(b) == 0 {
			return false
		}
		data = b
		return true
	})
	return string(data)
}
