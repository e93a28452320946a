package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/danmuck/toolbox/internal/testutil/testlog"
)

// redirectServer serves /hop/N which redirects to /hop/N-1 until /hop/0 serves the payload.
func redirectServer(t *testing.T, payload string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/hop/"))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		if n == 0 {
			_, _ = w.Write([]byte(payload))
			return
		}
		codes := []int{301, 302, 303, 307, 308}
		w.Header().Set("Location", fmt.Sprintf("/hop/%d", n-1))
		w.WriteHeader(codes[n%len(codes)])
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDownloadFollowsRedirectChain(t *testing.T) {
	testlog.Start(t)
	srv := redirectServer(t, "agent-bytes")
	d := NewDownloader(srv.Client())

	for _, hops := range []int{0, 1, MaxRedirects} {
		dest := filepath.Join(t.TempDir(), "bin", "agent")
		if err := d.Download(context.Background(), fmt.Sprintf("%s/hop/%d", srv.URL, hops), dest); err != nil {
			t.Fatalf("hops=%d: download: %v", hops, err)
		}
		got, err := os.ReadFile(dest)
		if err != nil || string(got) != "agent-bytes" {
			t.Fatalf("hops=%d: unexpected payload %q err=%v", hops, got, err)
		}
		testlog.Logf("fetch/download: hops=%d ok", hops)
	}
}

func TestDownloadRedirectLimit(t *testing.T) {
	testlog.Start(t)
	srv := redirectServer(t, "agent-bytes")
	d := NewDownloader(srv.Client())
	dest := filepath.Join(t.TempDir(), "agent")
	if err := os.WriteFile(dest, []byte("stale"), 0o644); err != nil {
		t.Fatalf("seed stale file: %v", err)
	}

	err := d.Download(context.Background(), fmt.Sprintf("%s/hop/%d", srv.URL, MaxRedirects+1), dest)
	if !errors.Is(err, ErrRedirectLimit) {
		t.Fatalf("expected ErrRedirectLimit, got %v", err)
	}
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %T", err)
	}
	if _, statErr := os.Stat(dest); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("destination left behind after redirect overflow: %v", statErr)
	}
}

func TestDownloadAbsoluteRedirect(t *testing.T) {
	testlog.Start(t)
	target := redirectServer(t, "from-cdn")
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL+"/hop/0", http.StatusFound)
	}))
	defer origin.Close()

	dest := filepath.Join(t.TempDir(), "agent")
	if err := NewDownloader(nil).Download(context.Background(), origin.URL+"/latest", dest); err != nil {
		t.Fatalf("download: %v", err)
	}
	got, _ := os.ReadFile(dest)
	if string(got) != "from-cdn" {
		t.Fatalf("unexpected payload %q", got)
	}
}

func TestDownloadBadStatus(t *testing.T) {
	testlog.Start(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/no-location":
			w.WriteHeader(http.StatusFound)
		default:
			http.Error(w, "gone", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	for _, path := range []string{"/missing", "/no-location"} {
		dest := filepath.Join(t.TempDir(), "agent")
		err := NewDownloader(srv.Client()).Download(context.Background(), srv.URL+path, dest)
		if !errors.Is(err, ErrBadStatus) {
			t.Fatalf("%s: expected ErrBadStatus, got %v", path, err)
		}
		var fe *FetchError
		if !errors.As(err, &fe) || fe.StatusCode == 0 {
			t.Fatalf("%s: expected status code on FetchError, got %v", path, err)
		}
		if _, statErr := os.Stat(dest); !errors.Is(statErr, os.ErrNotExist) {
			t.Fatalf("%s: destination should not exist: %v", path, statErr)
		}
	}
}

func TestDownloadNetworkError(t *testing.T) {
	testlog.Start(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	dest := filepath.Join(t.TempDir(), "agent")
	err := NewDownloader(nil).Download(context.Background(), url, dest)
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError for refused connection, got %v", err)
	}
	if _, statErr := os.Stat(dest); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("destination should not exist: %v", statErr)
	}
}

func TestResolvePlatform(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		goos, goarch string
		wantArch     string
		wantErr      error
	}{
		{goos: "linux", goarch: "amd64", wantArch: "amd64"},
		{goos: "linux", goarch: "arm64", wantArch: "arm64"},
		{goos: "linux", goarch: "arm", wantArch: "arm"},
		{goos: "linux", goarch: "riscv64", wantErr: ErrUnsupportedPlatform},
		{goos: "darwin", goarch: "arm64", wantErr: ErrUnsupportedPlatform},
		{goos: "windows", goarch: "amd64", wantErr: ErrUnsupportedPlatform},
	}
	for _, tc := range tests {
		p, err := ResolvePlatform(tc.goos, tc.goarch)
		if !errors.Is(err, tc.wantErr) {
			t.Fatalf("%s/%s: expected err %v, got %v", tc.goos, tc.goarch, tc.wantErr, err)
		}
		if err == nil && p.Arch != tc.wantArch {
			t.Fatalf("%s/%s: expected arch %s, got %s", tc.goos, tc.goarch, tc.wantArch, p.Arch)
		}
	}
}
