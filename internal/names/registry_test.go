package names

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/danmuck/toolbox/internal/sealed"
	"github.com/danmuck/toolbox/internal/testutil/testlog"
)

func TestResolveIsStable(t *testing.T) {
	testlog.Start(t)
	r := Open(filepath.Join(t.TempDir(), "filemap.dat"), nil)

	first, err := r.Resolve(KindBinary, "cloudflared")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := r.Resolve(KindBinary, "cloudflared")
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if first != second {
		t.Fatalf("expected stable name, got %q then %q", first, second)
	}
	if !isValidName(first) {
		t.Fatalf("name %q does not match the name alphabet", first)
	}
	other, err := r.Resolve(KindConfig, "cloudflared")
	if err != nil {
		t.Fatalf("resolve cfg: %v", err)
	}
	if other == first {
		t.Fatalf("different keys share name %q", other)
	}
	testlog.Logf("names/resolve: bin=%s cfg=%s", first, other)
}

func TestResolvePersistsAcrossReopen(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "filemap.dat")
	name, err := Open(path, nil).Resolve(KindZip, "nezha")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	got, ok := Open(path, nil).Lookup(KindZip, "nezha")
	if !ok || got != name {
		t.Fatalf("reopened registry lost mapping: got=%q ok=%v want=%q", got, ok, name)
	}
}

func TestClearThenResolveIsPersisted(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "filemap.dat")
	r := Open(path, nil)
	if _, err := r.Resolve(KindBinary, "komari-agent"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := r.Clear(KindBinary, "komari-agent"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok := Open(path, nil).Lookup(KindBinary, "komari-agent"); ok {
		t.Fatalf("clear was not persisted")
	}
	fresh, err := r.Resolve(KindBinary, "komari-agent")
	if err != nil {
		t.Fatalf("resolve after clear: %v", err)
	}
	reloaded, ok := Open(path, nil).Lookup(KindBinary, "komari-agent")
	if !ok || reloaded != fresh {
		t.Fatalf("reload mismatch: got=%q ok=%v want=%q", reloaded, ok, fresh)
	}
	if err := r.Clear(KindBinary, "never-mapped"); err != nil {
		t.Fatalf("clear of unmapped key should be a no-op, got %v", err)
	}
}

func TestLookupDoesNotCreateFile(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "filemap.dat")
	r := Open(path, nil)
	if _, ok := r.Lookup(KindBinary, "cloudflared"); ok {
		t.Fatalf("unexpected mapping in empty registry")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("lookup created registry file: %v", err)
	}
}

func TestCorruptFileStartsEmpty(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	cases := map[string][]byte{
		"garbage":      []byte("%%% not a registry %%%"),
		"encoded text": []byte(sealed.Default().Encode([]byte("not json"))),
	}
	for name, content := range cases {
		path := filepath.Join(dir, name+".dat")
		if err := os.WriteFile(path, content, 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
		r := Open(path, nil)
		if r.Len() != 0 {
			t.Fatalf("%s: expected empty registry, got %d entries", name, r.Len())
		}
		if _, err := r.Resolve(KindConfig, "nezha"); err != nil {
			t.Fatalf("%s: resolve after corrupt load: %v", name, err)
		}
	}
}

func TestPersistFailureIsSurfaced(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	r := Open(filepath.Join(blocker, "filemap.dat"), nil)
	if _, err := r.Resolve(KindBinary, "cloudflared"); err == nil {
		t.Fatalf("expected persist error when parent is a file")
	}
	if _, ok := r.Lookup(KindBinary, "cloudflared"); ok {
		t.Fatalf("failed assignment must not remain in memory")
	}
}

func TestInvalidKeyRejected(t *testing.T) {
	testlog.Start(t)
	r := Open(filepath.Join(t.TempDir(), "filemap.dat"), nil)
	if _, err := r.Resolve("", "x"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if err := r.Clear(KindBinary, " "); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestConcurrentResolveAgrees(t *testing.T) {
	testlog.Start(t)
	r := Open(filepath.Join(t.TempDir(), "filemap.dat"), nil)
	const workers = 16
	results := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name, err := r.Resolve(KindBinary, "nezha-agent")
			if err != nil {
				t.Errorf("resolve: %v", err)
				return
			}
			results[i] = name
		}(i)
	}
	wg.Wait()
	for i := 1; i < workers; i++ {
		if results[i] != results[0] {
			t.Fatalf("concurrent resolve produced different names: %q vs %q", results[i], results[0])
		}
	}
}
