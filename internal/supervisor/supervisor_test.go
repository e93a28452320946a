package supervisor

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/toolbox/internal/testutil/testlog"
)

func waitDone(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	if ch == nil {
		return
	}
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("process was not reaped in time")
	}
}

type lineSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *lineSink) add(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
}

func (s *lineSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func TestSpawnSameIDIsNoOpWhileLive(t *testing.T) {
	testlog.Start(t)
	s := New()
	spec := Spec{ID: "cloudflared", Binary: "/bin/sh", Args: []string{"-c", "exec sleep 30"}}

	if err := s.Spawn(spec); err != nil {
		t.Fatalf("first spawn: %v", err)
	}
	first := s.List()[0].PID
	if err := s.Spawn(spec); err != nil {
		t.Fatalf("second spawn should be a no-op, got %v", err)
	}
	if s.Count() != 1 {
		t.Fatalf("expected exactly one entry, got %d", s.Count())
	}
	if pid := s.List()[0].PID; pid != first {
		t.Fatalf("second spawn replaced the process: %d -> %d", first, pid)
	}

	done := s.Done("cloudflared")
	if !s.Stop("cloudflared") {
		t.Fatalf("expected stop to find the process")
	}
	if s.Running("cloudflared") {
		t.Fatalf("stop must deregister immediately")
	}
	waitDone(t, done)
}

func TestSpawnAfterExitSucceeds(t *testing.T) {
	testlog.Start(t)
	s := New()
	sink := &lineSink{}
	spec := Spec{ID: "nezha", Binary: "/bin/sh", Args: []string{"-c", "echo run"}, OnLine: sink.add}

	if err := s.Spawn(spec); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	waitDone(t, s.Done("nezha"))
	deadline := time.Now().Add(5 * time.Second)
	for s.Running("nezha") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.Running("nezha") {
		t.Fatalf("exited process still registered")
	}

	if err := s.Spawn(spec); err != nil {
		t.Fatalf("respawn: %v", err)
	}
	waitDone(t, s.Done("nezha"))
	deadline = time.Now().Add(5 * time.Second)
	for len(sink.snapshot()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := sink.snapshot(); len(got) != 2 || got[0] != "run" || got[1] != "run" {
		t.Fatalf("expected two runs of output, got %v", got)
	}
}

func TestOutputStreamsAndEnv(t *testing.T) {
	testlog.Start(t)
	t.Setenv("TOOLBOX_SUPERVISOR_BASE", "base")
	t.Setenv("TOOLBOX_SUPERVISOR_OVERRIDE", "old")
	s := New()
	sink := &lineSink{}
	script := `echo "out $TOOLBOX_SUPERVISOR_BASE"; echo "err $TOOLBOX_SUPERVISOR_OVERRIDE" 1>&2; echo "token $TUNNEL_TOKEN"`
	err := s.Spawn(Spec{
		ID:     "komari",
		Binary: "/bin/sh",
		Args:   []string{"-c", script},
		Env:    map[string]string{"TOOLBOX_SUPERVISOR_OVERRIDE": "new", "TUNNEL_TOKEN": "abc"},
		OnLine: sink.add,
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	waitDone(t, s.Done("komari"))

	got := strings.Join(sink.snapshot(), "|")
	for _, want := range []string{"out base", "err new", "token abc"} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in output %q", want, got)
		}
	}
	if strings.Contains(got, "err old") {
		t.Fatalf("override did not replace inherited env: %q", got)
	}
}

func TestSpawnFailureIsNotRegistered(t *testing.T) {
	testlog.Start(t)
	s := New()
	err := s.Spawn(Spec{ID: "komari", Binary: filepath.Join(t.TempDir(), "missing-binary")})
	if !errors.Is(err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn, got %v", err)
	}
	if s.Running("komari") || s.Count() != 0 {
		t.Fatalf("failed spawn must not leave an entry")
	}
}

func TestStopUnknownAndStopAll(t *testing.T) {
	testlog.Start(t)
	s := New()
	if s.Stop("nothing") {
		t.Fatalf("stop of unknown id should report false")
	}
	for _, id := range []string{"a", "b"} {
		if err := s.Spawn(Spec{ID: id, Binary: "/bin/sh", Args: []string{"-c", "exec sleep 30"}}); err != nil {
			t.Fatalf("spawn %s: %v", id, err)
		}
	}
	doneA, doneB := s.Done("a"), s.Done("b")
	s.StopAll()
	if s.Count() != 0 {
		t.Fatalf("expected empty table after StopAll, got %d", s.Count())
	}
	waitDone(t, doneA)
	waitDone(t, doneB)
}

func TestMergeEnv(t *testing.T) {
	testlog.Start(t)
	got := mergeEnv([]string{"A=1", "B=2", "PATH=/bin"}, map[string]string{"B": "3", "C": "4"})
	want := []string{"A=1", "PATH=/bin", "B=3", "C=4"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("mergeEnv = %v, want %v", got, want)
	}
}
