package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/toolbox/internal/logging"
	"github.com/danmuck/toolbox/internal/observability"
	"github.com/rs/zerolog"
)

var ErrSpawn = errors.New("supervisor: spawn failed")

const maxLineBytes = 1 << 20

// LineFunc receives each stdout/stderr line of a supervised process. Calls for
// one process never overlap.
type LineFunc func(line string)

// Spec describes a child process.
type Spec struct {
	ID     string
	Binary string
	Args   []string
	Env    map[string]string
	OnLine LineFunc
}

// ProcessInfo is a read-only view of a registered process.
type ProcessInfo struct {
	ID        string    `json:"id"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

type process struct {
	id        string
	cmd       *exec.Cmd
	startedAt time.Time
	done      chan struct{}
}

// Supervisor owns the table of running child processes, at most one per id.
type Supervisor struct {
	mu    sync.Mutex
	procs map[string]*process
	log   zerolog.Logger
}

func New() *Supervisor {
	return &Supervisor{
		procs: make(map[string]*process),
		log:   logging.For("supervisor"),
	}
}

// Spawn starts spec unless spec.ID is already live, in which case it logs and
// returns nil. Start failures return ErrSpawn and leave nothing registered.
func (s *Supervisor) Spawn(spec Spec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.procs[spec.ID]; ok {
		s.log.Warn().Str("tool", spec.ID).Msg("already running, spawn skipped")
		return nil
	}

	cmd := exec.Command(spec.Binary, spec.Args...)
	cmd.Env = mergeEnv(os.Environ(), spec.Env)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSpawn, spec.ID, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSpawn, spec.ID, err)
	}
	if err := cmd.Start(); err != nil {
		s.log.Error().Err(err).Str("tool", spec.ID).Str("binary", spec.Binary).Msg("spawn failed")
		observability.RecordProcessExit(spec.ID, "spawn_error")
		return fmt.Errorf("%w: %s: %v", ErrSpawn, spec.ID, err)
	}

	p := &process{id: spec.ID, cmd: cmd, startedAt: time.Now(), done: make(chan struct{})}
	s.procs[spec.ID] = p
	observability.SetProcessRunning(spec.ID, true)
	s.log.Info().Str("tool", spec.ID).Int("pid", cmd.Process.Pid).Msg("process started")

	onLine := spec.OnLine
	if onLine == nil {
		onLine = func(string) {}
	}
	var lineMu sync.Mutex
	var streams sync.WaitGroup
	for _, r := range []io.Reader{stdout, stderr} {
		streams.Add(1)
		go func(r io.Reader) {
			defer streams.Done()
			scanner := bufio.NewScanner(r)
			scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
			for scanner.Scan() {
				lineMu.Lock()
				onLine(scanner.Text())
				lineMu.Unlock()
			}
		}(r)
	}

	go func() {
		streams.Wait()
		err := cmd.Wait()
		s.reap(p, err)
	}()
	return nil
}

func (s *Supervisor) reap(p *process, err error) {
	defer close(p.done)

	s.mu.Lock()
	current, ok := s.procs[p.id]
	owned := ok && current == p
	if owned {
		delete(s.procs, p.id)
		observability.SetProcessRunning(p.id, false)
	}
	s.mu.Unlock()

	reason := "exited"
	if !owned {
		reason = "stopped"
	}
	level := zerolog.InfoLevel
	if owned {
		level = zerolog.WarnLevel
	}
	exitCode := 0
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		exitCode = exitErr.ExitCode()
	default:
		reason = "error"
		level = zerolog.ErrorLevel
	}
	event := s.log.WithLevel(level).Err(err).Int("exit_code", exitCode)
	observability.RecordProcessExit(p.id, reason)
	event.Str("tool", p.id).Str("reason", reason).Dur("uptime", time.Since(p.startedAt)).Msg("process exited")
}

// Stop sends SIGTERM to id and deregisters it without waiting for exit.
// It reports whether a process was registered.
func (s *Supervisor) Stop(id string) bool {
	s.mu.Lock()
	p, ok := s.procs[id]
	if ok {
		delete(s.procs, id)
		observability.SetProcessRunning(id, false)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		s.log.Debug().Err(err).Str("tool", id).Msg("terminate signal not delivered")
	}
	s.log.Info().Str("tool", id).Msg("process stopped")
	return true
}

// StopAll stops every registered process.
func (s *Supervisor) StopAll() {
	for _, info := range s.List() {
		s.Stop(info.ID)
	}
}

// Running reports whether id has a live entry.
func (s *Supervisor) Running(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.procs[id]
	return ok
}

// Count returns the number of live entries.
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

// List returns registered processes ordered by id.
func (s *Supervisor) List() []ProcessInfo {
	s.mu.Lock()
	list := make([]ProcessInfo, 0, len(s.procs))
	for id, p := range s.procs {
		list = append(list, ProcessInfo{ID: id, PID: p.cmd.Process.Pid, StartedAt: p.startedAt})
	}
	s.mu.Unlock()
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// Done returns a channel closed when the process currently registered as id
// has been reaped. It returns nil when id is not registered.
func (s *Supervisor) Done(id string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.procs[id]; ok {
		return p.done
	}
	return nil
}

// mergeEnv overlays overrides onto base, replacing keys already present.
func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, replaced := overrides[k]; replaced {
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+overrides[k])
	}
	return out
}
