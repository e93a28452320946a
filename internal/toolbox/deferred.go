package toolbox

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// deferredQueue runs keyed best-effort tasks after a delay. Scheduling a key
// that is already pending replaces it. Task errors are logged and dropped.
type deferredQueue struct {
	mu      sync.Mutex
	pending map[string]*deferredTask
	log     zerolog.Logger
}

type deferredTask struct {
	timer *time.Timer
	run   func() error
}

func newDeferredQueue(log zerolog.Logger) *deferredQueue {
	return &deferredQueue{pending: make(map[string]*deferredTask), log: log}
}

func (q *deferredQueue) Schedule(key string, delay time.Duration, fn func() error) {
	task := &deferredTask{run: fn}
	q.mu.Lock()
	if prev, ok := q.pending[key]; ok {
		prev.timer.Stop()
	}
	q.pending[key] = task
	task.timer = time.AfterFunc(delay, func() { q.fire(key, task) })
	q.mu.Unlock()
}

func (q *deferredQueue) fire(key string, task *deferredTask) {
	q.mu.Lock()
	if q.pending[key] != task {
		q.mu.Unlock()
		return
	}
	delete(q.pending, key)
	q.mu.Unlock()
	q.exec(key, task)
}

func (q *deferredQueue) exec(key string, task *deferredTask) {
	if err := task.run(); err != nil {
		q.log.Debug().Err(err).Str("task", key).Msg("deferred task failed")
	}
}

// Cancel drops a pending task and reports whether one was pending.
func (q *deferredQueue) Cancel(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.pending[key]
	if !ok {
		return false
	}
	task.timer.Stop()
	delete(q.pending, key)
	return true
}

// Pending reports whether key is scheduled.
func (q *deferredQueue) Pending(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[key]
	return ok
}

// Flush runs every pending task now, in no particular order.
func (q *deferredQueue) Flush() {
	q.mu.Lock()
	tasks := q.pending
	q.pending = make(map[string]*deferredTask)
	q.mu.Unlock()
	for key, task := range tasks {
		if task.timer.Stop() {
			q.exec(key, task)
		}
	}
}
