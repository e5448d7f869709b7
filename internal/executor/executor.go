// Package executor implements a single dedicated worker goroutine
// draining a FIFO queue that also behaves as a set keyed by file
// identity -- a "set-queue". It is the piece that makes the whole engine
// single-flight per file and dedup-safe under rapid re-edits, in the
// shape of the single-goroutine dispatch in
// internal/gateway/service/worker/run.go (one StartRun spawns exactly
// one executing goroutine per run) combined with the results channel in
// internal/scheduler that coordinates completion with a waiter -- here,
// Drain.
package executor

import (
	"sync"

	"scle/internal/scriptconfig"
)

// Task is one unit of background work for a single file.
type Task func()

// PanicHandler is invoked when a Task panics. The worker recovers the
// panic so it never poisons the goroutine, and hands the panic value to
// this hook for logging.
type PanicHandler func(key scriptconfig.FileKey, recovered any)

// Executor is exactly one worker goroutine, a FIFO order of pending
// keys, and a set (the tasks map) enforcing that a key appears at most
// once among {queued, running}.
type Executor struct {
	mu      sync.Mutex
	cond    *sync.Cond
	order   []scriptconfig.FileKey
	tasks   map[scriptconfig.FileKey]Task
	running scriptconfig.FileKey
	hasRun  bool
	active  int // len(order) + (1 if running), i.e. outstanding work
	stopped bool
	onPanic PanicHandler
}

// New starts the single worker goroutine and returns the Executor handle.
func New(onPanic PanicHandler) *Executor {
	e := &Executor{
		tasks:   make(map[scriptconfig.FileKey]Task),
		onPanic: onPanic,
	}
	e.cond = sync.NewCond(&e.mu)
	go e.loop()
	return e
}

// EnsureScheduled enqueues task for key if and only if key is not
// already queued or running. It never blocks beyond the brief
// queue-insertion critical section.
func (e *Executor) EnsureScheduled(key scriptconfig.FileKey, task Task) {
	e.mu.Lock()
	if _, queued := e.tasks[key]; queued {
		e.mu.Unlock()
		return
	}
	if e.hasRun && e.running == key {
		e.mu.Unlock()
		return
	}
	e.tasks[key] = task
	e.order = append(e.order, key)
	e.active++
	e.mu.Unlock()
	e.cond.Signal()
}

// IsQueued reports whether key currently has a task waiting (not yet
// running). Exposed for the per-file state derivation used in tests.
func (e *Executor) IsQueued(key scriptconfig.FileKey) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.tasks[key]
	return ok
}

// IsRunning reports whether key's task is currently executing.
func (e *Executor) IsRunning(key scriptconfig.FileKey) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasRun && e.running == key
}

func (e *Executor) loop() {
	for {
		e.mu.Lock()
		for len(e.order) == 0 && !e.stopped {
			e.cond.Wait()
		}
		if e.stopped && len(e.order) == 0 {
			e.mu.Unlock()
			return
		}
		key := e.order[0]
		e.order = e.order[1:]
		task := e.tasks[key]
		delete(e.tasks, key)
		e.running = key
		e.hasRun = true
		e.mu.Unlock()

		e.runTask(key, task)

		e.mu.Lock()
		e.hasRun = false
		e.active--
		e.cond.Broadcast()
		e.mu.Unlock()
	}
}

func (e *Executor) runTask(key scriptconfig.FileKey, task Task) {
	defer func() {
		if r := recover(); r != nil && e.onPanic != nil {
			e.onPanic(key, r)
		}
	}()
	task()
}

// Drain blocks until the queue is empty and no task is running -- i.e.
// until the executor is quiescent. Tasks that schedule further tasks as
// part of their own completion keep Drain waiting until that settles
// too. Test-only.
func (e *Executor) Drain() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.active > 0 {
		e.cond.Wait()
	}
}

// Close marks the executor stopped and returns without waiting. The
// worker goroutine finishes the in-flight task, runs any tasks still
// queued, and exits once the queue is empty.
func (e *Executor) Close() {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	e.cond.Broadcast()
}
