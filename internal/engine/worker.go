package engine

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var errWorkerStopped = errors.New("worker stopped")

// worker is a single-thread executor. Its goroutine is locked to an OS thread
// so native thread-local state stays put between decode steps. A worker stuck
// inside a task can be shut down and abandoned; the goroutine exits whenever
// the task eventually returns.
type worker struct {
	id    uint64
	log   zerolog.Logger
	tasks chan func()
	quit  chan struct{}
	once  sync.Once
	alive atomic.Bool
}

func newWorker(id uint64, log zerolog.Logger) *worker {
	w := &worker{
		id:    id,
		log:   log,
		tasks: make(chan func()),
		quit:  make(chan struct{}),
	}
	w.alive.Store(true)
	go w.run()
	return w
}

func (w *worker) run() {
	runtime.LockOSThread()
	// Returning while locked terminates the OS thread.
	defer w.alive.Store(false)
	for {
		select {
		case <-w.quit:
			return
		case fn := <-w.tasks:
			w.exec(fn)
		}
	}
}

func (w *worker) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Uint64("worker", w.id).Interface("panic", r).Msg("worker task panicked")
		}
	}()
	fn()
}

// submit hands fn to the worker. It fails when the worker is shut down or ctx
// ends before the worker picks the task up.
func (w *worker) submit(ctx context.Context, fn func()) error {
	select {
	case <-w.quit:
		return errWorkerStopped
	default:
	}
	select {
	case w.tasks <- fn:
		return nil
	case <-w.quit:
		return errWorkerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ping verifies the worker accepts and runs a task within timeout.
func (w *worker) ping(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ran := make(chan struct{})
	if err := w.submit(ctx, func() { close(ran) }); err != nil {
		return false
	}
	select {
	case <-ran:
		return true
	case <-ctx.Done():
		return false
	}
}

func (w *worker) shutdown() { w.once.Do(func() { close(w.quit) }) }

// Alive reports whether the worker goroutine is still running.
func (w *worker) Alive() bool { return w.alive.Load() }
