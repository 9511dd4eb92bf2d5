package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWorker_RunsTasksInOrder(t *testing.T) {
	w := newWorker(1, zerolog.Nop())
	defer w.shutdown()

	out := make(chan int, 3)
	for i := 0; i < 3; i++ {
		i := i
		if err := w.submit(context.Background(), func() { out <- i }); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	for want := 0; want < 3; want++ {
		if got := <-out; got != want {
			t.Fatalf("task order: got %d want %d", got, want)
		}
	}
}

func TestWorker_SurvivesPanic(t *testing.T) {
	w := newWorker(1, zerolog.Nop())
	defer w.shutdown()
	if err := w.submit(context.Background(), func() { panic("boom") }); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !w.ping(time.Second) {
		t.Fatalf("worker should keep running after a task panic")
	}
}

func TestWorker_Shutdown(t *testing.T) {
	w := newWorker(1, zerolog.Nop())
	w.shutdown()
	w.shutdown()
	waitFor(t, time.Second, func() bool { return !w.Alive() }, "worker exit")
	if err := w.submit(context.Background(), func() {}); !errors.Is(err, errWorkerStopped) {
		t.Fatalf("submit after shutdown: %v", err)
	}
	if w.ping(50 * time.Millisecond) {
		t.Fatalf("stopped worker must not answer pings")
	}
}

func TestWorker_BusyPingTimesOut(t *testing.T) {
	w := newWorker(1, zerolog.Nop())
	release := make(chan struct{})
	defer func() {
		close(release)
		w.shutdown()
	}()
	if err := w.submit(context.Background(), func() { <-release }); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if w.ping(30 * time.Millisecond) {
		t.Fatalf("ping should time out while the worker is stuck")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := w.submit(ctx, func() {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("submit to a stuck worker: %v", err)
	}
}
