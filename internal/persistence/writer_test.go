package persistence

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func TestWriterQueueKeepsOrderUnderBackpressure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWriterQueue(slog.Default(), 1)
	w.Start(ctx)

	var (
		mu  sync.Mutex
		ran []string
	)
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			ran = append(ran, name)
			mu.Unlock()

			return nil
		}
	}

	// Hold the worker on the first command so the buffer overflows.
	release := make(chan struct{})
	w.Enqueue("gate", func(context.Context) error {
		<-release

		return nil
	})

	names := []string{"first", "second", "third", "fourth"}
	submitted := make(chan struct{})
	go func() {
		for _, name := range names {
			w.Enqueue(name, record(name))
		}
		close(submitted)
	}()

	close(release)
	select {
	case <-submitted:
	case <-time.After(5 * time.Second):
		t.Fatalf("enqueue blocked past queue drain")
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(ran)
		mu.Unlock()
		if n == len(names) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ran) != len(names) {
		t.Fatalf("ran %d commands, want %d", len(ran), len(names))
	}
	for i, name := range names {
		if ran[i] != name {
			t.Fatalf("command %d = %q, want %q (order lost under backpressure)", i, ran[i], name)
		}
	}
}

func TestWriterQueueEnqueueReturnsAfterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := NewWriterQueue(slog.Default(), 1)
	w.Start(ctx)
	cancel()

	// Fill the buffer, then keep enqueueing; once the worker is gone the
	// calls must not block forever.
	returned := make(chan struct{})
	go func() {
		for i := 0; i < 4; i++ {
			w.Enqueue("after-stop", func(context.Context) error { return nil })
		}
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatalf("enqueue blocked after queue stop")
	}
}
