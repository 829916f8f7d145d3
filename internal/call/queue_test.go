package call

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTaskQueueRunsInOrder(t *testing.T) {
	q := newTaskQueue()
	defer q.Close()

	var (
		mu  sync.Mutex
		got []int
	)
	for i := range 50 {
		q.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	if err := q.Run(context.Background(), func() error { return nil }); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := make([]int, 50)
	for i := range want {
		want[i] = i
	}
	if !slices.Equal(got, want) {
		t.Fatalf("expected tasks in submission order, got %v", got)
	}
}

func TestTaskQueueRunReturnsResult(t *testing.T) {
	q := newTaskQueue()
	defer q.Close()

	boom := errors.New("boom")
	if err := q.Run(context.Background(), func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestTaskQueueCloseDiscardsPending(t *testing.T) {
	q := newTaskQueue()

	started, release := make(chan struct{}), make(chan struct{})
	q.Post(func() {
		close(started)
		<-release
	})
	<-started

	var ran atomic.Bool
	q.Post(func() { ran.Store(true) })

	errc := make(chan error, 1)
	go func() { errc <- q.Run(context.Background(), func() error { return nil }) }()

	q.Close()
	select {
	case err := <-errc:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
	close(release)

	time.Sleep(20 * time.Millisecond)
	if ran.Load() {
		t.Fatal("expected queued task to be discarded")
	}
	if q.Post(func() {}) {
		t.Fatal("expected Post to fail on a closed queue")
	}
	if err := q.Run(context.Background(), func() error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestTaskQueueRunHonoursContext(t *testing.T) {
	q := newTaskQueue()
	defer q.Close()

	release := make(chan struct{})
	defer close(release)
	q.Post(func() { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Run(ctx, func() error { return nil }); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
