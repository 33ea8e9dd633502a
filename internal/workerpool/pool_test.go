package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsAllJobsBeforeClose(t *testing.T) {
	p := New(context.Background(), 3)
	var ran atomic.Int32
	for range 50 {
		if err := p.Submit(context.Background(), func(context.Context) error {
			ran.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	p.Close()
	if ran.Load() != 50 {
		t.Fatalf("ran = %d, want 50", ran.Load())
	}
	if err := p.Submit(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("Submit after Close err = %v, want ErrClosed", err)
	}
	p.Close()
}

func TestPoolRunsJobsInParallel(t *testing.T) {
	const workers = 4
	p := New(context.Background(), workers)
	defer p.Close()

	var started sync.WaitGroup
	started.Add(workers)
	release := make(chan struct{})
	for range workers {
		_ = p.Submit(context.Background(), func(context.Context) error {
			started.Done()
			<-release
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		started.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("workers did not run concurrently")
	}
	close(release)
}

func TestPoolReportsErrorsAndPanics(t *testing.T) {
	var mu sync.Mutex
	var errs []error
	p := New(context.Background(), 1, WithErrorHandler(func(err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, err)
	}))

	boom := errors.New("boom")
	_ = p.Submit(context.Background(), func(context.Context) error { return boom })
	_ = p.Submit(context.Background(), func(context.Context) error { panic("kaput") })
	_ = p.Submit(context.Background(), func(context.Context) error { return nil })
	p.Close()

	if len(errs) != 2 {
		t.Fatalf("errors = %v, want 2", errs)
	}
	if !errors.Is(errs[0], boom) {
		t.Fatalf("first error = %v, want boom", errs[0])
	}
}

func TestSubmitHonoursContext(t *testing.T) {
	p := New(context.Background(), 1, WithQueueSize(0))
	block := make(chan struct{})
	_ = p.Submit(context.Background(), func(context.Context) error {
		<-block
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, func(context.Context) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Submit err = %v, want DeadlineExceeded", err)
	}
	close(block)
	p.Close()
}
