package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"mapleads/internal/pkg/logger"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPool_RunsTasks(t *testing.T) {
	p := NewPool("test", logger.Discard(), 3, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	var done atomic.Int32
	for i := 0; i < 5; i++ {
		if err := p.Submit(func(ctx context.Context) error {
			done.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	waitFor(t, func() bool { return done.Load() == 5 })

	if err := p.Shutdown(time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if s := p.Stats(); s.Submitted != 5 || s.Succeeded != 5 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestPool_ErrorsAndPanics(t *testing.T) {
	var handled atomic.Int32
	p := NewPool("test", logger.Discard(), 1, 5, WithErrorHandler(func(name string, err error) {
		if name == "test" {
			handled.Add(1)
		}
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	_ = p.Submit(func(ctx context.Context) error { return errors.New("boom") })
	_ = p.Submit(func(ctx context.Context) error { panic("crash") })
	_ = p.Submit(func(ctx context.Context) error { return nil })

	waitFor(t, func() bool {
		s := p.Stats()
		return s.Failed == 1 && s.Panics == 1 && s.Succeeded == 1
	})
	if handled.Load() != 1 {
		t.Fatalf("error handler called %d times", handled.Load())
	}
}

func TestPool_FullIsNonBlocking(t *testing.T) {
	p := NewPool("test", logger.Discard(), 1, 1)
	release := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	started := make(chan struct{})
	_ = p.Submit(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started
	if err := p.Submit(func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("buffered submit: %v", err)
	}

	begin := time.Now()
	if err := p.Submit(func(ctx context.Context) error { return nil }); !errors.Is(err, ErrFull) {
		t.Fatalf("want ErrFull, got %v", err)
	}
	if time.Since(begin) > 100*time.Millisecond {
		t.Fatal("Submit blocked on a full pool")
	}
	close(release)
}

func TestPool_SubmitAfterShutdown(t *testing.T) {
	p := NewPool("test", logger.Discard(), 1, 1)
	p.Start(context.Background())
	if err := p.Shutdown(time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := p.Submit(func(ctx context.Context) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
	if err := p.Shutdown(time.Second); !errors.Is(err, ErrClosed) {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestPool_ShutdownDrains(t *testing.T) {
	p := NewPool("test", logger.Discard(), 1, 10)
	p.Start(context.Background())

	var done atomic.Int32
	for i := 0; i < 4; i++ {
		_ = p.Submit(func(ctx context.Context) error {
			time.Sleep(20 * time.Millisecond)
			done.Add(1)
			return nil
		})
	}
	if err := p.Shutdown(2 * time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if done.Load() != 4 {
		t.Fatalf("drained %d tasks, want 4", done.Load())
	}
}

func TestPool_ShutdownTimeout(t *testing.T) {
	p := NewPool("test", logger.Discard(), 1, 1)
	p.Start(context.Background())
	_ = p.Submit(func(ctx context.Context) error {
		time.Sleep(500 * time.Millisecond)
		return nil
	})
	time.Sleep(20 * time.Millisecond)
	if err := p.Shutdown(50 * time.Millisecond); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestPool_RateLimited(t *testing.T) {
	p := NewPool("test", logger.Discard(), 4, 10, WithRate(20, 1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	var done atomic.Int32
	begin := time.Now()
	for i := 0; i < 5; i++ {
		_ = p.Submit(func(ctx context.Context) error {
			done.Add(1)
			return nil
		})
	}
	waitFor(t, func() bool { return done.Load() == 5 })
	// 突发 1，之后每 50ms 一个
	if elapsed := time.Since(begin); elapsed < 150*time.Millisecond {
		t.Fatalf("5 tasks at 20/s finished in %s", elapsed)
	}
}
