package asr

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoaderCachesSuccess(t *testing.T) {
	var calls atomic.Int32
	l := NewLoader(context.Background(), "ok", func(context.Context) (int, error) {
		calls.Add(1)
		return 42, nil
	})
	for i := 0; i < 3; i++ {
		v, err := l.Get(context.Background())
		if err != nil || v != 42 {
			t.Fatalf("get = %v, %v", v, err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("load ran %d times", calls.Load())
	}
	if !l.Loaded() {
		t.Fatalf("expected loaded")
	}
}

func TestLoaderRetriesOnce(t *testing.T) {
	var calls atomic.Int32
	l := NewLoader(context.Background(), "flaky", func(context.Context) (string, error) {
		if calls.Add(1) == 1 {
			return "", errors.New("first load fails")
		}
		return "model", nil
	})
	v, err := l.Get(context.Background())
	if err != nil || v != "model" {
		t.Fatalf("get after retry = %q, %v", v, err)
	}
	if calls.Load() != 2 {
		t.Fatalf("load ran %d times, want 2", calls.Load())
	}
}

func TestLoaderGivesUpAfterRetry(t *testing.T) {
	var calls atomic.Int32
	boom := errors.New("boom")
	l := NewLoader(context.Background(), "broken", func(context.Context) (int, error) {
		calls.Add(1)
		return 0, boom
	})
	for i := 0; i < 3; i++ {
		if _, err := l.Get(context.Background()); !errors.Is(err, boom) {
			t.Fatalf("get err = %v", err)
		}
	}
	if calls.Load() != 2 {
		t.Fatalf("load ran %d times, want 2", calls.Load())
	}
	if l.Loaded() {
		t.Fatalf("broken loader reports loaded")
	}
}

func TestLoaderGetHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	l := NewLoader(context.Background(), "slow", func(context.Context) (int, error) {
		<-release
		return 1, nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Get(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	if _, ok := l.Peek(); ok {
		t.Fatalf("peek should not report an unfinished load")
	}
}
