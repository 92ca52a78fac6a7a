package asr

import (
	"context"
	"sync"
)

// Loader loads one model in the background and hands it to every caller
// that needs it. A failed background load is retried once synchronously by
// the first caller to observe it; a success is cached for good.
type Loader[T any] struct {
	name string
	load func(ctx context.Context) (T, error)
	done chan struct{}

	mu      sync.Mutex
	val     T
	err     error
	ok      bool
	retried bool
}

// NewLoader starts load in a new goroutine and returns immediately.
func NewLoader[T any](ctx context.Context, name string, load func(ctx context.Context) (T, error)) *Loader[T] {
	l := &Loader[T]{name: name, load: load, done: make(chan struct{})}
	go func() {
		defer close(l.done)
		v, err := load(ctx)
		l.mu.Lock()
		l.val, l.err, l.ok = v, err, err == nil
		l.mu.Unlock()
	}()
	return l
}

// Name identifies the model in logs.
func (l *Loader[T]) Name() string { return l.name }

// Get waits for the background load and returns its result, retrying once
// if it failed.
func (l *Loader[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-l.done:
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ok {
		return l.val, nil
	}
	if !l.retried {
		l.retried = true
		v, err := l.load(ctx)
		if err == nil {
			l.val, l.err, l.ok = v, nil, true
			return v, nil
		}
		l.err = err
	}
	var zero T
	return zero, l.err
}

// Loaded reports whether a model is available without waiting.
func (l *Loader[T]) Loaded() bool {
	select {
	case <-l.done:
	default:
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ok
}

// Peek returns the loaded model if the load already finished successfully.
func (l *Loader[T]) Peek() (T, bool) {
	select {
	case <-l.done:
	default:
		var zero T
		return zero, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.val, l.ok
}
