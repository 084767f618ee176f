package lazy

import (
	"context"
	"sync"
	"sync/atomic"
)

// Value holds a resource that is built on first use. Only one build runs
// at a time; a failed build is not cached, so the next Get tries again.
type Value[T any] struct {
	mu    sync.Mutex
	ready atomic.Pointer[T]
	build func(ctx context.Context) (T, error)
}

func New[T any](build func(ctx context.Context) (T, error)) *Value[T] {
	return &Value[T]{build: build}
}

// Ready wraps an already constructed value.
func Ready[T any](v T) *Value[T] {
	l := &Value[T]{}
	l.ready.Store(&v)
	return l
}

func (l *Value[T]) Get(ctx context.Context) (T, error) {
	if v := l.ready.Load(); v != nil {
		return *v, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if v := l.ready.Load(); v != nil {
		return *v, nil
	}

	v, err := l.build(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	l.ready.Store(&v)
	return v, nil
}
