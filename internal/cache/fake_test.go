package cache

import (
	"context"
)

// failingBackend returns err from every operation and counts calls.
type failingBackend[T any] struct {
	err   error
	calls map[string]int
}

func newFailingBackend[T any](err error) *failingBackend[T] {
	return &failingBackend[T]{err: err, calls: map[string]int{}}
}

func (f *failingBackend[T]) Keys(_ context.Context, _ string) ([]string, error) {
	f.calls["keys"]++
	return nil, f.err
}

func (f *failingBackend[T]) Size(_ context.Context, _ string) (int, error) {
	f.calls["size"]++
	return 0, f.err
}

func (f *failingBackend[T]) Get(_ context.Context, _, _ string) (T, bool, error) {
	f.calls["get"]++
	var zero T
	return zero, false, f.err
}

func (f *failingBackend[T]) Put(_ context.Context, _, _ string, _ T) (T, error) {
	f.calls["put"]++
	var zero T
	return zero, f.err
}

func (f *failingBackend[T]) Remove(_ context.Context, _, _ string) (T, bool, error) {
	f.calls["remove"]++
	var zero T
	return zero, false, f.err
}

func (f *failingBackend[T]) Clear(_ context.Context, _ string) error {
	f.calls["clear"]++
	return f.err
}

func (f *failingBackend[T]) Close() error {
	f.calls["close"]++
	return f.err
}
