package cache

import (
	"context"

	"github.com/rs/zerolog/log"
)

// FailureHook is notified whenever the facade absorbs a backend error. It lets
// a host tell a cache outage apart from a run of misses.
type FailureHook func(ctx context.Context, module, operation string, err error)

// Facade is the only cache surface callers use. It scopes every operation to
// one module namespace and absorbs backend failures: a cache outage reads as a
// miss and never aborts the calling request.
type Facade[T any] struct {
	backend   Backend[T]
	module    string
	namespace string
	onFailure FailureHook
}

type FacadeOption[T any] func(*Facade[T])

// WithFailureHook registers a callback for absorbed backend failures.
func WithFailureHook[T any](hook FailureHook) FacadeOption[T] {
	return func(f *Facade[T]) {
		f.onFailure = hook
	}
}

// NewFacade scopes the backend to prefix:module.
func NewFacade[T any](backend Backend[T], prefix, module string, opts ...FacadeOption[T]) *Facade[T] {
	f := &Facade[T]{
		backend:   backend,
		module:    module,
		namespace: Namespace(prefix, module),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *Facade[T]) Module() string {
	return f.module
}

func (f *Facade[T]) Namespace() string {
	return f.namespace
}

// Keys returns the logical keys stored by this module. Failures yield an empty
// result.
func (f *Facade[T]) Keys(ctx context.Context) []string {
	keys, err := f.backend.Keys(ctx, f.namespace)
	if err != nil {
		f.absorb(ctx, "keys", "", err)
		return []string{}
	}
	return keys
}

func (f *Facade[T]) Size(ctx context.Context) int {
	size, err := f.backend.Size(ctx, f.namespace)
	if err != nil {
		f.absorb(ctx, "size", "", err)
		return 0
	}
	return size
}

// Get returns the value for key, or false if it is absent, the key is blank or
// the backend failed.
func (f *Facade[T]) Get(ctx context.Context, key string) (T, bool) {
	value, found, err := f.backend.Get(ctx, f.namespace, key)
	if err != nil {
		f.absorb(ctx, "get", key, err)
		var zero T
		return zero, false
	}
	return value, found
}

// Put stores the value, returning it and true on success.
func (f *Facade[T]) Put(ctx context.Context, key string, value T) (T, bool) {
	stored, err := f.backend.Put(ctx, f.namespace, key, value)
	if err != nil {
		f.absorb(ctx, "put", key, err)
		var zero T
		return zero, false
	}
	return stored, true
}

// Remove deletes the entry, returning the removed value if there was one.
func (f *Facade[T]) Remove(ctx context.Context, key string) (T, bool) {
	value, found, err := f.backend.Remove(ctx, f.namespace, key)
	if err != nil {
		f.absorb(ctx, "remove", key, err)
		var zero T
		return zero, false
	}
	return value, found
}

// Clear removes every entry of this module. It reports whether the backend
// completed the operation.
func (f *Facade[T]) Clear(ctx context.Context) bool {
	if err := f.backend.Clear(ctx, f.namespace); err != nil {
		f.absorb(ctx, "clear", "", err)
		return false
	}
	return true
}

// Lookup is a reverse lookup by value. No backend supports it, so it always
// reports absent; callers must not depend on it.
func (f *Facade[T]) Lookup(_ context.Context, _ T) (string, bool) {
	return "", false
}

func (f *Facade[T]) absorb(ctx context.Context, operation, key string, err error) {
	log.Ctx(ctx).Warn().
		Err(err).
		Str("module", f.module).
		Str("operation", operation).
		Str("key", key).
		Msg("cache operation failed; treating as miss")

	recordSoftFailure(ctx, f.module, operation)

	if f.onFailure != nil {
		f.onFailure(ctx, f.module, operation, err)
	}
}
