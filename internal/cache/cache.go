package cache

import (
	"context"
	"errors"
	"strings"
)

// Separator joins the prefix, module and resource parts of a storage key.
const Separator = ":"

// DefaultPrefix is the fixed leading component of every storage key.
const DefaultPrefix = "weixin"

// ErrBlankKey is returned when a value is stored under an empty key: such an
// entry could never be read back.
var ErrBlankKey = errors.New("cache key must not be blank")

// Backend is the storage capability shared by every cache variant. The generic
// type T is the value being cached. Operations are scoped to a namespace (see
// Namespace); keys passed in and returned are bare resource identifiers.
//
// Implementations report failures as errors. Absorbing them is the Facade's
// job.
type Backend[T any] interface {
	// Keys returns every resource identifier stored under the namespace. An
	// absent namespace yields an empty result, not an error.
	Keys(ctx context.Context, namespace string) ([]string, error)

	// Size returns the number of entries stored under the namespace.
	Size(ctx context.Context, namespace string) (int, error)

	// Get retrieves a value. Returns the value, whether it was found, and any
	// error. A blank key never matches.
	Get(ctx context.Context, namespace, key string) (T, bool, error)

	// Put stores a value, overwriting any existing entry, and returns the
	// stored value.
	Put(ctx context.Context, namespace, key string, value T) (T, error)

	// Remove deletes an entry, returning the removed value if there was one.
	Remove(ctx context.Context, namespace, key string) (T, bool, error)

	// Clear removes every entry under the namespace.
	Clear(ctx context.Context, namespace string) error

	// Close releases any resources held by the backend.
	Close() error
}

// Namespace builds the namespace for a module under the given prefix.
func Namespace(prefix, module string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + Separator + module
}

// FullKey builds the storage key for a resource. The layout is the same for
// every backend: prefix:module:resource.
func FullKey(namespace, resource string) string {
	return namespace + Separator + resource
}

// Resource strips the namespace from a storage key, returning the bare
// resource identifier and whether the key belonged to the namespace.
func Resource(namespace, fullKey string) (string, bool) {
	return strings.CutPrefix(fullKey, namespace+Separator)
}

// pattern is the enumeration pattern matching every key in the namespace.
// Glob metacharacters in the namespace match only themselves.
func pattern(namespace string) string {
	return FullKey(escapeGlob(namespace), "*")
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func blank(key string) bool {
	return strings.TrimSpace(key) == ""
}
