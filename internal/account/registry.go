package account

import (
	"fmt"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
)

// NotFoundError is returned when no account is registered under a key.
type NotFoundError struct {
	Key string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("account %q is not registered", e.Key)
}

func (e NotFoundError) Status() (int, string) {
	return http.StatusNotFound, "account not registered"
}

// Registry holds the registered accounts. Lookups read an immutable snapshot
// without locking; registration copies the snapshot and swaps it in.
type Registry struct {
	mu      sync.Mutex // serializes writers
	entries atomic.Pointer[map[string]*Entry]
}

func NewRegistry() *Registry {
	r := &Registry{}
	empty := map[string]*Entry{}
	r.entries.Store(&empty)
	return r
}

// Register adds or replaces accounts. All accounts are validated before any is
// published.
func (r *Registry) Register(accounts ...Account) error {
	for _, a := range accounts {
		if err := a.Validate(); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.entries.Load()
	next := make(map[string]*Entry, len(current)+len(accounts))
	for k, e := range current {
		next[k] = e
	}
	for _, a := range accounts {
		next[a.Key] = newEntry(a)
	}

	r.entries.Store(&next)
	return nil
}

// Lookup returns the entry registered under key.
func (r *Registry) Lookup(key string) (*Entry, error) {
	e, ok := (*r.entries.Load())[key]
	if !ok {
		return nil, NotFoundError{Key: key}
	}
	return e, nil
}

// Keys returns the registered account keys in sorted order.
func (r *Registry) Keys() []string {
	entries := *r.entries.Load()
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (r *Registry) Len() int {
	return len(*r.entries.Load())
}
