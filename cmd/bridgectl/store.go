package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/chinmina/weixin-bridge/internal/cache"
	"github.com/chinmina/weixin-bridge/internal/config"
	"github.com/chinmina/weixin-bridge/internal/credential"
	"github.com/chinmina/weixin-bridge/internal/token"
	"github.com/valkey-io/valkey-go"
)

// module is one cache module seen through its facade, with values boxed so
// that commands can treat every module alike.
type module interface {
	Keys(ctx context.Context) []string
	Size(ctx context.Context) int
	Clear(ctx context.Context) bool
	get(ctx context.Context, key string) (any, bool)
	remove(ctx context.Context, key string) (any, bool)
}

type facadeModule[T any] struct {
	*cache.Facade[T]
}

func (m facadeModule[T]) get(ctx context.Context, key string) (any, bool) {
	v, ok := m.Get(ctx, key)
	return v, ok
}

func (m facadeModule[T]) remove(ctx context.Context, key string) (any, bool) {
	v, ok := m.Remove(ctx, key)
	return v, ok
}

// Store holds the cache modules the CLI operates on. Cache failures are
// absorbed by the facades; the store collects them so commands can fail
// instead of reporting an empty cache.
type Store struct {
	modules map[string]module
	closers []func() error

	mu       sync.Mutex
	failures []error
}

// OpenStore opens the store described by the configuration.
type OpenStore func(ctx context.Context) (*Store, error)

func openStore(ctx context.Context) (*Store, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("configuration load failed: %w", err)
	}

	return openCaches(ctx, cfg.Cache, cache.NewValkeyClient)
}

// valkeyDialer opens the client a managed cache borrows.
type valkeyDialer func(ctx context.Context, cfg config.ValkeyConfig) (valkey.Client, error)

// openCaches builds the backends the way the service does. With a managed
// client the CLI stands in for the host: it opens the client and the store
// closes it after the caches.
func openCaches(ctx context.Context, cfg config.CacheConfig, dial valkeyDialer) (*Store, error) {
	var (
		opts   []cache.FactoryOption
		client valkey.Client
	)
	if cfg.ManagedClient {
		var err error
		client, err = dial(ctx, cfg.Valkey)
		if err != nil {
			return nil, fmt.Errorf("valkey client configuration failed: %w", err)
		}
		opts = append(opts, cache.WithManagedClient(client))
	}

	closeClient := func() {
		if client != nil {
			client.Close()
		}
	}

	tokens, err := cache.NewFromConfig[credential.Credential](ctx, cfg, opts...)
	if err != nil {
		closeClient()
		return nil, fmt.Errorf("credential cache configuration failed: %w", err)
	}

	tickets, err := cache.NewFromConfig[string](ctx, cfg, opts...)
	if err != nil {
		_ = tokens.Close()
		closeClient()
		return nil, fmt.Errorf("ticket cache configuration failed: %w", err)
	}

	s := NewStore(cfg.Prefix, tokens, tickets)
	if client != nil {
		s.closers = append(s.closers, func() error {
			client.Close()
			return nil
		})
	}
	return s, nil
}

// NewStore scopes the backends to the token and ticket modules under prefix.
// The store closes the backends.
func NewStore(prefix string, tokens cache.Backend[credential.Credential], tickets cache.Backend[string]) *Store {
	s := &Store{closers: []func() error{tokens.Close, tickets.Close}}

	s.modules = map[string]module{
		token.TokenModule: facadeModule[credential.Credential]{
			cache.NewFacade(tokens, prefix, token.TokenModule, cache.WithFailureHook[credential.Credential](s.recordFailure)),
		},
		token.TicketModule: facadeModule[string]{
			cache.NewFacade(tickets, prefix, token.TicketModule, cache.WithFailureHook[string](s.recordFailure)),
		},
	}

	return s
}

func (s *Store) recordFailure(_ context.Context, module, operation string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, fmt.Errorf("%s %s: %w", module, operation, err))
}

// Err returns the cache failures recorded so far.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.failures...)
}

func (s *Store) Module(name string) (module, error) {
	m, ok := s.modules[name]
	if !ok {
		return nil, fmt.Errorf("unknown module %q: must be one of %v", name, s.ModuleNames())
	}
	return m, nil
}

func (s *Store) ModuleNames() []string {
	names := make([]string, 0, len(s.modules))
	for name := range s.modules {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Close closes the backends, then any client they borrowed.
func (s *Store) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
