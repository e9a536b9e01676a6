package token

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/chinmina/weixin-bridge/internal/account"
	"github.com/chinmina/weixin-bridge/internal/cache"
	"github.com/chinmina/weixin-bridge/internal/credential"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Cache modules used by the token source.
const (
	TokenModule  = "token"
	TicketModule = "ticket"
)

// TicketMissingError is returned when a component credential is needed before
// the platform has pushed a verify ticket for the component.
type TicketMissingError struct {
	Component string
}

func (e TicketMissingError) Error() string {
	return fmt.Sprintf("no verify ticket stored for component %q", e.Component)
}

func (e TicketMissingError) Status() (int, string) {
	return http.StatusServiceUnavailable, "component verify ticket not yet received"
}

// ErrNotComponent is returned when a ticket is pushed for an account that is
// not a component.
var ErrNotComponent = errors.New("verify tickets are only accepted for component accounts")

// Fetcher obtains a new credential from the platform.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (credential.Credential, error)
}

// FetchRequest describes a credential to obtain.
type FetchRequest struct {
	Account account.Account

	// RefreshToken is the most recent refresh token known for the account, if
	// its kind uses one.
	RefreshToken string

	// Components resolves the component credential and verify ticket that
	// component and authorizer fetches depend on.
	Components ComponentResolver
}

// ComponentResolver is the part of Source that fetchers depend on.
type ComponentResolver interface {
	Account(key string) (account.Account, error)
	Current(ctx context.Context, key string) (credential.Credential, error)
	Refresh(ctx context.Context, key string, stale credential.Credential) (credential.Credential, error)
	Ticket(ctx context.Context, componentKey string) (string, error)
}

// Source hands out credentials for registered accounts, refreshing them when
// they expire or are rejected.
//
// Concurrent refreshes of one account in this process are collapsed into a
// single platform call. Across processes sharing a remote cache a refresh may
// still happen more than once; the last stored credential wins.
type Source struct {
	registry *account.Registry
	tokens   *cache.Facade[credential.Credential]
	tickets  *cache.Facade[string]
	fetcher  Fetcher

	group        singleflight.Group
	localTickets sync.Map
}

func NewSource(registry *account.Registry, tokens *cache.Facade[credential.Credential], tickets *cache.Facade[string], fetcher Fetcher) *Source {
	return &Source{
		registry: registry,
		tokens:   tokens,
		tickets:  tickets,
		fetcher:  fetcher,
	}
}

// Account returns the registered account for key.
func (s *Source) Account(key string) (account.Account, error) {
	entry, err := s.registry.Lookup(key)
	if err != nil {
		return account.Account{}, err
	}
	return entry.Account, nil
}

// Current returns a usable credential for the account. The in-process copy is
// preferred, then an unexpired cached copy (possibly stored by another
// process); failing both the credential is refreshed.
func (s *Source) Current(ctx context.Context, key string) (credential.Credential, error) {
	entry, err := s.registry.Lookup(key)
	if err != nil {
		return credential.Credential{}, err
	}

	c := entry.Credential()
	if !c.IsExpired() {
		return c, nil
	}

	if cached, ok := s.tokens.Get(ctx, key); ok && !cached.IsExpired() {
		entry.Store(cached)
		return cached, nil
	}

	return s.Refresh(ctx, key, c)
}

// Refresh replaces a credential that was found expired or was rejected by the
// platform. stale is the credential the caller used: if the account already
// holds a different, unexpired token, another caller refreshed in the meantime
// and that token is returned without a platform call.
//
// Concurrent refreshes share one platform call only when they replace the same
// stale token: a caller holding a newer token must not be handed the result of
// a flight that may adopt exactly that token.
func (s *Source) Refresh(ctx context.Context, key string, stale credential.Credential) (credential.Credential, error) {
	result, err, shared := s.group.Do(key+"\x00"+stale.Token, func() (any, error) {
		return s.refresh(ctx, key, stale)
	})
	if err != nil {
		return credential.Credential{}, err
	}

	if shared {
		log.Ctx(ctx).Debug().Str("account", key).Msg("joined in-flight credential refresh")
	}
	return result.(credential.Credential), nil
}

func (s *Source) refresh(ctx context.Context, key string, stale credential.Credential) (credential.Credential, error) {
	entry, err := s.registry.Lookup(key)
	if err != nil {
		return credential.Credential{}, err
	}

	latest := entry.Credential()
	if superseded(latest, stale) {
		return latest, nil
	}

	refreshToken := latest.RefreshToken
	if cached, ok := s.tokens.Get(ctx, key); ok {
		if superseded(cached, stale) {
			entry.Store(cached)
			return cached, nil
		}
		if cached.RefreshToken != "" {
			refreshToken = cached.RefreshToken
		}
	}

	fresh, err := s.fetcher.Fetch(ctx, FetchRequest{
		Account:      entry.Account,
		RefreshToken: refreshToken,
		Components:   s,
	})
	if err != nil {
		return credential.Credential{}, fmt.Errorf("refreshing %s credential for account %q: %w", entry.Kind, key, err)
	}

	// a failed write is absorbed by the cache; the credential is still usable
	// by this process
	s.tokens.Put(ctx, key, fresh)
	entry.Store(fresh)

	log.Ctx(ctx).Info().
		Str("account", key).
		Str("kind", string(fresh.Kind)).
		Time("expiry", fresh.ExpiresAt()).
		Msg("credential refreshed")

	return fresh, nil
}

// superseded reports whether candidate is a usable credential other than the
// stale one.
func superseded(candidate, stale credential.Credential) bool {
	return candidate.Token != "" &&
		candidate.Token != stale.Token &&
		!candidate.IsExpired()
}

// Invalidate forgets the credential of an account, both in process and in the
// cache. The next call refreshes it.
func (s *Source) Invalidate(ctx context.Context, key string) error {
	entry, err := s.registry.Lookup(key)
	if err != nil {
		return err
	}

	seed := credential.New(entry.Kind, key)
	seed.RefreshToken = entry.Credential().RefreshToken
	entry.Store(seed)
	s.tokens.Remove(ctx, key)
	return nil
}

// SetTicket stores the verify ticket the platform pushes to a component every
// few minutes.
func (s *Source) SetTicket(ctx context.Context, componentKey, ticket string) error {
	entry, err := s.registry.Lookup(componentKey)
	if err != nil {
		return err
	}
	if entry.Kind != credential.KindComponent {
		return ErrNotComponent
	}

	s.localTickets.Store(componentKey, ticket)
	s.tickets.Put(ctx, componentKey, ticket)
	return nil
}

// Ticket returns the latest verify ticket for a component. A ticket stored by
// another process is preferred over the local copy.
func (s *Source) Ticket(ctx context.Context, componentKey string) (string, error) {
	if ticket, ok := s.tickets.Get(ctx, componentKey); ok && ticket != "" {
		return ticket, nil
	}
	if ticket, ok := s.localTickets.Load(componentKey); ok {
		return ticket.(string), nil
	}
	return "", TicketMissingError{Component: componentKey}
}
