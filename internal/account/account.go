package account

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/chinmina/weixin-bridge/internal/credential"
)

// Account is a platform account registered with the bridge.
type Account struct {
	Key       string          `yaml:"key"`
	Kind      credential.Kind `yaml:"kind"`
	AppID     string          `yaml:"appId"`
	AppSecret string          `yaml:"appSecret"`

	// RetryLimit bounds the refresh-and-retry cycles of one call. Zero takes
	// the configured default.
	RetryLimit int `yaml:"retryLimit"`

	// RefreshToken seeds the first refresh of authorizer and web accounts.
	RefreshToken string `yaml:"refreshToken"`

	// Component is the key of the component account that mints tokens for an
	// authorizer account.
	Component string `yaml:"component"`
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.Key) == "" {
		return errors.New("account key is required")
	}
	if !a.Kind.Valid() {
		return fmt.Errorf("account %q: unsupported kind %q", a.Key, a.Kind)
	}
	if a.AppID == "" {
		return fmt.Errorf("account %q: appId is required", a.Key)
	}
	if a.RetryLimit < 0 {
		return fmt.Errorf("account %q: retryLimit must not be negative", a.Key)
	}

	switch a.Kind {
	case credential.KindApplication, credential.KindComponent:
		if a.AppSecret == "" {
			return fmt.Errorf("account %q: appSecret is required for %s accounts", a.Key, a.Kind)
		}
	case credential.KindAuthorizer:
		if a.Component == "" {
			return fmt.Errorf("account %q: component is required for authorizer accounts", a.Key)
		}
	}
	return nil
}

// Entry is a registered account together with its current credential. The
// credential is replaced as a whole on refresh; readers always see either the
// old or the new value.
type Entry struct {
	Account
	current atomic.Pointer[credential.Credential]
}

func newEntry(a Account) *Entry {
	e := &Entry{Account: a}
	seed := credential.New(a.Kind, a.Key)
	seed.RefreshToken = a.RefreshToken
	e.current.Store(&seed)
	return e
}

// Credential returns the latest credential stored for the account.
func (e *Entry) Credential() credential.Credential {
	return *e.current.Load()
}

// Store publishes a new credential for the account.
func (e *Entry) Store(c credential.Credential) {
	e.current.Store(&c)
}

// EffectiveRetryLimit returns the account's retry limit, or fallback when the
// account does not set one.
func (e *Entry) EffectiveRetryLimit(fallback int) int {
	if e.RetryLimit > 0 {
		return e.RetryLimit
	}
	return fallback
}
