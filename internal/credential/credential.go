package credential

import (
	"encoding/json"
	"fmt"
	"time"
)

// SafetyMargin is subtracted from the lifetime declared by the platform so that
// a credential is considered expired before the platform starts rejecting it.
const SafetyMargin = 180 * time.Second

// Kind identifies which platform flow issues a credential.
type Kind string

const (
	// KindApplication is the official account token minted from an app ID and
	// secret.
	KindApplication Kind = "application"
	// KindComponent is the open platform (third-party component) token.
	KindComponent Kind = "component"
	// KindAuthorizer is the token a component mints on behalf of an account that
	// authorized it.
	KindAuthorizer Kind = "authorizer"
	// KindWeb is the web authorization (OAuth) token for an end user.
	KindWeb Kind = "web"
)

func (k Kind) Valid() bool {
	switch k {
	case KindApplication, KindComponent, KindAuthorizer, KindWeb:
		return true
	}
	return false
}

// TokenParameter is the query parameter the platform expects the token in.
func (k Kind) TokenParameter() string {
	if k == KindComponent {
		return "component_access_token"
	}
	return "access_token"
}

// Credential is an expiring bearer token owned by one account. The expiry
// instant is derived from the lifetime and is only ever recomputed by
// SetLifetime.
type Credential struct {
	Kind         Kind
	OwnerMark    string
	Token        string
	RefreshToken string

	lifetimeSeconds int64
	expiresAtMillis int64

	now func() time.Time
}

type Option func(*Credential)

// WithClock overrides the clock used for expiry accounting.
func WithClock(now func() time.Time) Option {
	return func(c *Credential) {
		c.now = now
	}
}

// New creates an empty credential for the owner. It is expired until a token and
// lifetime are set.
func New(kind Kind, ownerMark string, opts ...Option) Credential {
	c := Credential{
		Kind:      kind,
		OwnerMark: ownerMark,
	}
	for _, o := range opts {
		o(&c)
	}
	return c
}

// Issue creates a populated credential as returned by a refresh call.
func Issue(kind Kind, ownerMark, token, refreshToken string, lifetimeSeconds int64, opts ...Option) Credential {
	c := New(kind, ownerMark, opts...)
	c.Token = token
	c.RefreshToken = refreshToken
	c.SetLifetime(lifetimeSeconds)
	return c
}

func (c *Credential) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// SetLifetime records the lifetime declared at issuance and recomputes the
// expiry instant relative to now.
func (c *Credential) SetLifetime(seconds int64) {
	c.lifetimeSeconds = seconds
	margin := int64(SafetyMargin / time.Second)
	c.expiresAtMillis = c.clock().UnixMilli() + (seconds-margin)*1000
}

func (c Credential) LifetimeSeconds() int64 {
	return c.lifetimeSeconds
}

func (c Credential) ExpiresAtMillis() int64 {
	return c.expiresAtMillis
}

func (c Credential) ExpiresAt() time.Time {
	return time.UnixMilli(c.expiresAtMillis)
}

// IsExpired reports whether the credential can no longer be used: either the
// expiry instant has been reached or no token was ever issued.
func (c Credential) IsExpired() bool {
	return c.Token == "" || c.clock().UnixMilli() >= c.expiresAtMillis
}

func (c Credential) String() string {
	return fmt.Sprintf("%s credential for %q (expires %s)", c.Kind, c.OwnerMark, c.ExpiresAt().UTC().Format(time.RFC3339))
}

// wireCredential is the persisted form. The expiry is stored as computed at
// issuance so that a copy read back from a remote store keeps the original
// deadline.
type wireCredential struct {
	Kind            Kind   `json:"kind"`
	OwnerMark       string `json:"ownerMark"`
	Token           string `json:"token"`
	RefreshToken    string `json:"refreshToken,omitempty"`
	LifetimeSeconds int64  `json:"lifetimeSeconds"`
	ExpiresAtMillis int64  `json:"expiresAtMillis"`
}

func (c Credential) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireCredential{
		Kind:            c.Kind,
		OwnerMark:       c.OwnerMark,
		Token:           c.Token,
		RefreshToken:    c.RefreshToken,
		LifetimeSeconds: c.lifetimeSeconds,
		ExpiresAtMillis: c.expiresAtMillis,
	})
}

func (c *Credential) UnmarshalJSON(data []byte) error {
	var w wireCredential
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	c.Kind = w.Kind
	c.OwnerMark = w.OwnerMark
	c.Token = w.Token
	c.RefreshToken = w.RefreshToken
	c.lifetimeSeconds = w.LifetimeSeconds
	c.expiresAtMillis = w.ExpiresAtMillis
	return nil
}

// Equal compares the persisted state of two credentials, ignoring the clock.
func (c Credential) Equal(other Credential) bool {
	return c.Kind == other.Kind &&
		c.OwnerMark == other.OwnerMark &&
		c.Token == other.Token &&
		c.RefreshToken == other.RefreshToken &&
		c.lifetimeSeconds == other.lifetimeSeconds &&
		c.expiresAtMillis == other.expiresAtMillis
}
