package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/chinmina/weixin-bridge/internal/account"
	"github.com/chinmina/weixin-bridge/internal/credential"
	"github.com/chinmina/weixin-bridge/internal/response"
	"github.com/chinmina/weixin-bridge/internal/transport"
)

// Platform token endpoints.
const (
	applicationTokenPath = "/cgi-bin/token"
	componentTokenPath   = "/cgi-bin/component/api_component_token"
	authorizerTokenPath  = "/cgi-bin/component/api_authorizer_token"
	webTokenPath         = "/sns/oauth2/refresh_token"
)

// ErrNoRefreshToken is returned when an authorizer or web credential must be
// refreshed but no refresh token is known.
var ErrNoRefreshToken = errors.New("no refresh token available")

// PlatformFetcher obtains credentials from the platform token endpoints.
type PlatformFetcher struct {
	sender transport.Sender
	opts   []credential.Option
}

// NewPlatformFetcher creates a fetcher sending through sender. The options are
// applied to every credential it issues.
func NewPlatformFetcher(sender transport.Sender, opts ...credential.Option) *PlatformFetcher {
	return &PlatformFetcher{
		sender: sender,
		opts:   opts,
	}
}

func (f *PlatformFetcher) Fetch(ctx context.Context, req FetchRequest) (credential.Credential, error) {
	a := req.Account
	switch a.Kind {
	case credential.KindApplication:
		return f.fetchApplication(ctx, a)
	case credential.KindComponent:
		return f.fetchComponent(ctx, a, req.Components)
	case credential.KindAuthorizer:
		return f.fetchAuthorizer(ctx, a, req.RefreshToken, req.Components)
	case credential.KindWeb:
		return f.fetchWeb(ctx, a, req.RefreshToken)
	}
	return credential.Credential{}, fmt.Errorf("unsupported credential kind %q", a.Kind)
}

type applicationTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (f *PlatformFetcher) fetchApplication(ctx context.Context, a account.Account) (credential.Credential, error) {
	r, err := call[applicationTokenResponse](ctx, f.sender, transport.Request{
		Method: http.MethodGet,
		Path:   applicationTokenPath,
		Query: url.Values{
			"grant_type": {"client_credential"},
			"appid":      {a.AppID},
			"secret":     {a.AppSecret},
		},
	})
	if err != nil {
		return credential.Credential{}, err
	}

	return credential.Issue(a.Kind, a.Key, r.AccessToken, "", r.ExpiresIn, f.opts...), nil
}

type componentTokenRequest struct {
	AppID  string `json:"component_appid"`
	Secret string `json:"component_appsecret"`
	Ticket string `json:"component_verify_ticket"`
}

type componentTokenResponse struct {
	AccessToken string `json:"component_access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (f *PlatformFetcher) fetchComponent(ctx context.Context, a account.Account, components ComponentResolver) (credential.Credential, error) {
	ticket, err := components.Ticket(ctx, a.Key)
	if err != nil {
		return credential.Credential{}, err
	}

	body, err := json.Marshal(componentTokenRequest{
		AppID:  a.AppID,
		Secret: a.AppSecret,
		Ticket: ticket,
	})
	if err != nil {
		return credential.Credential{}, err
	}

	r, err := call[componentTokenResponse](ctx, f.sender, transport.Request{
		Method: http.MethodPost,
		Path:   componentTokenPath,
		Body:   body,
	})
	if err != nil {
		return credential.Credential{}, err
	}

	return credential.Issue(a.Kind, a.Key, r.AccessToken, "", r.ExpiresIn, f.opts...), nil
}

type authorizerTokenRequest struct {
	ComponentAppID string `json:"component_appid"`
	AuthorizerID   string `json:"authorizer_appid"`
	RefreshToken   string `json:"authorizer_refresh_token"`
}

type authorizerTokenResponse struct {
	AccessToken  string `json:"authorizer_access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"authorizer_refresh_token"`
}

// fetchAuthorizer mints an authorizer token with the component's credential.
// A rejected component credential is refreshed once.
func (f *PlatformFetcher) fetchAuthorizer(ctx context.Context, a account.Account, refreshToken string, components ComponentResolver) (credential.Credential, error) {
	if refreshToken == "" {
		return credential.Credential{}, ErrNoRefreshToken
	}

	componentAccount, err := components.Account(a.Component)
	if err != nil {
		return credential.Credential{}, fmt.Errorf("resolving component %q: %w", a.Component, err)
	}
	if componentAccount.Kind != credential.KindComponent {
		return credential.Credential{}, fmt.Errorf("account %q referenced as component is a %s account", a.Component, componentAccount.Kind)
	}

	component, err := components.Current(ctx, a.Component)
	if err != nil {
		return credential.Credential{}, fmt.Errorf("resolving component %q: %w", a.Component, err)
	}

	body, err := json.Marshal(authorizerTokenRequest{
		ComponentAppID: componentAccount.AppID,
		AuthorizerID:   a.AppID,
		RefreshToken:   refreshToken,
	})
	if err != nil {
		return credential.Credential{}, err
	}

	send := func(componentToken string) (authorizerTokenResponse, error) {
		return call[authorizerTokenResponse](ctx, f.sender, transport.Request{
			Method: http.MethodPost,
			Path:   authorizerTokenPath,
			Body:   body,
		}.WithToken(credential.KindComponent.TokenParameter(), componentToken))
	}

	r, err := send(component.Token)
	if errors.Is(err, response.ErrCredentialInvalid) {
		component, err = components.Refresh(ctx, a.Component, component)
		if err != nil {
			return credential.Credential{}, fmt.Errorf("refreshing component %q: %w", a.Component, err)
		}
		r, err = send(component.Token)
	}
	if err != nil {
		return credential.Credential{}, err
	}

	// the platform may rotate the refresh token
	next := r.RefreshToken
	if next == "" {
		next = refreshToken
	}
	return credential.Issue(a.Kind, a.Key, r.AccessToken, next, r.ExpiresIn, f.opts...), nil
}

type webTokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	OpenID       string `json:"openid"`
	Scope        string `json:"scope"`
}

func (f *PlatformFetcher) fetchWeb(ctx context.Context, a account.Account, refreshToken string) (credential.Credential, error) {
	if refreshToken == "" {
		return credential.Credential{}, ErrNoRefreshToken
	}

	r, err := call[webTokenResponse](ctx, f.sender, transport.Request{
		Method: http.MethodGet,
		Path:   webTokenPath,
		Query: url.Values{
			"appid":         {a.AppID},
			"grant_type":    {"refresh_token"},
			"refresh_token": {refreshToken},
		},
	})
	if err != nil {
		return credential.Credential{}, err
	}

	next := r.RefreshToken
	if next == "" {
		next = refreshToken
	}
	return credential.Issue(a.Kind, a.Key, r.AccessToken, next, r.ExpiresIn, f.opts...), nil
}

// call sends a token request and classifies the response strictly: a token
// endpoint failure is always an error.
func call[T any](ctx context.Context, sender transport.Sender, req transport.Request) (T, error) {
	var zero T

	resp, err := sender.Send(ctx, req)
	if err != nil {
		return zero, err
	}

	r := response.Classify[T](resp.Body, true)
	if r.Outcome != response.Succeeded {
		if r.Err == nil {
			return zero, fmt.Errorf("%s %s: %w", req.Method, req.Path, response.ErrMalformedResponse)
		}
		return zero, fmt.Errorf("%s %s: %w", req.Method, req.Path, r.Err)
	}
	return r.Value, nil
}
