package transport

import (
	"context"
	"errors"
	"net/url"
)

// ErrUnavailable wraps failures to reach the platform at all: connection
// errors, timeouts and non-2xx gateway responses without a body the
// classifier can read.
var ErrUnavailable = errors.New("platform unavailable")

// Request is a single platform API call. The access token is not part of the
// request; the caller adds it to Query before each attempt.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte

	// ContentType defaults to application/json when a body is present.
	ContentType string
}

// WithToken returns a copy of the request carrying the token in the named
// query parameter. The receiver's query is not modified.
func (r Request) WithToken(parameter, token string) Request {
	query := url.Values{}
	for k, v := range r.Query {
		query[k] = append([]string(nil), v...)
	}
	query.Set(parameter, token)
	r.Query = query
	return r
}

type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Sender performs platform calls. Implementations must be safe for concurrent
// use and honour context cancellation.
type Sender interface {
	Send(ctx context.Context, req Request) (Response, error)
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, req Request) (Response, error)

func (f SenderFunc) Send(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}
