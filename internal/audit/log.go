package audit

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level is the log level audit entries are written at. It sits above every
// standard level so that audit entries survive any level filtering.
const Level = zerolog.Level(20)

// RequestIDHeader carries the request ID. An incoming value is reused so that
// callers can correlate their own logs, otherwise one is generated.
const RequestIDHeader = "X-Request-Id"

type key struct{}

var logKey = key{}

// Entry is the audit record for a single request. Handlers fill in the account
// and platform details as the request progresses; the middleware writes the
// entry once the response is complete.
type Entry struct {
	RequestID string
	Method    string
	Path      string
	Status    int
	SourceIP  string
	UserAgent string

	Authorized bool
	AuthMethod string

	AccountKey  string
	AccountKind string
	Operation   string

	Refreshed  bool
	ExpirySecs int64

	PlatformPath string
	PlatformCode int
	Attempts     int

	Error string
}

// MarshalZerologObject groups the entry into nested dictionaries. The request
// and authorization dictionaries are always written; the rest only when they
// hold something.
func (e *Entry) MarshalZerologObject(event *zerolog.Event) {
	request := zerolog.Dict().
		Str("id", e.RequestID).
		Str("method", e.Method).
		Str("path", e.Path).
		Int("status", e.Status).
		Str("sourceIP", e.SourceIP).
		Str("userAgent", e.UserAgent)
	event.Dict("request", request)

	auth := zerolog.Dict().Bool("authorized", e.Authorized)
	if e.AuthMethod != "" {
		auth.Str("method", e.AuthMethod)
	}
	event.Dict("authorization", auth)

	NewOptionalEvent(nil).
		Str("key", e.AccountKey).
		Str("kind", e.AccountKind).
		Str("operation", e.Operation).
		Set(event, "account")

	NewOptionalEvent(nil).
		Flag("refreshed", e.Refreshed).
		Expiry(e.ExpirySecs).
		Set(event, "credential")

	NewOptionalEvent(nil).
		Str("path", e.PlatformPath).
		Int("code", e.PlatformCode).
		Int("attempts", e.Attempts).
		Set(event, "platform")

	if e.Error != "" {
		event.Str("error", e.Error)
	}
}

// Begin captures the request details.
func (e *Entry) Begin(r *http.Request) {
	e.Method = r.Method
	e.Path = r.URL.Path
	e.UserAgent = r.UserAgent()
	e.SourceIP = sourceIP(r)
}

// End returns a function that writes the entry. It is intended to be
// deferred, so a panic in the handler still produces an audit record before
// the panic continues.
func (e *Entry) End(ctx context.Context) func() {
	return func() {
		if r := recover(); r != nil {
			if e.Error != "" {
				e.Error += "; "
			}
			e.Error += fmt.Sprintf("panic: %v", r)
			if e.Status == 0 {
				e.Status = http.StatusInternalServerError
			}
			e.write(ctx)
			panic(r)
		}

		if e.Status == 0 {
			e.Status = http.StatusOK
		}
		e.write(ctx)
	}
}

func (e *Entry) write(ctx context.Context) {
	log.Ctx(ctx).WithLevel(Level).EmbedObject(e).Msg("audit")
}

// Context returns the audit entry held by ctx, creating and attaching a new
// one if there is none.
func Context(ctx context.Context) (context.Context, *Entry) {
	if e, ok := ctx.Value(logKey).(*Entry); ok {
		return ctx, e
	}
	e := &Entry{}
	return context.WithValue(ctx, logKey, e), e
}

// Log returns the audit entry for the current request. Outside of the
// middleware a detached entry is returned, so callers can always write to it.
func Log(ctx context.Context) *Entry {
	_, e := Context(ctx)
	return e
}

// Middleware attaches an audit entry to each request and writes it when the
// handler returns.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, entry := Context(r.Context())

			entry.RequestID = r.Header.Get(RequestIDHeader)
			if entry.RequestID == "" {
				entry.RequestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, entry.RequestID)

			entry.Begin(r)
			defer entry.End(ctx)()

			next.ServeHTTP(&statusRecorder{ResponseWriter: w, entry: entry}, r.WithContext(ctx))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	entry *Entry
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	if w.entry.Status == 0 {
		w.entry.Status = statusCode
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.entry.Status == 0 {
		w.entry.Status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func sourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
