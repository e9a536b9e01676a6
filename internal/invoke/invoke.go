package invoke

import (
	"context"
	"fmt"
	"net/http"

	"github.com/chinmina/weixin-bridge/internal/account"
	"github.com/chinmina/weixin-bridge/internal/credential"
	"github.com/chinmina/weixin-bridge/internal/response"
	"github.com/chinmina/weixin-bridge/internal/transport"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/chinmina/weixin-bridge/internal/invoke"

// DefaultRetryLimit applies when neither the account nor the options set one.
const DefaultRetryLimit = 2

// CredentialSource supplies and refreshes account credentials.
type CredentialSource interface {
	Account(key string) (account.Account, error)
	Current(ctx context.Context, key string) (credential.Credential, error)
	Refresh(ctx context.Context, key string, stale credential.Credential) (credential.Credential, error)
}

type Options struct {
	// Strict surfaces platform failures as errors. When false a failed call
	// reports an absent value and no error. Rejected credentials are always
	// reported once retries are exhausted.
	Strict bool

	// DefaultRetryLimit bounds refreshes for accounts without their own limit.
	DefaultRetryLimit int
}

// Orchestrator runs platform calls with the current credential of an account,
// refreshing and retrying when the platform rejects it.
type Orchestrator struct {
	source CredentialSource
	sender transport.Sender
	opts   Options
}

func New(source CredentialSource, sender transport.Sender, opts Options) *Orchestrator {
	if opts.DefaultRetryLimit <= 0 {
		opts.DefaultRetryLimit = DefaultRetryLimit
	}
	initMetrics()
	return &Orchestrator{
		source: source,
		sender: sender,
		opts:   opts,
	}
}

// ExhaustedError reports a call whose credential was still rejected after the
// account's retry limit was reached.
type ExhaustedError struct {
	AccountKey string
	Attempts   int
	Cause      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("account %q: credential rejected after %d attempts: %v", e.AccountKey, e.Attempts, e.Cause)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Cause
}

// Is matches response.ErrCredentialInvalid whatever the cause.
func (e *ExhaustedError) Is(target error) bool {
	return target == response.ErrCredentialInvalid
}

func (e *ExhaustedError) Status() (int, string) {
	return http.StatusBadGateway, "platform rejected the refreshed credential"
}

// Do sends req on behalf of the account and decodes the result into T. The
// boolean reports whether a value was produced: it is false for failed calls
// in permissive mode.
//
// The credential is read again before every attempt, so a refresh completed by
// a concurrent caller is picked up. Transport failures are not retried.
func Do[T any](ctx context.Context, o *Orchestrator, key string, req transport.Request) (T, bool, error) {
	var zero T

	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "invoke.call",
		trace.WithAttributes(
			attribute.String("weixin.account", key),
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.Path),
		),
	)
	defer span.End()

	a, err := o.source.Account(key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "account lookup failed")
		return zero, false, err
	}

	limit := a.RetryLimit
	if limit <= 0 {
		limit = o.opts.DefaultRetryLimit
	}

	attempts, refreshes := 0, 0
	defer func() {
		span.SetAttributes(
			attribute.Int("invoke.attempts", attempts),
			attribute.Int("invoke.refreshes", refreshes),
		)
	}()

	for {
		// Ready
		c, err := o.source.Current(ctx, key)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "credential unavailable")
			return zero, false, fmt.Errorf("obtaining credential for account %q: %w", key, err)
		}

		// Sent
		attempts++
		recordAttempt(ctx, key)
		resp, err := o.sender.Send(ctx, req.WithToken(c.Kind.TokenParameter(), c.Token))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "transport failed")
			return zero, false, fmt.Errorf("calling %s for account %q: %w", req.Path, key, err)
		}

		r := response.Classify[T](resp.Body, o.opts.Strict)
		switch r.Outcome {
		case response.Succeeded:
			span.SetStatus(codes.Ok, "")
			return r.Value, true, nil

		case response.Failed:
			if r.Err != nil {
				span.RecordError(r.Err)
				span.SetStatus(codes.Error, "platform call failed")
				return zero, false, fmt.Errorf("calling %s for account %q: %w", req.Path, key, r.Err)
			}
			return zero, false, nil

		case response.NeedsRefresh:
			if refreshes >= limit {
				err := &ExhaustedError{AccountKey: key, Attempts: attempts, Cause: r.Err}
				span.RecordError(err)
				span.SetStatus(codes.Error, "retries exhausted")
				log.Ctx(ctx).Warn().
					Str("account", key).
					Int("attempts", attempts).
					Int("errcode", r.Code).
					Msg("credential still rejected after refresh, giving up")
				return zero, false, err
			}

			refreshes++
			recordRefresh(ctx, key)
			log.Ctx(ctx).Debug().
				Str("account", key).
				Int("errcode", r.Code).
				Int("refresh", refreshes).
				Msg("credential rejected, refreshing")

			if _, err := o.source.Refresh(ctx, key, c); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "refresh failed")
				return zero, false, err
			}
		}
	}
}
