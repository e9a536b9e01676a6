package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chinmina/weixin-bridge/internal/account"
	"github.com/chinmina/weixin-bridge/internal/audit"
	"github.com/chinmina/weixin-bridge/internal/credential"
	"github.com/chinmina/weixin-bridge/internal/invoke"
	"github.com/chinmina/weixin-bridge/internal/response"
	"github.com/chinmina/weixin-bridge/internal/token"
	"github.com/chinmina/weixin-bridge/internal/transport"
	"github.com/rs/zerolog/log"
)

// HTTPStatuser provides HTTP status information for errors
type HTTPStatuser interface {
	Status() (int, string)
}

// CredentialSource is the part of token.Source the handlers use.
type CredentialSource interface {
	Account(key string) (account.Account, error)
	Current(ctx context.Context, key string) (credential.Credential, error)
	Refresh(ctx context.Context, key string, stale credential.Credential) (credential.Credential, error)
	SetTicket(ctx context.Context, componentKey, ticket string) error
	Invalidate(ctx context.Context, key string) error
}

// Caller performs a platform API call on behalf of an account.
type Caller func(ctx context.Context, key string, req transport.Request) (json.RawMessage, bool, error)

// invokeCaller adapts the orchestrator to a Caller returning the raw response.
func invokeCaller(o *invoke.Orchestrator) Caller {
	return func(ctx context.Context, key string, req transport.Request) (json.RawMessage, bool, error) {
		return invoke.Do[json.RawMessage](ctx, o, key, req)
	}
}

// TokenResponse describes the current credential of an account.
type TokenResponse struct {
	Account   string    `json:"account"`
	Kind      string    `json:"kind"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	ExpiresIn int64     `json:"expiresIn"`
}

func newTokenResponse(key string, c credential.Credential) TokenResponse {
	return TokenResponse{
		Account:   key,
		Kind:      string(c.Kind),
		Token:     c.Token,
		ExpiresAt: c.ExpiresAt().UTC(),
		ExpiresIn: int64(time.Until(c.ExpiresAt()).Seconds()),
	}
}

type TicketRequest struct {
	Ticket string `json:"ticket"`
}

// beginAccountRequest records the account and operation on the audit entry
// and resolves the account. It writes the failure response when the account
// is not registered.
func beginAccountRequest(w http.ResponseWriter, r *http.Request, source CredentialSource, operation string) (string, bool) {
	key := r.PathValue("key")

	entry := audit.Log(r.Context())
	entry.AccountKey = key
	entry.Operation = operation

	a, err := source.Account(key)
	if err != nil {
		failRequest(w, r, err)
		return "", false
	}
	entry.AccountKind = string(a.Kind)

	return key, true
}

func handleGetToken(source CredentialSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		key, ok := beginAccountRequest(w, r, source, "token")
		if !ok {
			return
		}

		c, err := source.Current(r.Context(), key)
		if err != nil {
			failRequest(w, r, err)
			return
		}

		audit.Log(r.Context()).ExpirySecs = c.ExpiresAt().Unix()
		writeJSON(w, http.StatusOK, newTokenResponse(key, c))
	})
}

func handleRefreshToken(source CredentialSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		key, ok := beginAccountRequest(w, r, source, "refresh")
		if !ok {
			return
		}

		current, err := source.Current(r.Context(), key)
		if err != nil {
			failRequest(w, r, err)
			return
		}

		c, err := source.Refresh(r.Context(), key, current)
		if err != nil {
			failRequest(w, r, err)
			return
		}

		entry := audit.Log(r.Context())
		entry.Refreshed = true
		entry.ExpirySecs = c.ExpiresAt().Unix()

		writeJSON(w, http.StatusOK, newTokenResponse(key, c))
	})
}

// handleInvalidateToken discards the cached credential so that the next use
// fetches a fresh one.
func handleInvalidateToken(source CredentialSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		key, ok := beginAccountRequest(w, r, source, "invalidate")
		if !ok {
			return
		}

		if err := source.Invalidate(r.Context(), key); err != nil {
			failRequest(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

func handlePutTicket(source CredentialSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		key, ok := beginAccountRequest(w, r, source, "ticket")
		if !ok {
			return
		}

		var req TicketRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Ctx(r.Context()).Info().Err(err).Msg("invalid ticket request body")
			writeJSONError(w, http.StatusBadRequest, "request body must be a JSON object with a ticket")
			return
		}

		ticket := strings.TrimSpace(req.Ticket)
		if ticket == "" {
			writeJSONError(w, http.StatusBadRequest, "ticket must not be empty")
			return
		}

		err := source.SetTicket(r.Context(), key, ticket)
		if errors.Is(err, token.ErrNotComponent) {
			audit.Log(r.Context()).Error = err.Error()
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			failRequest(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

// handleAPI passes a call through to the platform, with the account's access
// token added and refreshed as needed. The platform response body is returned
// unchanged. A call that fails in permissive mode yields 204 No Content.
func handleAPI(source CredentialSource, call Caller, requestLimit int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		key, ok := beginAccountRequest(w, r, source, "api")
		if !ok {
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, requestLimit))
		if err != nil {
			log.Ctx(r.Context()).Info().Err(err).Msg("failed to read API request body")
			requestError(w, http.StatusBadRequest)
			return
		}

		req := transport.Request{
			Method:      r.Method,
			Path:        "/" + r.PathValue("path"),
			Query:       platformQuery(r.URL.Query()),
			Body:        body,
			ContentType: r.Header.Get("Content-Type"),
		}

		entry := audit.Log(r.Context())
		entry.PlatformPath = req.Path

		result, ok, err := call(r.Context(), key, req)
		if err != nil {
			failRequest(w, r, err)
			return
		}
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, err = w.Write(result)
		if err != nil {
			log.Ctx(r.Context()).Info().Err(err).Msg("failed to write API response")
		}
	})
}

// platformQuery drops any token parameter supplied by the client: the bridge
// owns the credential.
func platformQuery(query url.Values) url.Values {
	query.Del("access_token")
	query.Del("component_access_token")
	return query
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

// requireAPIKey demands the configured key as a bearer token. With no key
// configured every request is let through.
func requireAPIKey(apiKey string) func(http.Handler) http.Handler {
	expected := []byte(apiKey)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			entry := audit.Log(r.Context())

			if apiKey == "" {
				entry.Authorized = true
				entry.AuthMethod = "none"
				next.ServeHTTP(w, r)
				return
			}

			entry.AuthMethod = "api-key"

			presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
				entry.Error = "missing or invalid API key"
				w.Header().Set("WWW-Authenticate", `Bearer realm="weixin-bridge"`)
				writeJSONError(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
				return
			}

			entry.Authorized = true
			next.ServeHTTP(w, r)
		})
	}
}

// failRequest records err on the audit entry and writes the mapped error
// response.
func failRequest(w http.ResponseWriter, r *http.Request, err error) {
	entry := audit.Log(r.Context())
	entry.Error = err.Error()

	var platformErr *response.PlatformError
	if errors.As(err, &platformErr) {
		entry.PlatformCode = platformErr.Code
	}
	var exhausted *invoke.ExhaustedError
	if errors.As(err, &exhausted) {
		entry.Attempts = exhausted.Attempts
	}

	status, message := errorStatus(err)
	log.Ctx(r.Context()).Info().
		Err(err).
		Str("account", entry.AccountKey).
		Int("status", status).
		Msg("request failed")
	writeJSONError(w, status, message)
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// the status has been written, so we can only log
		log.Info().Msgf("failed to write JSON response: %v", err)
	}
}

// writeJSONError writes a JSON error response with the given status code and message.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}

// errorStatus extracts HTTP status code and message from an error.
// Returns (StatusInternalServerError, StatusText) for errors that don't implement HTTPStatuser.
// Platform outages map to 502 so that callers can tell them from bridge faults.
func errorStatus(err error) (int, string) {
	var statuser HTTPStatuser
	if errors.As(err, &statuser) {
		return statuser.Status()
	}
	if errors.Is(err, transport.ErrUnavailable) {
		return http.StatusBadGateway, "platform unavailable"
	}
	if errors.Is(err, response.ErrMalformedResponse) {
		return http.StatusBadGateway, "malformed platform response"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, http.StatusText(http.StatusGatewayTimeout)
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

func requestError(w http.ResponseWriter, statusCode int) {
	http.Error(w, http.StatusText(statusCode), statusCode)
}

// drainRequestBody drains the request body by reading and discarding the contents.
// This is useful to ensure the request body is fully consumed, which is important
// for connection reuse in HTTP/1 clients.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// 5kb max: after this we'll assume the client is broken or malicious
		// and close the connection
		_, _ = io.CopyN(io.Discard, r.Body, 5*1024)
	}
}
