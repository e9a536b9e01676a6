package response

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrCredentialInvalid marks a call rejected because its access token was
// invalid, expired or missing.
var ErrCredentialInvalid = errors.New("platform rejected the access credential")

// ErrMalformedResponse is returned when a successful response cannot be
// decoded into the requested type.
var ErrMalformedResponse = errors.New("malformed platform response")

// PlatformError is a non-zero result code returned by the platform.
type PlatformError struct {
	Code    int
	Message string

	// Known is false when the code is missing from the result code table.
	Known bool
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("platform error %d (%s): %s", e.Code, Describe(e.Code), e.Message)
}

// Status maps the platform error to the HTTP status reported to callers of the
// service.
func (e *PlatformError) Status() (int, string) {
	switch e.Code {
	case CodeSystemBusy:
		return http.StatusServiceUnavailable, "platform busy"
	case CodeAPIFrequencyLimit:
		return http.StatusTooManyRequests, "platform rate limit reached"
	case CodeIPNotWhitelisted, CodeAPIUnauthorized, CodeAuthorizerNotAuthorized:
		return http.StatusForbidden, Describe(e.Code)
	}
	return http.StatusBadGateway, fmt.Sprintf("platform error %d", e.Code)
}

// Is lets errors.Is match a credential-invalid platform error against
// ErrCredentialInvalid.
func (e *PlatformError) Is(target error) bool {
	return target == ErrCredentialInvalid && IsCredentialInvalid(e.Code)
}
