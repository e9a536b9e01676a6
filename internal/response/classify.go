package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Outcome is the verdict on a single platform response.
type Outcome int

const (
	// Succeeded means the value is usable.
	Succeeded Outcome = iota
	// NeedsRefresh means the credential was rejected; refresh and retry.
	NeedsRefresh
	// Failed means the call failed for a reason a refresh cannot fix.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case NeedsRefresh:
		return "needs_refresh"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result carries the classification of a response. Value and Found are only
// meaningful when Outcome is Succeeded. Err is set when a failure must be
// surfaced to the caller.
type Result[T any] struct {
	Outcome Outcome
	Value   T
	Found   bool
	Code    int
	Err     error
}

// envelope is the error part every platform response may carry.
type envelope struct {
	ErrCode *int   `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

var unknownCodes sync.Map

// Classify interprets a platform response body.
//
// A missing or zero errcode is a success: a bool target yields true, a []byte
// target the raw body, a json.RawMessage target the body once it is checked to
// be JSON, and other targets are decoded from JSON. Credential
// codes always yield NeedsRefresh. Any other code fails; with strict set the
// failure carries a *PlatformError, otherwise the result is simply absent.
func Classify[T any](body []byte, strict bool) Result[T] {
	var env envelope
	// Bodies that are not JSON objects cannot carry an errcode; they are
	// treated as payload and decoded below.
	_ = json.Unmarshal(body, &env)

	if env.ErrCode != nil && *env.ErrCode != CodeOK {
		return classifyError[T](*env.ErrCode, env.ErrMsg, strict)
	}

	value, err := decode[T](body)
	if err != nil {
		return Result[T]{
			Outcome: Failed,
			Err:     fmt.Errorf("%w: %w", ErrMalformedResponse, err),
		}
	}

	return Result[T]{
		Outcome: Succeeded,
		Value:   value,
		Found:   true,
	}
}

func classifyError[T any](code int, message string, strict bool) Result[T] {
	known := Known(code)
	if !known {
		if _, seen := unknownCodes.LoadOrStore(code, struct{}{}); !seen {
			log.Debug().
				Int("errcode", code).
				Str("errmsg", message).
				Msg("platform returned a result code missing from the code table")
		}
	}

	platformErr := &PlatformError{Code: code, Message: message, Known: known}

	if IsCredentialInvalid(code) {
		return Result[T]{
			Outcome: NeedsRefresh,
			Code:    code,
			Err:     platformErr,
		}
	}

	log.Warn().
		Int("errcode", code).
		Str("errmsg", message).
		Bool("strict", strict).
		Msg("platform call failed")

	r := Result[T]{
		Outcome: Failed,
		Code:    code,
	}
	if strict {
		r.Err = platformErr
	}
	return r
}

func decode[T any](body []byte) (T, error) {
	var value T
	switch target := any(&value).(type) {
	case *bool:
		*target = true
		return value, nil
	case *[]byte:
		*target = append([]byte(nil), body...)
		return value, nil
	case *json.RawMessage:
		if !json.Valid(body) {
			return value, errors.New("body is not JSON")
		}
		*target = append(json.RawMessage(nil), body...)
		return value, nil
	}

	if err := json.Unmarshal(body, &value); err != nil {
		return value, err
	}
	return value, nil
}
