package audit

import (
	"time"

	"github.com/rs/zerolog"
)

// OptionalEvent collects fields for a nested dictionary that is only written
// to the parent event when at least one field was set.
type OptionalEvent struct {
	ev       *zerolog.Event
	modified bool
}

func NewOptionalEvent(e *zerolog.Event) *OptionalEvent {
	return &OptionalEvent{ev: e}
}

func (oe *OptionalEvent) event() *zerolog.Event {
	if oe.ev == nil {
		oe.ev = zerolog.Dict()
		oe.modified = false
	}
	return oe.ev
}

// Set adds the dictionary to parent under key if anything was recorded.
func (oe *OptionalEvent) Set(parent *zerolog.Event, key string) bool {
	if oe.modified {
		parent.Dict(key, oe.event())
		return true
	}
	return false
}

func (oe *OptionalEvent) Str(key, val string) *OptionalEvent {
	if val == "" {
		return oe
	}
	oe.event().Str(key, val)
	oe.modified = true
	return oe
}

// Bool records val unconditionally.
func (oe *OptionalEvent) Bool(key string, val bool) *OptionalEvent {
	oe.event().Bool(key, val)
	oe.modified = true
	return oe
}

// Flag records key only when val is true.
func (oe *OptionalEvent) Flag(key string, val bool) *OptionalEvent {
	if !val {
		return oe
	}
	return oe.Bool(key, val)
}

func (oe *OptionalEvent) Int(key string, val int) *OptionalEvent {
	if val == 0 {
		return oe
	}
	oe.event().Int(key, val)
	oe.modified = true
	return oe
}

// Expiry records the expiry instant and the time remaining until it. Zero is
// treated as unset.
func (oe *OptionalEvent) Expiry(unixSecs int64) *OptionalEvent {
	if unixSecs == 0 {
		return oe
	}
	expiry := time.Unix(unixSecs, 0).UTC()
	oe.event().
		Time("expiry", expiry).
		Dur("expiryRemaining", time.Until(expiry).Round(time.Second))
	oe.modified = true
	return oe
}
