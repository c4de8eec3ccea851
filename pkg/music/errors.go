package music

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrorKind classifies provider and aggregation failures.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotConfigured
	KindInvalidInput
	KindUnauthorized
	KindRateLimited
	KindTimeout
	KindUpstream
	KindNotFound
	KindAllProvidersUnavailable
)

var kindNames = map[ErrorKind]string{
	KindUnknown:                 "unknown",
	KindNotConfigured:           "not_configured",
	KindInvalidInput:            "invalid_input",
	KindUnauthorized:            "unauthorized",
	KindRateLimited:             "rate_limited",
	KindTimeout:                 "timeout",
	KindUpstream:                "upstream",
	KindNotFound:                "not_found",
	KindAllProvidersUnavailable: "all_providers_unavailable",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the failure value returned by every provider client and by the
// Aggregator. Status and Body are only set for upstream HTTP responses.
type Error struct {
	Provider   string
	Op         string
	Kind       ErrorKind
	Status     int
	Body       string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind so the sentinels below work with
// errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Provider == "" && t.Op == ""
}

// Sentinels for errors.Is.
var (
	ErrNotConfigured           = &Error{Kind: KindNotConfigured}
	ErrInvalidInput            = &Error{Kind: KindInvalidInput}
	ErrUnauthorized            = &Error{Kind: KindUnauthorized}
	ErrRateLimited             = &Error{Kind: KindRateLimited}
	ErrTimeout                 = &Error{Kind: KindTimeout}
	ErrUpstream                = &Error{Kind: KindUpstream}
	ErrNotFound                = &Error{Kind: KindNotFound}
	ErrAllProvidersUnavailable = &Error{Kind: KindAllProvidersUnavailable}
)

// KindOf classifies err. Context deadlines and network timeouts count as
// KindTimeout; anything unrecognised that is still an error is KindUpstream.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindUpstream
}

// NewError builds a provider error, classifying cause when kind is
// KindUnknown.
func NewError(provider, op string, kind ErrorKind, cause error) *Error {
	if kind == KindUnknown {
		kind = KindOf(cause)
	}
	return &Error{Provider: provider, Op: op, Kind: kind, Err: cause}
}

// InvalidInput is a shorthand used by clients guarding against empty queries.
func InvalidInput(provider, op, msg string) *Error {
	return &Error{Provider: provider, Op: op, Kind: KindInvalidInput, Err: errors.New(msg)}
}

// NotConfigured is returned by clients whose credentials are missing.
func NotConfigured(provider, op string) *Error {
	return &Error{Provider: provider, Op: op, Kind: KindNotConfigured, Err: errors.New("credentials not configured")}
}
