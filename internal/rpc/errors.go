package rpc

import (
	"errors"
	"fmt"
)

// Kind classifies where a control-plane call failed. Validation proceeds in
// the order the kinds are declared and stops at the first failure.
type Kind int

const (
	KindEncode Kind = iota + 1 // request body could not be serialized
	KindSend                   // transport failure
	KindStatus                 // non-2xx HTTP status
	KindRead                   // response body unreadable
	KindParse                  // response body is not a valid envelope
	KindCode                   // envelope code is not "successful"
	KindNoData                 // read operation returned null data
)

func (k Kind) String() string {
	switch k {
	case KindEncode:
		return "encode"
	case KindSend:
		return "send"
	case KindStatus:
		return "status"
	case KindRead:
		return "read"
	case KindParse:
		return "parse"
	case KindCode:
		return "code"
	case KindNoData:
		return "no_data"
	default:
		return "unknown"
	}
}

// Sentinels matched by errors.Is against an *Error of the same Kind.
var (
	ErrEncode       = errors.New("cannot encode request body")
	ErrSend         = errors.New("cannot send request")
	ErrStatus       = errors.New("response status is not successful")
	ErrRead         = errors.New("cannot read response body")
	ErrParse        = errors.New("cannot parse response")
	ErrResponseCode = errors.New("response code is not successful")
	ErrNoData       = errors.New("response has no data")
)

func (k Kind) sentinel() error {
	switch k {
	case KindEncode:
		return ErrEncode
	case KindSend:
		return ErrSend
	case KindStatus:
		return ErrStatus
	case KindRead:
		return ErrRead
	case KindParse:
		return ErrParse
	case KindCode:
		return ErrResponseCode
	case KindNoData:
		return ErrNoData
	default:
		return nil
	}
}

// Error describes a failed control-plane operation.
type Error struct {
	Op     string // about, generate_blocks, initial_wallets, set_address_keys, set_state
	Kind   Kind
	URL    string
	Status int    // KindStatus
	Body   string // KindParse
	Code   string // KindCode
	Err    error  // underlying cause, if any
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Op, e.URL, e.Kind.sentinel())
	switch e.Kind {
	case KindStatus:
		msg += fmt.Sprintf(" (status %d)", e.Status)
	case KindParse:
		msg += fmt.Sprintf(" (body %q)", truncate(e.Body, 256))
	case KindCode:
		msg += fmt.Sprintf(" (code %q)", e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// KindOf returns the Kind of an *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
