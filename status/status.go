// Package status defines the terminal outcome of an RPC: a fixed code,
// a human-readable message, and optional opaque detail bytes.
//
// A call always terminates with exactly one Status. OK statuses convert
// to a nil error; every other code converts to an *Error that carries
// the Status across ordinary Go error returns.
package status

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"

	"meshrpc/metadata"
)

// Metadata keys used to carry a Status in trailing metadata.
const (
	statusKey        = "rpc-status"
	statusMessageKey = "rpc-status-message"
	statusDetailsKey = "rpc-status-details"
)

// Status is the terminal outcome of one call.
type Status struct {
	code    Code
	message string
	details []byte
}

// New creates a Status with the given code and message.
func New(c Code, msg string) *Status {
	return &Status{code: c, message: msg}
}

// Newf creates a Status with a formatted message.
func Newf(c Code, format string, args ...any) *Status {
	return New(c, fmt.Sprintf(format, args...))
}

// Errorf returns an error wrapping a Status with a formatted message.
func Errorf(c Code, format string, args ...any) error {
	return Newf(c, format, args...).Err()
}

func (s *Status) Code() Code      { return s.code }
func (s *Status) Message() string { return s.message }
func (s *Status) Details() []byte { return s.details }

// WithDetails returns a copy of s carrying the given detail bytes.
func (s *Status) WithDetails(details []byte) *Status {
	return &Status{code: s.code, message: s.message, details: details}
}

func (s *Status) String() string {
	return fmt.Sprintf("rpc error: code = %s desc = %s", s.code, s.message)
}

// Err converts the Status to a Go error. OK converts to nil.
func (s *Status) Err() error {
	if s.code == OK {
		return nil
	}
	return &Error{s: s}
}

// Error wraps a non-OK Status as a Go error.
type Error struct {
	s *Status
}

func (e *Error) Error() string { return e.s.String() }

// Status returns the wrapped Status.
func (e *Error) Status() *Status { return e.s }

// FromError extracts a Status from err.
//
//   - nil maps to OK
//   - a status *Error yields its Status unchanged
//   - context.Canceled / context.DeadlineExceeded map to Canceled /
//     DeadlineExceeded
//   - anything else maps to Unknown with the error text as message
//
// The second return reports whether err was already Status-shaped.
func FromError(err error) (*Status, bool) {
	if err == nil {
		return New(OK, ""), true
	}
	type statusError interface {
		Status() *Status
	}
	if se, ok := err.(statusError); ok {
		return se.Status(), true
	}
	if st := FromContextError(err); st != nil {
		return st, true
	}
	return New(Unknown, err.Error()), false
}

// Convert is FromError without the ok bool.
func Convert(err error) *Status {
	st, _ := FromError(err)
	return st
}

// CodeOf extracts the code from any error. nil yields OK.
func CodeOf(err error) Code {
	return Convert(err).Code()
}

// FromContextError maps context termination errors to their status
// equivalents, or returns nil for anything else.
func FromContextError(err error) *Status {
	switch err {
	case context.Canceled:
		return New(Canceled, "context canceled")
	case context.DeadlineExceeded:
		return New(DeadlineExceeded, "context deadline exceeded")
	default:
		return nil
	}
}

// ToMD encodes the Status into trailing metadata.
func (s *Status) ToMD() metadata.MD {
	md := metadata.Pairs(
		statusKey, strconv.FormatUint(uint64(s.code), 10),
		statusMessageKey, s.message,
	)
	if len(s.details) > 0 {
		md.Set(statusDetailsKey, base64.StdEncoding.EncodeToString(s.details))
	}
	return md
}

// FromMD decodes a Status from trailing metadata. The second return is
// false when the metadata carries no status at all, which means the
// peer closed the stream without delivering one.
func FromMD(md metadata.MD) (*Status, bool) {
	raw := md.Get(statusKey)
	if raw == "" {
		return nil, false
	}
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return Newf(Internal, "malformed status code %q in trailers", raw), true
	}
	st := New(Code(n), md.Get(statusMessageKey))
	if enc := md.Get(statusDetailsKey); enc != "" {
		if details, err := base64.StdEncoding.DecodeString(enc); err == nil {
			st = st.WithDetails(details)
		}
	}
	return st, true
}
