package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind discriminates protocol failures so callers can switch on them.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindMalformedMessage
	KindBadMsgType
	KindProtocolVersionMismatch
	KindNoSuchCommand
	KindCommandException
)

func (k ErrorKind) String() string {
	switch k {
	case KindMalformedMessage:
		return "malformed_message"
	case KindBadMsgType:
		return "bad_msg_type"
	case KindProtocolVersionMismatch:
		return "protocol_version_mismatch"
	case KindNoSuchCommand:
		return "no_such_command"
	case KindCommandException:
		return "command_exception"
	default:
		return "unknown"
	}
}

// Error is the single error type for every failure detected by the protocol layer.
// Which fields are set depends on Kind.
type Error struct {
	Kind ErrorKind

	// MsgType is the received msg_type (BadMsgType, ProtocolVersionMismatch).
	MsgType MsgType
	// Allowed is the set the received type was checked against (BadMsgType).
	Allowed []MsgType

	// Version is the received dapp_protocol_version value, Want the local one.
	Version any
	Want    string

	// Command is the command_type that was invoked (NoSuchCommand, CommandException).
	Command string
	// Exception is the host-supplied failure text (CommandException).
	Exception string

	// Reason describes a malformed frame or message.
	Reason string
	Err    error
}

// Sentinels for errors.Is; an *Error matches any sentinel of the same Kind.
var (
	ErrMalformedMessage        = &Error{Kind: KindMalformedMessage}
	ErrBadMsgType              = &Error{Kind: KindBadMsgType}
	ErrProtocolVersionMismatch = &Error{Kind: KindProtocolVersionMismatch}
	ErrNoSuchCommand           = &Error{Kind: KindNoSuchCommand}
	ErrCommandException        = &Error{Kind: KindCommandException}
)

func (e *Error) Error() string {
	switch e.Kind {
	case KindMalformedMessage:
		msg := "malformed message"
		if e.Reason != "" {
			msg += ": " + e.Reason
		}
		if e.Err != nil {
			msg += ": " + e.Err.Error()
		}
		return msg
	case KindBadMsgType:
		allowed := make([]string, len(e.Allowed))
		for i, t := range e.Allowed {
			allowed[i] = string(t)
		}
		return fmt.Sprintf("bad message type %q (allowed: %s)", e.MsgType, strings.Join(allowed, ", "))
	case KindProtocolVersionMismatch:
		return fmt.Sprintf("protocol version mismatch on %q message: got %v, want %q", e.MsgType, e.Version, e.Want)
	case KindNoSuchCommand:
		return fmt.Sprintf("no such command: %q", e.Command)
	case KindCommandException:
		return fmt.Sprintf("command %q failed: %s", e.Command, e.Exception)
	default:
		return "protocol error"
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the ErrorKind of the first *Error in err's chain,
// or KindUnknown if there is none.
func KindOf(err error) ErrorKind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindUnknown
}

func malformed(reason string, err error) *Error {
	return &Error{Kind: KindMalformedMessage, Reason: reason, Err: err}
}
