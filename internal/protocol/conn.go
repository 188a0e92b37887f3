package protocol

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"

	"github.com/mattjoyce/dapp/internal/log"
)

// Conn sends and receives messages over an inbound/outbound stream pair.
//
// A Conn is not safe for concurrent use. The protocol allows one outstanding
// request at a time, so all calls must come from a single sequential flow.
type Conn struct {
	reader  *bufio.Reader
	writer  io.Writer
	version string
	limits  Limits
	logger  *slog.Logger
}

// ConnOption configures a Conn.
type ConnOption func(*Conn)

// WithVersion overrides the protocol version stamped on and required of messages.
func WithVersion(v string) ConnOption {
	return func(c *Conn) { c.version = v }
}

// WithLimits sets the frame decode limits.
func WithLimits(l Limits) ConnOption {
	return func(c *Conn) { c.limits = l }
}

// WithConnLogger sets the logger used for frame tracing.
func WithConnLogger(l *slog.Logger) ConnOption {
	return func(c *Conn) { c.logger = l }
}

// NewConn creates a Conn reading frames from r and writing frames to w.
func NewConn(r io.Reader, w io.Writer, opts ...ConnOption) *Conn {
	c := &Conn{
		reader:  bufio.NewReader(r),
		writer:  w,
		version: Version,
		limits:  DefaultLimits(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.WithComponent("protocol")
	}
	return c
}

// Version returns the protocol version this Conn enforces.
func (c *Conn) Version() string {
	return c.version
}

// SendMsg writes one message of type msgType. The outgoing mapping is data's
// keys plus ctxt, msg_type and dapp_protocol_version; the reserved keys
// always take precedence over same-named keys in data.
func (c *Conn) SendMsg(msgType MsgType, ctxt Context, data map[string]any) error {
	msg := make(map[string]any, len(data)+3)
	for k, v := range data {
		msg[k] = v
	}
	if ctxt == nil {
		ctxt = Context{}
	}
	msg[FieldCtxt] = ctxt
	msg[FieldMsgType] = string(msgType)
	msg[FieldProtocolVersion] = c.version

	if err := EncodeFrame(c.writer, msg); err != nil {
		return fmt.Errorf("send %s: %w", msgType, err)
	}
	if f, ok := c.writer.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("send %s: failed to flush: %w", msgType, err)
		}
	}

	c.logger.Debug("sent frame", "msg_type", msgType)
	return nil
}

// RecvMsg blocks until one frame is read and returns it as a Message.
//
// The version guard is checked first, before any other field of the body is
// looked at, and applies to every message. If
// allowed is non-empty, the msg_type must be one of them; with no allowed
// types any tag is accepted. Known variants must carry their required fields.
func (c *Conn) RecvMsg(allowed ...MsgType) (Message, error) {
	raw, err := DecodeFrame(c.reader, c.limits)
	if err != nil {
		return nil, err
	}

	if err := checkVersion(Message(raw), c.version); err != nil {
		return nil, err
	}
	msg, err := normalizeMessage(raw)
	if err != nil {
		return nil, err
	}
	if len(allowed) > 0 && !containsType(allowed, msg.Type()) {
		return nil, &Error{
			Kind:    KindBadMsgType,
			MsgType: msg.Type(),
			Allowed: append([]MsgType(nil), allowed...),
		}
	}
	if err := validateFields(msg); err != nil {
		return nil, err
	}

	c.logger.Debug("received frame", "msg_type", msg.Type())
	return msg, nil
}
