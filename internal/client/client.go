package client

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mattjoyce/dapp/internal/log"
	"github.com/mattjoyce/dapp/internal/protocol"
)

// Client runs dispatch cycles for a Handler over a protocol.Conn and lets the
// handler call host commands in between.
//
// A Client is not safe for concurrent use; every call must come from the
// goroutine running the current cycle.
type Client struct {
	conn    *protocol.Conn
	handler Handler
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for cycle and command tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client that serves h over conn.
func New(conn *protocol.Conn, h Handler, opts ...Option) *Client {
	c := &Client{
		conn:    conn,
		handler: h,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.WithComponent("client")
	}
	return c
}

// CallCommand asks the host to run commandType with commandInput and blocks
// until the host answers.
//
// Any ctxt carried by the response is merged into ctxt in place, response keys
// winning, before the result is interpreted. A no_such_command answer returns
// a KindNoSuchCommand error and a command_exception answer a KindCommandException
// error carrying the host's text. A stream closed while waiting for the answer
// is a MalformedMessage wrapping io.ErrUnexpectedEOF. ctx is only consulted before the request is
// sent; a round trip in progress is never interrupted.
func (c *Client) CallCommand(ctx context.Context, commandType, commandInput string, ctxt protocol.Context) (bool, any, error) {
	if err := ctx.Err(); err != nil {
		return false, nil, err
	}

	err := c.conn.SendMsg(protocol.MsgCallCommand, ctxt, map[string]any{
		protocol.FieldCommandType:  commandType,
		protocol.FieldCommandInput: commandInput,
	})
	if err != nil {
		return false, nil, err
	}

	resp, err := c.conn.RecvMsg(protocol.CommandResponseTypes...)
	if err != nil {
		return false, nil, midCycle(err, "awaiting "+commandType+" response")
	}

	if ctxt != nil {
		ctxt.Merge(resp.Ctxt())
	}

	switch resp.Type() {
	case protocol.MsgNoSuchCommand:
		c.logger.Debug("command not found", "command", commandType)
		return false, nil, &protocol.Error{Kind: protocol.KindNoSuchCommand, Command: commandType}
	case protocol.MsgCommandException:
		text, _ := resp.String(protocol.FieldException)
		c.logger.Debug("command raised", "command", commandType, "exception", text)
		return false, nil, &protocol.Error{Kind: protocol.KindCommandException, Command: commandType, Exception: text}
	default:
		lres, res := resp.Result()
		c.logger.Debug("command finished", "command", commandType, "lres", lres)
		return lres, res, nil
	}
}

// Pingpong performs exactly one dispatch cycle: it waits for a run message,
// invokes the handler with its ctxt and answers with a finished message
// carrying the handler's result and the (possibly extended) ctxt.
//
// Handler errors are returned as is and no finished message is written.
// Only a stream closed before the run message matches io.EOF; once a cycle
// has started, a closed stream is reported as io.ErrUnexpectedEOF.
// Serving more than one run is up to the caller.
func (c *Client) Pingpong(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.handler == nil {
		return errors.New("client has no handler")
	}

	msg, err := c.conn.RecvMsg(protocol.MsgRun)
	if err != nil {
		return err
	}

	cycleLogger := c.logger.With("cycle_id", uuid.NewString())
	cycleLogger.Info("run received")

	ctxt := msg.Ctxt()
	lres, res, err := c.handler.Run(ctx, c, ctxt)
	if err != nil {
		err = midCycle(err, "during run")
		cycleLogger.Warn("handler failed", "error", err)
		return err
	}

	if err := c.conn.SendMsg(protocol.MsgFinished, ctxt, map[string]any{
		protocol.FieldLres: lres,
		protocol.FieldRes:  res,
	}); err != nil {
		return err
	}

	cycleLogger.Info("run finished", "lres", lres)
	return nil
}

// midCycle turns an end of stream seen inside a cycle into an unexpected one,
// so callers can tell it apart from the host closing between cycles.
func midCycle(err error, during string) error {
	if !errors.Is(err, io.EOF) {
		return err
	}
	return &protocol.Error{
		Kind:   protocol.KindMalformedMessage,
		Reason: "stream closed " + during,
		Err:    io.ErrUnexpectedEOF,
	}
}
