package e2e

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/mattjoyce/dapp/internal/client"
	"github.com/mattjoyce/dapp/internal/config"
	"github.com/mattjoyce/dapp/internal/protocol"
	"github.com/mattjoyce/dapp/internal/runner"
)

// commandFunc answers a call_command on the host side. A non-empty exception
// is sent as command_exception; otherwise lres and res go out as command_result.
type commandFunc func(input string, ctxt protocol.Context) (lres bool, res any, exception string)

// fakeHost drives a client over real pipes the way a host process would.
type fakeHost struct {
	conn     *protocol.Conn
	commands map[string]commandFunc
}

// runCycle sends one run message, serves nested commands and returns the finished message.
func (h *fakeHost) runCycle(ctxt protocol.Context) (protocol.Message, error) {
	if err := h.conn.SendMsg(protocol.MsgRun, ctxt, nil); err != nil {
		return nil, err
	}
	for {
		msg, err := h.conn.RecvMsg(protocol.MsgCallCommand, protocol.MsgFinished)
		if err != nil {
			return nil, err
		}
		if msg.Type() == protocol.MsgFinished {
			return msg, nil
		}

		name, _ := msg.String(protocol.FieldCommandType)
		input, _ := msg.String(protocol.FieldCommandInput)
		fn, ok := h.commands[name]
		if !ok {
			if err := h.conn.SendMsg(protocol.MsgNoSuchCommand, msg.Ctxt(), nil); err != nil {
				return nil, err
			}
			continue
		}

		reply := msg.Ctxt()
		lres, res, exception := fn(input, reply)
		if exception != "" {
			err = h.conn.SendMsg(protocol.MsgCommandException, reply, map[string]any{protocol.FieldException: exception})
		} else {
			err = h.conn.SendMsg(protocol.MsgCommandResult, reply, map[string]any{protocol.FieldLres: lres, protocol.FieldRes: res})
		}
		if err != nil {
			return nil, err
		}
	}
}

type session struct {
	host      *fakeHost
	hostOut   *os.File
	clientErr chan error
}

// startSession wires a client and a fake host together with two os.Pipe pairs
// and serves cycles on the client side until the host closes its end.
func startSession(t *testing.T, h client.Handler, commands map[string]commandFunc) *session {
	t.Helper()

	hostToClientR, hostToClientW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe failed: %v", err)
	}
	clientToHostR, clientToHostW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe failed: %v", err)
	}
	t.Cleanup(func() {
		_ = hostToClientR.Close()
		_ = hostToClientW.Close()
		_ = clientToHostR.Close()
		_ = clientToHostW.Close()
	})

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	c := client.New(
		protocol.NewConn(hostToClientR, clientToHostW, protocol.WithConnLogger(logger)),
		h,
		client.WithLogger(logger),
	)

	s := &session{
		host: &fakeHost{
			conn:     protocol.NewConn(clientToHostR, hostToClientW, protocol.WithConnLogger(logger)),
			commands: commands,
		},
		hostOut:   hostToClientW,
		clientErr: make(chan error, 1),
	}

	go func() {
		for {
			err := c.Pingpong(context.Background())
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = nil
				}
				s.clientErr <- err
				return
			}
		}
	}()

	return s
}

// close shuts the host's outbound pipe and waits for the client loop to end.
func (s *session) close(t *testing.T) error {
	t.Helper()
	_ = s.hostOut.Close()
	select {
	case err := <-s.clientErr:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("client did not stop after the host closed its stream")
		return nil
	}
}

func TestSessionScriptedRunner(t *testing.T) {
	calls := 0
	commands := map[string]commandFunc{
		"count": func(input string, ctxt protocol.Context) (bool, any, string) {
			calls++
			ctxt["calls"] = calls
			return true, fmt.Sprintf("%s-%d", input, calls), ""
		},
		"flaky": func(string, protocol.Context) (bool, any, string) {
			return false, nil, "disk full"
		},
	}
	h := runner.New(config.RunConfig{
		Ctxt: map[string]any{"client": "e2e"},
		Steps: []config.StepConfig{
			{Command: "count", Input: "a"},
			{Command: "flaky", IgnoreErrors: true},
			{Command: "absent", IgnoreErrors: true},
			{Command: "count", Input: "b"},
		},
	}, slog.New(slog.NewJSONHandler(io.Discard, nil)))

	s := startSession(t, h, commands)

	for cycle := 1; cycle <= 3; cycle++ {
		finished, err := s.host.runCycle(protocol.Context{"cycle": cycle})
		if err != nil {
			t.Fatalf("cycle %d: %v", cycle, err)
		}
		lres, res := finished.Result()
		if lres {
			t.Errorf("cycle %d: lres = true, want false after ignored failures", cycle)
		}
		if want := fmt.Sprintf("b-%d", cycle*2); res != want {
			t.Errorf("cycle %d: res = %v, want %s", cycle, res, want)
		}
		ctxt := finished.Ctxt()
		if ctxt["cycle"] != cycle || ctxt["client"] != "e2e" || ctxt["calls"] != cycle*2 {
			t.Errorf("cycle %d: unexpected ctxt %v", cycle, ctxt)
		}
	}

	if err := s.close(t); err != nil {
		t.Fatalf("client loop failed: %v", err)
	}
}

func TestSessionHandlerRecoversFromCommandErrors(t *testing.T) {
	h := client.HandlerFunc(func(ctx context.Context, cmd client.Commander, ctxt protocol.Context) (bool, any, error) {
		_, _, err := cmd.CallCommand(ctx, "absent", "", ctxt)
		switch protocol.KindOf(err) {
		case protocol.KindNoSuchCommand:
			return true, "fallback", nil
		default:
			return false, nil, err
		}
	})

	s := startSession(t, h, nil)

	finished, err := s.host.runCycle(protocol.Context{})
	if err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if lres, res := finished.Result(); !lres || res != "fallback" {
		t.Errorf("got (%v, %v), want (true, fallback)", lres, res)
	}
	if err := s.close(t); err != nil {
		t.Fatalf("client loop failed: %v", err)
	}
}

func TestSessionHandlerFailureEndsClientLoop(t *testing.T) {
	commands := map[string]commandFunc{
		"explode": func(string, protocol.Context) (bool, any, string) {
			return false, nil, "boom"
		},
	}
	h := runner.New(config.RunConfig{
		Steps: []config.StepConfig{{Command: "explode"}},
	}, slog.New(slog.NewJSONHandler(io.Discard, nil)))

	s := startSession(t, h, commands)

	if err := s.host.conn.SendMsg(protocol.MsgRun, nil, nil); err != nil {
		t.Fatalf("send run: %v", err)
	}
	msg, err := s.host.conn.RecvMsg(protocol.MsgCallCommand)
	if err != nil {
		t.Fatalf("recv call_command: %v", err)
	}
	if err := s.host.conn.SendMsg(protocol.MsgCommandException, msg.Ctxt(), map[string]any{protocol.FieldException: "boom"}); err != nil {
		t.Fatalf("send exception: %v", err)
	}

	select {
	case err := <-s.clientErr:
		if !errors.Is(err, protocol.ErrCommandException) {
			t.Fatalf("client error = %v, want command exception", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("client loop did not stop on handler failure")
	}
}

func TestSessionHostHangsUpMidCycle(t *testing.T) {
	h := runner.New(config.RunConfig{
		Steps: []config.StepConfig{{Command: "slow"}},
	}, slog.New(slog.NewJSONHandler(io.Discard, nil)))

	s := startSession(t, h, nil)

	if err := s.host.conn.SendMsg(protocol.MsgRun, nil, nil); err != nil {
		t.Fatalf("send run: %v", err)
	}
	if _, err := s.host.conn.RecvMsg(protocol.MsgCallCommand); err != nil {
		t.Fatalf("recv call_command: %v", err)
	}

	err := s.close(t)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("client error = %v, want unexpected EOF", err)
	}
}
