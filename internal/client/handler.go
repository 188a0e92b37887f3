package client

import (
	"context"

	"github.com/mattjoyce/dapp/internal/protocol"
)

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks github.com/mattjoyce/dapp/internal/client Handler,Commander

// Commander invokes host commands. *Client implements it; handlers receive one
// so they can issue nested calls during a dispatch cycle.
type Commander interface {
	CallCommand(ctx context.Context, commandType, commandInput string, ctxt protocol.Context) (bool, any, error)
}

// Handler is the action the host drives with a run message. It returns the
// lres/res pair sent back in the finished message. Any error aborts the cycle.
type Handler interface {
	Run(ctx context.Context, cmd Commander, ctxt protocol.Context) (bool, any, error)
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(ctx context.Context, cmd Commander, ctxt protocol.Context) (bool, any, error)

// Run calls f(ctx, cmd, ctxt).
func (f HandlerFunc) Run(ctx context.Context, cmd Commander, ctxt protocol.Context) (bool, any, error) {
	return f(ctx, cmd, ctxt)
}
