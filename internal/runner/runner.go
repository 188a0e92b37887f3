// Package runner provides the config-driven handler served by dapp-client.
//
// On every run message the Runner seeds ctxt from run.ctxt, then invokes each
// configured step as a host command in order. A step marked ignore_errors
// tolerates no_such_command and command_exception answers; any other failure
// aborts the cycle. The finished message reports lres as the conjunction of
// all step results and res as the last step's res (or run.result, if set).
package runner

import (
	"context"
	"log/slog"

	"github.com/mattjoyce/dapp/internal/client"
	"github.com/mattjoyce/dapp/internal/config"
	"github.com/mattjoyce/dapp/internal/log"
	"github.com/mattjoyce/dapp/internal/protocol"
)

// Runner implements client.Handler from a config.RunConfig.
type Runner struct {
	cfg    config.RunConfig
	logger *slog.Logger
}

// New creates a Runner. A nil logger selects the component logger.
func New(cfg config.RunConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = log.WithComponent("runner")
	}
	return &Runner{cfg: cfg, logger: logger}
}

var _ client.Handler = (*Runner)(nil)

// Run executes the configured steps against cmd.
func (r *Runner) Run(ctx context.Context, cmd client.Commander, ctxt protocol.Context) (bool, any, error) {
	ctxt.Merge(r.cfg.Ctxt)

	lres := true
	var res any
	for i, step := range r.cfg.Steps {
		stepLogger := r.logger.With("step", i, "command", step.Command)

		ok, out, err := cmd.CallCommand(ctx, step.Command, step.Input, ctxt)
		if err != nil {
			if step.IgnoreErrors && tolerated(err) {
				stepLogger.Warn("step failed, continuing", "error", err)
				lres = false
				continue
			}
			return false, nil, err
		}

		stepLogger.Debug("step completed", "lres", ok)
		lres = lres && ok
		res = out
	}

	if r.cfg.Result != nil {
		res = r.cfg.Result
	}
	return lres, res, nil
}

// tolerated reports whether err is a host-reported command failure.
func tolerated(err error) bool {
	switch protocol.KindOf(err) {
	case protocol.KindNoSuchCommand, protocol.KindCommandException:
		return true
	default:
		return false
	}
}
