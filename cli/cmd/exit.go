package cmd

import (
	"context"
	"errors"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/parley/backend"
	"github.com/pithecene-io/parley/chat"
	"github.com/pithecene-io/parley/types"
)

// Process exit codes.
const (
	exitSuccess        = 0
	exitError          = 1
	exitBackendError   = 2
	exitTransportError = 3
)

// exitCodeFor classifies an error returned by the controller or the backend
// client.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitSuccess
	case chat.IsBackendError(err):
		return exitBackendError
	case chat.IsTransportError(err), backend.IsStatusError(err):
		return exitTransportError
	case errors.Is(err, context.DeadlineExceeded):
		return exitTransportError
	default:
		return exitError
	}
}

// outcomeToExitCode maps how a turn ended to an exit code.
func outcomeToExitCode(o types.Outcome) int {
	switch o {
	case types.OutcomeCompleted:
		return exitSuccess
	case types.OutcomeBackendError:
		return exitBackendError
	case types.OutcomeTransportError, types.OutcomeStreamError:
		return exitTransportError
	default:
		return exitError
	}
}

// exitWith wraps err in a cli.Exit carrying its exit code.
func exitWith(err error) error {
	if err == nil {
		return nil
	}
	return cli.Exit(err.Error(), exitCodeFor(err))
}
