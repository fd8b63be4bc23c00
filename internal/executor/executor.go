// Package executor runs approved shell commands as OS processes. The
// local implementation is the only one here; alternate backends (remote,
// containerized) satisfy the same contract and result invariants.
package executor

import (
	"context"

	"github.com/cmdgate/cmdgate/pkg/types"
)

// Executor runs one command and returns its captured output and exit
// status. Implementations must honor the request timeout, respect caller
// cancellation, and uphold the TimedOut implies ExitCode == -1 invariant.
//
// No implementation limits concurrency: N concurrent Run calls may spawn
// N processes. Callers needing a bound bring their own limiter.
type Executor interface {
	Run(ctx context.Context, req types.CommandRequest) (types.CommandResult, error)
}
