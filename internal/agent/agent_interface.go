package agent

import (
	"context"
	"iter"
)

// Runtime is the external agent that edits the project. Cancelling ctx is
// the abort handle for an in-flight call.
type Runtime interface {
	// Run streams the runtime's messages for one prompt until the call
	// resolves. The sequence ends after a result message or an error.
	Run(ctx context.Context, q Query) iter.Seq2[*StreamMessage, error]
}

// Ensure CLIRuntime implements Runtime.
var _ Runtime = (*CLIRuntime)(nil)
