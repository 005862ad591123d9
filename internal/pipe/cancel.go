package pipe

import (
	"errors"

	"dkvbatch/internal/exec"
	"dkvbatch/internal/wire"
)

// FatalToConnection reports whether a response-level failure poisons
// the connection's byte stream (so it must be canceled rather than
// returned to the pool), grounded on as_pipe_response_error's fatal
// code list (QUERY_ABORTED, SCAN_ABORTED, ASYNC_CONNECTION, TLS_ERROR,
// CLIENT_ABORT, CLIENT, NOT_AUTHENTICATED). A per-record stop-batch
// result leaves the stream well-formed and the connection reusable.
// Socket read errors, deadline timeouts included, cancel the
// connection in readSubmission without consulting this function.
func FatalToConnection(kind exec.StatusKind) bool {
	switch kind {
	case exec.StatusProtocolViolation, exec.StatusClientAbort:
		return true
	default:
		return false
	}
}

// classifyParseError maps an error returned from a submission's parse
// callback onto the exec.StatusKind taxonomy so readSubmission can
// consult FatalToConnection without depending on the root package's
// own wire-error classifier (which itself depends on pipe, so calling
// back here would cycle). A malformed frame desyncs the byte stream
// and is always protocol violation; anything else reaching this point
// (a per-record stop-batch result, or a sink error such as a failed
// bin decompression) is treated as a per-command failure that leaves
// the stream intact.
func classifyParseError(err error) exec.StatusKind {
	if errors.Is(err, wire.ErrProtocolViolation) {
		return exec.StatusProtocolViolation
	}
	return exec.StatusStopBatch
}
