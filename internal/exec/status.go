// Package exec implements Component D: driving per-node batch
// commands on either the synchronous worker-pool path or the
// asynchronous pipelined path, and classifying/replanning failures for
// retry.
package exec

import "fmt"

// StatusKind enumerates the error taxonomy from spec.md §7.
type StatusKind int

const (
	StatusOK StatusKind = iota
	StatusInvalidNode
	StatusClusterEmpty
	StatusTimeout
	StatusNoMoreConnections
	StatusStopBatch
	StatusProtocolViolation
	StatusClientAbort
)

var kindNames = map[StatusKind]string{
	StatusOK:                "OK",
	StatusInvalidNode:       "INVALID_NODE",
	StatusClusterEmpty:      "CLUSTER_EMPTY",
	StatusTimeout:           "TIMEOUT",
	StatusNoMoreConnections: "NO_MORE_CONNECTIONS",
	StatusStopBatch:         "STOP_BATCH",
	StatusProtocolViolation: "PROTOCOL_VIOLATION",
	StatusClientAbort:       "CLIENT_ABORT",
}

func (k StatusKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "UNKNOWN"
}

// Status is the typed error every exported operation returns instead
// of panicking on a remote/input failure (SPEC_FULL.md §2.2).
type Status struct {
	Kind    StatusKind
	Message string
	Cause   error
}

func NewStatus(kind StatusKind, message string, cause error) *Status {
	return &Status{Kind: kind, Message: message, Cause: cause}
}

func (s *Status) Error() string {
	if s.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", s.Kind, s.Message, s.Cause)
	}
	return fmt.Sprintf("%s: %s", s.Kind, s.Message)
}

func (s *Status) Unwrap() error { return s.Cause }

// AsStatus wraps a plain error as a Status if it isn't one already.
func AsStatus(err error, fallback StatusKind) *Status {
	if err == nil {
		return nil
	}
	if s, ok := err.(*Status); ok {
		return s
	}
	return NewStatus(fallback, "unclassified error", err)
}

// IsRetriable decides whether a status kind is eligible for retry.
//
// NO_MORE_CONNECTIONS is classified as timeout-equivalent, matching
// the Open Question in spec.md §9 (as_pipe_get_connection's decision,
// kept deliberately — see DESIGN.md).
func (k StatusKind) IsRetriable() bool {
	switch k {
	case StatusTimeout, StatusNoMoreConnections:
		return true
	default:
		return false
	}
}
