// Package bridgeerr defines the error-kind vocabulary shared by the
// connection manager, schema cache, result store, and dispatcher
// (SPEC_FULL.md §7), plus the hint text attached to user-visible
// failures.
package bridgeerr

import "fmt"

// Kind names one of the error categories from §7.
type Kind string

const (
	KindConfigError              Kind = "ConfigError"
	KindUnknownServer            Kind = "UnknownServer"
	KindServerDisabled           Kind = "ServerDisabled"
	KindUnsupportedTransport     Kind = "UnsupportedTransport"
	KindSpawnFailed              Kind = "SpawnFailed"
	KindConnectTimeout           Kind = "ConnectTimeout"
	KindDownstreamTransportError Kind = "DownstreamTransportError"
	KindToolNotFound             Kind = "ToolNotFound"
	KindDownstreamToolError      Kind = "DownstreamToolError"
	KindResultMissing            Kind = "ResultMissing"
	KindResultExpired            Kind = "ResultExpired"
	KindArgumentMissing          Kind = "ArgumentMissing"
)

// Retryable reports whether kind is one of the three kinds §7 allows
// the Retry Policy to act on.
func (k Kind) Retryable() bool {
	switch k {
	case KindDownstreamTransportError, KindSpawnFailed, KindConnectTimeout:
		return true
	default:
		return false
	}
}

// Error is the structured, user-visible failure carried through the
// Dispatcher. Every meta-tool error response is built from one of
// these.
type Error struct {
	Kind     Kind
	Server   string
	Tool     string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	switch {
	case e.Server != "" && e.Tool != "":
		return fmt.Sprintf("%s: %s.%s: %v", e.Kind, e.Server, e.Tool, e.Err)
	case e.Server != "":
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Server, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an Error for the given kind and context.
func New(kind Kind, server, tool string, err error) *Error {
	return &Error{Kind: kind, Server: server, Tool: tool, Err: err}
}

// WithAttempts annotates the error with the number of attempts made
// before it was returned (§7: "the final error is wrapped with the
// server+tool context and an attempt count").
func (e *Error) WithAttempts(n int) *Error {
	e.Attempts = n
	return e
}

// Hint produces the pattern-matched hint text for kind, per §7.
// enabledServers is used by UnknownServer/ArgumentMissing hints.
func Hint(kind Kind, enabledServers []string) string {
	switch kind {
	case KindUnknownServer, KindArgumentMissing:
		return fmt.Sprintf("available servers: %v", enabledServers)
	case KindConnectTimeout:
		return "server may be starting up; retry"
	case KindSpawnFailed:
		return "server command not found"
	case KindResultExpired:
		return "use list_results"
	default:
		return "use the corresponding discovery meta-tool"
	}
}
