// Package errkind defines the closed set of error kinds surfaced by the
// orchestration engine, from graph compilation through execution to the
// public API. Every error raised by an engine component wraps one of these
// kinds so callers can branch on Kind without parsing messages.
package errkind

// Kind is a stable, user-visible error classification.
type Kind string

const (
	Validation          Kind = "validation"
	UnknownTemplate      Kind = "unknown_template"
	UnknownTool          Kind = "unknown_tool"
	UnknownNode          Kind = "unknown_node"
	UnknownCondition     Kind = "unknown_condition"
	CapacityExceeded     Kind = "capacity_exceeded"
	ToolHTTP             Kind = "tool_http"
	ToolTimeout          Kind = "tool_timeout"
	ToolNon2xx           Kind = "tool_non_2xx"
	NodeException        Kind = "node_exception"
	Cancelled            Kind = "cancelled"
	Timeout              Kind = "timeout"
	DuplicateTool        Kind = "duplicate_tool"
	InfiniteLoop         Kind = "infinite_loop"
	UnreachableNodes     Kind = "unreachable_nodes"
	AmbiguousTransition  Kind = "ambiguous_transition"
	InvalidDescriptor    Kind = "invalid_descriptor"
	InvalidParameterSchema Kind = "invalid_parameter_schema"
	MissingRequired      Kind = "missing_required"
	TypeMismatch         Kind = "type_mismatch"
	NotFound             Kind = "not_found"
	AlreadyTerminal      Kind = "already_terminal"
)

// retryable holds the kinds the executor's retry predicate may act on. Not
// every member is unconditionally retryable: tool_non_2xx is only retryable
// for a subset of HTTP statuses, checked separately by the caller.
var retryable = map[Kind]bool{
	ToolTimeout: true,
	ToolHTTP:    true,
	ToolNon2xx:  true,
}

// MaybeRetryable reports whether kind belongs to the retryable class at all.
// Callers must still apply the status-code refinement for ToolNon2xx.
func MaybeRetryable(k Kind) bool {
	return retryable[k]
}

// Error is the engine-native error value. Every error that crosses a
// component boundary is wrapped into one of these so the kind survives
// errors.As/errors.Is composition.
type Error struct {
	Kind    Kind
	Message string
	Node    string
	Cause   error
}

func (e *Error) Error() string {
	if e.Node != "" {
		return string(e.Kind) + ": " + e.Node + ": " + e.Message
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an Error with no node context and no wrapped cause.
func New(k Kind, message string) *Error {
	return &Error{Kind: k, Message: message}
}

// Wrap builds an Error that wraps cause, preserving it for errors.Is/As.
func Wrap(k Kind, message string, cause error) *Error {
	return &Error{Kind: k, Message: message, Cause: cause}
}

// WithNode returns a copy of e annotated with the node it occurred in.
func (e *Error) WithNode(node string) *Error {
	clone := *e
	clone.Node = node
	return &clone
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error; it returns NodeException as the fallback classification for
// unclassified failures, per the engine's "node logic raised an
// unclassified failure" semantics.
func KindOf(err error) Kind {
	var e *Error
	if asError(err, &e) {
		return e.Kind
	}
	return NodeException
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
