package protocol

import "fmt"

// Kind is one of the stable, wire-relevant error classes from spec §7.
type Kind int

const (
	// NotEnoughData is non-fatal: the framing engine waits for more bytes.
	NotEnoughData Kind = iota
	// BadSchema: while unbound, try the next candidate codec; while
	// bound, the connection is fatal.
	BadSchema
	// TooBigData is always fatal.
	TooBigData
	// SerializationFailure: the codec recognized the packet but
	// meta/body could not be parsed.
	SerializationFailure
	// ServiceException: dispatch found no method, or user code failed.
	ServiceException
	// NetworkError: transport closed or reset; cancels all outstanding
	// requests on the connection.
	NetworkError
	// Timeout is local-only and never serialized.
	Timeout
)

func (k Kind) String() string {
	switch k {
	case NotEnoughData:
		return "NOT_ENOUGH_DATA"
	case BadSchema:
		return "BAD_SCHEMA"
	case TooBigData:
		return "TOO_BIG_DATA"
	case SerializationFailure:
		return "SERIALIZATION_FAILURE"
	case ServiceException:
		return "SERVICE_EXCEPTION"
	case NetworkError:
		return "NETWORK_ERROR"
	case Timeout:
		return "TIMEOUT"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error wraps an underlying cause with a stable Kind, the unit codecs
// classify errors into (spec §7: "codecs never recover; they
// classify"). Framing/dispatch code uses errors.As to recover the
// Kind and decide how to react.
type Error struct {
	Kind  Kind
	Cause error
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Cause: fmt.Errorf("%s", msg)}
}

func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind,
// allowing errors.Is(err, protocol.ErrNotEnoughData) style checks
// via the sentinel values below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is comparisons against a bare Kind, with no
// meaningful Cause.
var (
	ErrNotEnoughData         = &Error{Kind: NotEnoughData}
	ErrBadSchema             = &Error{Kind: BadSchema}
	ErrTooBigData            = &Error{Kind: TooBigData}
	ErrSerializationFailure  = &Error{Kind: SerializationFailure}
	ErrServiceException      = &Error{Kind: ServiceException}
	ErrNetworkError          = &Error{Kind: NetworkError}
	ErrTimeout               = &Error{Kind: Timeout}
)

// MaxBodySize is the spec §3 invariant: a declared bodySize beyond
// this is always a fatal framing error.
const MaxBodySize = 512 * 1024 * 1024
