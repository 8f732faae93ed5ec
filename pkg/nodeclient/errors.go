package nodeclient

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorKind classifies a south-bound RPC failure into the taxonomy the rest
// of the control plane reasons about. NOT_FOUND and ALREADY_EXISTS are kept
// distinct from generic failures because higher layers use them to decide
// idempotence (spec: "MUST NOT be conflated with generic failures").
type ErrorKind string

const (
	KindOK                ErrorKind = "OK"
	KindNotFound          ErrorKind = "NOT_FOUND"
	KindAlreadyExists     ErrorKind = "ALREADY_EXISTS"
	KindInvalidArgument   ErrorKind = "INVALID_ARGUMENT"
	KindResourceExhausted ErrorKind = "RESOURCE_EXHAUSTED"
	KindUnavailable       ErrorKind = "UNAVAILABLE"
	KindDeadlineExceeded  ErrorKind = "DEADLINE_EXCEEDED"
	KindInternal          ErrorKind = "INTERNAL"
	KindUnknown           ErrorKind = "UNKNOWN"
)

// Classify maps a gRPC status error (or nil) to an ErrorKind. A non-gRPC
// error (e.g. a dial failure before any status was ever received) is
// reported as KindUnavailable, since from the caller's point of view the
// node simply wasn't reachable.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindOK
	}
	st, ok := status.FromError(err)
	if !ok {
		return KindUnavailable
	}
	switch st.Code() {
	case codes.OK:
		return KindOK
	case codes.NotFound:
		return KindNotFound
	case codes.AlreadyExists:
		return KindAlreadyExists
	case codes.InvalidArgument:
		return KindInvalidArgument
	case codes.ResourceExhausted:
		return KindResourceExhausted
	case codes.Unavailable:
		return KindUnavailable
	case codes.DeadlineExceeded:
		return KindDeadlineExceeded
	case codes.Internal, codes.Unknown:
		return KindInternal
	default:
		return KindUnknown
	}
}

// IsNotFound reports whether err carries NOT_FOUND -- the destroy/unshare
// idempotence signal.
func IsNotFound(err error) bool {
	return Classify(err) == KindNotFound
}

// IsAlreadyExists reports whether err carries ALREADY_EXISTS -- the
// create/publish idempotence signal.
func IsAlreadyExists(err error) bool {
	return Classify(err) == KindAlreadyExists
}

// IsRetriable reports whether a reconciler may usefully retry the operation
// on its next trigger rather than treat the failure as permanent.
func IsRetriable(err error) bool {
	switch Classify(err) {
	case KindUnavailable, KindDeadlineExceeded:
		return true
	default:
		return false
	}
}

// ErrDisconnected is returned by Client methods when called while the
// session is not in the Connected state.
var ErrDisconnected = errors.New("nodeclient: not connected")
