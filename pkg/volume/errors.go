package volume

import (
	"fmt"

	"google.golang.org/grpc/codes"
)

// reconcileError carries the gRPC status code ensure() wants the CSI façade
// to surface, so callers don't have to re-derive it from error text.
type reconcileError struct {
	code codes.Code
	msg  string
}

func (e *reconcileError) Error() string { return e.msg }

// Code returns the gRPC status code associated with err, or codes.Internal
// if err was not produced by this package.
func Code(err error) codes.Code {
	if re, ok := err.(*reconcileError); ok {
		return re.code
	}
	return codes.Internal
}

func resourceExhausted(format string, args ...interface{}) error {
	return &reconcileError{code: codes.ResourceExhausted, msg: fmt.Sprintf(format, args...)}
}

func internalErr(format string, args ...interface{}) error {
	return &reconcileError{code: codes.Internal, msg: fmt.Sprintf(format, args...)}
}

func invalidArgument(format string, args ...interface{}) error {
	return &reconcileError{code: codes.InvalidArgument, msg: fmt.Sprintf(format, args...)}
}
