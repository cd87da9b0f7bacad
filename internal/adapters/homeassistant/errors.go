package homeassistant

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies transport failures for the fallback logic.
type ErrorKind string

const (
	KindHTTPError    ErrorKind = "http_error"
	KindTimeout      ErrorKind = "timeout"
	KindDisconnected ErrorKind = "disconnected"
	KindProtocol     ErrorKind = "protocol_error"
)

// TransportError is a failure of a single transport attempt.
type TransportError struct {
	Kind      ErrorKind
	Transport string
	Op        Operation
	Status    int // HTTP status for KindHTTPError, 0 otherwise
	Message   string
	Cause     error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: %s (status %d): %s", e.Transport, e.Op, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: %s: %s", e.Transport, e.Op, e.Kind, e.Message)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// newTransportError maps a raw error onto the taxonomy, folding context
// deadline errors into KindTimeout.
func newTransportError(transport string, op Operation, kind ErrorKind, msg string, cause error) *TransportError {
	if cause != nil {
		var netErr net.Error
		if errors.Is(cause, context.DeadlineExceeded) || (errors.As(cause, &netErr) && netErr.Timeout()) {
			kind = KindTimeout
		}
	}
	return &TransportError{
		Kind:      kind,
		Transport: transport,
		Op:        op,
		Message:   msg,
		Cause:     cause,
	}
}

// ErrInsufficient marks an operation the REST surface cannot serve
// completely; the caller is expected to fall back to the WebSocket session.
var ErrInsufficient = errors.New("operation not served by this transport")

// AggregateError is returned when every transport has been exhausted.
// Both underlying causes are preserved for diagnostics.
type AggregateError struct {
	Op      Operation
	RESTErr error
	WSErr   error
}

func (e *AggregateError) Error() string {
	return fmt.Sprintf("all transports failed for %s: rest: %v; websocket: %v", e.Op, e.RESTErr, e.WSErr)
}

func (e *AggregateError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.RESTErr != nil {
		errs = append(errs, e.RESTErr)
	}
	if e.WSErr != nil {
		errs = append(errs, e.WSErr)
	}
	return errs
}

// IsTimeout reports whether err (anywhere in its chain) is a transport timeout.
func IsTimeout(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Kind == KindTimeout
}
