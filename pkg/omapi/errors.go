package omapi

import (
	"errors"
	"fmt"
)

var (
	// ErrShutdown is returned by Dial after the runtime has been shut down
	ErrShutdown = errors.New("omapi runtime has been shut down")

	// ErrReleased is returned when a released object is used again
	ErrReleased = errors.New("object has already been released")

	// ErrClosed is returned when a closed connection is used
	ErrClosed = errors.New("connection closed")
)

type (
	// AuthError is returned if the authenticator could not be built from the
	// given key material or if the server refused it
	AuthError struct {
		KeyName string
		Err     error
	}

	// ConnectError is returned if the connection or the protocol handshake
	// with the server failed
	ConnectError struct {
		Addr string
		Err  error
	}

	// ProtocolError is returned for invalid usage of the client API, like
	// setting a value of the wrong kind or submitting an object twice
	ProtocolError struct {
		Op  string
		Msg string
	}

	// SessionError is returned if waiting for the completion of an operation
	// failed. The connection is unusable afterwards
	SessionError struct {
		Op  string
		Err error
	}

	// RemoteError is returned if the server processed an operation but
	// reported a failure
	RemoteError struct {
		Op     string
		Status Status
	}
)

func (e *AuthError) Error() string {
	return fmt.Sprintf("omapi: authenticator %q: %s", e.KeyName, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *ConnectError) Error() string {
	return fmt.Sprintf("omapi: failed to connect to %s: %s", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("omapi: %s: %s", e.Op, e.Msg)
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("omapi: connection failed during %s: %s", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

func (e *RemoteError) Error() string {
	return fmt.Sprintf("omapi: server rejected %s: %s", e.Op, e.Status.Text())
}

// Err returns nil if s reports success and a *RemoteError otherwise
func (s Status) Err(op string) error {
	if s.OK() {
		return nil
	}

	return &RemoteError{Op: op, Status: s}
}

func protocolErrorf(op, format string, args ...interface{}) error {
	return &ProtocolError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// IsNotFound returns true if err is a RemoteError reporting that no
// object matched
func IsNotFound(err error) bool {
	return hasResult(err, ResultNotFound)
}

// IsExists returns true if err is a RemoteError reporting that the object
// already exists
func IsExists(err error) bool {
	return hasResult(err, ResultExists)
}

// IsSessionError returns true if err indicates that the connection can
// no longer be used
func IsSessionError(err error) bool {
	var se *SessionError
	return errors.As(err, &se)
}

func hasResult(err error, res Result) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Status.Result == res
	}

	return false
}
