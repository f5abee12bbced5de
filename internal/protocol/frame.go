package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// AuthMethod is the only command allowed through before authentication.
const AuthMethod = "Authentication.setAccessToken"

// State is the connection state of a Client.
type State int

const (
	StateConnecting State = iota
	StateAuthenticating
	StateAuthenticated
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Request is an outgoing command frame.
type Request struct {
	ID        int64  `json:"id"`
	Method    string `json:"method"`
	Params    any    `json:"params"`
	SessionID string `json:"sessionId,omitempty"`
}

// Event is an unsolicited frame from the server.
type Event struct {
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

// frame is any incoming message. Responses carry an id, events do not.
type frame struct {
	ID        *int64          `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ProtocolError is a command failure reported by the server.
type ProtocolError struct {
	Method  string
	Code    int
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s failed: %s (code %d)", e.Method, e.Message, e.Code)
}

// ConnectionError rejects commands that were pending when the transport
// failed or the client was closed.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection lost: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError is returned when a command gets no response in time. The
// connection stays usable.
type TimeoutError struct {
	Method string
	ID     int64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s (id %d) timed out", e.Method, e.ID)
}

// ErrClosed is wrapped by the ConnectionError of commands rejected by Close.
var ErrClosed = errors.New("client closed")
