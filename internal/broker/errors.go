// Package broker implements the in-process MQTT 3.1.1 broker: the per-client
// Session state machine, the Topic Router (subscription matching and
// retained-message store), and the Broker Core that owns the TCP listener and
// the set of live Sessions.
package broker

import (
	"errors"
	"fmt"
)

// Sentinel errors classifying why a Session was closed or a publish refused.
var (
	// ErrProtocol marks a malformed packet, a reserved-flag violation, or a
	// packet sequence MQTT 3.1.1 §4.8 forbids (e.g. PUBLISH before CONNECT).
	ErrProtocol = errors.New("protocol error")

	// ErrTransport marks a socket read/write failure or unexpected EOF.
	ErrTransport = errors.New("transport error")

	// ErrAuth marks a CONNECT refused for bad credentials or a rejected
	// client identifier.
	ErrAuth = errors.New("auth error")

	// ErrBind marks a listener bind failure at startup.
	ErrBind = errors.New("bind error")

	// ErrTakenOver is the close reason recorded on a Session whose client
	// identifier was reused by a newer CONNECT.
	ErrTakenOver = errors.New("session taken over by new connection")

	// ErrKeepAliveTimeout is the close reason recorded on a Session that
	// went silent for more than 1.5x its negotiated keep-alive interval.
	ErrKeepAliveTimeout = errors.New("keep-alive timeout")

	// ErrSlowConsumer is the close reason recorded on a Session whose
	// outbound or delivery queue was full, or whose QoS 1 delivery went
	// unacknowledged past the retry limit.
	ErrSlowConsumer = errors.New("slow consumer")
)

// Error wraps one of the sentinel errors above with the MQTT CONNACK return
// code (when applicable) and the underlying cause, following the teacher's
// MqttError/ReasonCode pattern adapted to this broker's error kinds.
type Error struct {
	Kind       error // one of the sentinels above
	ReturnCode uint8 // CONNACK return code, 0 if not applicable
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
	}
	return e.Kind.Error()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, ErrProtocol) (etc.) to match through the wrapper.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}
