package firmware

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionLost is the terminal result delivered to every queued
	// command when the connection faults.
	ErrConnectionLost = errors.New("firmware: connection to the arm was lost")

	// ErrShutdown is the terminal result delivered to queued commands when
	// the dispatcher is stopped.
	ErrShutdown = errors.New("firmware: controller is shutting down")

	// ErrStopped is the terminal result for commands flushed by an
	// emergency stop. The connection itself stays up.
	ErrStopped = errors.New("firmware: command flushed by emergency stop")

	// ErrAckTimeout is the terminal result for a dispatched command that
	// received no acknowledgement within the ack window.
	ErrAckTimeout = errors.New("firmware: command was not acknowledged in time")
)

// QueueFullError is returned synchronously from Enqueue as a backpressure
// signal. Callers surface it to the UI, never drop it.
type QueueFullError struct {
	Capacity int
}

func (e QueueFullError) Error() string {
	return fmt.Sprintf("firmware: command queue is full (capacity %d)", e.Capacity)
}

// EncodingError indicates an operation field outside the protocol's
// representable range. The planner's bounds invariant should prevent this
// upstream, so hitting one is a programming defect, not a runtime state.
type EncodingError struct {
	Field  string
	Value  float64
	Reason string
}

func (e EncodingError) Error() string {
	return fmt.Sprintf("firmware: cannot encode %s=%v: %s", e.Field, e.Value, e.Reason)
}

// CommandError carries an explicit error acknowledgement from the device.
type CommandError struct {
	Seq    uint32
	Detail string
}

func (e CommandError) Error() string {
	return fmt.Sprintf("firmware: device rejected command %d: %s", e.Seq, e.Detail)
}

// VersionError indicates the firmware banner did not satisfy the version
// constraint required by this host.
type VersionError struct {
	Reported   string
	Constraint string
}

func (e VersionError) Error() string {
	return fmt.Sprintf("firmware: device reports version %s, require %s", e.Reported, e.Constraint)
}
