package serial

import (
	"fmt"
	"time"
)

// PortError indicates the port could not be opened at all. It is fatal to
// the current connection attempt; recovery is the supervisor's job.
type PortError struct {
	Device string
	Err    error
}

func (e PortError) Error() string {
	return fmt.Sprintf("serial: unable to open %s: %v", e.Device, e.Err)
}

func (e PortError) Unwrap() error { return e.Err }

// IOError indicates the transport failed mid-use (broken pipe, device
// unplugged). The connection is unusable once this is returned.
type IOError struct {
	Op  string
	Err error
}

func (e IOError) Error() string {
	return fmt.Sprintf("serial: %s failed: %v", e.Op, e.Err)
}

func (e IOError) Unwrap() error { return e.Err }

// TimeoutError indicates no complete line arrived within the window.
// The port itself may still be healthy.
type TimeoutError struct {
	After time.Duration
}

func (e TimeoutError) Error() string {
	return fmt.Sprintf("serial: no line received within %v", e.After)
}
