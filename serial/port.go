package serial

import (
	"bytes"
	"io"
	"sync"
	"time"

	tarm "github.com/tarm/serial"
)

// pollInterval bounds how long a single blocking read may sit on the port,
// so ReadLine deadlines are honoured within one poll.
const pollInterval = 100 * time.Millisecond

// Transport is the exclusive owner of one physical connection. All writes
// and reads go through a single Port; nothing else touches the device.
type Transport interface {
	WriteLine(line []byte) error
	ReadLine(timeout time.Duration) ([]byte, error)
	Close() error
}

// Port wraps a line-oriented serial device. Safe for one writer and one
// reader at a time; the dispatcher is the only caller in practice.
type Port struct {
	device string
	rwc    io.ReadWriteCloser

	wmu sync.Mutex

	rmu      sync.Mutex
	residual []byte // bytes read past the last newline

	cmu    sync.Mutex
	closed bool
}

// Open opens the named device at the given baud rate. The underlying read
// timeout is kept short so ReadLine can enforce its own deadline.
func Open(device string, baud int) (*Port, error) {
	p, err := tarm.OpenPort(&tarm.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: pollInterval,
	})
	if err != nil {
		return nil, PortError{Device: device, Err: err}
	}

	return NewPort(device, p), nil
}

// NewPort wraps an already-open stream. Split out from Open so tests and
// the simulated firmware can supply an in-memory device.
func NewPort(device string, rwc io.ReadWriteCloser) *Port {
	return &Port{
		device:   device,
		rwc:      rwc,
		residual: make([]byte, 0, 256),
	}
}

func (p *Port) Device() string { return p.device }

// WriteLine writes the given bytes followed by a newline.
func (p *Port) WriteLine(line []byte) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()

	if p.isClosed() {
		return IOError{Op: "write", Err: io.ErrClosedPipe}
	}

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')

	if _, err := p.rwc.Write(buf); err != nil {
		return IOError{Op: "write", Err: err}
	}
	return nil
}

// ReadLine returns the next newline-terminated line (newline stripped),
// or a TimeoutError if none arrives within timeout. Partial data read
// before the deadline is kept for the next call.
func (p *Port) ReadLine(timeout time.Duration) ([]byte, error) {
	p.rmu.Lock()
	defer p.rmu.Unlock()

	deadline := time.Now().Add(timeout)
	chunk := make([]byte, 256)

	for {
		if i := bytes.IndexByte(p.residual, '\n'); i >= 0 {
			line := make([]byte, i)
			copy(line, p.residual[:i])
			p.residual = p.residual[:copy(p.residual, p.residual[i+1:])]
			return bytes.TrimRight(line, "\r"), nil
		}

		if p.isClosed() {
			return nil, IOError{Op: "read", Err: io.ErrClosedPipe}
		}
		if !time.Now().Before(deadline) {
			return nil, TimeoutError{After: timeout}
		}

		n, err := p.rwc.Read(chunk)
		if n > 0 {
			p.residual = append(p.residual, chunk[:n]...)
			continue
		}
		switch err {
		case nil, io.EOF:
			// poll timeout with no data, try again until the deadline
		default:
			return nil, IOError{Op: "read", Err: err}
		}
	}
}

// Close releases the device. Safe to call more than once.
func (p *Port) Close() error {
	p.cmu.Lock()
	defer p.cmu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.rwc.Close()
}

func (p *Port) isClosed() bool {
	p.cmu.Lock()
	defer p.cmu.Unlock()
	return p.closed
}
