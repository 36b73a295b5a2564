package firmware

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver"

	"drawarm/serial"
)

// ConnectionState of the one physical arm this process owns.
type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Faulted
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Faulted:
		return "faulted"
	}
	return fmt.Sprintf("ConnectionState(%d)", int32(s))
}

// OpenFunc produces a fresh transport for one connection attempt.
type OpenFunc func() (serial.Transport, error)

type SupervisorConfig struct {
	// VersionConstraint gates the firmware banner, e.g. "~1.0". Empty
	// disables the check.
	VersionConstraint string
	HelloTimeout      time.Duration

	// FaultThreshold is the number of consecutive unacknowledged or
	// rejected commands tolerated before the connection is faulted.
	FaultThreshold int

	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// MaxAttempts caps reconnect attempts. Zero means retry forever; the
	// arm may be power-cycled at any time and should be picked back up.
	MaxAttempts int
}

// Supervisor tracks transport health and drives reconnects. It is the only
// component that opens, closes or replaces the transport; the dispatcher
// borrows it per command.
type Supervisor struct {
	cfg   SupervisorConfig
	open  OpenFunc
	queue *Dispatcher

	mu       sync.RWMutex
	state    ConnectionState
	lastErr  error
	tr       serial.Transport
	failures int

	seq uint32

	faultCh  chan struct{}
	retryCh  chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewSupervisor(cfg SupervisorConfig, open OpenFunc) *Supervisor {
	if cfg.HelloTimeout <= 0 {
		cfg.HelloTimeout = 2 * time.Second
	}
	if cfg.FaultThreshold <= 0 {
		cfg.FaultThreshold = 3
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}

	return &Supervisor{
		cfg:     cfg,
		open:    open,
		state:   Disconnected,
		faultCh: make(chan struct{}, 1),
		retryCh: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (s *Supervisor) attach(d *Dispatcher) { s.queue = d }

func (s *Supervisor) Start() {
	go s.run()
}

func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Supervisor) State() ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Supervisor) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Retry cuts a reconnect backoff wait short.
func (s *Supervisor) Retry() {
	select {
	case s.retryCh <- struct{}{}:
	default:
	}
}

// NextSeq returns the next sequence id. Sequence ids are monotonically
// increasing per connection and reset to zero on every reconnect.
func (s *Supervisor) NextSeq() uint32 {
	return atomic.AddUint32(&s.seq, 1)
}

func (s *Supervisor) transport() serial.Transport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tr
}

func (s *Supervisor) run() {
	defer close(s.done)

	attempts := 0
	backoff := s.cfg.BackoffInitial

	for {
		select {
		case <-s.stop:
			s.setState(Disconnected, nil)
			return
		default:
		}

		s.setState(Connecting, nil)
		tr, err := s.connect()
		if err != nil {
			s.setState(Faulted, err)
			attempts++
			if s.cfg.MaxAttempts > 0 && attempts >= s.cfg.MaxAttempts {
				return
			}

			select {
			case <-s.stop:
				s.setState(Disconnected, nil)
				return
			case <-time.After(backoff):
			case <-s.retryCh:
			}

			backoff *= 2
			if backoff > s.cfg.BackoffMax {
				backoff = s.cfg.BackoffMax
			}
			continue
		}

		attempts = 0
		backoff = s.cfg.BackoffInitial
		atomic.StoreUint32(&s.seq, 0)

		s.mu.Lock()
		s.tr = tr
		s.failures = 0
		s.state = Connected
		s.lastErr = nil
		s.mu.Unlock()

		select {
		case <-s.stop:
			s.closeTransport()
			s.setState(Disconnected, nil)
			return
		case <-s.faultCh:
			// fault() has already torn the connection down; loop back
			// into Connecting.
		}
	}
}

func (s *Supervisor) connect() (serial.Transport, error) {
	tr, err := s.open()
	if err != nil {
		return nil, err
	}

	if err := s.handshake(tr); err != nil {
		tr.Close()
		return nil, err
	}
	return tr, nil
}

// handshake waits for the firmware banner and checks its version against
// the configured constraint, the same gate the arm's vendor tool applies.
func (s *Supervisor) handshake(tr serial.Transport) error {
	if s.cfg.VersionConstraint == "" {
		return nil
	}

	line, err := tr.ReadLine(s.cfg.HelloTimeout)
	if err != nil {
		return fmt.Errorf("waiting for firmware banner: %w", err)
	}

	hello, err := ParseHello(line)
	if err != nil {
		return err
	}

	ver, err := semver.NewVersion(hello.Version)
	if err != nil {
		return VersionError{Reported: hello.Version, Constraint: s.cfg.VersionConstraint}
	}

	constraint, err := semver.NewConstraint(s.cfg.VersionConstraint)
	if err != nil {
		return fmt.Errorf("bad version constraint %q: %w", s.cfg.VersionConstraint, err)
	}

	if !constraint.Check(ver) {
		return VersionError{Reported: hello.Version, Constraint: s.cfg.VersionConstraint}
	}
	return nil
}

// fault tears down a connected transport: pending commands resolve with
// ErrConnectionLost and the run loop moves back into reconnect backoff.
// No-op unless currently Connected, so racing reporters collapse into one
// fault.
func (s *Supervisor) fault(cause error) {
	s.mu.Lock()
	if s.state != Connected {
		s.mu.Unlock()
		return
	}
	s.state = Faulted
	s.lastErr = cause
	tr := s.tr
	s.tr = nil
	s.failures = 0
	s.mu.Unlock()

	if tr != nil {
		tr.Close()
	}
	if s.queue != nil {
		s.queue.Flush(ErrConnectionLost)
	}

	select {
	case s.faultCh <- struct{}{}:
	default:
	}
}

func (s *Supervisor) reportIO(err error) {
	s.fault(err)
}

func (s *Supervisor) reportTimeout() {
	s.countFailure("unacknowledged")
}

func (s *Supervisor) reportFailure() {
	s.countFailure("rejected")
}

func (s *Supervisor) reportSuccess() {
	s.mu.Lock()
	s.failures = 0
	s.mu.Unlock()
}

func (s *Supervisor) countFailure(kind string) {
	s.mu.Lock()
	s.failures++
	n := s.failures
	s.mu.Unlock()

	if n >= s.cfg.FaultThreshold {
		s.fault(fmt.Errorf("%d consecutive %s commands", n, kind))
	}
}

func (s *Supervisor) closeTransport() {
	s.mu.Lock()
	tr := s.tr
	s.tr = nil
	s.mu.Unlock()

	if tr != nil {
		tr.Close()
	}
}

func (s *Supervisor) setState(state ConnectionState, err error) {
	s.mu.Lock()
	s.state = state
	if err != nil {
		s.lastErr = err
	}
	s.mu.Unlock()
}
