package firmware

import (
	"sync"
	"time"

	"drawarm/serial"
)

// Ticket is the handle a producer awaits for a command's terminal result.
// It resolves exactly once: nil on ack, or one of the terminal errors.
type Ticket struct {
	cmd      Command
	enqueued time.Time

	once sync.Once
	err  error
	done chan struct{}
}

func newTicket(cmd Command) *Ticket {
	return &Ticket{
		cmd:      cmd,
		enqueued: time.Now(),
		done:     make(chan struct{}),
	}
}

func (t *Ticket) Command() Command { return t.cmd }

// Done is closed once the command reaches a terminal state.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Wait blocks until the command reaches a terminal state.
func (t *Ticket) Wait() error {
	<-t.done
	return t.err
}

// Err is only meaningful after Done is closed.
func (t *Ticket) Err() error { return t.err }

func (t *Ticket) resolve(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

type DispatcherConfig struct {
	Capacity   int
	AckTimeout time.Duration
}

// Dispatcher owns the only goroutine allowed to touch the transport. Any
// number of producers enqueue; commands go to the device strictly one at a
// time because the firmware has no input queue of its own — overlapping
// writes would corrupt its parse buffer.
type Dispatcher struct {
	cfg     DispatcherConfig
	sup     *Supervisor
	entries chan *Ticket

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewDispatcher(cfg DispatcherConfig, sup *Supervisor) *Dispatcher {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 64
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = time.Second
	}

	d := &Dispatcher{
		cfg:     cfg,
		sup:     sup,
		entries: make(chan *Ticket, cfg.Capacity),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	sup.attach(d)
	return d
}

func (d *Dispatcher) Start() {
	go d.run()
}

// Stop drains every queued entry with ErrShutdown. A command already in
// flight is waited on until its ack window lapses; the device has no abort
// primitive.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	<-d.done
}

// Depth reports how many commands are queued but not yet dispatched.
func (d *Dispatcher) Depth() int { return len(d.entries) }

// Enqueue appends a command to the FIFO and returns its result handle. It
// never blocks: a full queue returns QueueFullError, and enqueueing while
// the connection is down resolves the handle immediately with
// ErrConnectionLost instead of letting it sit out the ack timeout.
func (d *Dispatcher) Enqueue(cmd Command) (*Ticket, error) {
	t := newTicket(cmd)

	switch d.sup.State() {
	case Faulted, Disconnected:
		t.resolve(ErrConnectionLost)
		return t, nil
	}

	select {
	case <-d.stop:
		t.resolve(ErrShutdown)
		return t, nil
	default:
	}

	select {
	case d.entries <- t:
		return t, nil
	default:
		return nil, QueueFullError{Capacity: d.cfg.Capacity}
	}
}

// Flush resolves every queued (not yet dispatched) entry with cause and
// returns how many were drained.
func (d *Dispatcher) Flush(cause error) (n int) {
	for {
		select {
		case t := <-d.entries:
			t.resolve(cause)
			n++
		default:
			return n
		}
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for {
		select {
		case <-d.stop:
			d.Flush(ErrShutdown)
			return
		case t := <-d.entries:
			// both cases can be ready at once and select picks at random;
			// nothing may go to the device once Stop was requested
			select {
			case <-d.stop:
				t.resolve(ErrShutdown)
				d.Flush(ErrShutdown)
				return
			default:
			}
			d.dispatch(t)
		}
	}
}

// dispatch writes one command and blocks on its acknowledgement. Failed or
// timed-out commands are never retried here: a motion command may have
// partially executed, and re-sending it could double-move the arm. The
// supervisor is told and decides whether to fault the connection.
func (d *Dispatcher) dispatch(t *Ticket) {
	tr := d.sup.transport()
	if tr == nil {
		t.resolve(ErrConnectionLost)
		return
	}

	if err := tr.WriteLine(t.cmd.Line); err != nil {
		t.resolve(ErrConnectionLost)
		d.sup.reportIO(err)
		return
	}

	deadline := time.Now().Add(d.cfg.AckTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.resolve(ErrAckTimeout)
			d.sup.reportTimeout()
			return
		}

		line, err := tr.ReadLine(remaining)
		if err != nil {
			if _, ok := err.(serial.TimeoutError); ok {
				t.resolve(ErrAckTimeout)
				d.sup.reportTimeout()
			} else {
				t.resolve(ErrConnectionLost)
				d.sup.reportIO(err)
			}
			return
		}

		ack, err := ParseAck(line)
		if err != nil || ack.Seq != t.cmd.Seq {
			// telemetry line or a stale ack from before a reconnect
			continue
		}

		if !ack.OK {
			t.resolve(CommandError{Seq: ack.Seq, Detail: ack.Err})
			d.sup.reportFailure()
			return
		}

		t.resolve(nil)
		d.sup.reportSuccess()
		return
	}
}
