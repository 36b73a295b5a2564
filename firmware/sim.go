package firmware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

const (
	SimModel   = "drawarm-sim"
	SimVersion = "1.0.3"
)

// Sim is an in-process stand-in for the arm's firmware: it emits the hello
// banner on open and acknowledges every JSON-line command by echoing its
// sequence id. Used by the -sim flag and throughout the dispatcher and
// supervisor tests.
type Sim struct {
	mu      sync.Mutex
	out     bytes.Buffer // bytes the host has yet to read
	in      bytes.Buffer // partial command line from the host
	sent    [][]byte     // complete command lines received
	closed  bool
	silent  bool   // drop acks, forcing host-side timeouts
	reject  string // non-empty: nack everything with this detail
	ackWait time.Duration
}

func NewSim() *Sim {
	s := &Sim{}
	fmt.Fprintf(&s.out, `{"T":%d,"model":%q,"version":%q}`+"\n", CMD_HELLO, SimModel, SimVersion)
	return s
}

// Silence makes the firmware stop acknowledging commands.
func (s *Sim) Silence(on bool) {
	s.mu.Lock()
	s.silent = on
	s.mu.Unlock()
}

// RejectWith makes the firmware nack every command with the given detail.
// Empty restores normal acks.
func (s *Sim) RejectWith(detail string) {
	s.mu.Lock()
	s.reject = detail
	s.mu.Unlock()
}

// DelayAcks adds a fixed latency before each acknowledgement.
func (s *Sim) DelayAcks(d time.Duration) {
	s.mu.Lock()
	s.ackWait = d
	s.mu.Unlock()
}

// Sent returns copies of every complete command line received so far.
func (s *Sim) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	for i, line := range s.sent {
		out[i] = append([]byte(nil), line...)
	}
	return out
}

func (s *Sim) Read(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if s.out.Len() == 0 {
		s.mu.Unlock()
		// behave like a serial poll timeout
		time.Sleep(2 * time.Millisecond)
		return 0, nil
	}
	defer s.mu.Unlock()
	return s.out.Read(p)
}

func (s *Sim) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, io.ErrClosedPipe
	}

	s.in.Write(p)
	for {
		raw := s.in.Bytes()
		i := bytes.IndexByte(raw, '\n')
		if i < 0 {
			break
		}
		line := append([]byte(nil), raw[:i]...)
		s.in.Next(i + 1)
		if len(line) > 0 {
			s.handle(line)
		}
	}
	return len(p), nil
}

func (s *Sim) handle(line []byte) {
	s.sent = append(s.sent, line)

	if s.silent {
		return
	}

	var probe struct {
		Seq uint32 `json:"seq"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return
	}

	wait := s.ackWait
	if wait > 0 {
		// respond from a goroutine so Write never blocks the host
		go func(seq uint32, reject string) {
			time.Sleep(wait)
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.closed {
				return
			}
			s.writeAck(seq, reject)
		}(probe.Seq, s.reject)
		return
	}

	s.writeAck(probe.Seq, s.reject)
}

func (s *Sim) writeAck(seq uint32, reject string) {
	if reject != "" {
		fmt.Fprintf(&s.out, `{"seq":%d,"ok":false,"err":%q}`+"\n", seq, reject)
		return
	}
	fmt.Fprintf(&s.out, `{"seq":%d,"ok":true}`+"\n", seq)
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
