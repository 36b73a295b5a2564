package arm

import (
	"fmt"
	"sync"

	"drawarm/firmware"
	"drawarm/serial"
)

// BoundsError rejects an operation whose target lies outside the
// configured workspace or joint limits.
type BoundsError struct {
	Op     firmware.Operation
	Reason string
}

func (e BoundsError) Error() string {
	return fmt.Sprintf("arm: %v rejected: %s", e.Op, e.Reason)
}

// Controller is the downstream surface the web and shell layers talk to.
// All submissions from any number of concurrent callers funnel into one
// dispatcher, so the physical arm only ever sees one command at a time.
type Controller struct {
	cfg      Config
	mapping  LinearMapping
	bounds   Bounds
	settings PlanSettings

	sup   *firmware.Supervisor
	queue *firmware.Dispatcher

	mu      sync.Mutex
	started bool
	port    string
}

// NewController wires the supervisor and dispatcher for the configured
// arm. A nil open uses the real serial port, auto-detected when
// cfg.Serial.Port is empty; tests and -sim mode inject their own.
func NewController(cfg Config, open firmware.OpenFunc) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:      cfg,
		mapping:  cfg.Mapping(),
		bounds:   cfg.Bounds(),
		settings: cfg.planSettings(),
	}

	if open == nil {
		open = c.openSerial
	}

	c.sup = firmware.NewSupervisor(cfg.supervisorConfig(), open)
	c.queue = firmware.NewDispatcher(cfg.dispatcherConfig(), c.sup)
	return c, nil
}

func (c *Controller) openSerial() (serial.Transport, error) {
	device := c.cfg.Serial.Port
	if device == "" {
		var err error
		if device, err = serial.Discover(); err != nil {
			return nil, err
		}
	}

	port, err := serial.Open(device, c.cfg.Serial.Baud)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.port = device
	c.mu.Unlock()
	return port, nil
}

// Start brings up the connection supervisor and the dispatcher loop.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true

	c.sup.Start()
	c.queue.Start()
}

// Stop drains the queue with ErrShutdown and releases the transport.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.mu.Unlock()

	c.queue.Stop()
	c.sup.Stop()
}

func (c *Controller) ConnectionState() firmware.ConnectionState {
	return c.sup.State()
}

func (c *Controller) LastError() error {
	return c.sup.LastError()
}

func (c *Controller) QueueDepth() int {
	return c.queue.Depth()
}

// PortName reports the device most recently opened, for status displays.
func (c *Controller) PortName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == "" {
		return c.cfg.Serial.Port
	}
	return c.port
}

// Retry kicks the supervisor out of reconnect backoff.
func (c *Controller) Retry() {
	c.sup.Retry()
}

func (c *Controller) Mapping() LinearMapping {
	return c.mapping
}

// SubmitDrawing plans a whole drawing and enqueues every resulting
// operation, returning one ticket per operation in replay order. Planning
// or bounds errors reject the drawing before anything is enqueued. A full
// queue mid-drawing returns the tickets enqueued so far together with the
// QueueFullError, so the caller can surface the backpressure.
func (c *Controller) SubmitDrawing(drawing DrawingPlan) ([]*firmware.Ticket, error) {
	ops, err := Plan(drawing, c.mapping, c.settings)
	if err != nil {
		return nil, err
	}
	for _, op := range ops {
		if err := c.validate(op); err != nil {
			return nil, err
		}
	}

	tickets := make([]*firmware.Ticket, 0, len(ops))
	for _, op := range ops {
		t, err := c.enqueue(op)
		if err != nil {
			return tickets, err
		}
		tickets = append(tickets, t)
	}
	return tickets, nil
}

// SubmitOperation validates and enqueues a single ad-hoc operation, such
// as a slider-driven joint move.
func (c *Controller) SubmitOperation(op firmware.Operation) (*firmware.Ticket, error) {
	if err := c.validate(op); err != nil {
		return nil, err
	}
	return c.enqueue(op)
}

// SubmitMove enqueues a move to a workspace position using the configured
// tool tilt and speed.
func (c *Controller) SubmitMove(x, y, z float64) (*firmware.Ticket, error) {
	return c.SubmitOperation(firmware.MoveTo{
		X:     x,
		Y:     y,
		Z:     z,
		T:     c.cfg.Tool.TiltAngle,
		Speed: c.cfg.Tool.MoveSpeed,
	})
}

// SubmitGripper enqueues a gripper actuation using the configured angles.
func (c *Controller) SubmitGripper(open bool) (*firmware.Ticket, error) {
	angle := c.cfg.Gripper.CloseAngle
	if open {
		angle = c.cfg.Gripper.OpenAngle
	}
	return c.SubmitOperation(firmware.SetGripper{
		Open:  open,
		Angle: angle,
		Speed: c.cfg.Gripper.Speed,
		Accel: c.cfg.Gripper.Accel,
	})
}

// SubmitJoint enqueues a single-joint move using the configured speeds.
func (c *Controller) SubmitJoint(joint int, angle float64) (*firmware.Ticket, error) {
	return c.SubmitOperation(firmware.SetJointAngle{
		Joint: joint,
		Angle: angle,
		Speed: c.cfg.Joint.Speed,
		Accel: c.cfg.Joint.Accel,
	})
}

// EmergencyStop flushes every queued command with ErrStopped. The command
// already at the device cannot be aborted; the connection stays up.
func (c *Controller) EmergencyStop() int {
	return c.queue.Flush(firmware.ErrStopped)
}

func (c *Controller) enqueue(op firmware.Operation) (*firmware.Ticket, error) {
	cmd, err := firmware.Encode(op, c.sup.NextSeq())
	if err != nil {
		return nil, err
	}
	return c.queue.Enqueue(cmd)
}

// validate enforces the workspace and joint invariants before anything is
// encoded, keeping EncodingError a true programming-defect signal.
func (c *Controller) validate(op firmware.Operation) error {
	switch o := op.(type) {
	case firmware.MoveTo:
		if !c.bounds.Contains(Point{o.X, o.Y}) {
			return BoundsError{op, fmt.Sprintf("(%.1f, %.1f) outside workspace", o.X, o.Y)}
		}
		if !c.bounds.ContainsZ(o.Z) {
			return BoundsError{op, fmt.Sprintf("z=%.1f outside %v..%v", o.Z, c.bounds.ZMin, c.bounds.ZMax)}
		}

	case firmware.SetJointAngle:
		if o.Joint < 1 || o.Joint > firmware.JointCount {
			return BoundsError{op, fmt.Sprintf("joint id outside 1..%d", firmware.JointCount)}
		}
		if o.Angle < c.cfg.Joint.MinAngle || o.Angle > c.cfg.Joint.MaxAngle {
			return BoundsError{op, fmt.Sprintf("angle outside %v..%v", c.cfg.Joint.MinAngle, c.cfg.Joint.MaxAngle)}
		}

	case firmware.SetAllMotorAngles:
		for i, a := range o.Angles {
			if a < c.cfg.Joint.MinAngle || a > c.cfg.Joint.MaxAngle {
				return BoundsError{op, fmt.Sprintf("joint %d angle outside %v..%v", i+1, c.cfg.Joint.MinAngle, c.cfg.Joint.MaxAngle)}
			}
		}

	case firmware.SetGripper:
		// angles come from config; the encoder range-checks them
	}
	return nil
}
