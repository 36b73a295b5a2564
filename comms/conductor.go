package comms

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"drawarm/firmware"

	"drawarm/arm"
)

// Arm is what the conductor needs from the device controller. Kept as an
// interface so the websocket layer can be tested against a fake.
type Arm interface {
	SubmitDrawing(arm.DrawingPlan) ([]*firmware.Ticket, error)
	SubmitOperation(firmware.Operation) (*firmware.Ticket, error)
	SubmitMove(x, y, z float64) (*firmware.Ticket, error)
	SubmitGripper(open bool) (*firmware.Ticket, error)
	SubmitJoint(joint int, angle float64) (*firmware.Ticket, error)
	EmergencyStop() int
	Retry()
	ConnectionState() firmware.ConnectionState
	LastError() error
	QueueDepth() int
	PortName() string
}

var _ Arm = (*arm.Controller)(nil)

// Client is one connected browser session.
type Client struct {
	ID   uuid.UUID
	conn *websocket.Conn
	send chan []byte
}

// Conductor fans client commands into the one Arm and broadcasts its
// status back out to every connected client.
type Conductor struct {
	Device   Arm
	Interval time.Duration

	mu      sync.Mutex
	clients map[uuid.UUID]*Client

	stopOnce sync.Once
	stop     chan struct{}
}

func NewConductor(device Arm) *Conductor {
	return &Conductor{
		Device:   device,
		Interval: time.Second,
		clients:  make(map[uuid.UUID]*Client),
		stop:     make(chan struct{}),
	}
}

// AddClient registers a websocket connection and starts its pumps. The
// conductor owns the connection from here on.
func (c *Conductor) AddClient(conn *websocket.Conn) *Client {
	client := &Client{
		ID:   uuid.New(),
		conn: conn,
		send: make(chan []byte, 16),
	}

	c.mu.Lock()
	c.clients[client.ID] = client
	c.mu.Unlock()

	go c.writePump(client)
	go c.readPump(client)
	return client
}

// UpdateClients periodically broadcasts the robot status to every client.
// Runs until Stop.
func (c *Conductor) UpdateClients() {
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			msg, err := json.Marshal(c.state())
			if err != nil {
				continue
			}
			c.broadcast(msg)
		}
	}
}

func (c *Conductor) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, client := range c.clients {
		close(client.send)
		client.conn.Close()
		delete(c.clients, id)
	}
}

// ProcessCommand executes one client command against the arm.
func (c *Conductor) ProcessCommand(cmd Cmd) Response {
	switch cmd.Cmd {
	case "draw":
		plan, err := ToDrawingPlan(cmd.Elements)
		if err != nil {
			return errResponse(err)
		}
		tickets, err := c.Device.SubmitDrawing(plan)
		if err != nil {
			return Response{OK: false, Queued: len(tickets), Error: err.Error()}
		}
		return Response{OK: true, Queued: len(tickets)}

	case "move":
		if _, err := c.Device.SubmitMove(cmd.X, cmd.Y, cmd.Z); err != nil {
			return errResponse(err)
		}
		return Response{OK: true, Queued: 1}

	case "gripper":
		if cmd.Open == nil {
			return Response{OK: false, Error: "gripper command requires open"}
		}
		if _, err := c.Device.SubmitGripper(*cmd.Open); err != nil {
			return errResponse(err)
		}
		return Response{OK: true, Queued: 1}

	case "joint":
		if _, err := c.Device.SubmitJoint(cmd.Joint, cmd.Angle); err != nil {
			return errResponse(err)
		}
		return Response{OK: true, Queued: 1}

	case "motors":
		op, err := toMotorAngles(cmd.Angles)
		if err != nil {
			return errResponse(err)
		}
		if _, err := c.Device.SubmitOperation(op); err != nil {
			return errResponse(err)
		}
		return Response{OK: true, Queued: 1}

	case "stop":
		return Response{OK: true, Flushed: c.Device.EmergencyStop()}

	case "retry":
		c.Device.Retry()
		return Response{OK: true}

	case "status":
		return Response{OK: true}

	default:
		return Response{OK: false, Error: "unknown command " + cmd.Cmd}
	}
}

func (c *Conductor) state() StatePayload {
	p := StatePayload{
		State:      c.Device.ConnectionState().String(),
		Port:       c.Device.PortName(),
		QueueDepth: c.Device.QueueDepth(),
	}
	if err := c.Device.LastError(); err != nil {
		p.LastError = err.Error()
	}
	return p
}

func (c *Conductor) broadcast(msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, client := range c.clients {
		select {
		case client.send <- msg:
		default:
			// slow client, skip this update
		}
	}
}

func (c *Conductor) readPump(client *Client) {
	defer c.dropClient(client)

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			return
		}

		var cmd Cmd
		if err := json.Unmarshal(raw, &cmd); err != nil {
			c.reply(client, errResponse(err))
			continue
		}
		c.reply(client, c.ProcessCommand(cmd))
	}
}

func (c *Conductor) writePump(client *Client) {
	for msg := range client.send {
		if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// reply sends under the registry lock: a client dropped mid-command has a
// closed send channel, and sending on it would panic.
func (c *Conductor) reply(client *Client, resp Response) {
	msg, err := json.Marshal(resp)
	if err != nil {
		log.Println("comms: marshal response:", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.clients[client.ID]; !ok {
		return
	}
	select {
	case client.send <- msg:
	default:
	}
}

func (c *Conductor) dropClient(client *Client) {
	c.mu.Lock()
	if _, ok := c.clients[client.ID]; ok {
		delete(c.clients, client.ID)
		close(client.send)
	}
	c.mu.Unlock()
	client.conn.Close()
}

func errResponse(err error) Response {
	return Response{OK: false, Error: err.Error()}
}
