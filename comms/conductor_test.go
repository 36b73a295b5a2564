package comms

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	. "github.com/smartystreets/goconvey/convey"

	"drawarm/arm"
	"drawarm/firmware"
)

// fakeArm records submissions and answers with canned results.
type fakeArm struct {
	drawings   []arm.DrawingPlan
	operations []firmware.Operation
	moves      [][3]float64
	grips      []bool
	joints     [][2]float64
	stopped    int
	retried    int

	submitErr error
	state     firmware.ConnectionState
	lastErr   error
}

func resolvedTicket() *firmware.Ticket { return &firmware.Ticket{} }

func (f *fakeArm) SubmitDrawing(plan arm.DrawingPlan) ([]*firmware.Ticket, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.drawings = append(f.drawings, plan)
	tickets := make([]*firmware.Ticket, len(plan))
	for i := range tickets {
		tickets[i] = resolvedTicket()
	}
	return tickets, nil
}

func (f *fakeArm) SubmitOperation(op firmware.Operation) (*firmware.Ticket, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.operations = append(f.operations, op)
	return resolvedTicket(), nil
}

func (f *fakeArm) SubmitMove(x, y, z float64) (*firmware.Ticket, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.moves = append(f.moves, [3]float64{x, y, z})
	return resolvedTicket(), nil
}

func (f *fakeArm) SubmitGripper(open bool) (*firmware.Ticket, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.grips = append(f.grips, open)
	return resolvedTicket(), nil
}

func (f *fakeArm) SubmitJoint(joint int, angle float64) (*firmware.Ticket, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.joints = append(f.joints, [2]float64{float64(joint), angle})
	return resolvedTicket(), nil
}

func (f *fakeArm) EmergencyStop() int {
	f.stopped++
	return 3
}

func (f *fakeArm) Retry() { f.retried++ }

func (f *fakeArm) ConnectionState() firmware.ConnectionState { return f.state }
func (f *fakeArm) LastError() error                          { return f.lastErr }
func (f *fakeArm) QueueDepth() int                           { return 2 }
func (f *fakeArm) PortName() string                          { return "/dev/ttyUSB0" }

func TestToDrawingPlan(t *testing.T) {
	Convey("Wire elements convert in capture order", t, func() {
		elements := []ElementPayload{
			{Kind: "stroke", Points: []PointPayload{{0, 0}, {10, 0}}},
			{Kind: "pick", Left: 100, Top: 100, Width: 100, Height: 100},
			{Kind: "place", Left: 300, Top: 300, Width: 50, Height: 50},
		}

		plan, err := ToDrawingPlan(elements)
		So(err, ShouldBeNil)
		So(len(plan), ShouldEqual, 3)

		stroke, ok := plan[0].(arm.Stroke)
		So(ok, ShouldBeTrue)
		So(stroke, ShouldResemble, arm.Stroke{{0, 0}, {10, 0}})

		pick, ok := plan[1].(arm.Region)
		So(ok, ShouldBeTrue)
		So(pick.Kind, ShouldEqual, arm.PickRegion)
		So(pick.TopLeft, ShouldResemble, arm.Point{100, 100})
		So(pick.BottomRight, ShouldResemble, arm.Point{200, 200})

		place, ok := plan[2].(arm.Region)
		So(ok, ShouldBeTrue)
		So(place.Kind, ShouldEqual, arm.PlaceRegion)
	})

	Convey("An unknown element kind is rejected", t, func() {
		_, err := ToDrawingPlan([]ElementPayload{{Kind: "scribble"}})
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "scribble")
	})
}

func TestProcessCommand(t *testing.T) {
	Convey("Given a conductor over a fake arm", t, func() {
		device := &fakeArm{state: firmware.Connected}
		c := NewConductor(device)

		Convey("draw plans and submits the elements", func() {
			resp := c.ProcessCommand(Cmd{Cmd: "draw", Elements: []ElementPayload{
				{Kind: "stroke", Points: []PointPayload{{0, 0}, {10, 0}}},
			}})

			So(resp.OK, ShouldBeTrue)
			So(resp.Queued, ShouldEqual, 1)
			So(len(device.drawings), ShouldEqual, 1)
		})

		Convey("draw with a bad element reports the error", func() {
			resp := c.ProcessCommand(Cmd{Cmd: "draw", Elements: []ElementPayload{
				{Kind: "scribble"},
			}})

			So(resp.OK, ShouldBeFalse)
			So(resp.Error, ShouldContainSubstring, "scribble")
			So(len(device.drawings), ShouldEqual, 0)
		})

		Convey("move forwards the target position", func() {
			resp := c.ProcessCommand(Cmd{Cmd: "move", X: 150, Y: 160, Z: 70})

			So(resp.OK, ShouldBeTrue)
			So(device.moves, ShouldResemble, [][3]float64{{150, 160, 70}})
		})

		Convey("gripper requires the open field", func() {
			resp := c.ProcessCommand(Cmd{Cmd: "gripper"})
			So(resp.OK, ShouldBeFalse)

			open := true
			resp = c.ProcessCommand(Cmd{Cmd: "gripper", Open: &open})
			So(resp.OK, ShouldBeTrue)
			So(device.grips, ShouldResemble, []bool{true})
		})

		Convey("joint forwards id and angle", func() {
			resp := c.ProcessCommand(Cmd{Cmd: "joint", Joint: 3, Angle: -45})

			So(resp.OK, ShouldBeTrue)
			So(device.joints, ShouldResemble, [][2]float64{{3, -45}})
		})

		Convey("motors requires exactly six angles", func() {
			resp := c.ProcessCommand(Cmd{Cmd: "motors", Angles: []float64{1, 2, 3}})
			So(resp.OK, ShouldBeFalse)

			resp = c.ProcessCommand(Cmd{Cmd: "motors", Angles: []float64{0, 10, 20, 30, 40, 50}})
			So(resp.OK, ShouldBeTrue)
			So(len(device.operations), ShouldEqual, 1)
			op := device.operations[0].(firmware.SetAllMotorAngles)
			So(op.Angles, ShouldResemble, [firmware.JointCount]float64{0, 10, 20, 30, 40, 50})
		})

		Convey("stop triggers the emergency flush", func() {
			resp := c.ProcessCommand(Cmd{Cmd: "stop"})

			So(resp.OK, ShouldBeTrue)
			So(resp.Flushed, ShouldEqual, 3)
			So(device.stopped, ShouldEqual, 1)
		})

		Convey("retry kicks the supervisor", func() {
			resp := c.ProcessCommand(Cmd{Cmd: "retry"})

			So(resp.OK, ShouldBeTrue)
			So(device.retried, ShouldEqual, 1)
		})

		Convey("an unknown command is rejected", func() {
			resp := c.ProcessCommand(Cmd{Cmd: "fly"})

			So(resp.OK, ShouldBeFalse)
			So(resp.Error, ShouldContainSubstring, "fly")
		})

		Convey("submission errors surface in the response", func() {
			device.submitErr = errors.New("queue is full")

			resp := c.ProcessCommand(Cmd{Cmd: "move", X: 150, Y: 160, Z: 70})
			So(resp.OK, ShouldBeFalse)
			So(resp.Error, ShouldContainSubstring, "queue is full")
		})
	})
}

func TestReplyToDroppedClient(t *testing.T) {
	Convey("A reply racing a client drop is discarded, not a panic", t, func() {
		c := NewConductor(&fakeArm{state: firmware.Connected})

		client := &Client{ID: uuid.New(), send: make(chan []byte, 1)}
		c.mu.Lock()
		c.clients[client.ID] = client
		c.mu.Unlock()

		// the drop happens while a command is still being processed
		c.mu.Lock()
		delete(c.clients, client.ID)
		close(client.send)
		c.mu.Unlock()

		So(func() { c.reply(client, Response{OK: true}) }, ShouldNotPanic)

		Convey("A registered client still receives its reply", func() {
			live := &Client{ID: uuid.New(), send: make(chan []byte, 1)}
			c.mu.Lock()
			c.clients[live.ID] = live
			c.mu.Unlock()

			c.reply(live, Response{OK: true})
			So(len(live.send), ShouldEqual, 1)
		})
	})
}

func TestConductorState(t *testing.T) {
	Convey("The broadcast state mirrors the device", t, func() {
		device := &fakeArm{state: firmware.Faulted, lastErr: errors.New("device unplugged")}
		c := NewConductor(device)

		p := c.state()
		So(p.State, ShouldEqual, "faulted")
		So(p.Port, ShouldEqual, "/dev/ttyUSB0")
		So(p.QueueDepth, ShouldEqual, 2)
		So(p.LastError, ShouldContainSubstring, "unplugged")
	})
}
