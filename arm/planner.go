package arm

import (
	"fmt"

	"drawarm/firmware"
)

// Stroke is one continuous pen-down path in canvas coordinates, at least
// two points as captured.
type Stroke []Point

// RegionKind distinguishes pick-up zones from placement zones.
type RegionKind int

const (
	PickRegion RegionKind = iota
	PlaceRegion
)

// Region marks an axis-aligned pick or place zone on the canvas.
type Region struct {
	TopLeft     Point
	BottomRight Point
	Kind        RegionKind
}

func (r Region) Center() Point {
	return r.TopLeft.Add(r.BottomRight).Mul(0.5)
}

// PlanElement is either a Stroke or a Region. The set is closed so the
// planner switch stays exhaustive.
type PlanElement interface {
	planElement()
}

func (Stroke) planElement() {}
func (Region) planElement() {}

// DrawingPlan is one drawing session as captured from the UI, in draw
// order. Consumed exactly once by Plan.
type DrawingPlan []PlanElement

// PlanError rejects a malformed element before anything is enqueued, so a
// bad drawing never partially executes.
type PlanError struct {
	Element int
	Reason  string
}

func (e PlanError) Error() string {
	return fmt.Sprintf("planner: element %d: %s", e.Element, e.Reason)
}

type PlanSettings struct {
	ZUp, ZDown, ZPickup float64
	TiltAngle           float64
	MoveSpeed           float64
	MinPointDistance    float64

	GripperOpen  float64
	GripperClose float64
	GripperSpeed float64
	GripperAccel float64
}

// Plan converts a drawing into the ordered operation list that replays it.
// Elements are planned strictly in capture order and never merged or
// reordered across types, so the physical replay matches the draw order.
func Plan(drawing DrawingPlan, m LinearMapping, s PlanSettings) ([]firmware.Operation, error) {
	ops := make([]firmware.Operation, 0, planCapacity(drawing))

	for i, el := range drawing {
		switch e := el.(type) {
		case Stroke:
			planned, err := planStroke(i, e, m, s)
			if err != nil {
				return nil, err
			}
			ops = append(ops, planned...)

		case Region:
			planned, err := planRegion(i, e, m, s)
			if err != nil {
				return nil, err
			}
			ops = append(ops, planned...)

		default:
			return nil, PlanError{i, fmt.Sprintf("unknown element type %T", el)}
		}
	}

	return ops, nil
}

// planStroke emits travel-up to the start, pen down, one move per drawn
// point, then pen up. A stroke that coalesces to a single distinct point
// degenerates to a dwell so tap gestures survive.
func planStroke(index int, stroke Stroke, m LinearMapping, s PlanSettings) ([]firmware.Operation, error) {
	if len(stroke) < 2 {
		return nil, PlanError{index, fmt.Sprintf("stroke has %d points, need at least 2", len(stroke))}
	}

	points := coalesce(stroke, s.MinPointDistance)

	move := func(p Point, z float64) firmware.Operation {
		w := m.ToWorkspace(p)
		return firmware.MoveTo{X: w.X(), Y: w.Y(), Z: z, T: s.TiltAngle, Speed: s.MoveSpeed}
	}

	ops := make([]firmware.Operation, 0, len(points)+3)
	first := points[0]
	ops = append(ops, move(first, s.ZUp), move(first, s.ZDown))
	for _, p := range points[1:] {
		ops = append(ops, move(p, s.ZDown))
	}
	ops = append(ops, move(points[len(points)-1], s.ZUp))

	return ops, nil
}

// planRegion emits the pick (or mirrored place) sequence at the region
// center: travel above, descend, actuate the gripper, lift clear.
func planRegion(index int, r Region, m LinearMapping, s PlanSettings) ([]firmware.Operation, error) {
	if r.TopLeft.X() > r.BottomRight.X() || r.TopLeft.Y() > r.BottomRight.Y() {
		return nil, PlanError{index, "region corners are inverted"}
	}

	center := m.ToWorkspace(r.Center())
	move := func(z float64) firmware.Operation {
		return firmware.MoveTo{X: center.X(), Y: center.Y(), Z: z, T: s.TiltAngle, Speed: s.MoveSpeed}
	}

	grip := firmware.SetGripper{
		Open:  r.Kind == PlaceRegion,
		Angle: s.GripperClose,
		Speed: s.GripperSpeed,
		Accel: s.GripperAccel,
	}
	if grip.Open {
		grip.Angle = s.GripperOpen
	}

	return []firmware.Operation{
		move(s.ZUp),
		move(s.ZPickup),
		grip,
		move(s.ZUp),
	}, nil
}

// coalesce drops points closer than minDist to their predecessor, in
// canvas space, to keep hand jitter from turning into redundant commands.
// The first point always survives.
func coalesce(stroke Stroke, minDist float64) []Point {
	if minDist <= 0 {
		return stroke
	}

	out := make([]Point, 0, len(stroke))
	out = append(out, stroke[0])
	last := stroke[0]

	for _, p := range stroke[1:] {
		if p.Sub(last).Len() < minDist {
			continue
		}
		out = append(out, p)
		last = p
	}
	return out
}

func planCapacity(drawing DrawingPlan) int {
	n := 0
	for _, el := range drawing {
		switch e := el.(type) {
		case Stroke:
			n += len(e) + 3
		case Region:
			n += 4
		}
	}
	return n
}
