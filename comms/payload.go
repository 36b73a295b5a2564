package comms

import (
	"fmt"

	"drawarm/arm"
	"drawarm/firmware"
)

// PointPayload is one canvas point as sent by the browser.
type PointPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ElementPayload is one drawing element. Kind selects the variant:
// "stroke" carries Points, "pick"/"place" carry the rectangle fields in
// the canvas's left/top/width/height convention.
type ElementPayload struct {
	Kind   string         `json:"kind"`
	Points []PointPayload `json:"points,omitempty"`

	Left   float64 `json:"left,omitempty"`
	Top    float64 `json:"top,omitempty"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
}

// Cmd is one control message from a client.
type Cmd struct {
	Cmd string `json:"cmd"`

	Elements []ElementPayload `json:"elements,omitempty"`

	X float64 `json:"x,omitempty"`
	Y float64 `json:"y,omitempty"`
	Z float64 `json:"z,omitempty"`

	Open  *bool     `json:"open,omitempty"`
	Joint int       `json:"joint,omitempty"`
	Angle float64   `json:"angle,omitempty"`
	Angles []float64 `json:"angles,omitempty"`
}

// Response is the per-command reply.
type Response struct {
	OK      bool   `json:"ok"`
	Queued  int    `json:"queued,omitempty"`
	Flushed int    `json:"flushed,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StatePayload is the periodic robot status broadcast.
type StatePayload struct {
	State      string `json:"state"`
	Port       string `json:"port"`
	QueueDepth int    `json:"queue_depth"`
	LastError  string `json:"last_error,omitempty"`
}

// ToDrawingPlan converts wire elements into a DrawingPlan, preserving the
// capture order across strokes and regions.
func ToDrawingPlan(elements []ElementPayload) (arm.DrawingPlan, error) {
	plan := make(arm.DrawingPlan, 0, len(elements))

	for i, el := range elements {
		switch el.Kind {
		case "stroke":
			stroke := make(arm.Stroke, len(el.Points))
			for j, p := range el.Points {
				stroke[j] = arm.Point{p.X, p.Y}
			}
			plan = append(plan, stroke)

		case "pick", "place":
			kind := arm.PickRegion
			if el.Kind == "place" {
				kind = arm.PlaceRegion
			}
			plan = append(plan, arm.Region{
				TopLeft:     arm.Point{el.Left, el.Top},
				BottomRight: arm.Point{el.Left + el.Width, el.Top + el.Height},
				Kind:        kind,
			})

		default:
			return nil, fmt.Errorf("element %d: unknown kind %q", i, el.Kind)
		}
	}
	return plan, nil
}

func toMotorAngles(angles []float64) (firmware.SetAllMotorAngles, error) {
	var op firmware.SetAllMotorAngles
	if len(angles) != firmware.JointCount {
		return op, fmt.Errorf("need exactly %d angles, got %d", firmware.JointCount, len(angles))
	}
	copy(op.Angles[:], angles)
	return op, nil
}
