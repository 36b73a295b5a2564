package arm

import "github.com/go-gl/mathgl/mgl64"

// Point is a 2-D coordinate. The unit (canvas pixels or workspace
// millimeters) is implied by context; LinearMapping is the only place the
// two ever convert.
type Point = mgl64.Vec2

// LinearMapping maps canvas pixel coordinates into workspace millimeters:
// an axis scale, an origin offset and an optional Y flip for canvases
// whose origin is top-left while the arm's is bottom-left.
type LinearMapping struct {
	OriginOffset Point
	ScaleX       float64
	ScaleY       float64
	FlipY        bool
	CanvasHeight float64
}

// ToWorkspace converts a canvas point to workspace millimeters. Pure and
// total for finite inputs.
func (m LinearMapping) ToWorkspace(p Point) Point {
	y := p.Y()
	if m.FlipY {
		y = m.CanvasHeight - y
	}
	return Point{
		p.X()*m.ScaleX + m.OriginOffset.X(),
		y*m.ScaleY + m.OriginOffset.Y(),
	}
}

// ToCanvas is the inverse of ToWorkspace, used to project arm positions
// back onto the canvas overlay.
func (m LinearMapping) ToCanvas(p Point) Point {
	x := (p.X() - m.OriginOffset.X()) / m.ScaleX
	y := (p.Y() - m.OriginOffset.Y()) / m.ScaleY
	if m.FlipY {
		y = m.CanvasHeight - y
	}
	return Point{x, y}
}

// Bounds is an axis-aligned workspace volume.
type Bounds struct {
	Min, Max   Point
	ZMin, ZMax float64
}

func (b Bounds) Contains(p Point) bool {
	return p.X() >= b.Min.X() && p.X() <= b.Max.X() &&
		p.Y() >= b.Min.Y() && p.Y() <= b.Max.Y()
}

func (b Bounds) ContainsZ(z float64) bool {
	return z >= b.ZMin && z <= b.ZMax
}
