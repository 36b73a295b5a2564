package firmware

import "fmt"

const (
	// JointCount matches the servo chain on the arm, ids 1..6.
	JointCount = 6

	// AngleMin and AngleMax bound every angle the protocol can carry.
	AngleMin = -180.0
	AngleMax = 180.0
)

// Operation is one self-contained, replayable robot action. The tag set is
// closed; the encoder switches exhaustively over it so a new operation
// kind is a compile-time visible change.
type Operation interface {
	operation()
}

// MoveTo moves the end effector to a workspace position in millimeters,
// with tool tilt T in radians and a unitless speed factor.
type MoveTo struct {
	X, Y, Z float64
	T       float64
	Speed   float64
}

// SetGripper opens or closes the gripper. Angle is the target jaw angle in
// radians; Open records the intent so mirrored sequences stay readable.
type SetGripper struct {
	Open   bool
	Angle  float64
	Speed  float64
	Accel  float64
}

// SetJointAngle moves a single joint (1-based id) to an angle in degrees.
type SetJointAngle struct {
	Joint int
	Angle float64
	Speed float64
	Accel float64
}

// SetAllMotorAngles sets every joint angle in one command, in servo id
// order.
type SetAllMotorAngles struct {
	Angles [JointCount]float64
}

func (MoveTo) operation()            {}
func (SetGripper) operation()        {}
func (SetJointAngle) operation()     {}
func (SetAllMotorAngles) operation() {}

func (op MoveTo) String() string {
	return fmt.Sprintf("MoveTo(%.1f, %.1f, %.1f)", op.X, op.Y, op.Z)
}

func (op SetGripper) String() string {
	if op.Open {
		return "SetGripper(open)"
	}
	return "SetGripper(close)"
}

func (op SetJointAngle) String() string {
	return fmt.Sprintf("SetJointAngle(%d, %.1f)", op.Joint, op.Angle)
}

func (op SetAllMotorAngles) String() string {
	return fmt.Sprintf("SetAllMotorAngles(%v)", op.Angles)
}
