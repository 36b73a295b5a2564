package firmware

import (
	"encoding/json"
	"fmt"
	"math"
)

// Command type codes. These are wire constants shared with the arm's
// firmware; changing one is a breaking protocol change.
const (
	CMD_HELLO        = 0
	CMD_MOVE_TO      = 104
	CMD_GRIPPER      = 106
	CMD_JOINT_ANGLE  = 121
	CMD_MOTOR_ANGLES = 999
)

// Command is the wire-level form of an Operation: one JSON line carrying
// the type code, the payload fields and a per-connection sequence id that
// the firmware echoes back in its acknowledgement.
type Command struct {
	Type int
	Seq  uint32
	Line []byte
}

// Wire payloads. Field order is fixed for wire compatibility; the firmware
// parser is positional about nothing but humans diff these lines.
type moveToWire struct {
	T    int     `json:"T"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Z    float64 `json:"z"`
	Tilt float64 `json:"t"`
	Spd  float64 `json:"spd"`
	Seq  uint32  `json:"seq"`
}

type gripperWire struct {
	T   int     `json:"T"`
	Cmd float64 `json:"cmd"`
	Spd float64 `json:"spd"`
	Acc float64 `json:"acc"`
	Seq uint32  `json:"seq"`
}

type jointWire struct {
	T     int     `json:"T"`
	Joint int     `json:"joint"`
	Angle float64 `json:"angle"`
	Spd   float64 `json:"spd"`
	Acc   float64 `json:"acc"`
	Seq   uint32  `json:"seq"`
}

type motorsWire struct {
	T      int                 `json:"T"`
	Angles [JointCount]float64 `json:"angles"`
	Seq    uint32              `json:"seq"`
}

// Encode serializes an operation into its Command. The mapping from tag to
// type code is deterministic, so encoding the same operation with the same
// sequence id twice yields byte-identical lines.
func Encode(op Operation, seq uint32) (Command, error) {
	var (
		code int
		wire interface{}
	)

	switch o := op.(type) {
	case MoveTo:
		if err := finiteFields(map[string]float64{
			"x": o.X, "y": o.Y, "z": o.Z, "t": o.T, "spd": o.Speed,
		}); err != nil {
			return Command{}, err
		}
		code = CMD_MOVE_TO
		wire = moveToWire{CMD_MOVE_TO, o.X, o.Y, o.Z, o.T, o.Speed, seq}

	case SetGripper:
		if err := finiteFields(map[string]float64{
			"cmd": o.Angle, "spd": o.Speed, "acc": o.Accel,
		}); err != nil {
			return Command{}, err
		}
		if o.Angle < 0 || o.Angle > 2*math.Pi {
			return Command{}, EncodingError{"cmd", o.Angle, "gripper angle outside 0..2π rad"}
		}
		code = CMD_GRIPPER
		wire = gripperWire{CMD_GRIPPER, o.Angle, o.Speed, o.Accel, seq}

	case SetJointAngle:
		if o.Joint < 1 || o.Joint > JointCount {
			return Command{}, EncodingError{"joint", float64(o.Joint), fmt.Sprintf("joint id outside 1..%d", JointCount)}
		}
		if err := angleField("angle", o.Angle); err != nil {
			return Command{}, err
		}
		code = CMD_JOINT_ANGLE
		wire = jointWire{CMD_JOINT_ANGLE, o.Joint, o.Angle, o.Speed, o.Accel, seq}

	case SetAllMotorAngles:
		for i, a := range o.Angles {
			if err := angleField(fmt.Sprintf("angles[%d]", i), a); err != nil {
				return Command{}, err
			}
		}
		code = CMD_MOTOR_ANGLES
		wire = motorsWire{CMD_MOTOR_ANGLES, o.Angles, seq}

	default:
		// unreachable while the Operation tag set stays closed
		return Command{}, EncodingError{"T", 0, fmt.Sprintf("unknown operation %T", op)}
	}

	line, err := json.Marshal(wire)
	if err != nil {
		return Command{}, err
	}

	return Command{Type: code, Seq: seq, Line: line}, nil
}

func angleField(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return EncodingError{name, v, "not a finite number"}
	}
	if v < AngleMin || v > AngleMax {
		return EncodingError{name, v, fmt.Sprintf("angle outside %v..%v deg", AngleMin, AngleMax)}
	}
	return nil
}

func finiteFields(fields map[string]float64) error {
	for name, v := range fields {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return EncodingError{name, v, "not a finite number"}
		}
	}
	return nil
}

// Ack is the firmware's acknowledgement line for a dispatched command.
type Ack struct {
	Seq uint32 `json:"seq"`
	OK  bool   `json:"ok"`
	Err string `json:"err,omitempty"`
}

// ParseAck decodes an acknowledgement line. Lines that are not acks
// (telemetry, banners) return an error and are skipped by the dispatcher.
func ParseAck(line []byte) (Ack, error) {
	var probe struct {
		Seq *uint32 `json:"seq"`
		OK  *bool   `json:"ok"`
		Err string  `json:"err"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return Ack{}, fmt.Errorf("firmware: malformed ack line: %w", err)
	}
	if probe.Seq == nil || probe.OK == nil {
		return Ack{}, fmt.Errorf("firmware: line is not an acknowledgement")
	}
	return Ack{Seq: *probe.Seq, OK: *probe.OK, Err: probe.Err}, nil
}

// Hello is the banner line the firmware emits once after the port opens.
type Hello struct {
	Type    int    `json:"T"`
	Model   string `json:"model"`
	Version string `json:"version"`
}

func ParseHello(line []byte) (Hello, error) {
	var h Hello
	if err := json.Unmarshal(line, &h); err != nil {
		return Hello{}, fmt.Errorf("firmware: malformed banner: %w", err)
	}
	if h.Type != CMD_HELLO || h.Version == "" {
		return Hello{}, fmt.Errorf("firmware: line is not a banner")
	}
	return h, nil
}
