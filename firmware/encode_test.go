package firmware

import (
	"math"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestEncodeMoveTo(t *testing.T) {
	Convey("Given a move operation", t, func() {
		op := MoveTo{X: 105, Y: 100, Z: 50, T: 1.57, Speed: 0.5}

		Convey("It encodes to the expected wire line", func() {
			cmd, err := Encode(op, 7)
			So(err, ShouldBeNil)
			So(cmd.Type, ShouldEqual, CMD_MOVE_TO)
			So(cmd.Seq, ShouldEqual, 7)
			So(string(cmd.Line), ShouldEqual, `{"T":104,"x":105,"y":100,"z":50,"t":1.57,"spd":0.5,"seq":7}`)
		})

		Convey("Encoding is deterministic for the same sequence id", func() {
			a, err := Encode(op, 3)
			So(err, ShouldBeNil)
			b, err := Encode(op, 3)
			So(err, ShouldBeNil)
			So(string(a.Line), ShouldEqual, string(b.Line))
		})

		Convey("Non-finite coordinates are rejected", func() {
			op.Z = math.NaN()
			_, err := Encode(op, 1)
			So(err, ShouldHaveSameTypeAs, EncodingError{})

			op.Z = math.Inf(1)
			_, err = Encode(op, 1)
			So(err, ShouldHaveSameTypeAs, EncodingError{})
		})
	})
}

func TestEncodeGripper(t *testing.T) {
	Convey("Given a gripper operation", t, func() {
		op := SetGripper{Open: true, Angle: 3.14, Speed: 0.5, Accel: 10}

		Convey("It encodes to the expected wire line", func() {
			cmd, err := Encode(op, 2)
			So(err, ShouldBeNil)
			So(cmd.Type, ShouldEqual, CMD_GRIPPER)
			So(string(cmd.Line), ShouldEqual, `{"T":106,"cmd":3.14,"spd":0.5,"acc":10,"seq":2}`)
		})

		Convey("Angles outside 0..2π are rejected", func() {
			op.Angle = -0.1
			_, err := Encode(op, 1)
			So(err, ShouldHaveSameTypeAs, EncodingError{})

			op.Angle = 2*math.Pi + 0.1
			_, err = Encode(op, 1)
			So(err, ShouldHaveSameTypeAs, EncodingError{})
		})
	})
}

func TestEncodeJointAngle(t *testing.T) {
	Convey("Given a joint operation", t, func() {
		op := SetJointAngle{Joint: 3, Angle: -45, Speed: 10, Accel: 10}

		Convey("It encodes to the expected wire line", func() {
			cmd, err := Encode(op, 9)
			So(err, ShouldBeNil)
			So(cmd.Type, ShouldEqual, CMD_JOINT_ANGLE)
			So(string(cmd.Line), ShouldEqual, `{"T":121,"joint":3,"angle":-45,"spd":10,"acc":10,"seq":9}`)
		})

		Convey("Joint ids outside 1..6 are rejected", func() {
			for _, id := range []int{0, 7, -1} {
				op.Joint = id
				_, err := Encode(op, 1)
				So(err, ShouldHaveSameTypeAs, EncodingError{})
			}
		})

		Convey("Angles outside the protocol range are rejected", func() {
			op.Angle = 180.5
			_, err := Encode(op, 1)
			So(err, ShouldHaveSameTypeAs, EncodingError{})
		})
	})
}

func TestEncodeMotorAngles(t *testing.T) {
	Convey("Given an all-motor operation", t, func() {
		op := SetAllMotorAngles{Angles: [JointCount]float64{0, 45, -45, 90, -90, 180}}

		Convey("It encodes to the expected wire line", func() {
			cmd, err := Encode(op, 4)
			So(err, ShouldBeNil)
			So(cmd.Type, ShouldEqual, CMD_MOTOR_ANGLES)
			So(string(cmd.Line), ShouldEqual, `{"T":999,"angles":[0,45,-45,90,-90,180],"seq":4}`)
		})

		Convey("Any out of range angle rejects the whole operation", func() {
			op.Angles[5] = 181
			_, err := Encode(op, 1)
			So(err, ShouldHaveSameTypeAs, EncodingError{})
		})
	})
}

func TestParseAck(t *testing.T) {
	Convey("Acknowledgement lines parse as expected", t, func() {
		Convey("A positive ack", func() {
			ack, err := ParseAck([]byte(`{"seq":12,"ok":true}`))
			So(err, ShouldBeNil)
			So(ack.Seq, ShouldEqual, 12)
			So(ack.OK, ShouldBeTrue)
		})

		Convey("A rejection carries its detail", func() {
			ack, err := ParseAck([]byte(`{"seq":12,"ok":false,"err":"joint limit"}`))
			So(err, ShouldBeNil)
			So(ack.OK, ShouldBeFalse)
			So(ack.Err, ShouldEqual, "joint limit")
		})

		Convey("Telemetry lines are not acks", func() {
			_, err := ParseAck([]byte(`{"T":1051,"x":100.2,"y":95.1}`))
			So(err, ShouldNotBeNil)
		})

		Convey("Garbage is not an ack", func() {
			_, err := ParseAck([]byte(`not json`))
			So(err, ShouldNotBeNil)
		})
	})
}

func TestParseHello(t *testing.T) {
	Convey("Banner lines parse as expected", t, func() {
		Convey("A valid banner", func() {
			h, err := ParseHello([]byte(`{"T":0,"model":"drawarm","version":"1.0.3"}`))
			So(err, ShouldBeNil)
			So(h.Model, ShouldEqual, "drawarm")
			So(h.Version, ShouldEqual, "1.0.3")
		})

		Convey("A non-banner line is rejected", func() {
			_, err := ParseHello([]byte(`{"seq":1,"ok":true}`))
			So(err, ShouldNotBeNil)
		})

		Convey("A banner without a version is rejected", func() {
			_, err := ParseHello([]byte(`{"T":0,"model":"drawarm"}`))
			So(err, ShouldNotBeNil)
		})
	})
}
