package arm

import (
	"fmt"
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v2"

	"drawarm/firmware"
)

// Duration is a yaml-friendly time.Duration ("500ms", "1s").
type Duration time.Duration

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("bad duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the single startup configuration structure for the whole
// device layer. Loaded once from yaml; not mutated at runtime.
type Config struct {
	Canvas struct {
		Width  float64 `yaml:"width"`
		Height float64 `yaml:"height"`
	} `yaml:"canvas"`

	Workspace struct {
		Width   float64 `yaml:"width"`
		Height  float64 `yaml:"height"`
		OriginX float64 `yaml:"origin_x"`
		OriginY float64 `yaml:"origin_y"`
		FlipY   bool    `yaml:"flip_y"`
		ZMin    float64 `yaml:"z_min"`
		ZMax    float64 `yaml:"z_max"`
	} `yaml:"workspace"`

	Z struct {
		Up     float64 `yaml:"up"`
		Down   float64 `yaml:"down"`
		Pickup float64 `yaml:"pickup"`
	} `yaml:"z"`

	Tool struct {
		TiltAngle        float64 `yaml:"tilt_angle"`
		MoveSpeed        float64 `yaml:"move_speed"`
		MinPointDistance float64 `yaml:"min_point_distance"`
	} `yaml:"tool"`

	Gripper struct {
		OpenAngle  float64 `yaml:"open_angle"`
		CloseAngle float64 `yaml:"close_angle"`
		Speed      float64 `yaml:"speed"`
		Accel      float64 `yaml:"accel"`
	} `yaml:"gripper"`

	Joint struct {
		Speed    float64 `yaml:"speed"`
		Accel    float64 `yaml:"accel"`
		MinAngle float64 `yaml:"min_angle"`
		MaxAngle float64 `yaml:"max_angle"`
	} `yaml:"joint"`

	Serial struct {
		Port       string   `yaml:"port"` // empty: auto-detect
		Baud       int      `yaml:"baud"`
		AckTimeout Duration `yaml:"ack_timeout"`
	} `yaml:"serial"`

	Queue struct {
		Capacity int `yaml:"capacity"`
	} `yaml:"queue"`

	Reconnect struct {
		VersionConstraint string   `yaml:"version_constraint"`
		HelloTimeout      Duration `yaml:"hello_timeout"`
		FaultThreshold    int      `yaml:"fault_threshold"`
		BackoffInitial    Duration `yaml:"backoff_initial"`
		BackoffMax        Duration `yaml:"backoff_max"`
		MaxAttempts       int      `yaml:"max_attempts"`
	} `yaml:"reconnect"`
}

// DefaultConfig mirrors the arm's factory setup: 800x600 canvas onto a
// 300x225mm workspace offset to (100,100).
func DefaultConfig() Config {
	var c Config

	c.Canvas.Width = 800
	c.Canvas.Height = 600

	c.Workspace.Width = 300
	c.Workspace.Height = 225
	c.Workspace.OriginX = 100
	c.Workspace.OriginY = 100
	c.Workspace.ZMin = 0
	c.Workspace.ZMax = 120

	c.Z.Up = 80
	c.Z.Down = 50
	c.Z.Pickup = 40

	c.Tool.TiltAngle = 1.57
	c.Tool.MoveSpeed = 0.5
	c.Tool.MinPointDistance = 1.5

	c.Gripper.OpenAngle = 3.14
	c.Gripper.CloseAngle = 1.2
	c.Gripper.Speed = 0.5
	c.Gripper.Accel = 10

	c.Joint.Speed = 10
	c.Joint.Accel = 10
	c.Joint.MinAngle = -180
	c.Joint.MaxAngle = 180

	c.Serial.Baud = 115200
	c.Serial.AckTimeout = Duration(time.Second)

	c.Queue.Capacity = 64

	c.Reconnect.VersionConstraint = "~1.0"
	c.Reconnect.HelloTimeout = Duration(2 * time.Second)
	c.Reconnect.FaultThreshold = 3
	c.Reconnect.BackoffInitial = Duration(500 * time.Millisecond)
	c.Reconnect.BackoffMax = Duration(30 * time.Second)

	return c
}

// LoadConfig reads a yaml file over the defaults, so a partial file only
// has to name what it changes.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()

	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("unable to read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("unable to unmarshal config: %w", err)
	}

	return c, c.Validate()
}

func (c Config) Validate() error {
	if c.Canvas.Width <= 0 || c.Canvas.Height <= 0 {
		return fmt.Errorf("config: canvas dimensions must be positive")
	}
	if c.Workspace.Width <= 0 || c.Workspace.Height <= 0 {
		return fmt.Errorf("config: workspace dimensions must be positive")
	}
	if c.Workspace.ZMin >= c.Workspace.ZMax {
		return fmt.Errorf("config: workspace z_min must be below z_max")
	}
	if c.Joint.MinAngle >= c.Joint.MaxAngle {
		return fmt.Errorf("config: joint min_angle must be below max_angle")
	}
	if c.Joint.MinAngle < firmware.AngleMin || c.Joint.MaxAngle > firmware.AngleMax {
		return fmt.Errorf("config: joint limits exceed the protocol range %v..%v",
			firmware.AngleMin, firmware.AngleMax)
	}
	if c.Serial.Baud <= 0 {
		return fmt.Errorf("config: serial baud must be positive")
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("config: queue capacity must be positive")
	}
	return nil
}

// Mapping derives the canvas→workspace transform: scale is simply
// workspace extent over canvas extent.
func (c Config) Mapping() LinearMapping {
	return LinearMapping{
		OriginOffset: Point{c.Workspace.OriginX, c.Workspace.OriginY},
		ScaleX:       c.Workspace.Width / c.Canvas.Width,
		ScaleY:       c.Workspace.Height / c.Canvas.Height,
		FlipY:        c.Workspace.FlipY,
		CanvasHeight: c.Canvas.Height,
	}
}

// Bounds is the reachable workspace volume in millimeters.
func (c Config) Bounds() Bounds {
	return Bounds{
		Min:  Point{c.Workspace.OriginX, c.Workspace.OriginY},
		Max:  Point{c.Workspace.OriginX + c.Workspace.Width, c.Workspace.OriginY + c.Workspace.Height},
		ZMin: c.Workspace.ZMin,
		ZMax: c.Workspace.ZMax,
	}
}

func (c Config) planSettings() PlanSettings {
	return PlanSettings{
		ZUp:              c.Z.Up,
		ZDown:            c.Z.Down,
		ZPickup:          c.Z.Pickup,
		TiltAngle:        c.Tool.TiltAngle,
		MoveSpeed:        c.Tool.MoveSpeed,
		MinPointDistance: c.Tool.MinPointDistance,
		GripperOpen:      c.Gripper.OpenAngle,
		GripperClose:     c.Gripper.CloseAngle,
		GripperSpeed:     c.Gripper.Speed,
		GripperAccel:     c.Gripper.Accel,
	}
}

func (c Config) supervisorConfig() firmware.SupervisorConfig {
	return firmware.SupervisorConfig{
		VersionConstraint: c.Reconnect.VersionConstraint,
		HelloTimeout:      time.Duration(c.Reconnect.HelloTimeout),
		FaultThreshold:    c.Reconnect.FaultThreshold,
		BackoffInitial:    time.Duration(c.Reconnect.BackoffInitial),
		BackoffMax:        time.Duration(c.Reconnect.BackoffMax),
		MaxAttempts:       c.Reconnect.MaxAttempts,
	}
}

func (c Config) dispatcherConfig() firmware.DispatcherConfig {
	return firmware.DispatcherConfig{
		Capacity:   c.Queue.Capacity,
		AckTimeout: time.Duration(c.Serial.AckTimeout),
	}
}
