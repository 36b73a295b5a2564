package arm

import (
	"image"
	"log"
	"sync"
	"time"

	"drawarm/firmware"
)

// Detection is one detector hit in canvas/frame pixel space. The model
// behind it is a black box; only this output contract matters here.
type Detection struct {
	Label      string
	Confidence float64
	Position   Point
}

// Detector wraps whatever model produces detections for a frame. Concrete
// implementations (pose nets, bounding-box nets) live behind this; nothing
// in the device layer depends on a specific one.
type Detector interface {
	Detect(frame image.Image) ([]Detection, error)
}

// Pump runs a detector over a frame stream and emits detection batches
// until the frame channel closes. Frames that fail detection are skipped.
func Pump(det Detector, frames <-chan image.Image) <-chan []Detection {
	out := make(chan []Detection)
	go func() {
		defer close(out)
		for frame := range frames {
			hits, err := det.Detect(frame)
			if err != nil {
				log.Println("tracker: detect:", err)
				continue
			}
			out <- hits
		}
	}()
	return out
}

// Tracker follows the strongest detection with the arm: each batch maps
// the best hit into the workspace and enqueues a pen-up move toward it,
// through the same queue as every other producer.
type Tracker struct {
	ctrl          *Controller
	minConfidence float64
	interval      time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewTracker(ctrl *Controller, minConfidence float64, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return &Tracker{
		ctrl:          ctrl,
		minConfidence: minConfidence,
		interval:      interval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Run consumes detection batches until the channel closes or Stop is
// called. Moves are rate-limited; batches arriving faster than the
// interval are dropped rather than queued, so the arm tracks the present,
// not the past.
func (t *Tracker) Run(detections <-chan []Detection) {
	defer close(t.done)

	var last time.Time
	for {
		select {
		case <-t.stop:
			return
		case batch, ok := <-detections:
			if !ok {
				return
			}
			if time.Since(last) < t.interval {
				continue
			}

			best, ok := t.pick(batch)
			if !ok {
				continue
			}
			if err := t.follow(best); err != nil {
				// a full queue just means we skip this frame
				if _, full := err.(firmware.QueueFullError); !full {
					log.Println("tracker: follow:", err)
				}
				continue
			}
			last = time.Now()
		}
	}
}

func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
	<-t.done
}

func (t *Tracker) pick(batch []Detection) (Detection, bool) {
	var best Detection
	found := false
	for _, d := range batch {
		if d.Confidence < t.minConfidence {
			continue
		}
		if !found || d.Confidence > best.Confidence {
			best = d
			found = true
		}
	}
	return best, found
}

func (t *Tracker) follow(d Detection) error {
	w := t.ctrl.Mapping().ToWorkspace(d.Position)
	_, err := t.ctrl.SubmitOperation(firmware.MoveTo{
		X:     w.X(),
		Y:     w.Y(),
		Z:     t.ctrl.cfg.Z.Up,
		T:     t.ctrl.cfg.Tool.TiltAngle,
		Speed: t.ctrl.cfg.Tool.MoveSpeed,
	})
	return err
}
