package capture

import (
	"errors"
	"fmt"

	"github.com/vrracer/camstream/internal/frame"
)

// ErrNoSensorDriver is returned by the shipped Sensor factory. A real
// hardware driver is an external collaborator: this package only
// defines the Sensor seam a V4L2/Picamera2-backed implementation would
// plug into, as a single interface rather than baking one platform's
// capture API into the session logic. The only concrete
// implementation shipped here is the deterministic fallback the
// Producer uses when Open fails, so the server stays usable without
// hardware attached.
var ErrNoSensorDriver = errors.New("capture: no sensor driver available for this build")

// RawFrame is what a Sensor hands back before the Producer's pixel-
// conversion step runs: native format, native size, raw bytes.
type RawFrame struct {
	Width  int
	Height int
	Format frame.ColorConvertMode // how the producer should interpret Bytes
	Bytes  []byte
}

// Sensor is the seam between the Capture Producer and a physical camera.
// Opening MAY block (driver init); ReadFrame is called once per pacing
// tick. Close releases the device.
type Sensor interface {
	Open() error
	ReadFrame() (*RawFrame, error)
	Close() error
}

// SensorFactory opens a Sensor for a given sensor index (CAMERA_LEFT_INDEX
// / CAMERA_RIGHT_INDEX). The default, OpenSensor, always fails: this
// package ships no hardware driver, per the Non-goals boundary. A real
// deployment supplies its own factory via capture.Option(WithSensorFactory)
// wired at process start.
type SensorFactory func(index int, cfg Config) (Sensor, error)

// OpenSensor is the default SensorFactory. It has no hardware backend, so
// it always returns ErrNoSensorDriver — the Producer interprets that as
// "sensor failed to open" and falls back to the deterministic test
// pattern, exactly the degraded path the component design calls for.
func OpenSensor(index int, cfg Config) (Sensor, error) {
	return nil, fmt.Errorf("capture: sensor index %d: %w", index, ErrNoSensorDriver)
}
