package capture

import "github.com/vrracer/camstream/internal/frame"

// Config is the Capture Configuration data-model entry: fixed at process
// start, one per sensor (primary/right and, in stereo mode, secondary/left
// share the same target size/FPS/format but different SensorIndex values).
type Config struct {
	SensorIndex  int
	Width        int
	Height       int
	FPS          int // 0 = unpaced, read as fast as the sensor delivers
	BufferCount  int
	SwapRB       bool
	ColorConvert frame.ColorConvertMode
	TestPattern  bool // force the deterministic fallback regardless of sensor availability
}
