// Package motion implements the grayscale + Gaussian-blur + threshold +
// pixel-count motion-detection heuristic: a mutex-guarded previous-frame
// reference plus an atomically readable result, using stdlib
// image/image-color for the actual pixel-magnitude comparison rather
// than a cheap byte-level checksum diff (which only proves "something
// changed", with no notion of how much).
package motion

import (
	"image"
	"image/color"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vrracer/camstream/internal/frame"
)

const (
	blurKernelSize   = 21
	diffThreshold    = 25 // out of 255
	sensitivityScale = 1000
)

// State is a snapshot of the analyzer's current result.
type State struct {
	MotionDetected bool
	ChangedPixels  int
	Seeded         bool
}

// Analyzer runs the motion heuristic on a stream of frames advancing its
// previous-blurred-frame reference at most once per captured frame. It is
// safe to call Analyze from the capture producer's own goroutine (that is
// the intended caller) and to read the current State concurrently from any
// goroutine.
type Analyzer struct {
	mu          sync.Mutex
	sensitivity int
	prevBlur    *image.Gray
	kernel      []float64

	detected atomic.Bool
	changed  atomic.Int64
	seeded   atomic.Bool

	// Rate limiting: analysis must not exceed the frame period at target
	// FPS. lastDuration tracks the most recent analysis cost; when it
	// would blow the budget for the next tick, Analyze skips the frame
	// and returns the previous result rather than stalling the producer.
	lastDuration time.Duration
	skipUntil    int
	tick         int
}

// New constructs an Analyzer. sensitivity is clamped to [1,100] by config
// validation before reaching here; the threshold used for comparison is
// sensitivity*1000 changed pixels.
func New(sensitivity int) *Analyzer {
	return &Analyzer{
		sensitivity: sensitivity,
		kernel:      gaussianKernel(blurKernelSize),
	}
}

func (a *Analyzer) SetSensitivity(sensitivity int) {
	a.mu.Lock()
	a.sensitivity = sensitivity
	a.mu.Unlock()
}

// State returns the most recently computed result; safe for concurrent
// readers (e.g. the /motion HTTP handler) while Analyze runs on the
// producer goroutine.
func (a *Analyzer) State() State {
	return State{
		MotionDetected: a.detected.Load(),
		ChangedPixels:  int(a.changed.Load()),
		Seeded:         a.seeded.Load(),
	}
}

// Analyze advances the analyzer by one captured frame. framePeriod is the
// producer's configured frame interval (1/FPS); if the previous analysis
// took long enough that running again would exceed the budget, Analyze
// skips the heavy work for this tick and leaves the previous result in
// place — the producer is never blocked waiting on motion detection.
func (a *Analyzer) Analyze(f *frame.Frame, framePeriod time.Duration) State {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.tick++
	if framePeriod > 0 && a.lastDuration > 0 && a.tick < a.skipUntil {
		return a.currentStateLocked()
	}

	start := time.Now()
	gray := toGray(f)
	blurred := gaussianBlur(gray, a.kernel)

	if a.prevBlur == nil {
		a.prevBlur = blurred
		a.seeded.Store(true)
		a.detected.Store(false)
		a.changed.Store(0)
	} else {
		changed := countChangedPixels(a.prevBlur, blurred, diffThreshold)
		a.prevBlur = blurred

		threshold := a.sensitivity * sensitivityScale
		a.detected.Store(changed > threshold)
		a.changed.Store(int64(changed))
	}

	a.lastDuration = time.Since(start)
	if framePeriod > 0 && a.lastDuration > framePeriod {
		// Analysis is too slow for this FPS: skip enough subsequent ticks
		// to bring the effective analysis rate back under the frame
		// budget, rather than ever blocking the producer.
		ratio := int(a.lastDuration/framePeriod) + 1
		a.skipUntil = a.tick + ratio
	} else {
		a.skipUntil = 0
	}

	return a.currentStateLocked()
}

func (a *Analyzer) currentStateLocked() State {
	return State{
		MotionDetected: a.detected.Load(),
		ChangedPixels:  int(a.changed.Load()),
		Seeded:         a.seeded.Load(),
	}
}

// toGray converts a packed-BGR frame to an 8-bit grayscale image using
// standard luma weights.
func toGray(f *frame.Frame) *image.Gray {
	gray := image.NewGray(image.Rect(0, 0, f.Width, f.Height))
	src := f.Bytes
	for y := 0; y < f.Height; y++ {
		rowOff := y * f.Width * 3
		for x := 0; x < f.Width; x++ {
			i := rowOff + x*3
			if i+2 >= len(src) {
				continue
			}
			b, g, r := src[i], src[i+1], src[i+2]
			gray.SetGray(x, y, color.Gray{Y: luma(r, g, b)})
		}
	}
	return gray
}

func luma(r, g, b byte) uint8 {
	v := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// gaussianKernel builds a normalized 1D Gaussian kernel of the given odd
// size, sigma chosen by the common size/6 rule of thumb.
func gaussianKernel(size int) []float64 {
	if size%2 == 0 {
		size++
	}
	sigma := float64(size) / 6.0
	if sigma <= 0 {
		sigma = 1
	}
	half := size / 2
	kernel := make([]float64, size)
	var sum float64
	for i := -half; i <= half; i++ {
		v := gaussian1D(float64(i), sigma)
		kernel[i+half] = v
		sum += v
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

func gaussian1D(x, sigma float64) float64 {
	// exp(-x^2 / (2*sigma^2)); normalization folded in by the caller.
	return math.Exp(-(x * x) / (2 * sigma * sigma))
}

// gaussianBlur applies the kernel separably (horizontal pass then
// vertical), clamping at the image edges.
func gaussianBlur(src *image.Gray, kernel []float64) *image.Gray {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	half := len(kernel) / 2

	tmp := image.NewGray(bounds)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for k := -half; k <= half; k++ {
				sx := clampInt(x+k, 0, w-1)
				acc += float64(src.GrayAt(sx, y).Y) * kernel[k+half]
			}
			tmp.SetGray(x, y, color.Gray{Y: uint8(clampFloat(acc, 0, 255))})
		}
	}

	out := image.NewGray(bounds)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for k := -half; k <= half; k++ {
				sy := clampInt(y+k, 0, h-1)
				acc += float64(tmp.GrayAt(x, sy).Y) * kernel[k+half]
			}
			out.SetGray(x, y, color.Gray{Y: uint8(clampFloat(acc, 0, 255))})
		}
	}
	return out
}

func countChangedPixels(prev, cur *image.Gray, threshold uint8) int {
	bounds := prev.Bounds()
	count := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			p := prev.GrayAt(x, y).Y
			c := cur.GrayAt(x, y).Y
			var diff uint8
			if p > c {
				diff = p - c
			} else {
				diff = c - p
			}
			if diff > threshold {
				count++
			}
		}
	}
	return count
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
