package motion

import (
	"testing"
	"time"

	"github.com/vrracer/camstream/internal/frame"
)

func solidFrame(t *testing.T, width, height int, b, g, r byte) *frame.Frame {
	t.Helper()
	buf := make([]byte, width*height*3)
	for i := 0; i < len(buf); i += 3 {
		buf[i], buf[i+1], buf[i+2] = b, g, r
	}
	f, err := frame.New(width, height, frame.FormatBGR, buf, time.Now(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return f
}

func TestFirstFrameSeedsAndYieldsFalse(t *testing.T) {
	a := New(5)
	f := solidFrame(t, 16, 16, 10, 10, 10)

	state := a.Analyze(f, 0)
	if state.MotionDetected {
		t.Fatal("first frame must not report motion")
	}
	if !state.Seeded {
		t.Fatal("first frame must mark the analyzer as seeded")
	}
}

func TestIdenticalFramesYieldNoMotion(t *testing.T) {
	a := New(5)
	f1 := solidFrame(t, 16, 16, 10, 10, 10)
	f2 := solidFrame(t, 16, 16, 10, 10, 10)

	a.Analyze(f1, 0)
	state := a.Analyze(f2, 0)
	if state.MotionDetected {
		t.Fatal("identical frames must not report motion")
	}
	if state.ChangedPixels != 0 {
		t.Fatalf("expected 0 changed pixels, got %d", state.ChangedPixels)
	}
}

func TestLargeBrightnessChangeTripsLowSensitivity(t *testing.T) {
	a := New(1) // threshold = 1000 changed pixels
	f1 := solidFrame(t, 64, 64, 10, 10, 10)
	f2 := solidFrame(t, 64, 64, 250, 250, 250)

	a.Analyze(f1, 0)
	state := a.Analyze(f2, 0)
	if !state.MotionDetected {
		t.Fatalf("expected motion detected, changed=%d", state.ChangedPixels)
	}
}

func TestHighSensitivityRequiresMoreChangedPixels(t *testing.T) {
	// sensitivity 100 requires >100000 changed pixels; a tiny 8x8 frame
	// cannot possibly produce that many, regardless of brightness delta.
	a := New(100)
	f1 := solidFrame(t, 8, 8, 10, 10, 10)
	f2 := solidFrame(t, 8, 8, 250, 250, 250)

	a.Analyze(f1, 0)
	state := a.Analyze(f2, 0)
	if state.MotionDetected {
		t.Fatal("small frame at max sensitivity must not trip motion")
	}
}

func TestStateIsReadableConcurrently(t *testing.T) {
	a := New(5)
	f := solidFrame(t, 16, 16, 10, 10, 10)
	a.Analyze(f, 0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_ = a.State()
		}
	}()
	for i := 0; i < 100; i++ {
		a.Analyze(solidFrame(t, 16, 16, byte(i), 10, 10), 0)
	}
	<-done
}

func TestSkipsAnalysisWhenOverFrameBudget(t *testing.T) {
	a := New(5)
	tinyPeriod := time.Nanosecond // guarantees lastDuration > framePeriod

	f1 := solidFrame(t, 32, 32, 10, 10, 10)
	a.Analyze(f1, tinyPeriod)

	before := a.State()
	f2 := solidFrame(t, 32, 32, 200, 200, 200)
	after := a.Analyze(f2, tinyPeriod)

	// The second tick should have been skipped (budget exceeded), so the
	// state must be unchanged from the first analysis.
	if after.ChangedPixels != before.ChangedPixels {
		t.Fatalf("expected analysis to be skipped, changed pixels moved from %d to %d",
			before.ChangedPixels, after.ChangedPixels)
	}
}
