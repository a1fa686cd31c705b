package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vrracer/camstream/internal/frame"
	"github.com/vrracer/camstream/internal/relay"
)

type fakeSensor struct {
	mu       sync.Mutex
	openErr  error
	readErr  error
	width    int
	height   int
	closed   bool
	reads    int
}

func (f *fakeSensor) Open() error { return f.openErr }

func (f *fakeSensor) ReadFrame() (*RawFrame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErr != nil {
		return nil, f.readErr
	}
	buf := make([]byte, f.width*f.height*3)
	return &RawFrame{Width: f.width, Height: f.height, Format: frame.ConvertNone, Bytes: buf}, nil
}

func (f *fakeSensor) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func baseConfig() Config {
	return Config{
		SensorIndex:  0,
		Width:        4,
		Height:       4,
		FPS:          1000, // fast pacing so tests don't wait
		BufferCount:  2,
		ColorConvert: frame.ConvertNone,
	}
}

func TestOpenSensorDefaultFactoryAlwaysFails(t *testing.T) {
	_, err := OpenSensor(0, baseConfig())
	if !errors.Is(err, ErrNoSensorDriver) {
		t.Fatalf("expected ErrNoSensorDriver, got %v", err)
	}
}

func TestSensorOpenFailureFallsBackToTestPattern(t *testing.T) {
	rel := relay.New()
	sub := rel.Subscribe()
	defer rel.Unsubscribe(sub)

	sensor := &fakeSensor{openErr: errors.New("no such device"), width: 4, height: 4}
	p := NewProducer(baseConfig(), rel,
		WithSensorFactory(func(index int, cfg Config) (Sensor, error) { return sensor, nil }),
		WithStartupGrace(0),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = p.Run(ctx)

	select {
	case f := <-sub.Frames():
		if f.Width != 4 || f.Height != 4 {
			t.Fatalf("unexpected test pattern dimensions: %dx%d", f.Width, f.Height)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a test-pattern frame to be published")
	}
}

func TestTwoConsecutiveStartupReadFailuresAreFatal(t *testing.T) {
	rel := relay.New()
	sensor := &fakeSensor{readErr: errors.New("i/o error"), width: 4, height: 4}
	p := NewProducer(baseConfig(), rel,
		WithSensorFactory(func(index int, cfg Config) (Sensor, error) { return sensor, nil }),
		WithStartupGrace(0),
	)

	err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected a fatal error after two consecutive startup read failures")
	}
}

func TestSingleMidStreamReadFailureDoesNotStopProducer(t *testing.T) {
	rel := relay.New()
	sub := rel.Subscribe()
	defer rel.Unsubscribe(sub)

	sensor := &fakeSensor{width: 4, height: 4}
	p := NewProducer(baseConfig(), rel,
		WithSensorFactory(func(index int, cfg Config) (Sensor, error) { return sensor, nil }),
		WithStartupGrace(0),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = p.Run(ctx)

	select {
	case <-sub.Frames():
	case <-time.After(time.Second):
		t.Fatal("expected at least one frame to be delivered")
	}
}

func TestFramesWithheldDuringStartupGrace(t *testing.T) {
	rel := relay.New()
	sub := rel.Subscribe()
	defer rel.Unsubscribe(sub)

	sensor := &fakeSensor{width: 4, height: 4}
	p := NewProducer(baseConfig(), rel,
		WithSensorFactory(func(index int, cfg Config) (Sensor, error) { return sensor, nil }),
		WithStartupGrace(500*time.Millisecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = p.Run(ctx)

	select {
	case f := <-sub.Frames():
		t.Fatalf("did not expect a frame during the startup grace period, got seq %d", f.Seq)
	default:
	}
}

func TestMotionTapReceivesEveryFrameRegardlessOfGrace(t *testing.T) {
	rel := relay.New()
	sensor := &fakeSensor{width: 4, height: 4}

	var tapped int
	var mu sync.Mutex
	p := NewProducer(baseConfig(), rel,
		WithSensorFactory(func(index int, cfg Config) (Sensor, error) { return sensor, nil }),
		WithStartupGrace(10*time.Second), // relay would never see a frame in this test window
		WithMotionTap(func(f *frame.Frame, period time.Duration) {
			mu.Lock()
			tapped++
			mu.Unlock()
		}),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = p.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	if tapped == 0 {
		t.Fatal("expected the motion tap to run even while the relay is gated by startup grace")
	}
}
