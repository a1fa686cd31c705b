// Package capture implements the Capture Producer (C1): it opens a sensor
// (or falls back to a deterministic test pattern), paces frame delivery
// against a monotonic clock with drift correction, converts pixel formats
// to canonical packed BGR, and feeds both the motion-analysis tap and the
// frame relay.
//
// The capture loop runs on a dedicated goroutine with select-on-done and
// explicit monotonic-deadline tracking (next_deadline += 1/FPS) rather
// than a bare time.Ticker, since drift correction needs a guarantee a
// ticker alone doesn't give under scheduling jitter.
package capture

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/vrracer/camstream/internal/frame"
	"github.com/vrracer/camstream/internal/logging"
	"github.com/vrracer/camstream/internal/relay"
)

var log = logging.L("capture")

const defaultStartupGrace = 2 * time.Second

// MotionTap receives every captured frame before the startup grace gate,
// alongside the producer's configured frame period (for the analyzer's own
// rate-limiting decision).
type MotionTap func(f *frame.Frame, framePeriod time.Duration)

// Producer owns one sensor and paces its frame delivery to a Relay.
type Producer struct {
	cfg    Config
	relay  *relay.Relay
	factory SensorFactory
	tap    MotionTap
	grace  time.Duration

	seq     atomic.Uint64
	running atomic.Bool
}

type Option func(*Producer)

func WithSensorFactory(f SensorFactory) Option {
	return func(p *Producer) { p.factory = f }
}

func WithMotionTap(tap MotionTap) Option {
	return func(p *Producer) { p.tap = tap }
}

func WithStartupGrace(d time.Duration) Option {
	return func(p *Producer) { p.grace = d }
}

func NewProducer(cfg Config, rel *relay.Relay, opts ...Option) *Producer {
	p := &Producer{
		cfg:     cfg,
		relay:   rel,
		factory: OpenSensor,
		grace:   defaultStartupGrace,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Producer) IsRunning() bool { return p.running.Load() }

// Run opens the sensor and streams frames until ctx is cancelled or a
// startup failure is fatal. It blocks; callers run it on a dedicated
// goroutine, one per capture session.
func (p *Producer) Run(ctx context.Context) error {
	p.running.Store(true)
	defer p.running.Store(false)

	var framePeriod time.Duration
	if p.cfg.FPS > 0 {
		framePeriod = time.Second / time.Duration(p.cfg.FPS)
	}

	if p.cfg.TestPattern {
		log.Info("capture producer forced into test-pattern mode", "sensor", p.cfg.SensorIndex)
		return p.runTestPattern(ctx, framePeriod)
	}

	sensor, err := p.factory(p.cfg.SensorIndex, p.cfg)
	if err != nil {
		log.Warn("sensor failed to open, falling back to test pattern",
			"sensor", p.cfg.SensorIndex, "error", err)
		return p.runTestPattern(ctx, framePeriod)
	}
	if err := sensor.Open(); err != nil {
		log.Warn("sensor failed to open, falling back to test pattern",
			"sensor", p.cfg.SensorIndex, "error", err)
		return p.runTestPattern(ctx, framePeriod)
	}
	defer sensor.Close()

	return p.runSensor(ctx, sensor, framePeriod)
}

func (p *Producer) runSensor(ctx context.Context, sensor Sensor, framePeriod time.Duration) error {
	startedAt := time.Now()
	nextDeadline := time.Now()
	var consecutiveFailures int
	var tick int

	for {
		if err := p.waitForDeadline(ctx, framePeriod, &nextDeadline); err != nil {
			return nil
		}

		tick++
		raw, err := sensor.ReadFrame()
		if err != nil {
			consecutiveFailures++
			if tick <= 2 && consecutiveFailures >= 2 {
				return fmt.Errorf("capture: sensor %d failed twice consecutively at startup: %w", p.cfg.SensorIndex, err)
			}
			log.Warn("frame acquisition error", "sensor", p.cfg.SensorIndex, "error", err)
			continue
		}
		consecutiveFailures = 0

		f, err := p.buildFrame(raw)
		if err != nil {
			log.Warn("frame conversion error", "sensor", p.cfg.SensorIndex, "error", err)
			continue
		}

		p.deliver(f, framePeriod, startedAt)
	}
}

func (p *Producer) runTestPattern(ctx context.Context, framePeriod time.Duration) error {
	startedAt := time.Now()
	nextDeadline := time.Now()
	pattern := frame.TestPattern(p.cfg.Width, p.cfg.Height)
	pacing := framePeriod
	if pacing == 0 {
		pacing = time.Second // unpaced config still needs a heartbeat for the test pattern
	}

	for {
		if err := p.waitForDeadline(ctx, pacing, &nextDeadline); err != nil {
			return nil
		}
		f, err := frame.New(p.cfg.Width, p.cfg.Height, frame.FormatBGR, pattern, time.Now(), p.seq.Add(1))
		if err != nil {
			log.Error("test pattern frame construction failed", "error", err)
			continue
		}
		p.deliver(f, framePeriod, startedAt)
	}
}

// waitForDeadline blocks until nextDeadline or ctx cancellation, then
// advances nextDeadline by exactly one period — not "now + period" — so a
// slow tick doesn't shift every subsequent deadline forward (the drift
// correction the component design requires).
func (p *Producer) waitForDeadline(ctx context.Context, period time.Duration, nextDeadline *time.Time) error {
	if period <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	wait := time.Until(*nextDeadline)
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	} else {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	*nextDeadline = nextDeadline.Add(period)
	return nil
}

func (p *Producer) buildFrame(raw *RawFrame) (*frame.Frame, error) {
	bgr, err := frame.ToBGR(raw.Bytes, raw.Width, raw.Height, raw.Format, p.cfg.SwapRB)
	if err != nil {
		return nil, err
	}
	width, height := raw.Width, raw.Height
	if width != p.cfg.Width || height != p.cfg.Height {
		bgr = frame.Resize(bgr, width, height, p.cfg.Width, p.cfg.Height)
		width, height = p.cfg.Width, p.cfg.Height
	}
	return frame.New(width, height, frame.FormatBGR, bgr, time.Now(), p.seq.Add(1))
}

// deliver runs the motion tap unconditionally, then gates relay delivery
// behind the startup grace period so downstream subscribers never see
// frames captured while auto-exposure/auto-white-balance is still
// settling.
func (p *Producer) deliver(f *frame.Frame, framePeriod time.Duration, startedAt time.Time) {
	if p.tap != nil {
		p.tap(f, framePeriod)
	}
	if time.Since(startedAt) < p.grace {
		return
	}
	p.relay.Publish(f)
}
