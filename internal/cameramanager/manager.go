// Package cameramanager owns the Capture Producer instances (C4): a
// primary (right) sensor that always runs, and a secondary (left) sensor
// for stereo/VR sessions that is reference-counted and started/stopped
// exactly once at the reference-count boundary.
//
// The secondary sensor's lifecycle is reference-counted (start on the
// first acquire, stop on the last release) and guarded by a plain
// sync.Mutex with explicit state fields rather than channels.
package cameramanager

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/vrracer/camstream/internal/capture"
	"github.com/vrracer/camstream/internal/logging"
	"github.com/vrracer/camstream/internal/relay"
)

var log = logging.L("cameramanager")

// Track is a streaming handle: a relay subscription plus which sensor
// (primary/right or secondary/left) it came from, as Signaling needs to
// tell the two apart when attaching stereo video tracks.
type Track struct {
	Subscription *relay.Subscription
	Left         bool // false = primary/right, true = secondary/left
}

type Manager struct {
	mu sync.Mutex

	primaryRelay    *relay.Relay
	primaryCfg      capture.Config
	primaryCancel   context.CancelFunc
	primaryOpts     []capture.Option

	secondaryRelay  *relay.Relay
	secondaryCfg    capture.Config
	secondaryCancel context.CancelFunc
	secondaryOpts   []capture.Option
	secondaryRef    int
	secondaryUp     bool

	startCount atomic.Int64 // secondary starts, for the ref-count invariant tests
	stopCount  atomic.Int64 // secondary stops

	runProducer func(ctx context.Context, cfg capture.Config, rel *relay.Relay, opts ...capture.Option)
}

// New constructs a Manager. primaryCfg/secondaryCfg are the two Capture
// Configurations (CAMERA_RIGHT_INDEX / CAMERA_LEFT_INDEX and shared
// size/FPS/format fields).
func New(primaryCfg, secondaryCfg capture.Config, primaryOpts, secondaryOpts []capture.Option) *Manager {
	m := &Manager{
		primaryRelay:   relay.New(),
		primaryCfg:     primaryCfg,
		primaryOpts:    primaryOpts,
		secondaryRelay: relay.New(),
		secondaryCfg:   secondaryCfg,
		secondaryOpts:  secondaryOpts,
	}
	m.runProducer = m.defaultRunProducer
	return m
}

func (m *Manager) defaultRunProducer(ctx context.Context, cfg capture.Config, rel *relay.Relay, opts ...capture.Option) {
	p := capture.NewProducer(cfg, rel, opts...)
	if err := p.Run(ctx); err != nil {
		log.Error("capture producer exited with error", "sensor", cfg.SensorIndex, "error", err)
	}
}

// PrimaryRelay exposes the always-on primary relay, e.g. for the MJPEG
// streamer which never needs stereo.
func (m *Manager) PrimaryRelay() *relay.Relay { return m.primaryRelay }

// Start launches the primary capture producer. It always runs for the
// lifetime of the server.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.primaryCancel = cancel
	m.mu.Unlock()
	go m.runProducer(ctx, m.primaryCfg, m.primaryRelay, m.primaryOpts...)
}

// AcquireVR increments the stereo reference count, starting the secondary
// capture producer the first time the count transitions 0 -> 1.
func (m *Manager) AcquireVR(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secondaryRef++
	if !m.secondaryUp {
		secCtx, cancel := context.WithCancel(ctx)
		m.secondaryCancel = cancel
		m.secondaryUp = true
		m.startCount.Add(1)
		go m.runProducer(secCtx, m.secondaryCfg, m.secondaryRelay, m.secondaryOpts...)
	}
}

// ReleaseVR decrements the stereo reference count, clamped at zero
// (spurious releases are no-ops), stopping the secondary producer exactly
// once when the count reaches zero.
func (m *Manager) ReleaseVR() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.secondaryRef > 0 {
		m.secondaryRef--
	}
	if m.secondaryRef == 0 && m.secondaryUp {
		m.secondaryCancel()
		m.secondaryUp = false
		m.stopCount.Add(1)
	}
}

// SecondaryRefCount reports the live stereo reference count.
func (m *Manager) SecondaryRefCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.secondaryRef
}

// SecondaryRunning reports whether the secondary producer is currently
// started.
func (m *Manager) SecondaryRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.secondaryUp
}

// SecondaryStartCount and SecondaryStopCount back the "started/stopped
// exactly once" testable property.
func (m *Manager) SecondaryStartCount() int64 { return m.startCount.Load() }
func (m *Manager) SecondaryStopCount() int64  { return m.stopCount.Load() }

// GetTracks returns one relay subscription (mono) or two (stereo: primary
// + secondary). Callers (the Signaling Endpoint) are responsible for
// calling AcquireVR before and ReleaseVR after a stereo session's
// lifetime; GetTracks itself only wires the subscriptions.
func (m *Manager) GetTracks(stereo bool) []*Track {
	tracks := []*Track{{Subscription: m.primaryRelay.Subscribe(), Left: false}}
	if stereo {
		tracks = append(tracks, &Track{Subscription: m.secondaryRelay.Subscribe(), Left: true})
	}
	return tracks
}

// ReleaseTracks unsubscribes every subscription in tracks. Callers still
// must call ReleaseVR separately for the stereo reference itself.
func (m *Manager) ReleaseTracks(tracks []*Track) {
	for _, t := range tracks {
		if t.Left {
			m.secondaryRelay.Unsubscribe(t.Subscription)
		} else {
			m.primaryRelay.Unsubscribe(t.Subscription)
		}
	}
}

// StopAll tears down both producers unconditionally, used on server
// shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.primaryCancel != nil {
		m.primaryCancel()
	}
	if m.secondaryUp {
		m.secondaryCancel()
		m.secondaryUp = false
		m.stopCount.Add(1)
	}
	m.secondaryRef = 0
	m.primaryRelay.Stop()
	m.secondaryRelay.Stop()
}
