// Package recording implements the Recording Coordinator (C8): a
// single-active start/stop state machine that consumes frames from a
// fresh Frame Relay subscription, writes them through an H264 encoder to
// a file, and on stop drives an ordered chain of best-effort sinks.
//
// One job in flight at a time, guarded by a single mutex and a bool-ish
// active-session pointer: a second Start while one is already running is
// rejected outright rather than queued or silently swapped in.
package recording

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vrracer/camstream/internal/apierr"
	"github.com/vrracer/camstream/internal/h264"
	"github.com/vrracer/camstream/internal/logging"
	"github.com/vrracer/camstream/internal/relay"
)

var log = logging.L("recording")

// PositionSource is the optional GPS/position-tracking collaborator; the
// coordinator asks it to start tracking at recording start and export a
// track file at stop. No implementation ships with this package; a nil
// Config.PositionSource disables tracking and no track file is written.
type PositionSource interface {
	BeginTracking()
	ExportTrack(path string) error
}

// Stats is the response body for /recording/stop.
type Stats struct {
	RecordingID string    `json:"recording_id"`
	StartTime   time.Time `json:"start_time"`
	Duration    float64   `json:"duration_seconds"`
	SizeBytes   int64     `json:"size_bytes"`
	FilePath    string    `json:"file_path"`
}

// Config carries the coordinator's fixed dependencies.
type Config struct {
	Dir             string // recordings directory
	RetentionDays   int
	Relay           *relay.Relay // frame source; a fresh subscription per recording
	FPS             int
	BitrateBPS      int
	Uploader        *Uploader  // optional remote upload sink
	Notifier        *Notifier  // optional email notification sink
	PositionSource  PositionSource
}

type session struct {
	recordingID string
	startTime   time.Time
	filePath    string
	sub         *relay.Subscription
	enc         *h264.Encoder
	file        *os.File
	cancel      context.CancelFunc
	done        chan struct{}
}

// Coordinator owns the single-active recording invariant.
type Coordinator struct {
	cfg Config

	mu      sync.Mutex
	active  *session
}

func New(cfg Config) *Coordinator {
	return &Coordinator{cfg: cfg}
}

// IsActive reports whether a recording is currently in progress.
func (c *Coordinator) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Start begins a new recording. Fails with a ValidationError (400) if one
// is already active — it never silently replaces an in-progress recording.
func (c *Coordinator) Start(recordingID string) (filename string, err error) {
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return "", apierr.Validation("already recording")
	}
	// Reserve the slot immediately so a second concurrent Start sees
	// c.active != nil even while this one is still setting up.
	c.active = &session{}
	c.mu.Unlock()

	if err := os.MkdirAll(c.cfg.Dir, 0755); err != nil {
		c.clearActive()
		return "", apierr.Internal("creating recording directory", err)
	}

	filename = fmt.Sprintf("%s.h264", recordingID)
	path, pathErr := containedPath(c.cfg.Dir, filename)
	if pathErr != nil {
		c.clearActive()
		return "", apierr.Internal("resolving recording path", pathErr)
	}

	f, err := os.Create(path)
	if err != nil {
		c.clearActive()
		return "", apierr.Internal("creating recording file", err)
	}

	fps := c.cfg.FPS
	if fps <= 0 {
		fps = 30
	}
	bitrate := c.cfg.BitrateBPS
	if bitrate <= 0 {
		bitrate = 4_000_000
	}

	sub := c.cfg.Relay.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		recordingID: recordingID,
		startTime:   time.Now(),
		filePath:    path,
		sub:         sub,
		file:        f,
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	if c.cfg.PositionSource != nil {
		c.cfg.PositionSource.BeginTracking()
	}

	go s.writeLoop(ctx, fps, bitrate)

	c.mu.Lock()
	c.active = s
	c.mu.Unlock()

	log.Info("recording started", "recording_id", recordingID, "path", path)
	return filename, nil
}

func (c *Coordinator) clearActive() {
	c.mu.Lock()
	c.active = nil
	c.mu.Unlock()
}

func (s *session) writeLoop(ctx context.Context, fps, bitrateBPS int) {
	defer close(s.done)
	var enc *h264.Encoder
	defer func() {
		if enc != nil {
			enc.Close()
		}
		s.file.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-s.sub.Frames():
			if !ok {
				return
			}
			if enc == nil {
				var err error
				enc, err = h264.New(h264.Config{Width: f.Width, Height: f.Height, BitrateBPS: bitrateBPS, FPS: fps})
				if err != nil {
					log.Error("recording encoder init failed", "error", err)
					return
				}
			}
			nal, err := enc.EncodeBGR(f.Bytes)
			if err != nil {
				log.Warn("recording frame encode failed", "error", err)
				continue
			}
			if _, err := s.file.Write(nal); err != nil {
				log.Error("recording write failed", "error", err)
				return
			}
		}
	}
}

// Stop ends the active recording and drives the post-stop sinks in
// order: local retention, best-effort remote upload, optional email
// notification. Each sink's failure is logged and does not cancel the
// others.
func (c *Coordinator) Stop() (*Stats, error) {
	c.mu.Lock()
	s := c.active
	if s == nil || s.sub == nil {
		c.mu.Unlock()
		return nil, apierr.Validation("not active")
	}
	c.active = nil
	c.mu.Unlock()

	s.cancel()
	c.cfg.Relay.Unsubscribe(s.sub)
	<-s.done

	info, statErr := os.Stat(s.filePath)
	var size int64
	if statErr == nil {
		size = info.Size()
	}

	var trackPath string
	if c.cfg.PositionSource != nil {
		trackPath = s.filePath + ".track.json"
		if err := c.cfg.PositionSource.ExportTrack(trackPath); err != nil {
			log.Warn("position track export failed", "error", err)
		}
	}

	stats := &Stats{
		RecordingID: s.recordingID,
		StartTime:   s.startTime,
		Duration:    time.Since(s.startTime).Seconds(),
		SizeBytes:   size,
		FilePath:    s.filePath,
	}

	if err := applyRetention(c.cfg.Dir, c.cfg.RetentionDays); err != nil {
		log.Warn("recording retention sweep failed", "error", err)
	}

	if c.cfg.Uploader != nil {
		if err := c.cfg.Uploader.Upload(context.Background(), s.filePath, filepath.Base(s.filePath)); err != nil {
			log.Warn("recording remote upload failed", "error", err)
		}
	}

	if c.cfg.Notifier != nil {
		if err := c.cfg.Notifier.Notify(stats.RecordingID, s.filePath, trackPath); err != nil {
			log.Warn("recording notification failed", "error", err)
		}
	}

	log.Info("recording stopped", "recording_id", s.recordingID, "duration_seconds", stats.Duration, "size_bytes", stats.SizeBytes)
	return stats, nil
}
