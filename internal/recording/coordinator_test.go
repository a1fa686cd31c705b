package recording

import (
	"testing"
	"time"

	"github.com/vrracer/camstream/internal/frame"
	"github.com/vrracer/camstream/internal/relay"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *relay.Relay) {
	t.Helper()
	r := relay.New()
	c := New(Config{Dir: t.TempDir(), Relay: r, FPS: 10, BitrateBPS: 500_000})
	return c, r
}

func TestStartRefusesWhileAlreadyActive(t *testing.T) {
	c, _ := newTestCoordinator(t)

	if _, err := c.Start("rec-1"); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	if _, err := c.Start("rec-2"); err == nil {
		t.Fatal("expected second concurrent Start() to be refused")
	}
	if !c.IsActive() {
		t.Fatal("expected coordinator to remain active after refused second start")
	}

	if _, err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestStopRefusesWhenNotActive(t *testing.T) {
	c, _ := newTestCoordinator(t)
	if _, err := c.Stop(); err == nil {
		t.Fatal("expected Stop() to fail when no recording is active")
	}
}

func TestStartThenStopProducesStatsAndFile(t *testing.T) {
	c, r := newTestCoordinator(t)

	filename, err := c.Start("rec-1")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if filename == "" {
		t.Fatal("expected non-empty filename")
	}

	bytes := frame.TestPattern(64, 48)
	f, err := frame.New(64, 48, frame.FormatBGR, bytes, time.Now(), 1)
	if err != nil {
		t.Fatalf("frame.New() error = %v", err)
	}
	r.Publish(f)
	time.Sleep(20 * time.Millisecond)

	stats, err := c.Stop()
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if stats.RecordingID != "rec-1" {
		t.Fatalf("stats.RecordingID = %q, want rec-1", stats.RecordingID)
	}
	if c.IsActive() {
		t.Fatal("expected coordinator to be inactive after Stop()")
	}
}

func TestStartAfterStopSucceeds(t *testing.T) {
	c, _ := newTestCoordinator(t)

	if _, err := c.Start("rec-1"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if _, err := c.Start("rec-2"); err != nil {
		t.Fatalf("second Start() after Stop() should succeed: %v", err)
	}
	if _, err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}
