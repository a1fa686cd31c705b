// Package frame defines the immutable frame type shared by every stage of
// the capture pipeline: producer, motion analyzer, relay, signaling track
// writer, MJPEG re-encoder, and recording encoder.
package frame

import (
	"fmt"
	"time"
)

// Format is a small closed set of pixel layouts. Conversion into one of
// these from whatever the sensor natively produces happens once, in the
// capture producer; every downstream consumer assumes packed BGR unless it
// specifically wants YUV (the H264 encoder path does).
type Format int

const (
	FormatBGR Format = iota
	FormatRGB
	FormatRGBA
	FormatBGRA
	FormatYUV420
)

func (f Format) String() string {
	switch f {
	case FormatBGR:
		return "bgr"
	case FormatRGB:
		return "rgb"
	case FormatRGBA:
		return "rgba"
	case FormatBGRA:
		return "bgra"
	case FormatYUV420:
		return "yuv420"
	default:
		return "unknown"
	}
}

// BytesPerPixel returns 0 for planar formats, where PlaneSize must be used
// instead of a flat width*height*bpp multiplication.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatBGR, FormatRGB:
		return 3
	case FormatRGBA, FormatBGRA:
		return 4
	default:
		return 0
	}
}

// PlaneSize returns the required byte length for width x height pixels in
// the given format, accounting for YUV420's 1.5 bytes/pixel (Y plane plus
// quarter-resolution, half-sampled U and V planes).
func PlaneSize(width, height int, f Format) int {
	if f == FormatYUV420 {
		return width*height + (width/2)*(height/2)*2
	}
	return width * height * f.BytesPerPixel()
}

// Frame is an immutable snapshot produced by the capture pipeline. Once
// constructed, a Frame's Bytes are never mutated in place; anything that
// wants to modify pixels (resize, color convert, overlay) produces a new
// Frame. Frames are shared by value-of-pointer across many relay
// subscribers; none of them own it exclusively.
type Frame struct {
	Width     int
	Height    int
	Format    Format
	Bytes     []byte
	CapturedAt time.Time // monotonic-sourced capture timestamp
	Seq       uint64     // producer-assigned, strictly increasing
}

// New validates the invariant len(Bytes) == PlaneSize(Width, Height, Format)
// before returning a Frame, so a malformed frame can never enter the
// pipeline silently.
func New(width, height int, format Format, bytes []byte, capturedAt time.Time, seq uint64) (*Frame, error) {
	want := PlaneSize(width, height, format)
	if len(bytes) != want {
		return nil, fmt.Errorf("frame: %dx%d %s expects %d bytes, got %d", width, height, format, want, len(bytes))
	}
	return &Frame{
		Width:      width,
		Height:     height,
		Format:     format,
		Bytes:      bytes,
		CapturedAt: capturedAt,
		Seq:        seq,
	}, nil
}
