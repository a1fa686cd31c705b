// Package h264 wraps the software H264 encoder used for both the
// WebRTC video track (C7) and the local recording sink (C8).
//
// Encoder holds its configuration plus a single concrete backend, with
// SetBitrate/ForceKeyframe/Close mutators under one mutex rather than a
// backend-selection layer: this server has no GPU encode path to choose
// between, so the software backend is wired directly to
// y9o/go-openh264 instead of sitting behind a stub interface.
package h264

import (
	"errors"
	"fmt"
	"sync"

	"github.com/y9o/go-openh264/openh264"
)

// Config carries the fields this module actually drives: no codec choice
// (H264 only) and no GPU/hardware preference (software only).
type Config struct {
	Width, Height int
	BitrateBPS    int
	FPS           int
}

func (c Config) validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return errors.New("h264: width/height must be positive")
	}
	if c.BitrateBPS <= 0 {
		return errors.New("h264: bitrate must be positive")
	}
	if c.FPS <= 0 {
		return errors.New("h264: fps must be positive")
	}
	return nil
}

// Encoder turns successive BGR frames into Annex-B H264 NAL units. Every
// method takes the encoder's mutex, so concurrent calls are serialized;
// callers use one encoder per session, fed by a single goroutine.
type Encoder struct {
	mu  sync.Mutex
	cfg Config
	enc *openh264.Encoder
}

// New constructs a software H264 encoder for the given configuration.
func New(cfg Config) (*Encoder, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	enc, err := openh264.NewEncoder(openh264.Params{
		Width:      cfg.Width,
		Height:     cfg.Height,
		BitrateBps: cfg.BitrateBPS,
		MaxFPS:     float32(cfg.FPS),
	})
	if err != nil {
		return nil, fmt.Errorf("h264: opening openh264 encoder: %w", err)
	}
	return &Encoder{cfg: cfg, enc: enc}, nil
}

// EncodeBGR converts packed BGR pixels (the pipeline's canonical format)
// to I420 and encodes one frame, returning Annex-B NAL units ready to
// hand to a pion TrackLocalStaticSample or a recording muxer.
func (e *Encoder) EncodeBGR(bgr []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.enc == nil {
		return nil, errors.New("h264: encoder closed")
	}
	yuv := bgrToI420(bgr, e.cfg.Width, e.cfg.Height)
	nal, err := e.enc.Encode(yuv)
	if err != nil {
		return nil, fmt.Errorf("h264: encode: %w", err)
	}
	return nal, nil
}

// ForceKeyframe requests the next encoded frame be an IDR, used both at
// stream start and when RTCP reports a PLI/FIR.
func (e *Encoder) ForceKeyframe() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.enc == nil {
		return errors.New("h264: encoder closed")
	}
	return e.enc.ForceIntraFrame()
}

// SetBitrate adjusts the target bitrate without reopening the encoder.
func (e *Encoder) SetBitrate(bps int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.enc == nil {
		return errors.New("h264: encoder closed")
	}
	if bps <= 0 {
		return errors.New("h264: bitrate must be positive")
	}
	e.cfg.BitrateBPS = bps
	return e.enc.SetBitrate(bps)
}

// Close releases the encoder's native resources. Idempotent.
func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.enc == nil {
		return nil
	}
	err := e.enc.Close()
	e.enc = nil
	return err
}

// bgrToI420 converts packed 24-bit BGR to planar YUV 4:2:0 (I420) using
// BT.601 studio-range fixed-point coefficients (Q8, Y offset 16). It is
// the reverse direction of internal/frame's YUV-to-BGR path, which uses
// its own full-range Q10 coefficients; frame has no BGR-to-I420 helper.
func bgrToI420(bgr []byte, width, height int) []byte {
	ySize := width * height
	cSize := (width / 2) * (height / 2)
	out := make([]byte, ySize+2*cSize)
	yPlane := out[:ySize]
	uPlane := out[ySize : ySize+cSize]
	vPlane := out[ySize+cSize:]

	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			i := (row*width + col) * 3
			b, g, r := int(bgr[i]), int(bgr[i+1]), int(bgr[i+2])
			yPlane[row*width+col] = clamp((66*r+129*g+25*b+128)>>8 + 16)
		}
	}
	for row := 0; row < height/2; row++ {
		for col := 0; col < width/2; col++ {
			i := ((row*2)*width + col*2) * 3
			b, g, r := int(bgr[i]), int(bgr[i+1]), int(bgr[i+2])
			ci := row*(width/2) + col
			uPlane[ci] = clamp((-38*r-74*g+112*b+128)>>8 + 128)
			vPlane[ci] = clamp((112*r-94*g-18*b+128)>>8 + 128)
		}
	}
	return out
}

func clamp(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
