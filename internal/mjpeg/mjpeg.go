// Package mjpeg implements the MJPEG Streamer (C10, "variant B"): per
// subscriber, a persistent multipart response re-encoding the latest
// Frame Relay frame as JPEG at the producer's delivery rate, dropping
// stale frames the same way the relay itself does.
//
// Each subscriber's goroutine writes multipart parts with an explicit
// Content-Length header and detects client disconnect instead of
// blocking forever, using the plain net/http ResponseWriter path (no
// raw hijack needed: the boundary is fixed and there is no keep-alive
// probing requirement) — push to a channel, drop the stale part, bail
// out cleanly on write error or client-gone.
package mjpeg

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/vrracer/camstream/internal/frame"
	"github.com/vrracer/camstream/internal/logging"
	"github.com/vrracer/camstream/internal/relay"
	"github.com/vrracer/camstream/internal/workerpool"
)

var log = logging.L("mjpeg")

const boundary = "frame"

// DefaultQuality matches the component design's default re-encode
// quality.
const DefaultQuality = 85

// Handler streams the given relay's frames as MJPEG to each connected
// client. Quality is the JPEG re-encode quality (1-100). pool, if
// non-nil, bounds how many JPEG re-encodes run concurrently across all
// connected subscribers; a nil pool encodes inline on the subscriber's
// own goroutine.
func Handler(rel *relay.Relay, quality int, pool *workerpool.Pool) http.Handler {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		sub := rel.Subscribe()
		defer rel.Unsubscribe(sub)

		w.Header().Set("Content-Type", fmt.Sprintf("multipart/x-mixed-replace; boundary=%s", boundary))
		w.Header().Set("Cache-Control", "no-store, no-cache")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		mw := multipart.NewWriter(w)
		mw.SetBoundary(boundary)
		defer mw.Close()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case f, ok := <-sub.Frames():
				if !ok {
					return
				}
				jpegBytes, err := workerpool.SubmitSync(pool, func() ([]byte, error) {
					return encodeJPEG(f, quality)
				})
				if err != nil {
					log.Warn("jpeg encode failed", "error", err)
					continue
				}
				if err := writePart(mw, jpegBytes); err != nil {
					log.Debug("mjpeg client disconnected", "error", err)
					return
				}
				flusher.Flush()
			}
		}
	})
}

func writePart(mw *multipart.Writer, data []byte) error {
	header := textproto.MIMEHeader{}
	header.Set("Content-Type", "image/jpeg")
	header.Set("Content-Length", fmt.Sprintf("%d", len(data)))

	pw, err := mw.CreatePart(header)
	if err != nil {
		return fmt.Errorf("mjpeg: creating part: %w", err)
	}
	_, err = pw.Write(data)
	return err
}

// encodeJPEG re-encodes a packed-BGR frame as JPEG. frame.Frame's pixel
// data is always BGR by the time it reaches any relay subscriber (the
// capture producer's conversion step guarantees this), so this only ever
// needs the one conversion path.
func encodeJPEG(f *frame.Frame, quality int) ([]byte, error) {
	if f.Format != frame.FormatBGR {
		return nil, fmt.Errorf("mjpeg: unexpected frame format %s", f.Format)
	}
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			si := (y*f.Width + x) * 3
			di := img.PixOffset(x, y)
			img.Pix[di+0] = f.Bytes[si+2] // R
			img.Pix[di+1] = f.Bytes[si+1] // G
			img.Pix[di+2] = f.Bytes[si+0] // B
			img.Pix[di+3] = 255
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("mjpeg: jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}
