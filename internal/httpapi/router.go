// Package httpapi implements the HTTP Control Surface (C9): a single
// router gating every non-public route through the Token Authority,
// producing JSON responses per §6.
//
// Built on stdlib net/http end to end, using Go 1.22+ method-pattern
// routing (`"POST /offer"`) instead of a third-party mux.
package httpapi

import (
	"net/http"

	"github.com/vrracer/camstream/internal/audit"
	"github.com/vrracer/camstream/internal/cameramanager"
	"github.com/vrracer/camstream/internal/events"
	"github.com/vrracer/camstream/internal/logging"
	"github.com/vrracer/camstream/internal/mjpeg"
	"github.com/vrracer/camstream/internal/motion"
	"github.com/vrracer/camstream/internal/recording"
	"github.com/vrracer/camstream/internal/signaling"
	"github.com/vrracer/camstream/internal/store"
	"github.com/vrracer/camstream/internal/token"
	"github.com/vrracer/camstream/internal/workerpool"
)

var log = logging.L("httpapi")

// Deps bundles every collaborator the router's handlers call into. All
// fields are required except Pool and Events, which are optional (see
// Events below for its nil case). A nil Pool makes
// the MJPEG JPEG re-encode run inline on each subscriber's own goroutine
// instead of bounded across a worker pool.
type Deps struct {
	Store             *store.Store
	Token             *token.Authority
	Manager           *cameramanager.Manager
	Motion            *motion.Analyzer
	Signaling         *signaling.Endpoint
	Recording         *recording.Coordinator
	Audit             *audit.Logger
	Pool              *workerpool.Pool
	Events            *events.Hub // optional; nil disables GET /ws/events
	RecordingsDir     string
	MJPEGQuality      int
	RegistrationOpen  bool // if false, /register requires bearer+admin
}

// NewRouter builds the full route table.
func NewRouter(d *Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /login", d.handleLogin)
	mux.HandleFunc("POST /register", d.handleRegister)

	mux.HandleFunc("POST /offer", d.handleOffer)
	mux.HandleFunc("POST /webrtc/close", d.handleWebRTCClose)
	mux.HandleFunc("GET /motion", d.handleMotion)

	mux.HandleFunc("GET /admin/users", d.handleAdminUsers)
	mux.HandleFunc("POST /admin/delete", d.handleAdminDelete)
	mux.HandleFunc("POST /admin/update", d.handleAdminUpdate)

	mux.HandleFunc("POST /recording/start", d.handleRecordingStart)
	mux.HandleFunc("POST /recording/stop", d.handleRecordingStop)

	mux.HandleFunc("GET /api/system/status", d.handleSystemStatus)

	mux.HandleFunc("GET /ws/events", d.handleEvents)

	mjpegHandler := mjpeg.Handler(d.Manager.PrimaryRelay(), d.MJPEGQuality, d.Pool)
	mux.HandleFunc("GET /stream.mjpeg", func(w http.ResponseWriter, r *http.Request) {
		if _, err := d.Token.RequireAuth(r, false); err != nil {
			writeError(w, err)
			return
		}
		mjpegHandler.ServeHTTP(w, r)
	})

	return mux
}
