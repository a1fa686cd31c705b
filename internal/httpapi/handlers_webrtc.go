package httpapi

import (
	"net/http"

	"github.com/vrracer/camstream/internal/apierr"
	"github.com/vrracer/camstream/internal/signaling"
)

// handleOffer runs the Signaling Endpoint's full offer/answer exchange.
func (d *Deps) handleOffer(w http.ResponseWriter, r *http.Request) {
	claims, err := d.Token.RequireAuth(r, false)
	if err != nil {
		writeError(w, err)
		return
	}

	var offer signaling.Offer
	if err := decodeJSON(r, &offer); err != nil {
		writeError(w, err)
		return
	}

	_, answer, err := d.Signaling.HandleOffer(r.Context(), offer)
	if err != nil {
		log.Warn("offer rejected", "user", claims.User, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

// handleWebRTCClose closes every active peer connection. The route takes
// no body and the Signaling Endpoint does not hand the client a peer id
// in the offer/answer exchange, so the only addressable target is "all
// active peers" — matching CloseAll's use during graceful shutdown.
func (d *Deps) handleWebRTCClose(w http.ResponseWriter, r *http.Request) {
	if _, err := d.Token.RequireAuth(r, false); err != nil {
		writeError(w, err)
		return
	}
	d.Signaling.CloseAll()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleMotion reports the Motion Analyzer's most recent result.
func (d *Deps) handleMotion(w http.ResponseWriter, r *http.Request) {
	if _, err := d.Token.RequireAuth(r, false); err != nil {
		writeError(w, err)
		return
	}
	if d.Motion == nil {
		writeError(w, apierr.Resource("motion analysis not configured"))
		return
	}
	state := d.Motion.State()
	writeJSON(w, http.StatusOK, map[string]bool{"motion": state.MotionDetected})
}
