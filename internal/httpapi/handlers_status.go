package httpapi

import (
	"net/http"

	"github.com/vrracer/camstream/internal/apierr"
	"github.com/vrracer/camstream/internal/sysstatus"
)

type systemStatusResponse struct {
	Camera    cameraStatus     `json:"camera"`
	Storage   sysstatus.Storage `json:"storage"`
	Recording recordingStatus  `json:"recording"`
}

type cameraStatus struct {
	SecondaryActive bool `json:"secondary_active"`
	PeerCount       int  `json:"peer_count"`
}

type recordingStatus struct {
	Active bool `json:"active"`
}

// handleSystemStatus reports camera, storage, and recording state for an
// operator dashboard.
func (d *Deps) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	if _, err := d.Token.RequireAuth(r, false); err != nil {
		writeError(w, err)
		return
	}

	storage, err := sysstatus.StorageFor(d.RecordingsDir)
	if err != nil {
		writeError(w, apierr.Internal("checking storage", err))
		return
	}

	writeJSON(w, http.StatusOK, systemStatusResponse{
		Camera: cameraStatus{
			SecondaryActive: d.Manager.SecondaryRunning(),
			PeerCount:       d.Signaling.Count(),
		},
		Storage:   storage,
		Recording: recordingStatus{Active: d.Recording.IsActive()},
	})
}
