package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/vrracer/camstream/internal/apierr"
	"github.com/vrracer/camstream/internal/audit"
	"github.com/vrracer/camstream/internal/events"
	"github.com/vrracer/camstream/internal/sysstatus"
)

// handleRecordingStart rejects if storage is critically low before
// handing off to the Recording Coordinator, which itself rejects a
// second concurrent start.
func (d *Deps) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	claims, err := d.Token.RequireAuth(r, true)
	if err != nil {
		writeError(w, err)
		return
	}

	usage, err := sysstatus.StorageFor(d.RecordingsDir)
	if err != nil {
		writeError(w, apierr.Internal("checking storage", err))
		return
	}
	if usage.IsLow() {
		writeError(w, apierr.Resource("storage below safety margin"))
		return
	}

	recordingID := uuid.NewString()
	filename, err := d.Recording.Start(recordingID)
	if err != nil {
		writeError(w, err)
		return
	}
	d.Audit.Log(audit.EventRecordingStart, claims.User, map[string]any{"recordingId": recordingID, "filename": filename})
	if d.Events != nil {
		d.Events.Publish(events.TypeRecordingStarted, map[string]string{"recordingId": recordingID, "filename": filename})
	}
	writeJSON(w, http.StatusOK, map[string]string{"filename": filename})
}

// handleRecordingStop stops the active recording and drives the
// post-stop sinks, returning stats to the caller.
func (d *Deps) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	claims, err := d.Token.RequireAuth(r, true)
	if err != nil {
		writeError(w, err)
		return
	}

	stats, err := d.Recording.Stop()
	if err != nil {
		writeError(w, err)
		return
	}
	d.Audit.Log(audit.EventRecordingStop, claims.User, map[string]any{
		"recordingId": stats.RecordingID,
		"sizeBytes":   stats.SizeBytes,
	})
	if d.Events != nil {
		d.Events.Publish(events.TypeRecordingStopped, stats)
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}
