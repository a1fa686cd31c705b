package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vrracer/camstream/internal/apierr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps an apierr.Error (or any error) to the taxonomy's HTTP
// status and a minimal JSON body, per §7: no internal detail leaks to
// the client.
func writeError(w http.ResponseWriter, err error) {
	status := apierr.StatusCode(err)
	writeJSON(w, status, map[string]string{"error": publicMessage(err)})
}

// publicMessage returns a caller-safe message. apierr.Error messages are
// already written to be operator-safe (no wrapped internal error text is
// exposed) by every constructor in internal/apierr.
func publicMessage(err error) string {
	var e *apierr.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apierr.Validation("malformed request body")
	}
	return nil
}
