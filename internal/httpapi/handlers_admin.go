package httpapi

import (
	"net/http"

	"github.com/vrracer/camstream/internal/apierr"
	"github.com/vrracer/camstream/internal/audit"
)

// handleAdminUsers lists every user's decrypted view.
func (d *Deps) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	if _, err := d.Token.RequireAuth(r, true); err != nil {
		writeError(w, err)
		return
	}
	users, err := d.Store.ListAll()
	if err != nil {
		writeError(w, apierr.Internal("listing users", err))
		return
	}
	writeJSON(w, http.StatusOK, users)
}

type adminDeleteRequest struct {
	ID string `json:"id"`
}

// handleAdminDelete removes a user, refusing seeded/admin records.
func (d *Deps) handleAdminDelete(w http.ResponseWriter, r *http.Request) {
	claims, err := d.Token.RequireAuth(r, true)
	if err != nil {
		writeError(w, err)
		return
	}

	var req adminDeleteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ID == "" {
		writeError(w, apierr.Validation("id is required"))
		return
	}

	if err := d.Store.Delete(req.ID); err != nil {
		if apierr.IsForbidden(err) {
			d.Audit.Log(audit.EventAdminLockRefused, claims.User, map[string]any{"id": req.ID})
		}
		writeError(w, err)
		return
	}
	d.Audit.Log(audit.EventUserDeleted, claims.User, map[string]any{"id": req.ID})
	writeJSON(w, http.StatusOK, map[string]string{"message": "User deleted"})
}

type adminUpdateRequest struct {
	ID       string  `json:"id"`
	Username *string `json:"username,omitempty"`
	Password *string `json:"password,omitempty"`
}

// handleAdminUpdate changes a user's name and/or password. Serialization
// of concurrent mutating admin operations on the same record (§4.9) is
// provided by internal/store.Store's single internal mutex, which
// already guards every Delete/Update/Create call across the whole
// record set — a coarser but valid implementation of the per-record
// locking requirement.
func (d *Deps) handleAdminUpdate(w http.ResponseWriter, r *http.Request) {
	claims, err := d.Token.RequireAuth(r, true)
	if err != nil {
		writeError(w, err)
		return
	}

	var req adminUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ID == "" {
		writeError(w, apierr.Validation("id is required"))
		return
	}

	if err := d.Store.Update(req.ID, req.Username, req.Password); err != nil {
		if apierr.IsForbidden(err) {
			d.Audit.Log(audit.EventAdminLockRefused, claims.User, map[string]any{"id": req.ID})
		}
		writeError(w, err)
		return
	}
	d.Audit.Log(audit.EventUserUpdated, claims.User, map[string]any{"id": req.ID})
	writeJSON(w, http.StatusOK, map[string]string{"message": "User updated"})
}
