package httpapi

import (
	"net/http"

	"github.com/vrracer/camstream/internal/apierr"
	"github.com/vrracer/camstream/internal/audit"
)

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

// handleLogin authenticates against the Credential Store and issues a
// bearer token. Per §6, the success status distinguishes admin (202)
// from ordinary user (200) logins, and a wrong-credentials failure
// never distinguishes "no such user" from "wrong password".
func (d *Deps) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, apierr.Forbidden("wrong credentials"))
		return
	}

	ok, isAdmin, err := d.Store.Authenticate(req.Username, req.Password)
	if err != nil {
		writeError(w, apierr.Internal("authenticating user", err))
		return
	}
	if !ok {
		d.Audit.Log(audit.EventLoginFailed, req.Username, map[string]any{"remoteIp": clientIP(r)})
		writeError(w, apierr.Forbidden("wrong credentials"))
		return
	}

	token, expiresIn, err := d.Token.Issue(req.Username, isAdmin)
	if err != nil {
		writeError(w, apierr.Internal("issuing token", err))
		return
	}
	d.Audit.Log(audit.EventLoginSucceeded, req.Username, map[string]any{"remoteIp": clientIP(r), "isAdmin": isAdmin})

	status := http.StatusOK
	if isAdmin {
		status = http.StatusAccepted
	}
	writeJSON(w, status, loginResponse{Token: token, ExpiresIn: expiresIn})
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleRegister creates a new, non-admin user. Registration is public
// by default; when d.RegistrationOpen is false the route is gated
// behind bearer+admin the same way /admin/* is.
func (d *Deps) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !d.RegistrationOpen {
		if _, err := d.Token.RequireAuth(r, true); err != nil {
			writeError(w, err)
			return
		}
	}

	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, apierr.Validation("username and password are required"))
		return
	}

	user, err := d.Store.Create(req.Username, req.Password, false)
	if err != nil {
		writeError(w, err)
		return
	}
	d.Audit.Log(audit.EventUserCreated, req.Username, map[string]any{"id": user.ID})
	writeJSON(w, http.StatusOK, map[string]string{"message": "User created"})
}
