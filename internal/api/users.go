package api

import (
	"encoding/base64"
	"net/http"
)

// handleRegister implements `POST /users/register` (§6): form
// {username, password, email?}.
func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, invalidForm())
		return
	}
	user, err := a.identity.Register(r.FormValue("username"), r.FormValue("password"), r.FormValue("email"), clientIP(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
	})
}

// handleToken implements `POST /users/token`: form {username, password}.
// An MFA-enrolled account gets a challenge token instead of a bearer
// credential; the client must call /users/mfa/complete next.
func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, invalidForm())
		return
	}
	user, err := a.identity.Authenticate(r.FormValue("username"), r.FormValue("password"))
	if err != nil {
		writeError(w, err)
		return
	}
	if user.MFAEnabled {
		challenge, err := a.identity.IssueMFAChallenge(user)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"mfa_required": true, "challenge_token": challenge})
		return
	}
	token, err := a.identity.IssueCredential(user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"token": token})
}

// handleMFAComplete redeems a challenge token plus a TOTP code for a full
// bearer credential.
func (a *API) handleMFAComplete(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, invalidForm())
		return
	}
	_, token, err := a.identity.CompleteMFAChallenge(r.FormValue("challenge_token"), r.FormValue("code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"token": token})
}

// handleMe implements `GET /users/me`.
func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	user := callerFrom(r)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":          user.ID,
		"username":    user.Username,
		"email":       user.Email,
		"verified":    user.Verified,
		"mfa_enabled": user.MFAEnabled,
	})
}

// handleMFAEnroll begins TOTP enrollment for the caller, returning the
// secret and a base64-encoded QR code PNG for display.
func (a *API) handleMFAEnroll(w http.ResponseWriter, r *http.Request) {
	user := callerFrom(r)
	enrollment, err := a.identity.EnrollMFA(user, a.cfg.ServerName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"secret":     enrollment.Secret,
		"qr_code":    base64.StdEncoding.EncodeToString(enrollment.QRCodePNG),
	})
}

// handleMFAConfirm completes enrollment: form {code}.
func (a *API) handleMFAConfirm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, invalidForm())
		return
	}
	user := callerFrom(r)
	if err := a.identity.ConfirmMFA(user, r.FormValue("code")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"mfa_enabled": true})
}
