package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hnrobert/lockr/internal/auth"
	"github.com/hnrobert/lockr/internal/config"
	"github.com/hnrobert/lockr/internal/invite"
	"github.com/hnrobert/lockr/internal/locker"
	"github.com/hnrobert/lockr/internal/logger"
)

const maxBodyBytes = 64 << 10

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Invite   string `json:"invite,omitempty"`
}

type inviteCreateRequest struct {
	MaxUses   int    `json:"max_uses"`
	ExpiresIn string `json:"expires_in,omitempty"` // Go duration, empty for no expiry
}

type inviteIDRequest struct {
	ID string `json:"id"`
}

type passwordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type usernameRequest struct {
	Username string `json:"username"`
}

type tokenResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Admin    bool   `json:"admin"`
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAuthError maps locker and auth errors onto HTTP statuses.
func writeAuthError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, locker.ErrEmptyCredentials):
		status = http.StatusBadRequest
	case errors.Is(err, locker.ErrAccountExists):
		status = http.StatusConflict
	case errors.Is(err, locker.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, locker.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, auth.ErrUserLocked):
		status = http.StatusForbidden
	case errors.Is(err, invite.ErrNotFound), errors.Is(err, invite.ErrExpired),
		errors.Is(err, invite.ErrNoUsesLeft), errors.Is(err, invite.ErrInvalidInvite):
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	if status == http.StatusInternalServerError {
		logger.Error("request failed: %v", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, auth.HumanAuthError(err))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (a *App) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = pageTmpl.Execute(w, pageData{Title: "lockr", Body: a.usage})
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *App) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	mode := a.cfg.RegistrationMode
	admin := isAdminFrom(r)
	if mode == config.RegistrationClosed && !admin {
		writeError(w, http.StatusForbidden, "registration is disabled by the administrator")
		return
	}
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		writeAuthError(w, locker.ErrEmptyCredentials)
		return
	}
	needInvite := mode == config.RegistrationInvite && !admin
	code := strings.TrimSpace(req.Invite)
	if needInvite {
		if code == "" {
			writeError(w, http.StatusForbidden, "an invite code is required")
			return
		}
		// Take the use up front so concurrent registrations cannot overrun max_uses.
		if _, err := a.invites.Consume(code, username, remoteIP(r)); err != nil {
			logger.Info("Rejected invite %s for %s from %s: %v", code, username, remoteIP(r), err)
			writeAuthError(w, err)
			return
		}
	}
	if err := a.locker.RegisterAccount(username, req.Password, a.cfg.Secret); err != nil {
		if needInvite {
			if rerr := a.invites.Release(code, username); rerr != nil {
				logger.Warn("Could not release invite %s after failed registration of %s: %v", code, username, rerr)
			}
		}
		writeAuthError(w, err)
		return
	}
	logger.Info("registered %s from %s", username, remoteIP(r))
	writeJSON(w, http.StatusCreated, map[string]string{"username": username})
}

func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		writeAuthError(w, locker.ErrEmptyCredentials)
		return
	}
	if err := a.locker.Authenticate(username, req.Password, a.cfg.Secret); err != nil {
		logger.Info("Failed login attempt for user %s from %s", username, remoteIP(r))
		writeAuthError(w, err)
		return
	}
	a.issueSession(w, username, false)
	logger.Info("User %s logged in from %s", username, remoteIP(r))
}

func (a *App) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if a.cfg.AdminHash == "" {
		writeError(w, http.StatusForbidden, "admin login is not configured")
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || username != a.cfg.AdminUser {
		logger.Info("Failed admin login attempt for user %s from %s", username, remoteIP(r))
		writeAuthError(w, auth.ErrInvalidCredentials)
		return
	}
	if err := auth.VerifyHash(a.cfg.AdminHash, req.Password); err != nil {
		logger.Info("Failed admin login attempt for user %s from %s", username, remoteIP(r))
		if errors.Is(err, auth.ErrUnsupportedHash) {
			logger.Error("admin_hash has an unsupported format")
		}
		writeAuthError(w, err)
		return
	}
	a.issueSession(w, username, true)
	logger.Info("Admin %s logged in from %s", username, remoteIP(r))
}

func (a *App) issueSession(w http.ResponseWriter, username string, admin bool) {
	tok, err := auth.SignHS256(a.secret, username, admin, a.cfg.TokenTTL)
	if err != nil {
		logger.Error("sign token for %s: %v", username, err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	a.issueCookie(w, tok)
	writeJSON(w, http.StatusOK, tokenResponse{Token: tok, Username: username, Admin: admin})
}

func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	a.clearCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *App) handleMe(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFrom(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"username": sess.Username,
		"admin":    sess.Admin,
	})
}

func (a *App) handlePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	username := usernameFrom(r)
	if err := a.locker.ChangePassword(username, req.OldPassword, req.NewPassword, a.cfg.Secret); err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *App) handleAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	names, err := a.locker.Accounts()
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"accounts": names})
}

func (a *App) handleAccountsDelete(w http.ResponseWriter, r *http.Request) {
	var req usernameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := a.locker.Remove(strings.TrimSpace(req.Username)); err != nil {
		writeAuthError(w, err)
		return
	}
	logger.Info("Admin %s removed account %s", usernameFrom(r), req.Username)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *App) handleInvites(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !a.invitesEnabled(w) {
		return
	}
	list, err := a.invites.List()
	if err != nil {
		writeAuthError(w, err)
		return
	}
	if list == nil {
		list = []invite.Invite{}
	}
	writeJSON(w, http.StatusOK, map[string][]invite.Invite{"invites": list})
}

func (a *App) handleInvitesCreate(w http.ResponseWriter, r *http.Request) {
	var req inviteCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !a.invitesEnabled(w) {
		return
	}
	if req.MaxUses < 0 {
		writeError(w, http.StatusBadRequest, "max_uses must be >= 0")
		return
	}
	var expiresAt time.Time
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "expires_in must be a positive duration")
			return
		}
		expiresAt = time.Now().Add(d)
	}
	inv, err := a.invites.Create(usernameFrom(r), req.MaxUses, expiresAt)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	logger.Info("Admin %s created invite %s from %s (max_uses: %d)", usernameFrom(r), inv.ID, remoteIP(r), req.MaxUses)
	writeJSON(w, http.StatusCreated, inv)
}

func (a *App) handleInvitesDelete(w http.ResponseWriter, r *http.Request) {
	var req inviteIDRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !a.invitesEnabled(w) {
		return
	}
	if err := a.invites.Delete(strings.TrimSpace(req.ID)); err != nil {
		if errors.Is(err, invite.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeAuthError(w, err)
		return
	}
	logger.Info("Admin %s deleted invite %s", usernameFrom(r), req.ID)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *App) invitesEnabled(w http.ResponseWriter) bool {
	if a.invites == nil {
		writeError(w, http.StatusNotFound, "invites are not configured")
		return false
	}
	return true
}
