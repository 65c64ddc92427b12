package server

import (
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/hnrobert/lockr/internal/auth"
	"github.com/hnrobert/lockr/internal/config"
	"github.com/hnrobert/lockr/internal/invite"
	"github.com/hnrobert/lockr/internal/locker"
)

const minJWTSecretLen = 16

type App struct {
	secret     []byte
	cookieName string
	cfg        Config
	locker     *locker.Locker
	invites    *invite.Store
	usage      template.HTML
}

func newApp(cfg Config, l *locker.Locker, invites *invite.Store) (*App, error) {
	if l == nil {
		return nil, errors.New("server: nil locker")
	}
	if len(cfg.JWTSecret) < minJWTSecretLen {
		return nil, fmt.Errorf("server: %w", auth.ErrShortJWTSecret)
	}
	if cfg.RegistrationMode == "" {
		cfg.RegistrationMode = config.RegistrationClosed
	}
	if !cfg.RegistrationMode.Valid() {
		return nil, config.ErrInvalidMode
	}
	if cfg.RegistrationMode == config.RegistrationInvite && invites == nil {
		return nil, errors.New("server: invite registration needs an invite store")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	return &App{
		secret:     cfg.JWTSecret,
		cookieName: auth.DefaultCookieName,
		cfg:        cfg,
		locker:     l,
		invites:    invites,
		usage:      RenderMarkdown(usageMarkdown),
	}, nil
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", a.handleIndex)
	mux.HandleFunc("/api/healthz", a.handleHealthz)

	mux.HandleFunc("/api/register", a.handleRegister)
	mux.HandleFunc("/api/login", a.handleLogin)
	mux.HandleFunc("/api/admin/login", a.handleAdminLogin)
	mux.HandleFunc("/api/logout", a.requireAuth(a.handleLogout))
	mux.HandleFunc("/api/me", a.requireAuth(a.handleMe))
	mux.HandleFunc("/api/password", a.requireAuth(a.handlePassword))

	mux.HandleFunc("/api/accounts", a.requireAdmin(a.handleAccounts))
	mux.HandleFunc("/api/accounts/delete", a.requireAdmin(a.handleAccountsDelete))

	mux.HandleFunc("/api/invites", a.requireAdmin(a.handleInvites))
	mux.HandleFunc("/api/invites/create", a.requireAdmin(a.handleInvitesCreate))
	mux.HandleFunc("/api/invites/delete", a.requireAdmin(a.handleInvitesDelete))

	return a.logRequests(a.withAuthContext(mux))
}

func (a *App) issueCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(a.cfg.TokenTTL.Seconds()),
	})
}

func (a *App) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
