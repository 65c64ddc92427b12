package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/hnrobert/lockr/internal/auth"
	"github.com/hnrobert/lockr/internal/logger"
)

// session is the caller identity carried by a verified token.
type session struct {
	Username string
	Admin    bool
}

type sessionKey struct{}

func (a *App) withAuthContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, tok := range sessionTokens(r, a.cookieName) {
			if sess, ok := a.sessionFromToken(tok); ok {
				r = r.WithContext(context.WithValue(r.Context(), sessionKey{}, sess))
				break
			}
		}
		next.ServeHTTP(w, r)
	})
}

// sessionTokens lists the session cookie first, then any Authorization bearer token.
func sessionTokens(r *http.Request, cookieName string) []string {
	var toks []string
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		toks = append(toks, c.Value)
	}
	scheme, tok, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "bearer") && strings.TrimSpace(tok) != "" {
		toks = append(toks, strings.TrimSpace(tok))
	}
	return toks
}

func (a *App) sessionFromToken(tok string) (session, bool) {
	cl, err := auth.ParseHS256(a.secret, tok)
	if err != nil {
		return session{}, false
	}
	return session{Username: cl.Username(), Admin: cl.Admin}, true
}

func sessionFrom(r *http.Request) (session, bool) {
	sess, ok := r.Context().Value(sessionKey{}).(session)
	return sess, ok
}

func usernameFrom(r *http.Request) string {
	sess, _ := sessionFrom(r)
	return sess.Username
}

func isAdminFrom(r *http.Request) bool {
	sess, _ := sessionFrom(r)
	return sess.Admin
}

func (a *App) requireAuth(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := sessionFrom(r); !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		h(w, r)
	}
}

func (a *App) requireAdmin(h http.HandlerFunc) http.HandlerFunc {
	return a.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		if !isAdminFrom(r) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		h(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (a *App) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("%s %s %d %s from %s", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Microsecond), remoteIP(r))
	})
}
