package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/hnrobert/lockr/internal/auth"
	"github.com/hnrobert/lockr/internal/config"
	"github.com/hnrobert/lockr/internal/invite"
	"github.com/hnrobert/lockr/internal/locker"
	"github.com/hnrobert/lockr/internal/logger"
)

const shutdownTimeout = 5 * time.Second

type Config struct {
	ListenAddr       string
	Secret           string
	JWTSecret        []byte
	TokenTTL         time.Duration
	AdminUser        string
	AdminHash        string
	RegistrationMode config.RegistrationMode
}

// FromConfig maps the daemon configuration onto server settings.
// Without a configured JWT secret an ephemeral one is generated.
func FromConfig(c config.Config) (Config, error) {
	jwtText := c.JWTSecret
	if jwtText == "" {
		s, err := auth.NewRandomSecretB64(32)
		if err != nil {
			return Config{}, err
		}
		logger.Warn("no jwt_secret configured; sessions will not survive a restart")
		jwtText = s
	}
	jwtSecret, err := auth.DecodeSecret(jwtText)
	if err != nil {
		return Config{}, err
	}
	return Config{
		ListenAddr:       c.Listen,
		Secret:           c.Secret,
		JWTSecret:        jwtSecret,
		TokenTTL:         c.TokenTTL,
		AdminUser:        c.AdminUser,
		AdminHash:        c.AdminHash,
		RegistrationMode: c.RegistrationMode,
	}, nil
}

type Server struct {
	cfg Config
	h   http.Handler
}

// New builds the API over l. invites may be nil unless registration is invite-only.
func New(cfg Config, l *locker.Locker, invites *invite.Store) (*Server, error) {
	app, err := newApp(cfg, l, invites)
	if err != nil {
		return nil, err
	}
	return &Server{cfg: cfg, h: app.routes()}, nil
}

func (s *Server) Handler() http.Handler { return s.h }

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpSrv := &http.Server{
		Handler:           s.h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("lockr listening on %s", ln.Addr())

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("lockr stopped")
	return nil
}
