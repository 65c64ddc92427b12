package server

import (
	"context"

	"github.com/hnrobert/lockr/internal/config"
	"github.com/hnrobert/lockr/internal/invite"
	"github.com/hnrobert/lockr/internal/locker"
	"github.com/hnrobert/lockr/internal/logger"
)

// Run opens the vault named by cfg and serves the API until ctx is done.
func Run(ctx context.Context, cfg config.Config) error {
	if err := logger.Init(cfg.LogDir); err != nil {
		logger.Warn("file logging disabled: %v", err)
	}
	defer logger.Close()

	l, err := locker.Open(cfg.VaultPath)
	if err != nil {
		return err
	}
	var invites *invite.Store
	if cfg.InvitesPath != "" {
		invites = invite.NewStore(cfg.InvitesPath)
		if err := invites.Ensure(); err != nil {
			return err
		}
	}
	sc, err := FromConfig(cfg)
	if err != nil {
		return err
	}
	if sc.AdminHash == "" {
		logger.Warn("no admin_hash configured; admin endpoints are unreachable")
	}
	srv, err := New(sc, l, invites)
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx)
}
