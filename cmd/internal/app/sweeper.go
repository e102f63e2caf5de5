package app

import (
	"context"
	"time"

	"spotline/cmd/internal/auth/session"
	"spotline/cmd/internal/invite"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// sweeper periodically expires stale share links and deletes dead sessions.
type sweeper struct {
	invites  *invite.Service
	sessions *session.Service
	log      *zap.Logger
	timeout  time.Duration
	now      func() time.Time
}

// sweep runs one pass. Each half is independent: a failure of one does not skip the other.
func (s *sweeper) sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	now := s.now()

	if n, err := s.invites.ExpireStale(ctx, now); err != nil {
		s.log.Warn("sweep.invites.fail", zap.Error(err))
	} else if n > 0 {
		s.log.Info("sweep.invites.expired", zap.Int("count", n))
	}

	if n, err := s.sessions.PurgeExpired(ctx, now); err != nil {
		s.log.Warn("sweep.sessions.fail", zap.Error(err))
	} else if n > 0 {
		s.log.Info("sweep.sessions.purged", zap.Int("count", n))
	}
}

// schedule registers the sweep on a new cron scheduler. The caller starts and stops it.
func (s *sweeper) schedule(ctx context.Context, spec string) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, func() { s.sweep(ctx) }); err != nil {
		return nil, err
	}
	return c, nil
}
