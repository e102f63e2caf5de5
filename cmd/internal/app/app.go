// Package app wires the Spotline server runtime: config, logging, storage, domain services,
// HTTP routes, the chat gateway and background workers.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"spotline/cmd/identity"
	"spotline/cmd/internal/account"
	"spotline/cmd/internal/api"
	"spotline/cmd/internal/auth/session"
	"spotline/cmd/internal/group"
	"spotline/cmd/internal/invite"
	"spotline/cmd/internal/mail"
	"spotline/cmd/internal/metrics"
	"spotline/cmd/internal/realtime"
	"spotline/cmd/internal/storage/migrations"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// App is the Spotline server runtime. It owns the pool, the Redis client and the workers.
type App struct {
	cfg     Config
	log     *zap.Logger
	metrics *metrics.Metrics

	pool   *pgxpool.Pool
	redis  *redis.Client
	fanout *realtime.RedisFanout
	mailer *mail.Dispatcher

	sweeper *sweeper
	api     *api.Handler
}

// stores is one persistence backend for every domain.
type stores struct {
	users    identity.Store
	sessions session.Store
	groups   group.Store
	invites  invite.Store
	messages realtime.MessageStore

	// extraPurgers and userPurgers clear state that Postgres removes through ON DELETE CASCADE.
	extraPurgers []group.Purger
	userPurgers  []account.Purger
}

// New constructs a fully wired App. Resources acquired before a failure are released.
func New(ctx context.Context, cfg Config, log *zap.Logger) (_ *App, err error) {
	if log == nil {
		return nil, errors.New("app: nil logger")
	}
	hasher, err := TokenHasher(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, metrics: metrics.New()}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	st, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}

	hub := realtime.NewHub(log.Named("chat"))
	var publisher realtime.Publisher
	if cfg.RedisURL != "" {
		if a.fanout, err = a.openFanout(ctx, hub); err != nil {
			return nil, err
		}
		publisher = a.fanout
	}

	var sender mail.Sender = mail.NewLogSender(log.Named("mail"))
	if cfg.SMTP.Enabled() {
		if sender, err = mail.NewSMTPSender(cfg.SMTP); err != nil {
			return nil, err
		}
	}
	a.mailer = mail.NewDispatcher(sender, log.Named("mail"), cfg.Mail, a.metrics)

	users, err := identity.NewService(st.users, identity.WithPasswordConfig(cfg.Passwords))
	if err != nil {
		return nil, err
	}
	sessions, err := session.NewService(st.sessions, users,
		session.WithConfig(cfg.Session),
		session.WithTokenHasher(hasher),
		session.WithLogger(log.Named("session")),
	)
	if err != nil {
		return nil, err
	}

	chatPurger := realtime.NewPurger(st.messages, hub, publisher, log.Named("chat"))
	purgers := append([]group.Purger{chatPurger}, st.extraPurgers...)
	groups, err := group.NewService(st.groups,
		group.WithDirectory(users),
		group.WithPurgers(purgers...),
		group.WithLogger(log.Named("group")),
	)
	if err != nil {
		return nil, err
	}
	accounts, err := account.NewService(users, groups,
		account.WithPurgers(append([]account.Purger{chatPurger}, st.userPurgers...)...),
		account.WithLogger(log.Named("account")),
	)
	if err != nil {
		return nil, err
	}
	invites, err := invite.NewService(st.invites, groups, users,
		invite.WithConfig(cfg.Invite),
		invite.WithTokenHasher(hasher),
		invite.WithMailer(a.mailer),
		invite.WithRecorder(a.metrics),
		invite.WithLogger(log.Named("invite")),
	)
	if err != nil {
		return nil, err
	}

	chat, err := realtime.NewService(st.messages, groups, users, hub,
		realtime.WithPublisher(publisher),
		realtime.WithRecorder(a.metrics),
		realtime.WithLogger(log.Named("chat")),
	)
	if err != nil {
		return nil, err
	}
	gw, err := realtime.NewGateway(chat,
		realtime.WithGatewayConfig(cfg.Gateway),
		realtime.WithGatewayLogger(log.Named("ws")),
		realtime.WithConnRecorder(a.metrics),
	)
	if err != nil {
		return nil, err
	}

	a.api, err = api.NewHandler(api.Deps{
		Users:    users,
		Accounts: accounts,
		Sessions: sessions,
		Groups:   groups,
		Invites:  invites,
		Chat:     chat,
		Gateway:  gw,
	}, api.WithConfig(cfg.API), api.WithLogger(log.Named("api")))
	if err != nil {
		return nil, err
	}

	a.sweeper = &sweeper{
		invites:  invites,
		sessions: sessions,
		log:      log.Named("sweep"),
		timeout:  time.Minute,
		now:      func() time.Time { return time.Now().UTC() },
	}
	return a, nil
}

func (a *App) openStores(ctx context.Context) (stores, error) {
	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.inmemory_store")
		groups := group.NewMemoryStore()
		invites := invite.NewMemoryStore(groups)
		sessions := session.NewMemoryStore()
		messages := realtime.NewInMemoryStore()
		return stores{
			users:        identity.NewMemoryStore(),
			sessions:     sessions,
			groups:       groups,
			invites:      invites,
			messages:     messages,
			extraPurgers: []group.Purger{invites},
			userPurgers:  []account.Purger{sessions, invites, messages},
		}, nil
	}

	if a.cfg.AutoMigrate {
		if err := migrations.Run(ctx, a.cfg.DatabaseURL, a.cfg.DBSchema, migrations.Up); err != nil {
			return stores{}, fmt.Errorf("auto-migrate: %w", err)
		}
		a.log.Info("db.migrated", zap.String("schema", a.cfg.DBSchema))
	}

	pool, err := NewDBPool(ctx, a.cfg, a.log)
	if err != nil {
		return stores{}, err
	}
	a.pool = pool
	a.log.Info("db.enabled.postgres_store", zap.String("schema", a.cfg.DBSchema))

	schema := a.cfg.DBSchema
	users, err := identity.NewPostgresStore(pool, identity.WithSchema(schema))
	if err != nil {
		return stores{}, err
	}
	sessions, err := session.NewPostgresStore(pool, session.WithSchema(schema))
	if err != nil {
		return stores{}, err
	}
	groups, err := group.NewPostgresStore(pool, group.WithSchema(schema))
	if err != nil {
		return stores{}, err
	}
	invites, err := invite.NewPostgresStore(pool, invite.WithSchema(schema))
	if err != nil {
		return stores{}, err
	}
	messages, err := realtime.NewPostgresStore(pool, realtime.WithSchema(schema))
	if err != nil {
		return stores{}, err
	}
	return stores{
		users:    users,
		sessions: sessions,
		groups:   groups,
		invites:  invites,
		messages: messages,
	}, nil
}

func (a *App) openFanout(ctx context.Context, hub *realtime.Hub) (*realtime.RedisFanout, error) {
	opts, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	a.redis = redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := a.redis.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	a.log.Info("redis.enabled.chat_fanout", zap.String("addr", opts.Addr))
	return realtime.NewRedisFanout(a.redis, hub, uuid.NewString(), a.log.Named("fanout"))
}

// Run starts the workers and the HTTP server, and blocks until ctx is cancelled or the
// server fails.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	a.mailer.Start()
	defer a.mailer.Stop()

	workCtx, stopWork := context.WithCancel(ctx)
	defer stopWork()

	if a.fanout != nil {
		go func() {
			if err := a.fanout.Run(workCtx); err != nil {
				a.log.Error("chat.fanout.fail", zap.Error(err))
			}
		}()
	}

	if a.cfg.sweeperEnabled() {
		c, err := a.sweeper.schedule(workCtx, a.cfg.SweepSpec)
		if err != nil {
			return fmt.Errorf("sweeper schedule %q: %w", a.cfg.SweepSpec, err)
		}
		c.Start()
		defer func() { <-c.Stop().Done() }()
		a.log.Info("sweep.scheduled", zap.String("spec", a.cfg.SweepSpec))
	}

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.routes(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		zap.String("addr", a.cfg.HTTPAddr),
		zap.String("base_url", base),
		zap.String("ws_url", wsBaseURL(base)),
		zap.Bool("db_enabled", a.pool != nil),
		zap.Bool("redis_enabled", a.redis != nil),
		zap.Bool("smtp_enabled", a.cfg.SMTP.Enabled()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", zap.String("reason", "context_done"))
	case err := <-errCh:
		a.log.Error("server.fail", zap.Error(err))
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", zap.Error(err))
		return err
	}
	a.log.Info("server.stopped")
	return nil
}

func (a *App) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("redis.close.fail", zap.Error(err))
		}
		a.redis = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL turns a listen address into a URL a local client can reach.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
